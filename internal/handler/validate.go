package handler

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// requestSchemas holds the compiled request schemas, keyed by file name
// without the extension.
var requestSchemas = compileSchemas()

func compileSchemas() map[string]*jsonschema.Schema {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		panic(fmt.Sprintf("read embedded schemas: %v", err))
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		raw, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			panic(fmt.Sprintf("read schema %s: %v", e.Name(), err))
		}
		if err := c.AddResource(e.Name(), bytes.NewReader(raw)); err != nil {
			panic(fmt.Sprintf("add schema %s: %v", e.Name(), err))
		}
		names = append(names, e.Name())
	}
	out := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		s, err := c.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("compile schema %s: %v", name, err))
		}
		out[name[:len(name)-len(".json")]] = s
	}
	return out
}

// decodeValid reads the request body, validates it against the named schema,
// and decodes it into v. The returned error message is safe to hand back to
// the client.
func decodeValid(r *http.Request, schema string, v any) error {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body")
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid JSON")
	}
	s, ok := requestSchemas[schema]
	if !ok {
		return fmt.Errorf("unknown request schema %s", schema)
	}
	if err := s.Validate(doc); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			leaf := ve
			for len(leaf.Causes) > 0 {
				leaf = leaf.Causes[0]
			}
			return fmt.Errorf("%s: %s", leaf.InstanceLocation, leaf.Message)
		}
		return err
	}
	return json.Unmarshal(raw, v)
}
