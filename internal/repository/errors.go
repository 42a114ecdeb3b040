package repository

import "errors"

// ErrContention signals that a concurrent writer touched the same rows.
// Callers must retry the whole operation with a fresh read rather than
// reusing pre-image state.
var ErrContention = errors.New("concurrent modification, retry with fresh data")
