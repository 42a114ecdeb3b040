package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexhold/api/internal/service"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrSettlementNotFound),
		errors.Is(err, service.ErrTargetNotFound),
		errors.Is(err, service.ErrSupportNotFound),
		errors.Is(err, service.ErrReportNotFound),
		errors.Is(err, service.ErrPlayerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrUnknownBuilding),
		errors.Is(err, service.ErrUnknownUnit),
		errors.Is(err, service.ErrMaxLevel),
		errors.Is(err, service.ErrRequirementsUnmet),
		errors.Is(err, service.ErrInsufficientResources),
		errors.Is(err, service.ErrInsufficientUnits),
		errors.Is(err, service.ErrPopulationLimit),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrSelfTarget),
		errors.Is(err, service.ErrMapFull):
		status = http.StatusBadRequest
	}
	writeError(w, status, err.Error())
}

// playerID extracts the calling player's ID from the X-Player-ID header.
// Empty means the request is anonymous.
func playerID(r *http.Request) string {
	return r.Header.Get("X-Player-ID")
}
