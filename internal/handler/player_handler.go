package handler

import (
	"net/http"
	"time"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/internal/service"
)

// PlayerHandler handles player registration and profile endpoints.
type PlayerHandler struct {
	playerSvc *service.PlayerService
}

// NewPlayerHandler creates a PlayerHandler.
func NewPlayerHandler(playerSvc *service.PlayerService) *PlayerHandler {
	return &PlayerHandler{playerSvc: playerSvc}
}

// Join handles POST /api/v1/players — registers a player and hands them
// their starting settlement.
func (h *PlayerHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeValid(r, "join", &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	player, home, err := h.playerSvc.Join(r.Context(), req.Name, time.Now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"player":     player,
		"settlement": home,
	})
}

// GetPlayer handles GET /api/v1/players/{id}
func (h *PlayerHandler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	player, settlements, err := h.playerSvc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if settlements == nil {
		settlements = []model.Settlement{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"player":      player,
		"settlements": settlements,
	})
}
