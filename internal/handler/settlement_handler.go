package handler

import (
	"net/http"
	"time"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/internal/service"
)

// SettlementHandler handles settlement query and command endpoints.
type SettlementHandler struct {
	settlementSvc *service.SettlementService
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlementSvc *service.SettlementService) *SettlementHandler {
	return &SettlementHandler{settlementSvc: settlementSvc}
}

// GetSettlement handles GET /api/v1/settlements/{id} — the settlement as of
// now, with pending queues and movements.
func (h *SettlementHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	view, err := h.settlementSvc.Get(r.Context(), r.PathValue("id"), time.Now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// QueueConstruction handles POST /api/v1/settlements/{id}/construction
func (h *SettlementHandler) QueueConstruction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Building string `json:"building"`
	}
	if err := decodeValid(r, "queue_construction", &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.settlementSvc.QueueConstruction(r.Context(), playerID(r), r.PathValue("id"),
		model.BuildingKind(req.Building), time.Now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// QueueRecruitment handles POST /api/v1/settlements/{id}/recruitment
func (h *SettlementHandler) QueueRecruitment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Unit   string `json:"unit"`
		Amount int    `json:"amount"`
	}
	if err := decodeValid(r, "queue_recruitment", &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.settlementSvc.QueueRecruitment(r.Context(), playerID(r), r.PathValue("id"),
		model.UnitKind(req.Unit), req.Amount, time.Now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type movementRequest struct {
	TargetID string         `json:"target_id"`
	Units    map[string]int `json:"units"`
}

func (m movementRequest) kindUnits() map[model.UnitKind]int {
	out := make(map[model.UnitKind]int, len(m.Units))
	for k, n := range m.Units {
		out[model.UnitKind(k)] = n
	}
	return out
}

// SendAttack handles POST /api/v1/settlements/{id}/attacks
func (h *SettlementHandler) SendAttack(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := decodeValid(r, "send_movement", &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mov, err := h.settlementSvc.SendAttack(r.Context(), playerID(r), r.PathValue("id"),
		req.TargetID, req.kindUnits(), time.Now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mov)
}

// SendSupport handles POST /api/v1/settlements/{id}/supports
func (h *SettlementHandler) SendSupport(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := decodeValid(r, "send_movement", &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mov, err := h.settlementSvc.SendSupport(r.Context(), playerID(r), r.PathValue("id"),
		req.TargetID, req.kindUnits(), time.Now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mov)
}

// RecallSupport handles DELETE /api/v1/supports/{id} — orders a stationed
// detachment home.
func (h *SettlementHandler) RecallSupport(w http.ResponseWriter, r *http.Request) {
	mov, err := h.settlementSvc.RecallSupport(r.Context(), playerID(r), r.PathValue("id"), time.Now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mov)
}
