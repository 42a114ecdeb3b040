package handler

import (
	"net/http"
	"strconv"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/internal/service"
)

const defaultReportLimit = 25

// ReportHandler handles battle report endpoints.
type ReportHandler struct {
	settlementSvc *service.SettlementService
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(settlementSvc *service.SettlementService) *ReportHandler {
	return &ReportHandler{settlementSvc: settlementSvc}
}

// GetReport handles GET /api/v1/reports/{id}
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.settlementSvc.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ListSettlementReports handles GET /api/v1/settlements/{id}/reports
func (h *ReportHandler) ListSettlementReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.settlementSvc.Reports(r.Context(), r.PathValue("id"), reportLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if reports == nil {
		reports = []model.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

// ListPlayerReports handles GET /api/v1/players/{id}/reports
func (h *ReportHandler) ListPlayerReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.settlementSvc.PlayerReports(r.Context(), r.PathValue("id"), reportLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if reports == nil {
		reports = []model.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func reportLimit(r *http.Request) int {
	limit := defaultReportLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	return limit
}
