package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/services"
)

// IngestionHandler exposes ingestion runs over HTTP.
type IngestionHandler struct {
	orchestrator services.IngestionOrchestrator
	logger       *zap.Logger
}

// NewIngestionHandler creates a new ingestion handler.
func NewIngestionHandler(orchestrator services.IngestionOrchestrator, logger *zap.Logger) *IngestionHandler {
	return &IngestionHandler{
		orchestrator: orchestrator,
		logger:       logger.Named("ingestion-handler"),
	}
}

// RegisterRoutes registers the ingestion routes. Run endpoints acquire their
// own database scope per source, so only the history endpoint is wrapped.
func (h *IngestionHandler) RegisterRoutes(mux *http.ServeMux, withScope ScopeMiddleware) {
	base := "/api/ingestion"
	mux.HandleFunc("POST "+base+"/runs", h.Run)
	mux.HandleFunc("GET "+base+"/runs", withScope(h.ListRuns))
	mux.HandleFunc("POST "+base+"/sources/{source}/run", h.RunSource)
	mux.HandleFunc("GET "+base+"/sources", h.ListSources)
}

// Run handles POST /api/ingestion/runs.
func (h *IngestionHandler) Run(w http.ResponseWriter, r *http.Request) {
	var params models.RunParams
	if !decodeBody(w, r, &params) {
		return
	}
	summary, err := h.orchestrator.Run(r.Context(), params, services.TriggerAPI)
	h.writeSummary(w, summary, err)
}

// RunSource handles POST /api/ingestion/sources/{source}/run.
func (h *IngestionHandler) RunSource(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	if source == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "source is required")
		return
	}

	var params models.RunParams
	if !decodeBody(w, r, &params) {
		return
	}
	summary, err := h.orchestrator.RunSource(r.Context(), source, params, services.TriggerAPI)
	h.writeSummary(w, summary, err)
}

// writeSummary answers 200 whenever at least one source succeeded. Per-source
// failures travel in summary.errors; a run where every source failed is a 502
// that still carries the summary.
func (h *IngestionHandler) writeSummary(w http.ResponseWriter, summary *models.RunSummary, err error) {
	if errors.Is(err, apperrors.ErrAllSourcesFailed) {
		h.logger.Warn("Ingestion run failed for every source", zap.Strings("errors", summary.Errors))
		resp := ApiResponse{
			Success: false,
			Data:    summary,
			Error:   "all_sources_failed",
			Message: err.Error(),
		}
		if err := WriteJSON(w, http.StatusBadGateway, resp); err != nil {
			h.logger.Error("Failed to encode response", zap.Error(err))
		}
		return
	}
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, summary, h.logger)
}

// ListRuns handles GET /api/ingestion/runs?source=&limit=.
func (h *IngestionHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", defaultListLimit, 1, maxListLimit)
	if !ok {
		return
	}
	runs, err := h.orchestrator.ListRuns(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	if runs == nil {
		runs = []*models.IngestionRun{}
	}
	writeData(w, http.StatusOK, runs, h.logger)
}

// ListSources handles GET /api/ingestion/sources.
func (h *IngestionHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources := h.orchestrator.Sources()
	if sources == nil {
		sources = []string{}
	}
	writeData(w, http.StatusOK, map[string]any{"sources": sources}, h.logger)
}
