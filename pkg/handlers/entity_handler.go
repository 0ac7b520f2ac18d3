package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/services"
)

// MergeEntitiesRequest is the body of POST /api/entities/merge. Exactly one
// of SourceID or SourceIDs must be set.
type MergeEntitiesRequest struct {
	TargetID  uuid.UUID   `json:"targetId"`
	SourceID  *uuid.UUID  `json:"sourceId,omitempty"`
	SourceIDs []uuid.UUID `json:"sourceIds,omitempty"`
}

// MergeManyResponse is returned when sourceIds is used.
type MergeManyResponse struct {
	Merges []*models.MergeResult `json:"merges"`
}

// DuplicatesResponse lists merge candidates at or above Threshold. Truncated
// means only the EntitiesScanned most recently seen entities were compared.
type DuplicatesResponse struct {
	Threshold       int                      `json:"threshold"`
	Candidates      []*models.MergeCandidate `json:"candidates"`
	EntitiesScanned int                      `json:"entities_scanned"`
	Truncated       bool                     `json:"truncated"`
}

// EntityHandler handles entity reads, extraction and merges.
type EntityHandler struct {
	entityService     services.EntityService
	extractionService services.EntityExtractionService // nil when no LLM is configured
	similarityService services.EntitySimilarityService
	mergeService      services.EntityMergeService
	defaultThreshold  int
	logger            *zap.Logger
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(
	entityService services.EntityService,
	extractionService services.EntityExtractionService,
	similarityService services.EntitySimilarityService,
	mergeService services.EntityMergeService,
	defaultThreshold int,
	logger *zap.Logger,
) *EntityHandler {
	return &EntityHandler{
		entityService:     entityService,
		extractionService: extractionService,
		similarityService: similarityService,
		mergeService:      mergeService,
		defaultThreshold:  defaultThreshold,
		logger:            logger.Named("entity-handler"),
	}
}

// RegisterRoutes registers the entity routes.
func (h *EntityHandler) RegisterRoutes(mux *http.ServeMux, withScope ScopeMiddleware) {
	base := "/api/entities"
	mux.HandleFunc("GET "+base, withScope(h.List))
	mux.HandleFunc("GET "+base+"/duplicates", withScope(h.ListDuplicates))
	mux.HandleFunc("GET "+base+"/compare", withScope(h.Compare))
	mux.HandleFunc("GET "+base+"/merges", withScope(h.ListMerges))
	mux.HandleFunc("GET "+base+"/{eid}", withScope(h.Get))
	mux.HandleFunc("POST "+base+"/extract", withScope(h.Extract))
	mux.HandleFunc("POST "+base+"/merge", withScope(h.Merge))
}

// List handles GET /api/entities?limit=&offset=.
func (h *EntityHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	entities, err := h.entityService.List(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	if entities == nil {
		entities = []*models.Entity{}
	}
	writeData(w, http.StatusOK, entities, h.logger)
}

// Get handles GET /api/entities/{eid}.
func (h *EntityHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseEntityID(w, r, h.logger)
	if !ok {
		return
	}
	detail, err := h.entityService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, detail, h.logger)
}

// ListDuplicates handles GET /api/entities/duplicates?threshold=&limit=.
func (h *EntityHandler) ListDuplicates(w http.ResponseWriter, r *http.Request) {
	threshold, ok := queryInt(w, r, "threshold", h.defaultThreshold, 1, 100)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultListLimit, 1, maxListLimit)
	if !ok {
		return
	}
	scan, err := h.similarityService.FindDuplicates(r.Context(), threshold, limit)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	resp := DuplicatesResponse{Threshold: threshold, Candidates: scan.Candidates,
		EntitiesScanned: scan.EntitiesScanned, Truncated: scan.Truncated}
	if resp.Candidates == nil {
		resp.Candidates = []*models.MergeCandidate{}
	}
	writeData(w, http.StatusOK, resp, h.logger)
}

// Compare handles GET /api/entities/compare?a=&b=.
func (h *EntityHandler) Compare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, errA := uuid.Parse(q.Get("a"))
	b, errB := uuid.Parse(q.Get("b"))
	if errA != nil || errB != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_entity_id", "Query parameters a and b must be entity IDs")
		return
	}
	candidate, err := h.similarityService.Compare(r.Context(), a, b)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, candidate, h.logger)
}

// Extract handles POST /api/entities/extract.
func (h *EntityHandler) Extract(w http.ResponseWriter, r *http.Request) {
	if h.extractionService == nil {
		writeServiceError(w, apperrors.ErrExtractionUnavailable, h.logger)
		return
	}

	var req services.ExtractionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Limit < 0 {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "limit must not be negative")
		return
	}

	summary, err := h.extractionService.ExtractEntities(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, summary, h.logger)
}

// Merge handles POST /api/entities/merge.
func (h *EntityHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req MergeEntitiesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TargetID == uuid.Nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "targetId is required")
		return
	}

	switch {
	case req.SourceID != nil && len(req.SourceIDs) > 0:
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "Provide sourceId or sourceIds, not both")
	case req.SourceID != nil:
		result, err := h.mergeService.Merge(r.Context(), req.TargetID, *req.SourceID)
		if err != nil {
			writeServiceError(w, err, h.logger)
			return
		}
		writeData(w, http.StatusOK, result, h.logger)
	case len(req.SourceIDs) > 0:
		results, err := h.mergeService.MergeMany(r.Context(), req.TargetID, req.SourceIDs)
		if err != nil {
			h.logger.Warn("Merge batch stopped early",
				zap.String("target_id", req.TargetID.String()),
				zap.Int("completed", len(results)),
				zap.Error(err))
			writeServiceError(w, err, h.logger)
			return
		}
		writeData(w, http.StatusOK, MergeManyResponse{Merges: results}, h.logger)
	default:
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "sourceId or sourceIds is required")
	}
}

// ListMerges handles GET /api/entities/merges?limit=.
func (h *EntityHandler) ListMerges(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", defaultListLimit, 1, maxListLimit)
	if !ok {
		return
	}
	merges, err := h.mergeService.ListMerges(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	if merges == nil {
		merges = []*models.EntityMerge{}
	}
	writeData(w, http.StatusOK, merges, h.logger)
}
