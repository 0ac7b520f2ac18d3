package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/services"
)

// IncidentHandler serves incidents and the raw-event staging area.
type IncidentHandler struct {
	incidentService services.IncidentService
	logger          *zap.Logger
}

// NewIncidentHandler creates a new incident handler.
func NewIncidentHandler(incidentService services.IncidentService, logger *zap.Logger) *IncidentHandler {
	return &IncidentHandler{
		incidentService: incidentService,
		logger:          logger.Named("incident-handler"),
	}
}

// RegisterRoutes registers the incident routes.
func (h *IncidentHandler) RegisterRoutes(mux *http.ServeMux, withScope ScopeMiddleware) {
	mux.HandleFunc("GET /api/incidents", withScope(h.List))
	mux.HandleFunc("POST /api/incidents", withScope(h.Create))
	mux.HandleFunc("GET /api/incidents/{iid}", withScope(h.Get))
	mux.HandleFunc("GET /api/raw-events", withScope(h.ListRawEvents))
}

// List handles GET /api/incidents?limit=&offset=.
func (h *IncidentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	incidents, err := h.incidentService.List(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	if incidents == nil {
		incidents = []*models.Incident{}
	}
	writeData(w, http.StatusOK, incidents, h.logger)
}

// Get handles GET /api/incidents/{iid}.
func (h *IncidentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIncidentID(w, r, h.logger)
	if !ok {
		return
	}
	detail, err := h.incidentService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, detail, h.logger)
}

// Create handles POST /api/incidents. A new incident answers 201; a title
// already known inside the dedup window answers 200 with status duplicate.
func (h *IncidentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var candidate models.Candidate
	if !decodeBody(w, r, &candidate) {
		return
	}
	result, err := h.incidentService.Create(r.Context(), &candidate)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	status := http.StatusCreated
	if result.Status == models.RawEventStatusDuplicate {
		status = http.StatusOK
	}
	writeData(w, status, result, h.logger)
}

// ListRawEvents handles GET /api/raw-events?status=&limit=.
func (h *IncidentHandler) ListRawEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", defaultListLimit, 1, maxListLimit)
	if !ok {
		return
	}
	status := models.RawEventStatus(r.URL.Query().Get("status"))
	events, err := h.incidentService.ListRawEvents(r.Context(), status, limit)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	if events == nil {
		events = []*models.RawEvent{}
	}
	writeData(w, http.StatusOK, events, h.logger)
}
