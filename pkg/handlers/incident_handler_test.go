package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/services"
)

func TestIncidentHandler_Create(t *testing.T) {
	id := uuid.New()
	svc := &mockIncidentService{created: &services.CreateIncidentResult{
		Incident: &models.Incident{ID: id, Title: "Attack on Dikwa"},
		Status:   models.RawEventStatusNormalized,
	}}
	h := NewIncidentHandler(svc, zap.NewNop())

	body := `{"title":"Attack on Dikwa","datetime":"2026-10-01T08:00:00Z","location":"Dikwa, Borno","category":"attack"}`
	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/incidents", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, svc.candidate)
	assert.Equal(t, "Dikwa, Borno", svc.candidate.Location)
	assert.Equal(t, 2026, svc.candidate.Datetime.Year())

	var got services.CreateIncidentResult
	decodeData(t, rec, &got)
	assert.Equal(t, id, got.Incident.ID)
	assert.Equal(t, models.RawEventStatusNormalized, got.Status)
}

func TestIncidentHandler_Create_Duplicate(t *testing.T) {
	svc := &mockIncidentService{created: &services.CreateIncidentResult{
		Incident: &models.Incident{ID: uuid.New()},
		Status:   models.RawEventStatusDuplicate,
	}}
	h := NewIncidentHandler(svc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/incidents", strings.NewReader(`{"title":"Attack on Dikwa"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIncidentHandler_Create_Invalid(t *testing.T) {
	svc := &mockIncidentService{err: apperrors.NewValidationError("location", "location is required")}
	h := NewIncidentHandler(svc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/incidents", strings.NewReader(`{"title":"x"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_parameters", decodeErrorCode(t, rec))
}

func TestIncidentHandler_Get(t *testing.T) {
	id := uuid.New()
	svc := &mockIncidentService{detail: &services.IncidentDetail{
		Incident:  &models.Incident{ID: id, Title: "Attack on Dikwa"},
		RawEvents: []*models.RawEvent{{SourceLabel: "ACLED"}},
	}}
	h := NewIncidentHandler(svc, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/incidents/"+id.String(), nil)
	req.SetPathValue("iid", id.String())
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got services.IncidentDetail
	decodeData(t, rec, &got)
	assert.Equal(t, "Attack on Dikwa", got.Incident.Title)
	assert.Len(t, got.RawEvents, 1)
}

func TestIncidentHandler_Get_NotFound(t *testing.T) {
	id := uuid.New()
	svc := &mockIncidentService{err: fmt.Errorf("incident %s: %w", id, apperrors.ErrNotFound)}
	h := NewIncidentHandler(svc, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/incidents/"+id.String(), nil)
	req.SetPathValue("iid", id.String())
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIncidentHandler_List(t *testing.T) {
	svc := &mockIncidentService{incidents: []*models.Incident{{Title: "a"}, {Title: "b"}}}
	h := NewIncidentHandler(svc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/incidents?limit=2&offset=4", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, svc.lastLimit)
	assert.Equal(t, 4, svc.lastOffset)
	var got []models.Incident
	decodeData(t, rec, &got)
	assert.Len(t, got, 2)
}

func TestIncidentHandler_ListRawEvents(t *testing.T) {
	svc := &mockIncidentService{rawEvents: []*models.RawEvent{{SourceLabel: "Daily Trust", Status: models.RawEventStatusDuplicate}}}
	h := NewIncidentHandler(svc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ListRawEvents(rec, httptest.NewRequest(http.MethodGet, "/api/raw-events?status=duplicate&limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RawEventStatusDuplicate, svc.lastStatus)
	assert.Equal(t, 10, svc.lastLimit)
}

func TestIncidentHandler_Routes(t *testing.T) {
	svc := &mockIncidentService{}
	mux := http.NewServeMux()
	NewIncidentHandler(svc, zap.NewNop()).RegisterRoutes(mux, passthroughScope)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/incidents/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_incident_id", decodeErrorCode(t, rec))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/raw-events", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", string(decodeEnvelope(t, rec).Data))
}
