package handlers

import (
	"errors"
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

type entityHandlerFixture struct {
	entities   *mockEntityService
	extraction *mockExtraction
	similarity *mockSimilarity
	merge      *mockMerge
	handler    *EntityHandler
}

func newEntityHandlerFixture() *entityHandlerFixture {
	f := &entityHandlerFixture{
		entities:   &mockEntityService{},
		extraction: &mockExtraction{summary: &models.ExtractionSummary{}},
		similarity: &mockSimilarity{},
		merge:      &mockMerge{},
	}
	f.handler = NewEntityHandler(f.entities, f.extraction, f.similarity, f.merge, 70, zap.NewNop())
	return f
}

func TestEntityHandler_Get(t *testing.T) {
	f := newEntityHandlerFixture()
	id := uuid.New()
	f.entities.detail = &services.EntityDetail{
		Entity:  &models.Entity{ID: id, CanonicalName: "Boko Haram", EntityType: models.EntityTypeArmedGroup},
		Aliases: []*models.EntityAlias{},
		Links:   []*models.IncidentEntityLink{},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/entities/"+id.String(), nil)
	req.SetPathValue("eid", id.String())
	rec := httptest.NewRecorder()
	f.handler.Get(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got services.EntityDetail
	decodeData(t, rec, &got)
	assert.Equal(t, "Boko Haram", got.Entity.CanonicalName)
}

func TestEntityHandler_List(t *testing.T) {
	f := newEntityHandlerFixture()
	f.entities.entities = []*models.Entity{{CanonicalName: "ISWAP"}}

	rec := httptest.NewRecorder()
	f.handler.List(rec, httptest.NewRequest(http.MethodGet, "/api/entities", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []models.Entity
	decodeData(t, rec, &got)
	require.Len(t, got, 1)
	assert.Equal(t, "ISWAP", got[0].CanonicalName)
}

func TestEntityHandler_ListDuplicates(t *testing.T) {
	f := newEntityHandlerFixture()
	f.similarity.candidates = []*models.MergeCandidate{{
		EntityA: &models.Entity{CanonicalName: "Boko Haram"},
		EntityB: &models.Entity{CanonicalName: "Boko Haram Faction"},
		Score:   74,
	}}

	rec := httptest.NewRecorder()
	f.handler.ListDuplicates(rec, httptest.NewRequest(http.MethodGet, "/api/entities/duplicates?threshold=60&limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 60, f.similarity.lastThreshold)
	assert.Equal(t, 5, f.similarity.lastLimit)

	var got DuplicatesResponse
	decodeData(t, rec, &got)
	assert.Equal(t, 60, got.Threshold)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, 74, got.Candidates[0].Score)
	assert.Equal(t, 2, got.EntitiesScanned)
	assert.False(t, got.Truncated)
}

func TestEntityHandler_ListDuplicates_Truncated(t *testing.T) {
	f := newEntityHandlerFixture()
	f.similarity.truncated = true

	rec := httptest.NewRecorder()
	f.handler.ListDuplicates(rec, httptest.NewRequest(http.MethodGet, "/api/entities/duplicates", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"truncated":true`)
}

func TestEntityHandler_ListDuplicates_DefaultsAndBounds(t *testing.T) {
	f := newEntityHandlerFixture()

	rec := httptest.NewRecorder()
	f.handler.ListDuplicates(rec, httptest.NewRequest(http.MethodGet, "/api/entities/duplicates", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 70, f.similarity.lastThreshold)

	var got DuplicatesResponse
	decodeData(t, rec, &got)
	assert.NotNil(t, got.Candidates)

	rec = httptest.NewRecorder()
	f.handler.ListDuplicates(rec, httptest.NewRequest(http.MethodGet, "/api/entities/duplicates?threshold=101", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEntityHandler_Compare(t *testing.T) {
	f := newEntityHandlerFixture()
	f.similarity.compared = &models.MergeCandidate{Score: 42}

	url := fmt.Sprintf("/api/entities/compare?a=%s&b=%s", uuid.New(), uuid.New())
	rec := httptest.NewRecorder()
	f.handler.Compare(rec, httptest.NewRequest(http.MethodGet, url, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.MergeCandidate
	decodeData(t, rec, &got)
	assert.Equal(t, 42, got.Score)

	rec = httptest.NewRecorder()
	f.handler.Compare(rec, httptest.NewRequest(http.MethodGet, "/api/entities/compare?a=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEntityHandler_Extract(t *testing.T) {
	f := newEntityHandlerFixture()
	f.extraction.summary = &models.ExtractionSummary{Processed: 2, EntitiesCreated: 1, LinksCreated: 2}
	incidentID := uuid.New()

	body := fmt.Sprintf(`{"limit":10,"incident_ids":[%q]}`, incidentID)
	rec := httptest.NewRecorder()
	f.handler.Extract(rec, httptest.NewRequest(http.MethodPost, "/api/entities/extract", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 10, f.extraction.req.Limit)
	assert.Equal(t, []uuid.UUID{incidentID}, f.extraction.req.IncidentIDs)

	var got models.ExtractionSummary
	decodeData(t, rec, &got)
	assert.Equal(t, 2, got.Processed)
	assert.Equal(t, 1, got.EntitiesCreated)
}

func TestEntityHandler_Extract_Unavailable(t *testing.T) {
	f := newEntityHandlerFixture()
	h := NewEntityHandler(f.entities, nil, f.similarity, f.merge, 70, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Extract(rec, httptest.NewRequest(http.MethodPost, "/api/entities/extract", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "extraction_unavailable", decodeErrorCode(t, rec))
}

func TestEntityHandler_Extract_NegativeLimit(t *testing.T) {
	f := newEntityHandlerFixture()

	rec := httptest.NewRecorder()
	f.handler.Extract(rec, httptest.NewRequest(http.MethodPost, "/api/entities/extract", strings.NewReader(`{"limit":-1}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.extraction.calls)
}

func TestEntityHandler_Merge_Single(t *testing.T) {
	f := newEntityHandlerFixture()
	f.merge.result = &models.MergeResult{SourceName: "IS-West Africa", TargetName: "ISWAP", AliasesMoved: 1, LinksMoved: 2}
	target, source := uuid.New(), uuid.New()

	body := fmt.Sprintf(`{"targetId":%q,"sourceId":%q}`, target, source)
	rec := httptest.NewRecorder()
	f.handler.Merge(rec, httptest.NewRequest(http.MethodPost, "/api/entities/merge", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, target, f.merge.target)
	assert.Equal(t, []uuid.UUID{source}, f.merge.sources)

	var got map[string]any
	decodeData(t, rec, &got)
	assert.Equal(t, "IS-West Africa", got["source_name"])
	assert.Equal(t, "ISWAP", got["target_name"])
	assert.EqualValues(t, 1, got["aliases_moved"])
	assert.EqualValues(t, 2, got["links_moved"])
}

func TestEntityHandler_Merge_Many(t *testing.T) {
	f := newEntityHandlerFixture()
	f.merge.results = []*models.MergeResult{{SourceName: "a"}, {SourceName: "b"}}
	target, a, b := uuid.New(), uuid.New(), uuid.New()

	body := fmt.Sprintf(`{"targetId":%q,"sourceIds":[%q,%q]}`, target, a, b)
	rec := httptest.NewRecorder()
	f.handler.Merge(rec, httptest.NewRequest(http.MethodPost, "/api/entities/merge", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.merge.manyCalls)
	assert.Equal(t, []uuid.UUID{a, b}, f.merge.sources)

	var got MergeManyResponse
	decodeData(t, rec, &got)
	assert.Len(t, got.Merges, 2)
}

func TestEntityHandler_Merge_Errors(t *testing.T) {
	target, source := uuid.New(), uuid.New()
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"missing target", fmt.Sprintf(`{"sourceId":%q}`, source), nil, http.StatusBadRequest},
		{"missing source", fmt.Sprintf(`{"targetId":%q}`, target), nil, http.StatusBadRequest},
		{"both source forms", fmt.Sprintf(`{"targetId":%q,"sourceId":%q,"sourceIds":[%q]}`, target, source, source), nil, http.StatusBadRequest},
		{"malformed id", `{"targetId":"nope","sourceId":"nope"}`, nil, http.StatusBadRequest},
		{"self merge", fmt.Sprintf(`{"targetId":%q,"sourceId":%q}`, target, target), apperrors.NewValidationError("source_id", "cannot merge an entity into itself"), http.StatusBadRequest},
		{"unknown entity", fmt.Sprintf(`{"targetId":%q,"sourceId":%q}`, target, source), fmt.Errorf("entity %s: %w", source, apperrors.ErrNotFound), http.StatusNotFound},
		{"storage failure", fmt.Sprintf(`{"targetId":%q,"sourceId":%q}`, target, source), errors.New("deadlock detected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEntityHandlerFixture()
			f.merge.err = tt.err
			rec := httptest.NewRecorder()
			f.handler.Merge(rec, httptest.NewRequest(http.MethodPost, "/api/entities/merge", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestEntityHandler_ListMerges(t *testing.T) {
	f := newEntityHandlerFixture()
	f.merge.merges = []*models.EntityMerge{{SourceName: "IS-West Africa", TargetName: "ISWAP", Status: models.MergeStatusCompleted}}

	rec := httptest.NewRecorder()
	f.handler.ListMerges(rec, httptest.NewRequest(http.MethodGet, "/api/entities/merges", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []models.EntityMerge
	decodeData(t, rec, &got)
	require.Len(t, got, 1)
	assert.Equal(t, models.MergeStatusCompleted, got[0].Status)
}

func TestEntityHandler_Routes(t *testing.T) {
	f := newEntityHandlerFixture()
	mux := http.NewServeMux()
	f.handler.RegisterRoutes(mux, passthroughScope)

	// Literal segments win over {eid}.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/entities/duplicates", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"threshold":70`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/entities/merges", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/entities/bogus", nil))
	assert.Equal(t, "invalid_entity_id", decodeErrorCode(t, rec))
}
