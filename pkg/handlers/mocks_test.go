package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/services"
)

// passthroughScope stands in for database.WithDBScope in route tests.
func passthroughScope(next http.HandlerFunc) http.HandlerFunc { return next }

type mockIngestion struct {
	summary    *models.RunSummary
	err        error
	runs       []*models.IngestionRun
	sources    []string
	lastParams models.RunParams
	lastSource string
	lastLimit  int
	trigger    string
}

var _ services.IngestionOrchestrator = (*mockIngestion)(nil)

func (m *mockIngestion) Run(ctx context.Context, params models.RunParams, trigger string) (*models.RunSummary, error) {
	m.lastParams = params
	m.trigger = trigger
	return m.summary, m.err
}

func (m *mockIngestion) RunSource(ctx context.Context, source string, params models.RunParams, trigger string) (*models.RunSummary, error) {
	m.lastSource = source
	return m.Run(ctx, params, trigger)
}

func (m *mockIngestion) ListRuns(ctx context.Context, source string, limit int) ([]*models.IngestionRun, error) {
	m.lastSource = source
	m.lastLimit = limit
	return m.runs, m.err
}

func (m *mockIngestion) Sources() []string { return m.sources }

type mockIncidentService struct {
	created    *services.CreateIncidentResult
	detail     *services.IncidentDetail
	incidents  []*models.Incident
	rawEvents  []*models.RawEvent
	err        error
	lastStatus models.RawEventStatus
	lastLimit  int
	lastOffset int
	candidate  *models.Candidate
}

var _ services.IncidentService = (*mockIncidentService)(nil)

func (m *mockIncidentService) Create(ctx context.Context, candidate *models.Candidate) (*services.CreateIncidentResult, error) {
	m.candidate = candidate
	return m.created, m.err
}

func (m *mockIncidentService) Get(ctx context.Context, id uuid.UUID) (*services.IncidentDetail, error) {
	return m.detail, m.err
}

func (m *mockIncidentService) List(ctx context.Context, limit, offset int) ([]*models.Incident, error) {
	m.lastLimit, m.lastOffset = limit, offset
	return m.incidents, m.err
}

func (m *mockIncidentService) ListRawEvents(ctx context.Context, status models.RawEventStatus, limit int) ([]*models.RawEvent, error) {
	m.lastStatus, m.lastLimit = status, limit
	return m.rawEvents, m.err
}

type mockEntityService struct {
	entities []*models.Entity
	detail   *services.EntityDetail
	err      error
}

var _ services.EntityService = (*mockEntityService)(nil)

func (m *mockEntityService) List(ctx context.Context, limit, offset int) ([]*models.Entity, error) {
	return m.entities, m.err
}

func (m *mockEntityService) Get(ctx context.Context, id uuid.UUID) (*services.EntityDetail, error) {
	return m.detail, m.err
}

type mockExtraction struct {
	summary *models.ExtractionSummary
	err     error
	req     services.ExtractionRequest
	calls   int
}

var _ services.EntityExtractionService = (*mockExtraction)(nil)

func (m *mockExtraction) ExtractEntities(ctx context.Context, req services.ExtractionRequest) (*models.ExtractionSummary, error) {
	m.calls++
	m.req = req
	return m.summary, m.err
}

type mockSimilarity struct {
	candidates    []*models.MergeCandidate
	truncated     bool
	compared      *models.MergeCandidate
	err           error
	lastThreshold int
	lastLimit     int
}

var _ services.EntitySimilarityService = (*mockSimilarity)(nil)

func (m *mockSimilarity) FindDuplicates(ctx context.Context, threshold, limit int) (*services.DuplicateScan, error) {
	m.lastThreshold, m.lastLimit = threshold, limit
	if m.err != nil {
		return nil, m.err
	}
	return &services.DuplicateScan{Candidates: m.candidates, EntitiesScanned: 2 * len(m.candidates), Truncated: m.truncated}, nil
}

func (m *mockSimilarity) Compare(ctx context.Context, a, b uuid.UUID) (*models.MergeCandidate, error) {
	return m.compared, m.err
}

type mockMerge struct {
	result    *models.MergeResult
	results   []*models.MergeResult
	merges    []*models.EntityMerge
	err       error
	target    uuid.UUID
	sources   []uuid.UUID
	manyCalls int
}

var _ services.EntityMergeService = (*mockMerge)(nil)

func (m *mockMerge) Merge(ctx context.Context, targetID, sourceID uuid.UUID) (*models.MergeResult, error) {
	m.target = targetID
	m.sources = []uuid.UUID{sourceID}
	return m.result, m.err
}

func (m *mockMerge) MergeMany(ctx context.Context, targetID uuid.UUID, sourceIDs []uuid.UUID) ([]*models.MergeResult, error) {
	m.manyCalls++
	m.target = targetID
	m.sources = sourceIDs
	return m.results, m.err
}

func (m *mockMerge) ListMerges(ctx context.Context, limit int) ([]*models.EntityMerge, error) {
	return m.merges, m.err
}
