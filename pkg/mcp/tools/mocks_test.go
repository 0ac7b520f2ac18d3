package tools

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/services"
)

type mockIngestion struct {
	summary    *models.RunSummary
	err        error
	lastParams models.RunParams
	lastTrig   string
	sources    []string
}

func (m *mockIngestion) Run(_ context.Context, params models.RunParams, trigger string) (*models.RunSummary, error) {
	m.lastParams = params
	m.lastTrig = trigger
	return m.summary, m.err
}

func (m *mockIngestion) RunSource(ctx context.Context, source string, params models.RunParams, trigger string) (*models.RunSummary, error) {
	params.Sources = []string{source}
	return m.Run(ctx, params, trigger)
}

func (m *mockIngestion) ListRuns(context.Context, string, int) ([]*models.IngestionRun, error) {
	return nil, nil
}

func (m *mockIngestion) Sources() []string { return m.sources }

var _ services.IngestionOrchestrator = (*mockIngestion)(nil)

type mockExtraction struct {
	summary *models.ExtractionSummary
	err     error
	lastReq services.ExtractionRequest
}

func (m *mockExtraction) ExtractEntities(_ context.Context, req services.ExtractionRequest) (*models.ExtractionSummary, error) {
	m.lastReq = req
	return m.summary, m.err
}

var _ services.EntityExtractionService = (*mockExtraction)(nil)

type mockSimilarity struct {
	candidates    []*models.MergeCandidate
	truncated     bool
	lastThreshold int
	lastLimit     int
}

func (m *mockSimilarity) FindDuplicates(_ context.Context, threshold, limit int) (*services.DuplicateScan, error) {
	m.lastThreshold = threshold
	m.lastLimit = limit
	return &services.DuplicateScan{Candidates: m.candidates, EntitiesScanned: 10, Truncated: m.truncated}, nil
}

func (m *mockSimilarity) Compare(context.Context, uuid.UUID, uuid.UUID) (*models.MergeCandidate, error) {
	return nil, nil
}

var _ services.EntitySimilarityService = (*mockSimilarity)(nil)

type mockMerge struct {
	results    []*models.MergeResult
	err        error
	lastTarget uuid.UUID
	lastSrcs   []uuid.UUID
}

func (m *mockMerge) Merge(ctx context.Context, targetID, sourceID uuid.UUID) (*models.MergeResult, error) {
	res, err := m.MergeMany(ctx, targetID, []uuid.UUID{sourceID})
	if len(res) == 0 {
		return nil, err
	}
	return res[0], err
}

func (m *mockMerge) MergeMany(_ context.Context, targetID uuid.UUID, sourceIDs []uuid.UUID) ([]*models.MergeResult, error) {
	m.lastTarget = targetID
	m.lastSrcs = sourceIDs
	return m.results, m.err
}

func (m *mockMerge) ListMerges(context.Context, int) ([]*models.EntityMerge, error) {
	return nil, nil
}

var _ services.EntityMergeService = (*mockMerge)(nil)

// countingScopes counts acquired and released scopes.
type countingScopes struct {
	acquired int
	released int
	err      error
}

func (s *countingScopes) WithScope(ctx context.Context) (context.Context, func(), error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	s.acquired++
	return ctx, func() { s.released++ }, nil
}
