package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/extraction"
	"github.com/ekaya-inc/incident-engine/pkg/llm"
	"github.com/ekaya-inc/incident-engine/pkg/metrics"
	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/repositories"
)

// Batch bounds for one extraction pass.
const (
	DefaultExtractionBatch = 25
	MaxExtractionBatch     = 200
)

// ExtractionRequest selects the incidents for an extraction pass. Explicit
// IDs are re-processed even if already extracted; otherwise the oldest
// pending incidents are taken, up to Limit.
type ExtractionRequest struct {
	Limit       int         `json:"limit,omitempty"`
	IncidentIDs []uuid.UUID `json:"incident_ids,omitempty"`
}

// EntityExtractionService runs entity extraction over committed incidents
// and resolves each mention into the entity graph.
type EntityExtractionService interface {
	ExtractEntities(ctx context.Context, req ExtractionRequest) (*models.ExtractionSummary, error)
}

type entityExtractionService struct {
	incidents  repositories.IncidentRepository
	extractor  extraction.EntityExtractor
	resolver   EntityAliasResolver
	pool       *llm.WorkerPool
	metrics    *metrics.Metrics
	batchLimit int
	maxBatch   int
	now        func() time.Time
	logger     *zap.Logger
}

// NewEntityExtractionService creates a new EntityExtractionService. A nil
// extractor is allowed; every pass then fails with
// apperrors.ErrExtractionUnavailable.
func NewEntityExtractionService(
	incidents repositories.IncidentRepository,
	extractor extraction.EntityExtractor,
	resolver EntityAliasResolver,
	pool *llm.WorkerPool,
	m *metrics.Metrics,
	batchLimit, maxBatch int,
	logger *zap.Logger,
) EntityExtractionService {
	if batchLimit <= 0 {
		batchLimit = DefaultExtractionBatch
	}
	if maxBatch <= 0 {
		maxBatch = MaxExtractionBatch
	}
	if pool == nil {
		pool = llm.NewWorkerPool(llm.DefaultWorkerPoolConfig(), logger)
	}
	return &entityExtractionService{
		incidents:  incidents,
		extractor:  extractor,
		resolver:   resolver,
		pool:       pool,
		metrics:    m,
		batchLimit: batchLimit,
		maxBatch:   maxBatch,
		now:        time.Now,
		logger:     logger.Named("entity-extraction"),
	}
}

var _ EntityExtractionService = (*entityExtractionService)(nil)

func (s *entityExtractionService) ExtractEntities(ctx context.Context, req ExtractionRequest) (*models.ExtractionSummary, error) {
	if s.extractor == nil {
		return nil, apperrors.ErrExtractionUnavailable
	}

	incidents, err := s.selectIncidents(ctx, req)
	if err != nil {
		return nil, err
	}
	summary := &models.ExtractionSummary{}
	if len(incidents) == 0 {
		return summary, nil
	}

	s.logger.Info("Starting entity extraction", zap.Int("incidents", len(incidents)))

	// Model calls run in parallel; resolution below is sequential so that
	// entity creation order is deterministic.
	items := make([]llm.WorkItem[[]models.ExtractedEntity], len(incidents))
	for i, inc := range incidents {
		items[i] = llm.WorkItem[[]models.ExtractedEntity]{
			ID: inc.ID.String(),
			Execute: func(ctx context.Context) ([]models.ExtractedEntity, error) {
				return s.extractor.ExtractEntities(ctx, inc)
			},
		}
	}
	results := llm.Process(ctx, s.pool, items, nil)

	for i, res := range results {
		inc := incidents[i]
		if res.Err != nil {
			s.metrics.ExtractionFailure()
			summary.Errors = append(summary.Errors, fmt.Sprintf("incident %s: %v", inc.ID, res.Err))

			var parseErr *apperrors.ExtractionParseError
			if !errors.As(res.Err, &parseErr) {
				// Transient failures leave the incident pending for the next pass.
				continue
			}
			// Unparseable output would fail the same way again.
			s.logger.Warn("Skipping incident with unparseable extraction output",
				zap.String("incident_id", inc.ID.String()), zap.Error(res.Err))
		} else {
			created, links, err := s.resolveAll(ctx, inc, res.Result)
			summary.EntitiesCreated += created
			summary.LinksCreated += links
			if err != nil {
				if apperrors.IsStorage(err) {
					s.metrics.Resolution(summary.EntitiesCreated, summary.LinksCreated)
					return summary, err
				}
				summary.Errors = append(summary.Errors, fmt.Sprintf("incident %s: %v", inc.ID, err))
			}
		}

		if err := s.incidents.MarkEntitiesExtracted(ctx, inc.ID, s.now().UTC()); err != nil {
			s.metrics.Resolution(summary.EntitiesCreated, summary.LinksCreated)
			return summary, apperrors.NewStorageError("mark incident extracted", err)
		}
		summary.Processed++
	}

	s.metrics.Resolution(summary.EntitiesCreated, summary.LinksCreated)
	s.logger.Info("Entity extraction complete",
		zap.Int("processed", summary.Processed),
		zap.Int("entities_created", summary.EntitiesCreated),
		zap.Int("links_created", summary.LinksCreated),
		zap.Int("errors", len(summary.Errors)))
	return summary, nil
}

func (s *entityExtractionService) selectIncidents(ctx context.Context, req ExtractionRequest) ([]*models.Incident, error) {
	if len(req.IncidentIDs) > 0 {
		if len(req.IncidentIDs) > s.maxBatch {
			return nil, apperrors.NewValidationError("incident_ids", fmt.Sprintf("at most %d incidents per pass", s.maxBatch))
		}
		incidents, err := s.incidents.GetByIDs(ctx, req.IncidentIDs)
		if err != nil {
			return nil, apperrors.NewStorageError("load incidents", err)
		}
		return incidents, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.batchLimit
	}
	limit = min(limit, s.maxBatch)

	incidents, err := s.incidents.ListPendingExtraction(ctx, limit)
	if err != nil {
		return nil, apperrors.NewStorageError("load pending incidents", err)
	}
	return incidents, nil
}

// resolveAll resolves every mention of one incident. Mentions without a
// usable name are skipped.
func (s *entityExtractionService) resolveAll(ctx context.Context, inc *models.Incident, mentions []models.ExtractedEntity) (created, links int, err error) {
	for _, m := range mentions {
		res, err := s.resolver.Resolve(ctx, ResolveRequest{
			IncidentID: inc.ID,
			SeenAt:     inc.Datetime,
			Entity:     m,
		})
		if err != nil {
			if apperrors.IsValidation(err) {
				s.logger.Debug("Skipping mention", zap.String("name", m.Name), zap.Error(err))
				continue
			}
			return created, links, err
		}
		if res.Created {
			created++
		}
		if res.LinkCreated {
			links++
		}
	}
	return created, links, nil
}
