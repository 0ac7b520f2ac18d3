package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/database"
	"github.com/ekaya-inc/incident-engine/pkg/metrics"
	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/repositories"
)

const mergeLockNamespace = "entity-merge"

// EntityMergeService consolidates entities an analyst has confirmed to be
// the same actor.
type EntityMergeService interface {
	// Merge folds source into target: aliases and links move to target and
	// source is deleted. Re-running a completed merge returns the journaled
	// result.
	Merge(ctx context.Context, targetID, sourceID uuid.UUID) (*models.MergeResult, error)
	// MergeMany merges each source into target in order and stops at the
	// first failure, returning the merges that completed.
	MergeMany(ctx context.Context, targetID uuid.UUID, sourceIDs []uuid.UUID) ([]*models.MergeResult, error)
	// ListMerges returns the merge journal, newest first.
	ListMerges(ctx context.Context, limit int) ([]*models.EntityMerge, error)
}

type entityMergeService struct {
	entities repositories.EntityRepository
	merges   repositories.EntityMergeRepository
	tx       database.Transactor
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewEntityMergeService creates a new EntityMergeService.
func NewEntityMergeService(
	entities repositories.EntityRepository,
	merges repositories.EntityMergeRepository,
	tx database.Transactor,
	m *metrics.Metrics,
	logger *zap.Logger,
) EntityMergeService {
	return &entityMergeService{
		entities: entities,
		merges:   merges,
		tx:       tx,
		metrics:  m,
		logger:   logger.Named("entity-merge"),
	}
}

var _ EntityMergeService = (*entityMergeService)(nil)

func (s *entityMergeService) Merge(ctx context.Context, targetID, sourceID uuid.UUID) (*models.MergeResult, error) {
	if targetID == uuid.Nil || sourceID == uuid.Nil {
		return nil, apperrors.NewValidationError("entity_id", "target and source are required")
	}
	if targetID == sourceID {
		return nil, apperrors.NewValidationError("source_id", "cannot merge an entity with itself")
	}

	var (
		result  *models.MergeResult
		resumed bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		// Serialize merges touching the same target so counts stay exact.
		if err := s.tx.XactLock(ctx, mergeLockNamespace, targetID.String()); err != nil {
			return fmt.Errorf("failed to lock merge target: %w", err)
		}

		target, err := s.entities.GetByIDForUpdate(ctx, targetID)
		if err != nil {
			return err
		}
		if target == nil {
			return fmt.Errorf("target entity %s: %w", targetID, apperrors.ErrNotFound)
		}

		source, err := s.entities.GetByIDForUpdate(ctx, sourceID)
		if err != nil {
			return err
		}
		if source == nil {
			journal, err := s.merges.Get(ctx, sourceID, targetID)
			if err != nil {
				return err
			}
			if journal != nil && journal.Status == models.MergeStatusCompleted {
				result = journalResult(journal)
				resumed = true
				return nil
			}
			return fmt.Errorf("source entity %s: %w", sourceID, apperrors.ErrNotFound)
		}

		journal, err := s.merges.Begin(ctx, &models.EntityMerge{
			SourceID:   source.ID,
			TargetID:   target.ID,
			SourceName: source.CanonicalName,
			TargetName: target.CanonicalName,
		})
		if err != nil {
			return err
		}

		aliasesMoved, err := s.entities.MoveAliases(ctx, source.ID, target.ID)
		if err != nil {
			return err
		}
		linksMoved, dropped, err := s.entities.MoveLinks(ctx, source.ID, target.ID)
		if err != nil {
			return err
		}
		if err := s.entities.Absorb(ctx, target.ID, source); err != nil {
			return err
		}

		deleted, err := s.entities.Delete(ctx, source.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("source entity %s vanished during merge: %w", source.ID, apperrors.ErrConflict)
		}

		if err := s.merges.Complete(ctx, journal.ID, aliasesMoved, linksMoved); err != nil {
			return err
		}

		s.logger.Debug("Dropped colliding links", zap.Int("count", dropped))
		result = &models.MergeResult{
			SourceName:   source.CanonicalName,
			TargetName:   target.CanonicalName,
			AliasesMoved: aliasesMoved,
			LinksMoved:   linksMoved,
		}
		return nil
	})
	if err != nil {
		s.metrics.Merge("failed")
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}
		return nil, apperrors.NewStorageError("merge entities", err)
	}

	if resumed {
		s.metrics.Merge("resumed")
		s.logger.Info("Merge already completed; returning journaled result",
			zap.String("source_id", sourceID.String()),
			zap.String("target_id", targetID.String()))
		return result, nil
	}

	s.metrics.Merge("completed")
	s.logger.Info("Merged entities",
		zap.String("source", result.SourceName),
		zap.String("target", result.TargetName),
		zap.Int("aliases_moved", result.AliasesMoved),
		zap.Int("links_moved", result.LinksMoved))
	return result, nil
}

func (s *entityMergeService) MergeMany(ctx context.Context, targetID uuid.UUID, sourceIDs []uuid.UUID) ([]*models.MergeResult, error) {
	if len(sourceIDs) == 0 {
		return nil, apperrors.NewValidationError("source_ids", "at least one source is required")
	}

	results := make([]*models.MergeResult, 0, len(sourceIDs))
	for _, sourceID := range sourceIDs {
		res, err := s.Merge(ctx, targetID, sourceID)
		if err != nil {
			return results, fmt.Errorf("failed to merge %s into %s: %w", sourceID, targetID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *entityMergeService) ListMerges(ctx context.Context, limit int) ([]*models.EntityMerge, error) {
	merges, err := s.merges.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list merges: %w", err)
	}
	return merges, nil
}

func journalResult(m *models.EntityMerge) *models.MergeResult {
	return &models.MergeResult{
		SourceName:   m.SourceName,
		TargetName:   m.TargetName,
		AliasesMoved: m.AliasesMoved,
		LinksMoved:   m.LinksMoved,
	}
}
