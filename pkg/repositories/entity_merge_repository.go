package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/incident-engine/pkg/models"
)

// EntityMergeRepository records entity merges so an interrupted merge can be
// resumed and a finished one answered again.
type EntityMergeRepository interface {
	// Begin records a merge in status merging, or returns the existing
	// journal row for the same (source, target) pair.
	Begin(ctx context.Context, m *models.EntityMerge) (*models.EntityMerge, error)
	Get(ctx context.Context, sourceID, targetID uuid.UUID) (*models.EntityMerge, error)
	Complete(ctx context.Context, id uuid.UUID, aliasesMoved, linksMoved int) error
	List(ctx context.Context, limit int) ([]*models.EntityMerge, error)
}

type entityMergeRepository struct{}

// NewEntityMergeRepository creates a new EntityMergeRepository.
func NewEntityMergeRepository() EntityMergeRepository {
	return &entityMergeRepository{}
}

var _ EntityMergeRepository = (*entityMergeRepository)(nil)

const entityMergeColumns = `id, source_id, target_id, source_name, target_name, status,
	aliases_moved, links_moved, created_at, completed_at`

func (r *entityMergeRepository) Begin(ctx context.Context, m *models.EntityMerge) (*models.EntityMerge, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	// The no-op update makes RETURNING yield the existing row on conflict.
	query := `
		INSERT INTO entity_merges (id, source_id, target_id, source_name, target_name, status)
		VALUES ($1, $2, $3, $4, $5, 'merging')
		ON CONFLICT (source_id, target_id) DO UPDATE SET source_id = EXCLUDED.source_id
		RETURNING ` + entityMergeColumns

	got, err := scanEntityMerge(c.QueryRow(ctx, query, m.ID, m.SourceID, m.TargetID, m.SourceName, m.TargetName))
	if err != nil {
		return nil, fmt.Errorf("failed to record entity merge: %w", err)
	}
	return got, nil
}

func (r *entityMergeRepository) Get(ctx context.Context, sourceID, targetID uuid.UUID) (*models.EntityMerge, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + entityMergeColumns + ` FROM entity_merges WHERE source_id = $1 AND target_id = $2`
	m, err := scanEntityMerge(c.QueryRow(ctx, query, sourceID, targetID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity merge: %w", err)
	}
	return m, nil
}

func (r *entityMergeRepository) Complete(ctx context.Context, id uuid.UUID, aliasesMoved, linksMoved int) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE entity_merges
		SET status = 'completed', aliases_moved = $2, links_moved = $3, completed_at = now()
		WHERE id = $1`

	if _, err := c.Exec(ctx, query, id, aliasesMoved, linksMoved); err != nil {
		return fmt.Errorf("failed to complete entity merge: %w", err)
	}
	return nil
}

func (r *entityMergeRepository) List(ctx context.Context, limit int) ([]*models.EntityMerge, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx, `SELECT `+entityMergeColumns+` FROM entity_merges ORDER BY created_at DESC LIMIT $1`,
		clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("failed to list entity merges: %w", err)
	}
	defer rows.Close()

	var merges []*models.EntityMerge
	for rows.Next() {
		m, err := scanEntityMerge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity merge: %w", err)
		}
		merges = append(merges, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity merges: %w", err)
	}
	return merges, nil
}

func scanEntityMerge(row pgx.Row) (*models.EntityMerge, error) {
	var m models.EntityMerge
	err := row.Scan(&m.ID, &m.SourceID, &m.TargetID, &m.SourceName, &m.TargetName, &m.Status,
		&m.AliasesMoved, &m.LinksMoved, &m.CreatedAt, &m.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
