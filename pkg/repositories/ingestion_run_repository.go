package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/incident-engine/pkg/models"
)

// IngestionRunRepository records the history of per-source ingestion runs.
type IngestionRunRepository interface {
	Create(ctx context.Context, run *models.IngestionRun) error
	Finish(ctx context.Context, run *models.IngestionRun) error
	// List returns the most recent runs, optionally for one source.
	List(ctx context.Context, source string, limit int) ([]*models.IngestionRun, error)
}

type ingestionRunRepository struct{}

// NewIngestionRunRepository creates a new IngestionRunRepository.
func NewIngestionRunRepository() IngestionRunRepository {
	return &ingestionRunRepository{}
}

var _ IngestionRunRepository = (*ingestionRunRepository)(nil)

func (r *ingestionRunRepository) Create(ctx context.Context, run *models.IngestionRun) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.IngestionRunRunning
	}

	err = c.QueryRow(ctx, `
		INSERT INTO ingestion_runs (id, source, trigger, status, summary)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING started_at`,
		run.ID, run.Source, run.Trigger, run.Status, run.Summary,
	).Scan(&run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create ingestion run: %w", err)
	}
	return nil
}

func (r *ingestionRunRepository) Finish(ctx context.Context, run *models.IngestionRun) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	finished := time.Now().UTC()
	_, err = c.Exec(ctx, `
		UPDATE ingestion_runs
		SET status = $2, summary = $3, finished_at = $4
		WHERE id = $1`,
		run.ID, run.Status, run.Summary, finished,
	)
	if err != nil {
		return fmt.Errorf("failed to finish ingestion run: %w", err)
	}
	run.FinishedAt = &finished
	return nil
}

func (r *ingestionRunRepository) List(ctx context.Context, source string, limit int) ([]*models.IngestionRun, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, 50, 500)

	const cols = `id, source, trigger, status, summary, started_at, finished_at`
	var rows pgx.Rows
	if source == "" {
		rows, err = c.Query(ctx, `SELECT `+cols+` FROM ingestion_runs ORDER BY started_at DESC LIMIT $1`, limit)
	} else {
		rows, err = c.Query(ctx, `SELECT `+cols+` FROM ingestion_runs WHERE source = $1 ORDER BY started_at DESC LIMIT $2`, source, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.IngestionRun
	for rows.Next() {
		var run models.IngestionRun
		if err := rows.Scan(&run.ID, &run.Source, &run.Trigger, &run.Status, &run.Summary, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ingestion run: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ingestion runs: %w", err)
	}
	return runs, nil
}
