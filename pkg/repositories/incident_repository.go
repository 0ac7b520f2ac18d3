package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/incident-engine/pkg/models"
)

// IncidentRepository provides data access for canonical incidents.
type IncidentRepository interface {
	Create(ctx context.Context, inc *models.Incident) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Incident, error)
	// FindByTitleWithin returns the earliest incident whose title equals
	// title case-insensitively and whose datetime lies in [from, to].
	FindByTitleWithin(ctx context.Context, title string, from, to time.Time) (*models.Incident, error)
	// AddSource appends source to the incident's sources unless present.
	AddSource(ctx context.Context, id uuid.UUID, source string) error
	List(ctx context.Context, limit, offset int) ([]*models.Incident, error)
	// ListPendingExtraction returns incidents not yet processed by entity
	// extraction, oldest first.
	ListPendingExtraction(ctx context.Context, limit int) ([]*models.Incident, error)
	MarkEntitiesExtracted(ctx context.Context, id uuid.UUID, at time.Time) error
}

type incidentRepository struct{}

// NewIncidentRepository creates a new IncidentRepository.
func NewIncidentRepository() IncidentRepository {
	return &incidentRepository{}
}

var _ IncidentRepository = (*incidentRepository)(nil)

const incidentColumns = `id, title, location, region, country, subdivision, category, severity,
	confidence, summary, datetime, sources, status, analyst, section, entities_extracted_at, created_at`

func (r *incidentRepository) Create(ctx context.Context, inc *models.Incident) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	if inc.ID == uuid.Nil {
		inc.ID = uuid.New()
	}
	if inc.Sources == nil {
		inc.Sources = []string{}
	}

	query := `
		INSERT INTO incidents (
			id, title, location, region, country, subdivision, category, severity,
			confidence, summary, datetime, sources, status, analyst, section
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at`

	err = c.QueryRow(ctx, query,
		inc.ID, inc.Title, inc.Location, inc.Region, inc.Country, inc.Subdivision, inc.Category,
		inc.Severity, inc.Confidence, inc.Summary, inc.Datetime.UTC(), inc.Sources, inc.Status,
		inc.Analyst, inc.Section,
	).Scan(&inc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

func (r *incidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	inc, err := scanIncident(c.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return inc, nil
}

func (r *incidentRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Incident, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ANY($1) ORDER BY created_at`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get incidents: %w", err)
	}
	return collectIncidents(rows)
}

func (r *incidentRepository) FindByTitleWithin(ctx context.Context, title string, from, to time.Time) (*models.Incident, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + incidentColumns + `
		FROM incidents
		WHERE lower(title) = lower($1) AND datetime BETWEEN $2 AND $3
		ORDER BY created_at
		LIMIT 1`

	inc, err := scanIncident(c.QueryRow(ctx, query, title, from.UTC(), to.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up incident by title: %w", err)
	}
	return inc, nil
}

func (r *incidentRepository) AddSource(ctx context.Context, id uuid.UUID, source string) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE incidents
		SET sources = array_append(sources, $2)
		WHERE id = $1 AND NOT ($2 = ANY(sources))`

	if _, err := c.Exec(ctx, query, id, source); err != nil {
		return fmt.Errorf("failed to add incident source: %w", err)
	}
	return nil
}

func (r *incidentRepository) List(ctx context.Context, limit, offset int) ([]*models.Incident, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := c.Query(ctx, `SELECT `+incidentColumns+` FROM incidents ORDER BY datetime DESC LIMIT $1 OFFSET $2`,
		clampLimit(limit, 50, 500), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	return collectIncidents(rows)
}

func (r *incidentRepository) ListPendingExtraction(ctx context.Context, limit int) ([]*models.Incident, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + incidentColumns + `
		FROM incidents
		WHERE entities_extracted_at IS NULL
		ORDER BY created_at
		LIMIT $1`

	rows, err := c.Query(ctx, query, clampLimit(limit, 25, 1000))
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents pending extraction: %w", err)
	}
	return collectIncidents(rows)
}

func (r *incidentRepository) MarkEntitiesExtracted(ctx context.Context, id uuid.UUID, at time.Time) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	if _, err := c.Exec(ctx, `UPDATE incidents SET entities_extracted_at = $2 WHERE id = $1`, id, at.UTC()); err != nil {
		return fmt.Errorf("failed to mark incident extracted: %w", err)
	}
	return nil
}

func collectIncidents(rows pgx.Rows) ([]*models.Incident, error) {
	defer rows.Close()

	var incidents []*models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating incidents: %w", err)
	}
	return incidents, nil
}

func scanIncident(row pgx.Row) (*models.Incident, error) {
	var inc models.Incident
	err := row.Scan(
		&inc.ID, &inc.Title, &inc.Location, &inc.Region, &inc.Country, &inc.Subdivision,
		&inc.Category, &inc.Severity, &inc.Confidence, &inc.Summary, &inc.Datetime, &inc.Sources,
		&inc.Status, &inc.Analyst, &inc.Section, &inc.EntitiesExtractedAt, &inc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}
