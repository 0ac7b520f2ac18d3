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

// RawEventRepository provides data access for staged raw events.
type RawEventRepository interface {
	// InsertIfAbsent inserts ev unless a row with the same content hash
	// exists. created is false when the hash was already staged.
	InsertIfAbsent(ctx context.Context, ev *models.RawEvent) (created bool, err error)
	GetByHash(ctx context.Context, contentHash string) (*models.RawEvent, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.RawEvent, error)
	// Finalize moves a raw event out of status raw. It returns false when the
	// event had already left raw, leaving the row untouched.
	Finalize(ctx context.Context, id uuid.UUID, status models.RawEventStatus, incidentID *uuid.UUID, errorMessage *string) (bool, error)
	List(ctx context.Context, status models.RawEventStatus, limit int) ([]*models.RawEvent, error)
	ListByIncident(ctx context.Context, incidentID uuid.UUID) ([]*models.RawEvent, error)
}

type rawEventRepository struct{}

// NewRawEventRepository creates a new RawEventRepository.
func NewRawEventRepository() RawEventRepository {
	return &rawEventRepository{}
}

var _ RawEventRepository = (*rawEventRepository)(nil)

const rawEventColumns = `id, source_type, source_label, source_url, raw_payload, content_hash,
	status, incident_id, ingested_at, normalized_at, error_message`

func (r *rawEventRepository) InsertIfAbsent(ctx context.Context, ev *models.RawEvent) (bool, error) {
	c, err := conn(ctx)
	if err != nil {
		return false, err
	}

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Status == "" {
		ev.Status = models.RawEventStatusRaw
	}
	payload := ev.RawPayload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	query := `
		INSERT INTO raw_events (id, source_type, source_label, source_url, raw_payload, content_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING ingested_at`

	err = c.QueryRow(ctx, query,
		ev.ID, ev.SourceType, ev.SourceLabel, ev.SourceURL, payload, ev.ContentHash, ev.Status,
	).Scan(&ev.IngestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert raw event: %w", err)
	}
	return true, nil
}

func (r *rawEventRepository) GetByHash(ctx context.Context, contentHash string) (*models.RawEvent, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	row := c.QueryRow(ctx, `SELECT `+rawEventColumns+` FROM raw_events WHERE content_hash = $1`, contentHash)
	ev, err := scanRawEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw event by hash: %w", err)
	}
	return ev, nil
}

func (r *rawEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RawEvent, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	row := c.QueryRow(ctx, `SELECT `+rawEventColumns+` FROM raw_events WHERE id = $1`, id)
	ev, err := scanRawEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw event: %w", err)
	}
	return ev, nil
}

func (r *rawEventRepository) Finalize(ctx context.Context, id uuid.UUID, status models.RawEventStatus, incidentID *uuid.UUID, errorMessage *string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("cannot finalize raw event with non-terminal status %q", status)
	}
	c, err := conn(ctx)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE raw_events
		SET status = $2, incident_id = $3, error_message = $4, normalized_at = $5
		WHERE id = $1 AND status = 'raw'`

	tag, err := c.Exec(ctx, query, id, status, incidentID, errorMessage, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to finalize raw event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *rawEventRepository) List(ctx context.Context, status models.RawEventStatus, limit int) ([]*models.RawEvent, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, 50, 500)

	var rows pgx.Rows
	if status == "" {
		rows, err = c.Query(ctx, `SELECT `+rawEventColumns+` FROM raw_events ORDER BY ingested_at DESC LIMIT $1`, limit)
	} else {
		rows, err = c.Query(ctx, `SELECT `+rawEventColumns+` FROM raw_events WHERE status = $1 ORDER BY ingested_at DESC LIMIT $2`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list raw events: %w", err)
	}
	return collectRawEvents(rows)
}

func (r *rawEventRepository) ListByIncident(ctx context.Context, incidentID uuid.UUID) ([]*models.RawEvent, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx, `SELECT `+rawEventColumns+` FROM raw_events WHERE incident_id = $1 ORDER BY ingested_at`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw events for incident: %w", err)
	}
	return collectRawEvents(rows)
}

func collectRawEvents(rows pgx.Rows) ([]*models.RawEvent, error) {
	defer rows.Close()

	var events []*models.RawEvent
	for rows.Next() {
		ev, err := scanRawEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw events: %w", err)
	}
	return events, nil
}

func scanRawEvent(row pgx.Row) (*models.RawEvent, error) {
	var ev models.RawEvent
	err := row.Scan(
		&ev.ID, &ev.SourceType, &ev.SourceLabel, &ev.SourceURL, &ev.RawPayload, &ev.ContentHash,
		&ev.Status, &ev.IncidentID, &ev.IngestedAt, &ev.NormalizedAt, &ev.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
