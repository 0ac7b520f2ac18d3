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

// EntityRepository provides data access for entities, their alias index and
// their incident links.
type EntityRepository interface {
	Create(ctx context.Context, e *models.Entity) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	// GetByIDForUpdate locks the entity row for the rest of the transaction.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	List(ctx context.Context, limit, offset int) ([]*models.Entity, error)
	// Touch widens first_seen/last_seen to include seen.
	Touch(ctx context.Context, id uuid.UUID, seen time.Time) error
	// Absorb folds source's seen range, confidence and missing metadata into
	// the target.
	Absorb(ctx context.Context, targetID uuid.UUID, source *models.Entity) error
	Delete(ctx context.Context, id uuid.UUID) (bool, error)

	// FindByAliases returns the entity owning any of the normalized aliases,
	// preferring earlier positions in the slice. Nil when none match.
	FindByAliases(ctx context.Context, normalized []string) (*uuid.UUID, error)
	// AddAlias registers an alias. created is false when the normalized form
	// is already indexed, whichever entity owns it.
	AddAlias(ctx context.Context, alias *models.EntityAlias) (created bool, err error)
	ListAliases(ctx context.Context, entityID uuid.UUID) ([]*models.EntityAlias, error)
	ListAliasesFor(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]string, error)
	// MoveAliases reassigns every alias of source to target.
	MoveAliases(ctx context.Context, sourceID, targetID uuid.UUID) (int, error)

	// UpsertLink inserts or refreshes the link on (incident, entity, role).
	// inserted is false when the link already existed.
	UpsertLink(ctx context.Context, link *models.IncidentEntityLink) (inserted bool, err error)
	ListLinks(ctx context.Context, entityID uuid.UUID) ([]*models.IncidentEntityLink, error)
	ListIncidentIDsFor(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error)
	// MoveLinks reassigns source's links to target, first dropping source
	// links that collide with an existing target link.
	MoveLinks(ctx context.Context, sourceID, targetID uuid.UUID) (moved int, dropped int, err error)
}

type entityRepository struct{}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository() EntityRepository {
	return &entityRepository{}
}

var _ EntityRepository = (*entityRepository)(nil)

const entitySelect = `
	SELECT e.id, e.canonical_name, e.entity_type, e.description, e.country_affiliation, e.region,
	       e.confidence, e.first_seen, e.last_seen,
	       (SELECT COUNT(DISTINCT l.incident_id) FROM incident_entity_links l WHERE l.entity_id = e.id),
	       e.created_at, e.updated_at
	FROM entities e`

func (r *entityRepository) Create(ctx context.Context, e *models.Entity) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	query := `
		INSERT INTO entities (
			id, canonical_name, entity_type, description, country_affiliation, region,
			confidence, first_seen, last_seen
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err = c.QueryRow(ctx, query,
		e.ID, e.CanonicalName, e.EntityType, e.Description, e.CountryAffiliation, e.Region,
		e.Confidence, e.FirstSeen.UTC(), e.LastSeen.UTC(),
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	return r.get(ctx, entitySelect+` WHERE e.id = $1`, id)
}

func (r *entityRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	return r.get(ctx, entitySelect+` WHERE e.id = $1 FOR UPDATE OF e`, id)
}

func (r *entityRepository) get(ctx context.Context, query string, id uuid.UUID) (*models.Entity, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	e, err := scanEntity(c.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

func (r *entityRepository) List(ctx context.Context, limit, offset int) ([]*models.Entity, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := c.Query(ctx, entitySelect+` ORDER BY e.last_seen DESC, e.canonical_name LIMIT $1 OFFSET $2`,
		clampLimit(limit, 100, 5000), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return entities, nil
}

func (r *entityRepository) Touch(ctx context.Context, id uuid.UUID, seen time.Time) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE entities
		SET first_seen = LEAST(first_seen, $2),
		    last_seen = GREATEST(last_seen, $2),
		    updated_at = now()
		WHERE id = $1`

	if _, err := c.Exec(ctx, query, id, seen.UTC()); err != nil {
		return fmt.Errorf("failed to update entity seen range: %w", err)
	}
	return nil
}

func (r *entityRepository) Absorb(ctx context.Context, targetID uuid.UUID, source *models.Entity) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE entities
		SET first_seen = LEAST(first_seen, $2),
		    last_seen = GREATEST(last_seen, $3),
		    confidence = GREATEST(confidence, $4),
		    description = COALESCE(description, $5),
		    country_affiliation = COALESCE(country_affiliation, $6),
		    region = COALESCE(region, $7),
		    updated_at = now()
		WHERE id = $1`

	_, err = c.Exec(ctx, query, targetID, source.FirstSeen.UTC(), source.LastSeen.UTC(), source.Confidence,
		source.Description, source.CountryAffiliation, source.Region)
	if err != nil {
		return fmt.Errorf("failed to absorb entity metadata: %w", err)
	}
	return nil
}

func (r *entityRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	c, err := conn(ctx)
	if err != nil {
		return false, err
	}

	tag, err := c.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete entity: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *entityRepository) FindByAliases(ctx context.Context, normalized []string) (*uuid.UUID, error) {
	if len(normalized) == 0 {
		return nil, nil
	}
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT entity_id
		FROM entity_aliases
		WHERE alias_normalized = ANY($1)
		ORDER BY array_position($1::text[], alias_normalized), created_at
		LIMIT 1`

	var id uuid.UUID
	err = c.QueryRow(ctx, query, normalized).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up entity by alias: %w", err)
	}
	return &id, nil
}

func (r *entityRepository) AddAlias(ctx context.Context, alias *models.EntityAlias) (bool, error) {
	c, err := conn(ctx)
	if err != nil {
		return false, err
	}

	if alias.ID == uuid.Nil {
		alias.ID = uuid.New()
	}

	query := `
		INSERT INTO entity_aliases (id, entity_id, alias, alias_normalized, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (alias_normalized) DO NOTHING
		RETURNING created_at`

	err = c.QueryRow(ctx, query, alias.ID, alias.EntityID, alias.Alias, alias.AliasNormalized, alias.Source).
		Scan(&alias.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to add entity alias: %w", err)
	}
	return true, nil
}

func (r *entityRepository) ListAliases(ctx context.Context, entityID uuid.UUID) ([]*models.EntityAlias, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, entity_id, alias, alias_normalized, source, created_at
		FROM entity_aliases
		WHERE entity_id = $1
		ORDER BY created_at, alias_normalized`

	rows, err := c.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity aliases: %w", err)
	}
	defer rows.Close()

	var aliases []*models.EntityAlias
	for rows.Next() {
		var a models.EntityAlias
		if err := rows.Scan(&a.ID, &a.EntityID, &a.Alias, &a.AliasNormalized, &a.Source, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity alias: %w", err)
		}
		aliases = append(aliases, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity aliases: %w", err)
	}
	return aliases, nil
}

func (r *entityRepository) ListAliasesFor(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]string, error) {
	out := make(map[uuid.UUID][]string, len(entityIDs))
	if len(entityIDs) == 0 {
		return out, nil
	}
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx, `SELECT entity_id, alias FROM entity_aliases WHERE entity_id = ANY($1) ORDER BY created_at`, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var alias string
		if err := rows.Scan(&id, &alias); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		out[id] = append(out[id], alias)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aliases: %w", err)
	}
	return out, nil
}

// The alias index is globally unique on alias_normalized, so a source alias
// can never collide with one already owned by the target.
func (r *entityRepository) MoveAliases(ctx context.Context, sourceID, targetID uuid.UUID) (int, error) {
	c, err := conn(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := c.Exec(ctx, `UPDATE entity_aliases SET entity_id = $2 WHERE entity_id = $1`, sourceID, targetID)
	if err != nil {
		return 0, fmt.Errorf("failed to move entity aliases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *entityRepository) UpsertLink(ctx context.Context, link *models.IncidentEntityLink) (bool, error) {
	c, err := conn(ctx)
	if err != nil {
		return false, err
	}

	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}

	query := `
		INSERT INTO incident_entity_links (id, incident_id, entity_id, role, confidence, extracted_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (incident_id, entity_id, role) DO UPDATE
		SET confidence = GREATEST(incident_entity_links.confidence, EXCLUDED.confidence),
		    extracted_name = EXCLUDED.extracted_name
		RETURNING id, created_at, (xmax = 0)`

	var inserted bool
	err = c.QueryRow(ctx, query, link.ID, link.IncidentID, link.EntityID, link.Role, link.Confidence, link.ExtractedName).
		Scan(&link.ID, &link.CreatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert incident entity link: %w", err)
	}
	return inserted, nil
}

func (r *entityRepository) ListLinks(ctx context.Context, entityID uuid.UUID) ([]*models.IncidentEntityLink, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, incident_id, entity_id, role, confidence, extracted_name, created_at
		FROM incident_entity_links
		WHERE entity_id = $1
		ORDER BY created_at`

	rows, err := c.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity links: %w", err)
	}
	defer rows.Close()

	var links []*models.IncidentEntityLink
	for rows.Next() {
		var l models.IncidentEntityLink
		if err := rows.Scan(&l.ID, &l.IncidentID, &l.EntityID, &l.Role, &l.Confidence, &l.ExtractedName, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity link: %w", err)
		}
		links = append(links, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity links: %w", err)
	}
	return links, nil
}

func (r *entityRepository) ListIncidentIDsFor(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	out := make(map[uuid.UUID][]uuid.UUID, len(entityIDs))
	if len(entityIDs) == 0 {
		return out, nil
	}
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx, `SELECT DISTINCT entity_id, incident_id FROM incident_entity_links WHERE entity_id = ANY($1)`, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity incidents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entityID, incidentID uuid.UUID
		if err := rows.Scan(&entityID, &incidentID); err != nil {
			return nil, fmt.Errorf("failed to scan entity incident: %w", err)
		}
		out[entityID] = append(out[entityID], incidentID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity incidents: %w", err)
	}
	return out, nil
}

func (r *entityRepository) MoveLinks(ctx context.Context, sourceID, targetID uuid.UUID) (int, int, error) {
	c, err := conn(ctx)
	if err != nil {
		return 0, 0, err
	}

	dropQuery := `
		DELETE FROM incident_entity_links s
		WHERE s.entity_id = $1
		  AND EXISTS (
		      SELECT 1 FROM incident_entity_links t
		      WHERE t.entity_id = $2 AND t.incident_id = s.incident_id AND t.role = s.role
		  )`

	dropped, err := c.Exec(ctx, dropQuery, sourceID, targetID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to drop colliding entity links: %w", err)
	}

	moved, err := c.Exec(ctx, `UPDATE incident_entity_links SET entity_id = $2 WHERE entity_id = $1`, sourceID, targetID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to move entity links: %w", err)
	}
	return int(moved.RowsAffected()), int(dropped.RowsAffected()), nil
}

func scanEntity(row pgx.Row) (*models.Entity, error) {
	var e models.Entity
	err := row.Scan(
		&e.ID, &e.CanonicalName, &e.EntityType, &e.Description, &e.CountryAffiliation, &e.Region,
		&e.Confidence, &e.FirstSeen, &e.LastSeen, &e.IncidentCount, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
