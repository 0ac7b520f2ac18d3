package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/database"
	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/repositories"
	"github.com/ekaya-inc/incident-engine/pkg/similarity"
)

const (
	aliasLockNamespace = "entity-alias"
	aliasSourceExtract = "extraction"
)

// ResolveRequest is one extracted mention to attach to an incident.
type ResolveRequest struct {
	IncidentID uuid.UUID
	// SeenAt is the incident time; it widens the entity's seen range.
	SeenAt time.Time
	Entity models.ExtractedEntity
}

// ResolveResult reports what a resolution changed.
type ResolveResult struct {
	EntityID     uuid.UUID
	Created      bool
	LinkCreated  bool
	AliasesAdded int
}

// EntityAliasResolver maps extracted names onto canonical entities through
// the normalized alias index.
type EntityAliasResolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error)
}

type entityAliasResolver struct {
	entities repositories.EntityRepository
	tx       database.Transactor
	logger   *zap.Logger
}

// NewEntityAliasResolver creates a new EntityAliasResolver.
func NewEntityAliasResolver(entities repositories.EntityRepository, tx database.Transactor, logger *zap.Logger) EntityAliasResolver {
	return &entityAliasResolver{
		entities: entities,
		tx:       tx,
		logger:   logger.Named("entity-resolver"),
	}
}

var _ EntityAliasResolver = (*entityAliasResolver)(nil)

// Resolve reuses the entity owning any of the mention's normalized names or
// creates one, registers missing aliases and upserts the incident link.
// Repeating a resolution changes nothing.
func (r *entityAliasResolver) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	name := strings.Join(strings.Fields(req.Entity.Name), " ")
	normalized := similarity.NormalizeAll(append([]string{name}, req.Entity.Aliases...)...)
	if len(normalized) == 0 {
		return nil, apperrors.NewValidationError("name", "has no alphanumeric characters")
	}

	// Lock in a fixed order so two resolutions sharing aliases cannot deadlock.
	lockKeys := slices.Clone(normalized)
	slices.Sort(lockKeys)

	seen := req.SeenAt.UTC()
	if seen.IsZero() {
		seen = time.Now().UTC()
	}

	var result ResolveResult
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		for _, key := range lockKeys {
			if err := r.tx.XactLock(ctx, aliasLockNamespace, key); err != nil {
				return fmt.Errorf("failed to lock alias %q: %w", key, err)
			}
		}

		existing, err := r.entities.FindByAliases(ctx, normalized)
		if err != nil {
			return err
		}

		if existing != nil {
			result.EntityID = *existing
			if err := r.entities.Touch(ctx, *existing, seen); err != nil {
				return err
			}
		} else {
			entity := newEntityFromMention(name, req.Entity, seen)
			if err := r.entities.Create(ctx, entity); err != nil {
				return err
			}
			result.EntityID = entity.ID
			result.Created = true
		}

		added, err := r.registerAliases(ctx, result.EntityID, name, req.Entity.Aliases)
		if err != nil {
			return err
		}
		result.AliasesAdded = added

		inserted, err := r.entities.UpsertLink(ctx, &models.IncidentEntityLink{
			IncidentID:    req.IncidentID,
			EntityID:      result.EntityID,
			Role:          models.ParseLinkRole(string(req.Entity.Role)),
			Confidence:    models.ClampConfidence(req.Entity.Confidence),
			ExtractedName: name,
		})
		if err != nil {
			return err
		}
		result.LinkCreated = inserted
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorageError("resolve entity", err)
	}

	if result.Created {
		r.logger.Debug("Created entity",
			zap.String("entity_id", result.EntityID.String()),
			zap.String("name", name))
	}
	return &result, nil
}

// registerAliases adds every spelling whose normalized form is not yet
// indexed. The first spelling seen for a normalized form wins.
func (r *entityAliasResolver) registerAliases(ctx context.Context, entityID uuid.UUID, name string, aliases []string) (int, error) {
	source := aliasSourceExtract
	done := make(map[string]bool, len(aliases)+1)
	added := 0
	for _, alias := range append([]string{name}, aliases...) {
		alias = strings.Join(strings.Fields(alias), " ")
		norm := similarity.NormalizeName(alias)
		if norm == "" || done[norm] {
			continue
		}
		done[norm] = true

		created, err := r.entities.AddAlias(ctx, &models.EntityAlias{
			EntityID:        entityID,
			Alias:           alias,
			AliasNormalized: norm,
			Source:          &source,
		})
		if err != nil {
			return added, err
		}
		if created {
			added++
		}
	}
	return added, nil
}

func newEntityFromMention(name string, m models.ExtractedEntity, seen time.Time) *models.Entity {
	return &models.Entity{
		CanonicalName:      name,
		EntityType:         models.ParseEntityType(string(m.EntityType)),
		Description:        optionalString(m.Description),
		CountryAffiliation: optionalString(m.CountryAffiliation),
		Region:             optionalString(m.Region),
		Confidence:         models.ClampConfidence(m.Confidence),
		FirstSeen:          seen,
		LastSeen:           seen,
	}
}
