package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/repositories"
	"github.com/ekaya-inc/incident-engine/pkg/similarity"
)

const (
	// MaxScoredEntities caps the pairwise scan to the most recently seen
	// entities; scoring is quadratic.
	MaxScoredEntities   = 2000
	defaultMergeListCap = 50
)

// DuplicateScan is the outcome of a pairwise duplicate scan.
type DuplicateScan struct {
	Candidates      []*models.MergeCandidate `json:"candidates"`
	EntitiesScanned int                      `json:"entities_scanned"`
	// Truncated is set when more entities exist than were scored.
	Truncated bool `json:"truncated"`
}

// EntitySimilarityService suggests entity pairs that may be the same actor.
// Suggestions are advisory; nothing is merged automatically.
type EntitySimilarityService interface {
	FindDuplicates(ctx context.Context, threshold, limit int) (*DuplicateScan, error)
	// Compare scores one specific pair regardless of threshold.
	Compare(ctx context.Context, a, b uuid.UUID) (*models.MergeCandidate, error)
}

type entitySimilarityService struct {
	entities         repositories.EntityRepository
	defaultThreshold int
	maxEntities      int
	logger           *zap.Logger
}

// NewEntitySimilarityService creates a new EntitySimilarityService. A
// threshold outside [0,100] selects similarity.DefaultThreshold.
func NewEntitySimilarityService(entities repositories.EntityRepository, threshold int, logger *zap.Logger) EntitySimilarityService {
	if threshold < 0 || threshold > 100 {
		threshold = similarity.DefaultThreshold
	}
	return &entitySimilarityService{
		entities:         entities,
		defaultThreshold: threshold,
		maxEntities:      MaxScoredEntities,
		logger:           logger.Named("entity-similarity"),
	}
}

var _ EntitySimilarityService = (*entitySimilarityService)(nil)

// FindDuplicates returns pairs scoring at least threshold, best first. A
// threshold of zero or less uses the configured default. Only the
// MaxScoredEntities most recently seen entities are scored; the result says
// when that left entities out.
func (s *entitySimilarityService) FindDuplicates(ctx context.Context, threshold, limit int) (*DuplicateScan, error) {
	if threshold <= 0 || threshold > 100 {
		threshold = s.defaultThreshold
	}
	if limit <= 0 {
		limit = defaultMergeListCap
	}

	// One extra row tells whether the cap cut anything off.
	entities, err := s.entities.List(ctx, s.maxEntities+1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}
	scan := &DuplicateScan{Candidates: []*models.MergeCandidate{}}
	if len(entities) > s.maxEntities {
		entities = entities[:s.maxEntities]
		scan.Truncated = true
	}
	scan.EntitiesScanned = len(entities)
	if len(entities) < 2 {
		return scan, nil
	}

	profiles, err := s.profiles(ctx, entities)
	if err != nil {
		return nil, err
	}

	pairs := similarity.FindCandidates(profiles, threshold)
	if len(pairs) > limit {
		pairs = pairs[:limit]
	}

	for _, p := range pairs {
		scan.Candidates = append(scan.Candidates, toMergeCandidate(entities[p.A], entities[p.B], p.Breakdown))
	}

	if scan.Truncated {
		s.logger.Warn("Duplicate scan limited to most recent entities", zap.Int("entities", len(entities)))
	}
	s.logger.Debug("Scored entity pairs",
		zap.Int("entities", len(entities)),
		zap.Int("threshold", threshold),
		zap.Int("candidates", len(scan.Candidates)))
	return scan, nil
}

func (s *entitySimilarityService) Compare(ctx context.Context, a, b uuid.UUID) (*models.MergeCandidate, error) {
	ea, err := s.entities.GetByID(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}
	eb, err := s.entities.GetByID(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}
	if ea == nil || eb == nil {
		return nil, nil
	}

	profiles, err := s.profiles(ctx, []*models.Entity{ea, eb})
	if err != nil {
		return nil, err
	}
	return toMergeCandidate(ea, eb, similarity.Score(profiles[0], profiles[1])), nil
}

func (s *entitySimilarityService) profiles(ctx context.Context, entities []*models.Entity) ([]similarity.Profile, error) {
	ids := make([]uuid.UUID, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}

	aliases, err := s.entities.ListAliasesFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load aliases: %w", err)
	}
	incidents, err := s.entities.ListIncidentIDsFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load incident links: %w", err)
	}

	profiles := make([]similarity.Profile, len(entities))
	for i, e := range entities {
		profiles[i] = similarity.Profile{
			ID:          e.ID,
			Name:        e.CanonicalName,
			Aliases:     aliases[e.ID],
			IncidentIDs: incidents[e.ID],
			EntityType:  string(e.EntityType),
			Country:     deref(e.CountryAffiliation),
			Region:      deref(e.Region),
			LastSeen:    e.LastSeen,
		}
	}
	return profiles, nil
}

func toMergeCandidate(a, b *models.Entity, bd similarity.Breakdown) *models.MergeCandidate {
	return &models.MergeCandidate{
		EntityA:         a,
		EntityB:         b,
		Score:           bd.Composite,
		NameScore:       bd.Name,
		AliasScore:      bd.Alias,
		IncidentScore:   bd.Incident,
		MetadataBonus:   bd.Metadata,
		SharedIncidents: bd.SharedIncidents,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
