package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/repositories"
)

// EntityDetail is an entity with its aliases and incident links.
type EntityDetail struct {
	Entity  *models.Entity               `json:"entity"`
	Aliases []*models.EntityAlias        `json:"aliases"`
	Links   []*models.IncidentEntityLink `json:"links"`
}

// EntityService serves entity reads.
type EntityService interface {
	List(ctx context.Context, limit, offset int) ([]*models.Entity, error)
	Get(ctx context.Context, id uuid.UUID) (*EntityDetail, error)
}

type entityService struct {
	entities repositories.EntityRepository
	logger   *zap.Logger
}

// NewEntityService creates a new EntityService.
func NewEntityService(entities repositories.EntityRepository, logger *zap.Logger) EntityService {
	return &entityService{
		entities: entities,
		logger:   logger.Named("entity-service"),
	}
}

var _ EntityService = (*entityService)(nil)

func (s *entityService) List(ctx context.Context, limit, offset int) ([]*models.Entity, error) {
	entities, err := s.entities.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	if entities == nil {
		entities = []*models.Entity{}
	}
	return entities, nil
}

func (s *entityService) Get(ctx context.Context, id uuid.UUID) (*EntityDetail, error) {
	entity, err := s.entities.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	if entity == nil {
		return nil, apperrors.ErrNotFound
	}

	aliases, err := s.entities.ListAliases(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	links, err := s.entities.ListLinks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	if aliases == nil {
		aliases = []*models.EntityAlias{}
	}
	if links == nil {
		links = []*models.IncidentEntityLink{}
	}
	return &EntityDetail{Entity: entity, Aliases: aliases, Links: links}, nil
}
