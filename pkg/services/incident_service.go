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

// ManualSource is the provenance of analyst-entered incidents.
var ManualSource = models.SourceRef{Type: models.SourceTypeManual, Label: "manual"}

// IncidentDetail is an incident with the raw events that reported it.
type IncidentDetail struct {
	Incident  *models.Incident   `json:"incident"`
	RawEvents []*models.RawEvent `json:"raw_events"`
}

// CreateIncidentResult is the outcome of a manual incident submission.
type CreateIncidentResult struct {
	Incident *models.Incident      `json:"incident"`
	Status   models.RawEventStatus `json:"status"`
}

// IncidentService serves incident reads and manual creation.
type IncidentService interface {
	// Create validates and commits an analyst-entered incident through the
	// same staging and dedup path as ingested candidates. When an incident
	// with the same title already exists in the window, that incident is
	// returned with status duplicate.
	Create(ctx context.Context, candidate *models.Candidate) (*CreateIncidentResult, error)
	Get(ctx context.Context, id uuid.UUID) (*IncidentDetail, error)
	List(ctx context.Context, limit, offset int) ([]*models.Incident, error)
	ListRawEvents(ctx context.Context, status models.RawEventStatus, limit int) ([]*models.RawEvent, error)
}

type incidentService struct {
	incidents  repositories.IncidentRepository
	rawEvents  repositories.RawEventRepository
	stager     RawEventStager
	normalizer IncidentNormalizer
	logger     *zap.Logger
}

// NewIncidentService creates a new IncidentService.
func NewIncidentService(
	incidents repositories.IncidentRepository,
	rawEvents repositories.RawEventRepository,
	stager RawEventStager,
	normalizer IncidentNormalizer,
	logger *zap.Logger,
) IncidentService {
	return &incidentService{
		incidents:  incidents,
		rawEvents:  rawEvents,
		stager:     stager,
		normalizer: normalizer,
		logger:     logger.Named("incident-service"),
	}
}

var _ IncidentService = (*incidentService)(nil)

func (s *incidentService) Create(ctx context.Context, candidate *models.Candidate) (*CreateIncidentResult, error) {
	// Reject bad input before it reaches the raw event log.
	if _, err := MapCandidate(candidate, ManualSource.Label); err != nil {
		return nil, err
	}

	ev, _, err := s.stager.Stage(ctx, candidate, nil, ManualSource)
	if err != nil {
		return nil, err
	}
	res, err := s.normalizer.NormalizeAndCommit(ctx, candidate, ev)
	if err != nil {
		return nil, err
	}

	switch {
	case res.Incident != nil:
		s.logger.Info("Manual incident created", zap.String("incident_id", res.Incident.ID.String()))
		return &CreateIncidentResult{Incident: res.Incident, Status: res.Status}, nil
	case res.Status == models.RawEventStatusRejected:
		return nil, apperrors.NewValidationError("candidate", res.Reason)
	}

	// Duplicate, or the same submission repeated.
	var existingID *uuid.UUID
	if res.DuplicateOf != nil {
		existingID = res.DuplicateOf
	} else {
		existingID = ev.IncidentID
	}
	if existingID == nil {
		return nil, fmt.Errorf("raw event %s has status %s but no incident", ev.ID, res.Status)
	}
	existing, err := s.incidents.GetByID(ctx, *existingID)
	if err != nil {
		return nil, apperrors.NewStorageError("load incident", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("incident %s: %w", *existingID, apperrors.ErrNotFound)
	}
	return &CreateIncidentResult{Incident: existing, Status: models.RawEventStatusDuplicate}, nil
}

func (s *incidentService) Get(ctx context.Context, id uuid.UUID) (*IncidentDetail, error) {
	inc, err := s.incidents.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	if inc == nil {
		return nil, apperrors.ErrNotFound
	}
	events, err := s.rawEvents.ListByIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw events: %w", err)
	}
	if events == nil {
		events = []*models.RawEvent{}
	}
	return &IncidentDetail{Incident: inc, RawEvents: events}, nil
}

func (s *incidentService) List(ctx context.Context, limit, offset int) ([]*models.Incident, error) {
	incidents, err := s.incidents.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	return incidents, nil
}

func (s *incidentService) ListRawEvents(ctx context.Context, status models.RawEventStatus, limit int) ([]*models.RawEvent, error) {
	switch status {
	case "", models.RawEventStatusRaw, models.RawEventStatusNormalized,
		models.RawEventStatusDuplicate, models.RawEventStatusRejected:
	default:
		return nil, apperrors.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	events, err := s.rawEvents.List(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw events: %w", err)
	}
	return events, nil
}
