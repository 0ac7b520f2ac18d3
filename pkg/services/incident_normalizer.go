package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/database"
	"github.com/ekaya-inc/incident-engine/pkg/logging"
	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/repositories"
)

// DefaultDedupWindow is how far apart two same-titled incidents may be and
// still be treated as one event.
const DefaultDedupWindow = 7 * 24 * time.Hour

const titleLockNamespace = "incident-title"

// NormalizeResult is the outcome of normalizing one staged candidate.
type NormalizeResult struct {
	// Incident is set only when a new incident was inserted.
	Incident *models.Incident
	Status   models.RawEventStatus
	// DuplicateOf is the existing incident a duplicate collapsed into.
	DuplicateOf *uuid.UUID
	// Reason explains a rejection.
	Reason string
}

// IncidentNormalizer maps staged candidates into canonical incidents and
// collapses cross-source duplicates by title.
type IncidentNormalizer interface {
	NormalizeAndCommit(ctx context.Context, candidate *models.Candidate, rawEvent *models.RawEvent) (*NormalizeResult, error)
}

type incidentNormalizer struct {
	incidents   repositories.IncidentRepository
	rawEvents   repositories.RawEventRepository
	tx          database.Transactor
	dedupWindow time.Duration
	logger      *zap.Logger
}

// NewIncidentNormalizer creates a new IncidentNormalizer. A non-positive
// dedupWindow selects DefaultDedupWindow.
func NewIncidentNormalizer(
	incidents repositories.IncidentRepository,
	rawEvents repositories.RawEventRepository,
	tx database.Transactor,
	dedupWindow time.Duration,
	logger *zap.Logger,
) IncidentNormalizer {
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	return &incidentNormalizer{
		incidents:   incidents,
		rawEvents:   rawEvents,
		tx:          tx,
		dedupWindow: dedupWindow,
		logger:      logger.Named("incident-normalizer"),
	}
}

var _ IncidentNormalizer = (*incidentNormalizer)(nil)

// errAlreadyFinalized aborts the transaction when another run finalized the
// raw event first.
var errAlreadyFinalized = errors.New("raw event already finalized")

func (n *incidentNormalizer) NormalizeAndCommit(ctx context.Context, candidate *models.Candidate, rawEvent *models.RawEvent) (*NormalizeResult, error) {
	if rawEvent == nil {
		return nil, fmt.Errorf("raw event is required")
	}
	if rawEvent.Status.IsTerminal() {
		return &NormalizeResult{Status: rawEvent.Status, DuplicateOf: rawEvent.IncidentID}, nil
	}

	incident, verr := MapCandidate(candidate, rawEvent.SourceLabel)
	if verr != nil {
		return n.reject(ctx, rawEvent, verr)
	}

	var result *NormalizeResult
	err := n.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := n.tx.XactLock(ctx, titleLockNamespace, strings.ToLower(incident.Title)); err != nil {
			return fmt.Errorf("failed to lock title: %w", err)
		}

		existing, err := n.incidents.FindByTitleWithin(ctx, incident.Title,
			incident.Datetime.Add(-n.dedupWindow), incident.Datetime.Add(n.dedupWindow))
		if err != nil {
			return err
		}

		if existing != nil {
			ok, err := n.rawEvents.Finalize(ctx, rawEvent.ID, models.RawEventStatusDuplicate, &existing.ID, nil)
			if err != nil {
				return err
			}
			if !ok {
				return errAlreadyFinalized
			}
			if rawEvent.SourceLabel != "" {
				if err := n.incidents.AddSource(ctx, existing.ID, rawEvent.SourceLabel); err != nil {
					return err
				}
			}
			id := existing.ID
			result = &NormalizeResult{Status: models.RawEventStatusDuplicate, DuplicateOf: &id}
			return nil
		}

		if err := n.incidents.Create(ctx, incident); err != nil {
			return err
		}
		ok, err := n.rawEvents.Finalize(ctx, rawEvent.ID, models.RawEventStatusNormalized, &incident.ID, nil)
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadyFinalized
		}
		result = &NormalizeResult{Incident: incident, Status: models.RawEventStatusNormalized}
		return nil
	})

	if errors.Is(err, errAlreadyFinalized) {
		return n.currentState(ctx, rawEvent)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("normalize incident", err)
	}

	rawEvent.Status = result.Status
	if result.Incident != nil {
		rawEvent.IncidentID = &result.Incident.ID
		n.logger.Debug("Inserted incident",
			zap.String("incident_id", result.Incident.ID.String()),
			zap.String("title", result.Incident.Title))
	} else {
		rawEvent.IncidentID = result.DuplicateOf
		n.logger.Debug("Duplicate incident skipped",
			zap.String("raw_event_id", rawEvent.ID.String()),
			zap.String("duplicate_of", result.DuplicateOf.String()))
	}
	return result, nil
}

func (n *incidentNormalizer) reject(ctx context.Context, rawEvent *models.RawEvent, verr error) (*NormalizeResult, error) {
	msg := verr.Error()
	ok, err := n.rawEvents.Finalize(ctx, rawEvent.ID, models.RawEventStatusRejected, nil, &msg)
	if err != nil {
		return nil, apperrors.NewStorageError("reject raw event", err)
	}
	if !ok {
		return n.currentState(ctx, rawEvent)
	}

	rawEvent.Status = models.RawEventStatusRejected
	rawEvent.ErrorMessage = &msg
	n.logger.Info("Rejected candidate",
		zap.String("raw_event_id", rawEvent.ID.String()),
		zap.String("source", rawEvent.SourceLabel),
		zap.String("reason", msg),
		zap.String("payload", logging.PayloadExcerpt(rawEvent.RawPayload)))
	return &NormalizeResult{Status: models.RawEventStatusRejected, Reason: msg}, nil
}

// currentState reports what another run already decided for rawEvent.
func (n *incidentNormalizer) currentState(ctx context.Context, rawEvent *models.RawEvent) (*NormalizeResult, error) {
	current, err := n.rawEvents.GetByID(ctx, rawEvent.ID)
	if err != nil {
		return nil, apperrors.NewStorageError("reload raw event", err)
	}
	if current == nil {
		return nil, apperrors.NewStorageError("reload raw event", fmt.Errorf("raw event %s not found", rawEvent.ID))
	}
	*rawEvent = *current
	res := &NormalizeResult{Status: current.Status, DuplicateOf: current.IncidentID}
	if current.ErrorMessage != nil {
		res.Reason = *current.ErrorMessage
	}
	return res, nil
}

// MapCandidate validates a candidate and maps it into an incident, applying
// clamps and defaults. source is appended to the incident's sources and used
// as the analyst tag. The error is always a *apperrors.ValidationError.
func MapCandidate(c *models.Candidate, source string) (*models.Incident, error) {
	if c == nil {
		return nil, apperrors.NewValidationError("candidate", "is required")
	}

	title := strings.Join(strings.Fields(c.Title), " ")
	if title == "" {
		return nil, apperrors.NewValidationError("title", "is required")
	}
	if utf8.RuneCountInString(title) > models.MaxTitleLength {
		title = strings.TrimSpace(string([]rune(title)[:models.MaxTitleLength]))
	}

	category, ok := models.ParseCategory(c.Category)
	if !ok {
		return nil, apperrors.NewValidationError("category", "is required")
	}

	if c.Datetime.IsZero() {
		return nil, apperrors.NewValidationError("datetime", "is required")
	}

	severity := models.DefaultSeverity
	if c.Severity != nil {
		severity = models.ClampSeverity(*c.Severity)
	}
	confidence := models.DefaultConfidence
	if c.Confidence != nil {
		confidence = models.ClampConfidence(*c.Confidence)
	}

	region := strings.TrimSpace(c.Region)
	if region == "" {
		region = models.DefaultRegion
	}
	section := strings.TrimSpace(c.Section)
	if section == "" {
		section = models.DefaultSection
	}

	return &models.Incident{
		Title:       title,
		Location:    strings.TrimSpace(c.Location),
		Region:      region,
		Country:     optionalString(c.Country),
		Subdivision: optionalString(c.Subdivision),
		Category:    category,
		Severity:    severity,
		Confidence:  confidence,
		Summary:     optionalString(c.Summary),
		Datetime:    c.Datetime.UTC(),
		Sources:     mergeSources(c.Sources, source),
		Status:      models.IncidentStatusAI,
		Analyst:     source,
		Section:     section,
	}, nil
}

// mergeSources returns sources followed by extra, without blanks or repeats.
func mergeSources(sources []string, extra string) []string {
	out := make([]string, 0, len(sources)+1)
	seen := make(map[string]bool, len(sources)+1)
	for _, s := range append(append([]string{}, sources...), extra) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
