package services

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/logging"
	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/repositories"
)

// RawEventStager keeps the append-only log of every fetched candidate.
type RawEventStager interface {
	// Stage records candidate with its verbatim payload. When a raw event
	// with the same content hash exists it is returned unchanged and created
	// is false.
	Stage(ctx context.Context, candidate *models.Candidate, payload json.RawMessage, source models.SourceRef) (ev *models.RawEvent, created bool, err error)
}

type rawEventStager struct {
	rawEvents repositories.RawEventRepository
	logger    *zap.Logger
}

// NewRawEventStager creates a new RawEventStager.
func NewRawEventStager(rawEvents repositories.RawEventRepository, logger *zap.Logger) RawEventStager {
	return &rawEventStager{
		rawEvents: rawEvents,
		logger:    logger.Named("raw-event-stager"),
	}
}

var _ RawEventStager = (*rawEventStager)(nil)

func (s *rawEventStager) Stage(ctx context.Context, candidate *models.Candidate, payload json.RawMessage, source models.SourceRef) (*models.RawEvent, bool, error) {
	hash := ContentHash(source, candidate)

	ev := &models.RawEvent{
		SourceType:  source.Type,
		SourceLabel: source.Label,
		RawPayload:  payload,
		ContentHash: hash,
		Status:      models.RawEventStatusRaw,
	}
	if source.URL != "" {
		url := source.URL
		ev.SourceURL = &url
	}
	switch {
	case len(ev.RawPayload) == 0:
		// Manual entries have no upstream payload; keep the candidate itself.
		encoded, err := json.Marshal(candidate)
		if err != nil {
			return nil, false, fmt.Errorf("failed to encode candidate: %w", err)
		}
		ev.RawPayload = encoded
	case !json.Valid(ev.RawPayload):
		// Preserve non-JSON payloads verbatim inside a JSON string.
		wrapped, err := json.Marshal(string(payload))
		if err != nil {
			return nil, false, fmt.Errorf("failed to encode raw payload: %w", err)
		}
		ev.RawPayload = wrapped
	}

	created, err := s.rawEvents.InsertIfAbsent(ctx, ev)
	if err != nil {
		return nil, false, apperrors.NewStorageError("stage raw event", err)
	}
	if created {
		s.logger.Debug("Staged raw event",
			zap.String("raw_event_id", ev.ID.String()),
			zap.String("source", source.Label),
			zap.String("url", logging.SanitizeURL(source.URL)),
			zap.String("content_hash", hash),
			zap.String("payload", logging.PayloadExcerpt(ev.RawPayload)))
		return ev, true, nil
	}

	existing, err := s.rawEvents.GetByHash(ctx, hash)
	if err != nil {
		return nil, false, apperrors.NewStorageError("load staged raw event", err)
	}
	if existing == nil {
		return nil, false, apperrors.NewStorageError("load staged raw event",
			fmt.Errorf("raw event with hash %s vanished after conflict", hash))
	}

	s.logger.Debug("Candidate already staged",
		zap.String("raw_event_id", existing.ID.String()),
		zap.String("status", string(existing.Status)))
	return existing, false, nil
}
