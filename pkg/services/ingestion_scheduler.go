package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/config"
	"github.com/ekaya-inc/incident-engine/pkg/database"
	"github.com/ekaya-inc/incident-engine/pkg/models"
)

// IngestionScheduler triggers source runs and entity extraction passes on
// cron schedules.
type IngestionScheduler struct {
	cron       *cron.Cron
	ingestion  IngestionOrchestrator
	extraction EntityExtractionService
	scopes     database.ScopeProvider
	logger     *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewIngestionScheduler creates a scheduler. extraction may be nil when no
// extraction backend is configured.
func NewIngestionScheduler(
	ingestion IngestionOrchestrator,
	extraction EntityExtractionService,
	scopes database.ScopeProvider,
	logger *zap.Logger,
) *IngestionScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &IngestionScheduler{
		cron:       cron.New(),
		ingestion:  ingestion,
		extraction: extraction,
		scopes:     scopes,
		logger:     logger.Named("scheduler"),
		entries:    make(map[string]cron.EntryID),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ScheduleSources registers every source with a non-empty schedule.
func (s *IngestionScheduler) ScheduleSources(sources []config.SourceConfig) error {
	for _, src := range sources {
		if src.Schedule == "" {
			continue
		}
		name := src.Name
		if err := s.add("source:"+name, src.Schedule, func(ctx context.Context) {
			s.runSource(ctx, name)
		}); err != nil {
			return fmt.Errorf("source %s: %w", name, err)
		}
	}
	return nil
}

// ScheduleExtraction registers a periodic entity extraction pass.
func (s *IngestionScheduler) ScheduleExtraction(spec string, batch int) error {
	if spec == "" {
		return nil
	}
	if s.extraction == nil {
		return fmt.Errorf("entity extraction schedule set but %w", apperrors.ErrExtractionUnavailable)
	}
	return s.add("entity-extraction", spec, func(ctx context.Context) {
		s.runExtraction(ctx, batch)
	})
}

func (s *IngestionScheduler) add(key, spec string, fn func(ctx context.Context)) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[key]; ok {
		s.cron.Remove(old)
	}
	s.entries[key] = s.cron.Schedule(schedule, cron.FuncJob(func() { fn(s.ctx) }))

	s.logger.Info("Scheduled job", zap.String("job", key), zap.String("schedule", spec))
	return nil
}

// Jobs returns the registered job keys.
func (s *IngestionScheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Start begins running scheduled jobs.
func (s *IngestionScheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.Jobs())))
}

// Stop cancels running jobs and waits for them to return or ctx to end.
func (s *IngestionScheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with jobs still running")
	}
	s.logger.Info("Scheduler stopped")
}

func (s *IngestionScheduler) runSource(ctx context.Context, name string) {
	summary, err := s.ingestion.RunSource(ctx, name, models.RunParams{}, TriggerSchedule)
	if err != nil && !errors.Is(err, apperrors.ErrAllSourcesFailed) {
		s.logger.Error("Scheduled ingestion failed", zap.String("source", name), zap.Error(err))
		return
	}
	if summary != nil && len(summary.Errors) > 0 {
		s.logger.Warn("Scheduled ingestion finished with errors",
			zap.String("source", name), zap.Strings("errors", summary.Errors))
	}
}

func (s *IngestionScheduler) runExtraction(ctx context.Context, batch int) {
	ctx, cleanup, err := s.scopes.WithScope(ctx)
	if err != nil {
		s.logger.Error("Failed to acquire database connection", zap.Error(err))
		return
	}
	defer cleanup()

	summary, err := s.extraction.ExtractEntities(ctx, ExtractionRequest{Limit: batch})
	if err != nil {
		s.logger.Error("Scheduled entity extraction failed", zap.Error(err))
		return
	}
	s.logger.Info("Scheduled entity extraction complete",
		zap.Int("processed", summary.Processed),
		zap.Int("entities_created", summary.EntitiesCreated),
		zap.Int("links_created", summary.LinksCreated))
}
