package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/config"
	"github.com/ekaya-inc/incident-engine/pkg/connectors"
	"github.com/ekaya-inc/incident-engine/pkg/database"
	"github.com/ekaya-inc/incident-engine/pkg/logging"
	"github.com/ekaya-inc/incident-engine/pkg/metrics"
	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/repositories"
)

// Ingestion triggers recorded in run history.
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
	TriggerMCP      = "mcp"
)

// SourceRegistry looks up connectors by name.
type SourceRegistry interface {
	Get(name string) (connectors.Connector, error)
	Names() []string
}

var _ SourceRegistry = (*connectors.Registry)(nil)

// IngestionOrchestrator drives connectors through staging and normalization.
type IngestionOrchestrator interface {
	// Run ingests the requested sources, or every registered source when
	// none are named. Sources run concurrently and fail independently; the
	// error is apperrors.ErrAllSourcesFailed only when none succeeded, and
	// apperrors.ErrSourceBusy when every source was already running.
	Run(ctx context.Context, params models.RunParams, trigger string) (*models.RunSummary, error)
	// RunSource ingests a single source.
	RunSource(ctx context.Context, source string, params models.RunParams, trigger string) (*models.RunSummary, error)
	ListRuns(ctx context.Context, source string, limit int) ([]*models.IngestionRun, error)
	Sources() []string
}

type ingestionOrchestrator struct {
	registry   SourceRegistry
	stager     RawEventStager
	normalizer IncidentNormalizer
	runs       repositories.IngestionRunRepository
	scopes     database.ScopeProvider
	locker     RunLocker
	metrics    *metrics.Metrics
	cfg        config.IngestionConfig
	now        func() time.Time
	logger     *zap.Logger
}

// NewIngestionOrchestrator creates a new IngestionOrchestrator. A nil locker
// selects a process-local one.
func NewIngestionOrchestrator(
	registry SourceRegistry,
	stager RawEventStager,
	normalizer IncidentNormalizer,
	runs repositories.IngestionRunRepository,
	scopes database.ScopeProvider,
	locker RunLocker,
	m *metrics.Metrics,
	cfg config.IngestionConfig,
	logger *zap.Logger,
) IngestionOrchestrator {
	if locker == nil {
		locker = NewLocalRunLocker()
	}
	if cfg.MaxConcurrentSources < 1 {
		cfg.MaxConcurrentSources = 4
	}
	return &ingestionOrchestrator{
		registry:   registry,
		stager:     stager,
		normalizer: normalizer,
		runs:       runs,
		scopes:     scopes,
		locker:     locker,
		metrics:    m,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.Named("ingestion"),
	}
}

var _ IngestionOrchestrator = (*ingestionOrchestrator)(nil)

// sourceOutcome is the result of one per-source run.
type sourceOutcome struct {
	summary models.RunSummary
	failed  bool
	// busy means another run held the source lock; it is not a failure.
	busy bool
}

func (o *ingestionOrchestrator) Sources() []string {
	return o.registry.Names()
}

func (o *ingestionOrchestrator) Run(ctx context.Context, params models.RunParams, trigger string) (*models.RunSummary, error) {
	names := params.Sources
	if len(names) == 0 {
		names = o.registry.Names()
	}
	if len(names) == 0 {
		return nil, apperrors.NewValidationError("sources", "no sources are configured")
	}

	conns := make([]connectors.Connector, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		c, err := o.registry.Get(name)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}

	params = o.withDefaults(params)
	outcomes := make([]sourceOutcome, len(conns))

	// Workers never return an error so one failing source cannot cancel the rest.
	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrentSources)
	for i, c := range conns {
		g.Go(func() error {
			outcomes[i] = o.runSource(ctx, c, params, trigger)
			return nil
		})
	}
	_ = g.Wait()

	total := &models.RunSummary{}
	failed, busy := 0, 0
	for _, out := range outcomes {
		total.Add(&out.summary)
		switch {
		case out.busy:
			busy++
		case out.failed:
			failed++
		}
	}

	o.logger.Info("Ingestion run complete",
		zap.Int("sources", len(conns)),
		zap.Int("failed_sources", failed),
		zap.Int("busy_sources", busy),
		zap.Int("fetched", total.Fetched),
		zap.Int("inserted", total.Inserted),
		zap.Int("duplicates", total.DuplicatesSkipped),
		zap.Int("rejected", total.Rejected))

	switch {
	case busy == len(conns):
		return total, apperrors.ErrSourceBusy
	case failed > 0 && failed == len(conns)-busy:
		return total, apperrors.ErrAllSourcesFailed
	}
	return total, nil
}

func (o *ingestionOrchestrator) RunSource(ctx context.Context, source string, params models.RunParams, trigger string) (*models.RunSummary, error) {
	params.Sources = []string{source}
	return o.Run(ctx, params, trigger)
}

func (o *ingestionOrchestrator) ListRuns(ctx context.Context, source string, limit int) ([]*models.IngestionRun, error) {
	runs, err := o.runs.List(ctx, source, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion runs: %w", err)
	}
	return runs, nil
}

func (o *ingestionOrchestrator) withDefaults(p models.RunParams) models.RunParams {
	if p.Days <= 0 {
		p.Days = o.cfg.DefaultLookbackDays
	}
	return p
}

// runSource fetches one source and pushes every candidate through staging
// and normalization. Per-candidate failures are counted and skipped; a
// storage failure ends the source run.
func (o *ingestionOrchestrator) runSource(ctx context.Context, c connectors.Connector, params models.RunParams, trigger string) sourceOutcome {
	name := c.Name()
	logger := o.logger.With(zap.String("source", name))
	started := o.now()
	var out sourceOutcome

	fail := func(err error) sourceOutcome {
		out.failed = true
		out.summary.Errors = append(out.summary.Errors, sourceError(name, err))
		return out
	}

	release, err := o.locker.Acquire(ctx, name, o.cfg.RunLockTTL)
	if err != nil {
		logger.Warn("Source run skipped", zap.Error(err))
		if errors.Is(err, apperrors.ErrSourceBusy) {
			out.busy = true
		}
		return fail(err)
	}
	defer release()

	ctx, cleanup, err := o.scopes.WithScope(ctx)
	if err != nil {
		logger.Error("Failed to acquire database connection", zap.Error(err))
		return fail(apperrors.NewStorageError("acquire connection", err))
	}
	defer cleanup()

	run := &models.IngestionRun{Source: name, Trigger: trigger, Status: models.IngestionRunRunning, StartedAt: started.UTC()}
	if err := o.runs.Create(ctx, run); err != nil {
		logger.Warn("Failed to record ingestion run", zap.Error(err))
		run = nil
	}

	out = o.ingest(ctx, c, params, logger)

	status := models.IngestionRunSucceeded
	switch {
	case out.failed:
		status = models.IngestionRunFailed
	case len(out.summary.Errors) > 0:
		status = models.IngestionRunPartial
	}
	o.metrics.Run(name, string(status), o.now().Sub(started))

	if run != nil {
		finished := o.now().UTC()
		run.Status = status
		run.Summary = out.summary
		run.FinishedAt = &finished
		// The run context may be cancelled; history should still be written.
		if err := o.runs.Finish(context.WithoutCancel(ctx), run); err != nil {
			logger.Warn("Failed to finish ingestion run record", zap.Error(err))
		}
	}

	logger.Info("Source run complete",
		zap.String("status", string(status)),
		zap.Int("fetched", out.summary.Fetched),
		zap.Int("staged", out.summary.Staged),
		zap.Int("inserted", out.summary.Inserted),
		zap.Int("duplicates", out.summary.DuplicatesSkipped),
		zap.Int("rejected", out.summary.Rejected),
		zap.Duration("elapsed", o.now().Sub(started)))
	return out
}

func (o *ingestionOrchestrator) ingest(ctx context.Context, c connectors.Connector, params models.RunParams, logger *zap.Logger) sourceOutcome {
	var out sourceOutcome
	name := c.Name()

	fetchCtx := ctx
	if o.cfg.ConnectorTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, o.cfg.ConnectorTimeout)
		defer cancel()
	}

	fetched, fetchErr := c.Fetch(fetchCtx, params)
	if fetchErr != nil {
		o.metrics.SourceError(name)
		out.summary.Errors = append(out.summary.Errors, sourceError(name, fetchErr))
		if len(fetched) == 0 && !errors.Is(fetchErr, apperrors.ErrPartialFetch) {
			logger.Warn("Source fetch failed", zap.String("error", logging.SanitizeError(fetchErr)))
			out.failed = true
			return out
		}
		logger.Warn("Source fetch incomplete; processing partial results",
			zap.Int("candidates", len(fetched)), zap.String("error", logging.SanitizeError(fetchErr)))
	}

	base := c.Source()
	for i := range fetched {
		if err := ctx.Err(); err != nil {
			out.summary.Errors = append(out.summary.Errors, sourceError(name, err))
			out.failed = out.summary.Fetched == 0
			return out
		}

		fc := &fetched[i]
		out.summary.Fetched++

		ref := base
		if fc.URL != "" {
			ref.URL = fc.URL
		}

		outcome, err := o.processCandidate(ctx, fc, ref, &out.summary)
		o.metrics.Candidate(name, outcome)
		if err == nil {
			continue
		}
		if apperrors.IsStorage(err) {
			logger.Error("Storage failure; aborting source run", zap.Error(err))
			out.summary.Errors = append(out.summary.Errors, sourceError(name, err))
			out.failed = true
			return out
		}
		out.summary.Errors = append(out.summary.Errors, fmt.Sprintf("%s: candidate %q: %v", name, fc.Candidate.Title, err))
	}
	return out
}

// processCandidate stages and normalizes one candidate, updating summary.
// It returns the metrics outcome label.
func (o *ingestionOrchestrator) processCandidate(ctx context.Context, fc *models.FetchedCandidate, ref models.SourceRef, summary *models.RunSummary) (string, error) {
	ev, created, err := o.stager.Stage(ctx, &fc.Candidate, fc.Payload, ref)
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	if created {
		summary.Staged++
	} else if ev.Status.IsTerminal() {
		// Same candidate from the same feed, already decided by an earlier run.
		summary.DuplicatesSkipped++
		return metrics.OutcomeSkipped, nil
	}

	// A raw event left in status raw by an interrupted run is normalized now.
	res, err := o.normalizer.NormalizeAndCommit(ctx, &fc.Candidate, ev)
	if err != nil {
		return metrics.OutcomeFailed, err
	}

	switch res.Status {
	case models.RawEventStatusNormalized:
		if res.Incident == nil {
			// A concurrent run committed this raw event first.
			summary.DuplicatesSkipped++
			return metrics.OutcomeSkipped, nil
		}
		summary.Inserted++
		return metrics.OutcomeInserted, nil
	case models.RawEventStatusDuplicate:
		summary.DuplicatesSkipped++
		return metrics.OutcomeDuplicate, nil
	case models.RawEventStatusRejected:
		summary.Rejected++
		return metrics.OutcomeRejected, nil
	default:
		return metrics.OutcomeFailed, fmt.Errorf("unexpected raw event status %q", res.Status)
	}
}

// sourceError renders err for run summaries, which are returned to callers
// and stored in run history. Connector errors can echo request URLs.
func sourceError(source string, err error) string {
	return source + ": " + logging.SanitizeError(err)
}
