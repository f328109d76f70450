package run

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/OrcaBus/platform-integration-tests/internal/bus"
	"github.com/OrcaBus/platform-integration-tests/internal/domain"
	"github.com/OrcaBus/platform-integration-tests/internal/registry"
	"github.com/OrcaBus/platform-integration-tests/internal/scenario"
)

// Options tunes run creation defaults.
type Options struct {
	// DefaultTimeout applies when neither the request nor the scenario
	// carries a timeout.
	DefaultTimeout time.Duration
	// RetentionFactor multiplies the run timeout to produce the retention
	// deadline after which run data may be purged.
	RetentionFactor int
	// BusSource is stamped as the source of every seed event.
	BusSource string
	// SchemaVersion is stamped into every seed event detail.
	SchemaVersion string
}

// Service creates runs, publishes their seed events, and answers status
// queries.
type Service struct {
	registry  *registry.Registry
	catalog   *scenario.Catalog
	publisher bus.Publisher
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs a run Service with sane defaults.
func New(reg *registry.Registry, catalog *scenario.Catalog, publisher bus.Publisher, opts Options, logger *slog.Logger) *Service {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Minute
	}
	if opts.RetentionFactor <= 0 {
		opts.RetentionFactor = 2
	}
	if logger != nil {
		logger = logger.With("component", "run_service")
	}
	return &Service{
		registry:  reg,
		catalog:   catalog,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Seed creates a run for the named scenario and publishes one seed event per
// fixture. Each seed event carries the run correlation ID and a causedBy
// reference to the previous seed event, forming a causal chain. An unknown
// scenario name falls back to the catalog default; if that is also missing
// the run is not created.
func (s *Service) Seed(ctx context.Context, scenarioName string, timeout time.Duration) (domain.SeedResult, error) {
	sc, err := s.catalog.Resolve(scenarioName)
	if err != nil {
		return domain.SeedResult{}, err
	}

	if timeout <= 0 {
		if sc.TimeoutSeconds > 0 {
			timeout = time.Duration(sc.TimeoutSeconds) * time.Second
		} else {
			timeout = s.opts.DefaultTimeout
		}
	}

	runID := uuid.NewString()
	startedAt := s.now().UTC()
	fixtures := sc.Expectations(runID)

	run := domain.Run{
		ID:            runID,
		Scenario:      sc.Name,
		Status:        domain.StatusRunning,
		ExpectedCount: len(fixtures),
		StartedAt:     startedAt,
		TimeoutAt:     startedAt.Add(timeout),
		ExpiresAt:     startedAt.Add(time.Duration(s.opts.RetentionFactor) * timeout),
	}
	if err := s.registry.CreateRun(ctx, run, fixtures); err != nil {
		return domain.SeedResult{}, fmt.Errorf("create run: %w", err)
	}

	published, err := s.publishSeeds(ctx, run, fixtures)
	if err != nil {
		return domain.SeedResult{}, err
	}

	if s.logger != nil {
		s.logger.Info("run seeded",
			"run_id", runID,
			"scenario", sc.Name,
			"expected_count", len(fixtures),
			"timeout", timeout,
		)
	}
	return domain.SeedResult{
		RunID:         runID,
		Scenario:      sc.Name,
		ExpectedCount: len(fixtures),
		SeedEventIDs:  published,
		StartedAt:     run.StartedAt,
		TimeoutAt:     run.TimeoutAt,
	}, nil
}

func (s *Service) publishSeeds(ctx context.Context, run domain.Run, fixtures []domain.Expectation) ([]string, error) {
	published := make([]string, 0, len(fixtures))
	causedBy := ""
	for i, f := range fixtures {
		eventID := uuid.NewString()
		seq := f.Seq
		if seq == 0 {
			seq = i + 1
		}
		detail := map[string]any{
			bus.DetailRunCorrelationID: run.ID,
			bus.DetailScenario:         run.Scenario,
			bus.DetailEventID:          eventID,
			bus.DetailSchemaVersion:    s.opts.SchemaVersion,
			bus.DetailSeq:              seq,
			bus.DetailSource:           s.opts.BusSource,
			bus.DetailTestMode:         true,
			bus.DetailEventType:        f.DetailType,
		}
		if causedBy != "" {
			detail[bus.DetailCausedBy] = causedBy
		}
		for k, v := range f.ExpectedPayload {
			detail[k] = v
		}
		env := bus.Envelope{
			ID:         eventID,
			Source:     s.opts.BusSource,
			DetailType: f.DetailType,
			Detail:     detail,
		}
		if err := s.publisher.Publish(ctx, env); err != nil {
			return nil, fmt.Errorf("publish seed event %d/%d for run %s: %w", i+1, len(fixtures), run.ID, err)
		}
		published = append(published, eventID)
		causedBy = eventID
	}
	return published, nil
}

// Status returns the run's current state. A running run past its timeout
// deadline is transitioned to timeout as part of the read; there is no
// background timer.
func (s *Service) Status(ctx context.Context, runID string) (domain.RunStatusView, error) {
	run, err := s.registry.CurrentRun(ctx, runID, s.now().UTC())
	if err != nil {
		return domain.RunStatusView{}, err
	}
	return statusView(run), nil
}

// Current returns the raw run record with the timeout deadline applied.
func (s *Service) Current(ctx context.Context, runID string) (domain.Run, error) {
	return s.registry.CurrentRun(ctx, runID, s.now().UTC())
}

// Events returns the run's observed events in event-ID order.
func (s *Service) Events(ctx context.Context, runID string) ([]domain.ObservedEvent, error) {
	if _, err := s.registry.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.registry.ListEvents(ctx, runID)
}

func statusView(run domain.Run) domain.RunStatusView {
	return domain.RunStatusView{
		RunID:          run.ID,
		Scenario:       run.Scenario,
		Status:         run.Status,
		ExpectedCount:  run.ExpectedCount,
		ObservedCount:  run.ObservedCount,
		StartedAt:      run.StartedAt,
		TimeoutAt:      run.TimeoutAt,
		VerifiedAt:     run.VerifiedAt,
		ReportLocation: run.ReportLocation,
	}
}
