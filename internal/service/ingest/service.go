package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/OrcaBus/platform-integration-tests/internal/blob"
	"github.com/OrcaBus/platform-integration-tests/internal/bus"
	"github.com/OrcaBus/platform-integration-tests/internal/domain"
	"github.com/OrcaBus/platform-integration-tests/internal/match"
	"github.com/OrcaBus/platform-integration-tests/internal/registry"
	"github.com/OrcaBus/platform-integration-tests/internal/store"
	"github.com/OrcaBus/platform-integration-tests/internal/ws"
)

// Service consumes bus events addressed to active runs: it archives the raw
// envelope, records the event exactly once, matches it against the run's
// expectations inline, and moves the run to ready when the last expectation
// is observed. Events that do not belong to an active run are dropped
// without error; at-least-once transports make redelivery routine, not
// exceptional.
type Service struct {
	registry *registry.Registry
	archive  blob.Store
	hub      *ws.Hub
	logger   *slog.Logger
	metrics  metrics
	now      func() time.Time
}

// New constructs an ingest Service. The hub may be nil when no live
// observation is wired.
func New(reg *registry.Registry, archive blob.Store, hub *ws.Hub, logger *slog.Logger) *Service {
	if logger != nil {
		logger = logger.With("component", "ingest_service")
	}
	s := &Service{
		registry: reg,
		archive:  archive,
		hub:      hub,
		logger:   logger,
		now:      time.Now,
	}
	s.metrics.init()
	return s
}

// WithClock overrides the service clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ingest processes one bus envelope. It returns nil both when the event was
// recorded and when it was deliberately skipped; an error means storage
// failed and the transport should redeliver.
func (s *Service) Ingest(ctx context.Context, env bus.Envelope) error {
	runID := env.RunCorrelationID()
	if runID == "" {
		s.skip(env, "no run correlation id")
		return nil
	}
	if !env.TestMode() {
		s.skip(env, "test mode not set")
		return nil
	}

	now := s.now().UTC()
	run, err := s.registry.CurrentRun(ctx, runID, now)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			s.skip(env, "run not found")
			return nil
		}
		return err
	}
	if run.Status != domain.StatusRunning {
		s.skip(env, "run not active")
		return nil
	}

	payload := env.Payload()
	ev := domain.ObservedEvent{
		EventID:     env.ID,
		RunID:       runID,
		DetailType:  env.DetailType,
		Source:      env.Source,
		Payload:     payload,
		PayloadHash: domain.PayloadHash(payload),
		ReceivedAt:  now,
		Seq:         env.Seq(),
		CausedBy:    env.CausedBy(),
	}
	ev.ArchiveKey = s.archiveEnvelope(ctx, env, runID, now)

	if err := s.registry.InsertEvent(ctx, ev); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			s.metrics.event("duplicate")
			if s.logger != nil {
				s.logger.Debug("duplicate delivery ignored", "run_id", runID, "event_id", env.ID)
			}
			return nil
		}
		return err
	}
	s.metrics.event("stored")

	matched, err := s.matchEvent(ctx, run, &ev)
	if err != nil {
		return err
	}
	run, err = s.registry.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	s.broadcast(run, ev, matched)
	return nil
}

// matchEvent resolves the event against the run's expectations and, for a
// primary match, claims the expectation and bumps the observed counter. The
// claim is conditional; losing the race demotes this event to a secondary
// match of the same expectation.
func (s *Service) matchEvent(ctx context.Context, run domain.Run, ev *domain.ObservedEvent) (bool, error) {
	expectations, err := s.registry.ListExpectations(ctx, run.ID)
	if err != nil {
		return false, err
	}
	cand, ok := match.Resolve(ev.DetailType, ev.Source, ev.Payload, expectations)
	if !ok {
		s.metrics.match("unmatched")
		if s.logger != nil {
			s.logger.Debug("event matched no expectation",
				"run_id", run.ID, "event_id", ev.EventID, "detail_type", ev.DetailType)
		}
		return false, nil
	}

	exp := expectations[cand.Index]
	primary := false
	if cand.Primary {
		switch err := s.registry.ClaimPrimary(ctx, run.ID, exp.OrderIndex, ev.EventID, ev.ReceivedAt); {
		case err == nil:
			primary = true
		case errors.Is(err, store.ErrConditionFailed):
			// Another delivery claimed it first; this one is a repeat.
		default:
			return false, err
		}
	}

	ev.MatchedExpectationID = exp.ID
	ev.Secondary = !primary
	if err := s.registry.UpdateEvent(ctx, run.ID, ev.EventID, func(stored *domain.ObservedEvent) {
		stored.MatchedExpectationID = exp.ID
		stored.Secondary = !primary
	}); err != nil {
		return false, err
	}

	if !primary {
		s.metrics.match("secondary")
		return true, nil
	}
	s.metrics.match("primary")

	count, err := s.registry.IncrementObserved(ctx, run.ID)
	if err != nil {
		return false, err
	}
	if count >= int64(run.ExpectedCount) {
		if err := s.registry.MarkReady(ctx, run.ID); err != nil && !errors.Is(err, store.ErrConditionFailed) {
			return false, err
		}
		if s.logger != nil {
			s.logger.Info("run ready", "run_id", run.ID, "observed_count", count)
		}
	}
	return true, nil
}

// archiveEnvelope writes the raw envelope to the blob archive. Archival is
// best-effort; a failed write is logged and the event still counts.
func (s *Service) archiveEnvelope(ctx context.Context, env bus.Envelope, runID string, receivedAt time.Time) string {
	if s.archive == nil {
		return ""
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return ""
	}
	location, err := s.archive.Put(ctx, blob.Key(runID, receivedAt, env.ID), raw)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("event archive write failed", "run_id", runID, "event_id", env.ID, "error", err)
		}
		return ""
	}
	return location
}

func (s *Service) skip(env bus.Envelope, reason string) {
	s.metrics.event("skipped")
	if s.logger != nil {
		s.logger.Debug("event skipped", "event_id", env.ID, "detail_type", env.DetailType, "reason", reason)
	}
}

func (s *Service) broadcast(run domain.Run, ev domain.ObservedEvent, matched bool) {
	if s.hub == nil {
		return
	}
	frame := map[string]any{
		"runId":         run.ID,
		"eventId":       ev.EventID,
		"detailType":    ev.DetailType,
		"matched":       matched,
		"secondary":     ev.Secondary,
		"status":        run.Status,
		"observedCount": run.ObservedCount,
		"expectedCount": run.ExpectedCount,
		"receivedAt":    ev.ReceivedAt.Format(time.RFC3339Nano),
	}
	if ev.MatchedExpectationID != "" {
		frame["expectationId"] = ev.MatchedExpectationID
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	s.hub.Broadcast(run.ID, payload)
}
