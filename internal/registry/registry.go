// Package registry is the run registry: the typed persistence layer for run
// metadata, expectations, observed events, and verdicts. Every mutation that
// must survive concurrent at-least-once delivery goes through one of the
// store's atomic primitives here.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OrcaBus/platform-integration-tests/internal/domain"
	"github.com/OrcaBus/platform-integration-tests/internal/store"
)

// Registry provides run-scoped persistence on top of a partitioned store.
// The partition is always the run id, so runs are fully isolated.
type Registry struct {
	store store.Store
}

// New constructs a Registry.
func New(s store.Store) *Registry {
	return &Registry{store: s}
}

// CreateRun persists the run metadata and all expectation records atomically
// and stamps the partition's retention deadline. The run must arrive with
// status running; initializing exists only while the caller assembles the
// batch.
func (r *Registry) CreateRun(ctx context.Context, run domain.Run, fixtures []domain.Expectation) error {
	if run.Status != domain.StatusRunning {
		return fmt.Errorf("create run %s: status %s, want %s", run.ID, run.Status, domain.StatusRunning)
	}
	recs := make([]store.Record, 0, len(fixtures)+1)
	rec, err := encodeRecord(keyRunMeta, store.KindRunMeta, run)
	if err != nil {
		return err
	}
	recs = append(recs, rec)
	for _, f := range fixtures {
		rec, err := encodeRecord(fixtureKey(f.OrderIndex), store.KindExpectation, f)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}
	if err := r.store.PutBatch(ctx, run.ID, recs); err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	if err := r.store.SetExpiry(ctx, run.ID, run.ExpiresAt); err != nil {
		return fmt.Errorf("set retention for run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads the run metadata and joins in the observed counter.
func (r *Registry) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	rec, err := r.store.Get(ctx, runID, keyRunMeta)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Run{}, domain.ErrRunNotFound
		}
		return domain.Run{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	run, err := decodeRecord[domain.Run](rec, store.KindRunMeta)
	if err != nil {
		return domain.Run{}, err
	}
	count, err := r.ObservedCount(ctx, runID)
	if err != nil {
		return domain.Run{}, err
	}
	run.ObservedCount = int(count)
	return run, nil
}

// transition conditionally moves the run status. Returns
// store.ErrConditionFailed when the current status is not one of from;
// transitions are monotonic and never revisit earlier states.
func (r *Registry) transition(ctx context.Context, runID string, to domain.RunStatus, mutate func(*domain.Run), from ...domain.RunStatus) error {
	err := r.store.Update(ctx, runID, keyRunMeta, func(body []byte) ([]byte, error) {
		run, err := decodeBody[domain.Run](body)
		if err != nil {
			return nil, err
		}
		allowed := false
		for _, s := range from {
			if run.Status == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, store.ErrConditionFailed
		}
		run.Status = to
		if mutate != nil {
			mutate(&run)
		}
		return encodeBody(run)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrRunNotFound
		}
		return err
	}
	return nil
}

// MarkReady moves a running run to ready once all expectations are observed.
func (r *Registry) MarkReady(ctx context.Context, runID string) error {
	return r.transition(ctx, runID, domain.StatusReady, nil, domain.StatusRunning)
}

// MarkTimeout moves a running run to timeout. Invoked lazily from status
// reads; there is no background timer.
func (r *Registry) MarkTimeout(ctx context.Context, runID string) error {
	return r.transition(ctx, runID, domain.StatusTimeout, nil, domain.StatusRunning)
}

// CurrentRun returns the run with the timeout deadline applied. A running
// run whose deadline has passed is transitioned to timeout before being
// returned; a concurrent transition that wins the race is tolerated and the
// stored state is re-read.
func (r *Registry) CurrentRun(ctx context.Context, runID string, now time.Time) (domain.Run, error) {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return domain.Run{}, err
	}
	if run.Status != domain.StatusRunning || now.Before(run.TimeoutAt) {
		return run, nil
	}
	if err := r.MarkTimeout(ctx, runID); err != nil && !errors.Is(err, store.ErrConditionFailed) {
		return domain.Run{}, err
	}
	return r.GetRun(ctx, runID)
}

// FinalizeRun conditionally moves a ready or timed-out run to its terminal
// status. A retried finalize observes the terminal status and gets
// store.ErrConditionFailed.
func (r *Registry) FinalizeRun(ctx context.Context, runID string, to domain.RunStatus, verifiedAt time.Time, reportLocation string) error {
	if !to.Terminal() {
		return fmt.Errorf("finalize run %s: %s is not a terminal status", runID, to)
	}
	mutate := func(run *domain.Run) {
		run.VerifiedAt = verifiedAt
		run.ReportLocation = reportLocation
	}
	return r.transition(ctx, runID, to, mutate, domain.StatusReady, domain.StatusTimeout)
}

// ListExpectations returns the run's fixtures in seed order.
func (r *Registry) ListExpectations(ctx context.Context, runID string) ([]domain.Expectation, error) {
	recs, err := r.store.Range(ctx, runID, prefixFixture)
	if err != nil {
		return nil, fmt.Errorf("list expectations for run %s: %w", runID, err)
	}
	fixtures := make([]domain.Expectation, 0, len(recs))
	for _, rec := range recs {
		f, err := decodeRecord[domain.Expectation](rec, store.KindExpectation)
		if err != nil {
			return nil, err
		}
		fixtures = append(fixtures, f)
	}
	return fixtures, nil
}

// ClaimPrimary records eventID as the expectation's primary match. Exactly
// one concurrent claimer succeeds; the rest get store.ErrConditionFailed.
func (r *Registry) ClaimPrimary(ctx context.Context, runID string, orderIndex int, eventID string, at time.Time) error {
	return r.store.Update(ctx, runID, fixtureKey(orderIndex), func(body []byte) ([]byte, error) {
		f, err := decodeBody[domain.Expectation](body)
		if err != nil {
			return nil, err
		}
		if f.Claimed() {
			return nil, store.ErrConditionFailed
		}
		f.PrimaryEventID = eventID
		f.MatchedAt = at
		return encodeBody(f)
	})
}

// InsertEvent stores an observed event, using the event id as the natural
// deduplication key. Redelivery returns domain.ErrDuplicateEvent and leaves
// exactly one stored record.
func (r *Registry) InsertEvent(ctx context.Context, ev domain.ObservedEvent) error {
	rec, err := encodeRecord(eventKey(ev.EventID), store.KindEvent, ev)
	if err != nil {
		return err
	}
	if err := r.store.Insert(ctx, ev.RunID, rec); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("insert event %s for run %s: %w", ev.EventID, ev.RunID, err)
	}
	return nil
}

// UpdateEvent applies fn to a stored observed event.
func (r *Registry) UpdateEvent(ctx context.Context, runID, eventID string, fn func(*domain.ObservedEvent)) error {
	return r.store.Update(ctx, runID, eventKey(eventID), func(body []byte) ([]byte, error) {
		ev, err := decodeBody[domain.ObservedEvent](body)
		if err != nil {
			return nil, err
		}
		fn(&ev)
		return encodeBody(ev)
	})
}

// ListEvents returns every observed event stored for the run.
func (r *Registry) ListEvents(ctx context.Context, runID string) ([]domain.ObservedEvent, error) {
	recs, err := r.store.Range(ctx, runID, prefixEvent)
	if err != nil {
		return nil, fmt.Errorf("list events for run %s: %w", runID, err)
	}
	events := make([]domain.ObservedEvent, 0, len(recs))
	for _, rec := range recs {
		ev, err := decodeRecord[domain.ObservedEvent](rec, store.KindEvent)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// IncrementObserved bumps the run's progress counter and returns the new
// value. Called exactly once per first-matched expectation, so the counter
// never exceeds the expected count.
func (r *Registry) IncrementObserved(ctx context.Context, runID string) (int64, error) {
	return r.store.Increment(ctx, runID, counterObserved, 1)
}

// ObservedCount reads the progress counter without mutating it.
func (r *Registry) ObservedCount(ctx context.Context, runID string) (int64, error) {
	return r.store.Increment(ctx, runID, counterObserved, 0)
}

// PutVerdict writes the run's verdict exactly once. A concurrent or retried
// writer gets store.ErrConditionFailed and should read the stored verdict.
func (r *Registry) PutVerdict(ctx context.Context, v domain.Verdict) error {
	rec, err := encodeRecord(keyVerdict, store.KindVerdict, v)
	if err != nil {
		return err
	}
	return r.store.Insert(ctx, v.RunID, rec)
}

// GetVerdict loads the stored verdict, or store.ErrNotFound.
func (r *Registry) GetVerdict(ctx context.Context, runID string) (domain.Verdict, error) {
	rec, err := r.store.Get(ctx, runID, keyVerdict)
	if err != nil {
		return domain.Verdict{}, err
	}
	return decodeRecord[domain.Verdict](rec, store.KindVerdict)
}

// PurgeExpired removes runs past their retention deadline.
func (r *Registry) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return r.store.PurgeExpired(ctx, now)
}
