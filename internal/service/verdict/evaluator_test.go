package verdict

import (
	"strings"
	"testing"
	"time"

	"github.com/OrcaBus/platform-integration-tests/internal/domain"
)

var (
	testStart    = time.Date(2026, time.February, 10, 9, 0, 0, 0, time.UTC)
	testVerified = testStart.Add(2 * time.Minute)
)

func readyRun() domain.Run {
	return domain.Run{
		ID:            "run-1",
		Scenario:      "happy-path-01",
		Status:        domain.StatusReady,
		ExpectedCount: 2,
		StartedAt:     testStart,
		TimeoutAt:     testStart.Add(5 * time.Minute),
	}
}

func seqExpectations() []domain.Expectation {
	return []domain.Expectation{
		{ID: "exp-0000", RunID: "run-1", OrderIndex: 0, DetailType: "stepA.started", Seq: 1},
		{ID: "exp-0001", RunID: "run-1", OrderIndex: 1, DetailType: "stepA.completed", Seq: 2},
	}
}

func matchedEvent(id, expID string, at time.Time) domain.ObservedEvent {
	return domain.ObservedEvent{
		EventID:              id,
		RunID:                "run-1",
		DetailType:           "stepA.started",
		ReceivedAt:           at,
		MatchedExpectationID: expID,
	}
}

// claim links the expectation to its primary event the way the matcher does.
func claim(exps []domain.Expectation, idx int, eventID string, at time.Time) {
	exps[idx].PrimaryEventID = eventID
	exps[idx].MatchedAt = at
}

func TestEvaluateAllMatchedPasses(t *testing.T) {
	run := readyRun()
	exps := seqExpectations()
	ev1 := matchedEvent("evt-1", "exp-0000", testStart.Add(10*time.Second))
	ev2 := matchedEvent("evt-2", "exp-0001", testStart.Add(20*time.Second))
	claim(exps, 0, "evt-1", ev1.ReceivedAt)
	claim(exps, 1, "evt-2", ev2.ReceivedAt)

	v := Evaluate(run, exps, []domain.ObservedEvent{ev1, ev2}, time.Minute, false, testVerified)

	if !v.Passed || v.Status != domain.StatusPassed {
		t.Fatalf("expected pass, got %+v", v)
	}
	if v.Counts.Matched != 2 || v.Counts.Missing+v.Counts.Mismatch+v.Counts.Duplicate+v.Counts.OutOfOrder != 0 {
		t.Fatalf("unexpected counts: %+v", v.Counts)
	}
	if v.Expectations[0].LatencyMS != 10_000 || v.Expectations[1].LatencyMS != 20_000 {
		t.Fatalf("unexpected latencies: %+v", v.Expectations)
	}
	if v.Metrics.FirstEventLatencyMS != 10_000 || v.Metrics.TotalDurationMS != 20_000 {
		t.Fatalf("unexpected metrics: %+v", v.Metrics)
	}
	if v.Metrics.ObservedEventCount != 2 || v.Metrics.LatencyBoundExceeded {
		t.Fatalf("unexpected metrics: %+v", v.Metrics)
	}
	if !v.VerifiedAt.Equal(testVerified) {
		t.Fatalf("unexpected verifiedAt: %v", v.VerifiedAt)
	}
}

func TestEvaluateMissingExpectationFails(t *testing.T) {
	run := readyRun()
	run.Status = domain.StatusTimeout
	exps := seqExpectations()
	ev1 := matchedEvent("evt-1", "exp-0000", testStart.Add(10*time.Second))
	claim(exps, 0, "evt-1", ev1.ReceivedAt)

	v := Evaluate(run, exps, []domain.ObservedEvent{ev1}, 0, false, testVerified)

	if v.Passed || v.Status != domain.StatusFailed || !v.TimedOut {
		t.Fatalf("expected timed-out failure, got %+v", v)
	}
	if v.Counts.Matched != 1 || v.Counts.Missing != 1 {
		t.Fatalf("unexpected counts: %+v", v.Counts)
	}
	missing := v.Expectations[1]
	if missing.Status != domain.ExpectationMissing || len(missing.Reasons) == 0 {
		t.Fatalf("unexpected missing verdict: %+v", missing)
	}
}

func TestEvaluateTimeoutFailsEvenWhenAllMatched(t *testing.T) {
	run := readyRun()
	run.Status = domain.StatusTimeout
	exps := seqExpectations()
	ev1 := matchedEvent("evt-1", "exp-0000", testStart.Add(10*time.Second))
	ev2 := matchedEvent("evt-2", "exp-0001", testStart.Add(20*time.Second))
	claim(exps, 0, "evt-1", ev1.ReceivedAt)
	claim(exps, 1, "evt-2", ev2.ReceivedAt)

	v := Evaluate(run, exps, []domain.ObservedEvent{ev1, ev2}, 0, false, testVerified)
	if v.Passed || !v.TimedOut {
		t.Fatalf("expected timeout to fail the run, got %+v", v)
	}
	if v.Counts.Matched != 2 {
		t.Fatalf("expected expectations still matched, got %+v", v.Counts)
	}
}

func TestEvaluateDuplicateTakesPrecedence(t *testing.T) {
	run := readyRun()
	exps := seqExpectations()
	exps[0].PayloadHash = "sha256:pinned"
	ev1 := matchedEvent("evt-1", "exp-0000", testStart.Add(10*time.Second))
	ev1.PayloadHash = "sha256:other"
	dup := matchedEvent("evt-9", "exp-0000", testStart.Add(11*time.Second))
	dup.Secondary = true
	ev2 := matchedEvent("evt-2", "exp-0001", testStart.Add(20*time.Second))
	claim(exps, 0, "evt-1", ev1.ReceivedAt)
	claim(exps, 1, "evt-2", ev2.ReceivedAt)

	v := Evaluate(run, exps, []domain.ObservedEvent{ev1, dup, ev2}, 0, false, testVerified)

	first := v.Expectations[0]
	if first.Status != domain.ExpectationDuplicate {
		t.Fatalf("expected duplicate to outrank mismatch, got %s", first.Status)
	}
	if first.MatchCount != 2 {
		t.Fatalf("expected match count 2, got %d", first.MatchCount)
	}
	// The mismatch still surfaces as a reason.
	if !hasReasonContaining(first.Reasons, "hash") {
		t.Fatalf("expected mismatch reason retained, got %v", first.Reasons)
	}
	if v.Passed || v.Counts.Duplicate != 1 || v.Counts.Mismatch != 0 {
		t.Fatalf("unexpected aggregate: %+v", v.Counts)
	}
}

func TestEvaluatePinnedHashMismatch(t *testing.T) {
	run := readyRun()
	exps := seqExpectations()
	exps[0].PayloadHash = "sha256:pinned"
	ev1 := matchedEvent("evt-1", "exp-0000", testStart.Add(10*time.Second))
	ev1.PayloadHash = "sha256:different"
	ev2 := matchedEvent("evt-2", "exp-0001", testStart.Add(20*time.Second))
	claim(exps, 0, "evt-1", ev1.ReceivedAt)
	claim(exps, 1, "evt-2", ev2.ReceivedAt)

	v := Evaluate(run, exps, []domain.ObservedEvent{ev1, ev2}, 0, false, testVerified)

	if v.Expectations[0].Status != domain.ExpectationMismatch {
		t.Fatalf("expected mismatch, got %s", v.Expectations[0].Status)
	}
	if v.Passed || v.Counts.Mismatch != 1 {
		t.Fatalf("unexpected aggregate: %+v", v.Counts)
	}
}

func TestEvaluateSeqOrderingViolation(t *testing.T) {
	run := readyRun()
	exps := seqExpectations()
	// seq 2 arrives before seq 1.
	ev2 := matchedEvent("evt-2", "exp-0001", testStart.Add(10*time.Second))
	ev1 := matchedEvent("evt-1", "exp-0000", testStart.Add(20*time.Second))
	claim(exps, 0, "evt-1", ev1.ReceivedAt)
	claim(exps, 1, "evt-2", ev2.ReceivedAt)

	v := Evaluate(run, exps, []domain.ObservedEvent{ev1, ev2}, 0, false, testVerified)

	if v.Expectations[0].Status != domain.ExpectationMatched {
		t.Fatalf("expected seq 1 matched, got %s", v.Expectations[0].Status)
	}
	if v.Expectations[1].Status != domain.ExpectationOutOfOrder {
		t.Fatalf("expected seq 2 out_of_order, got %s", v.Expectations[1].Status)
	}
	if v.Passed || v.Counts.OutOfOrder != 1 {
		t.Fatalf("unexpected aggregate: %+v", v.Counts)
	}
}

func TestEvaluateEqualTimestampsAreInOrder(t *testing.T) {
	run := readyRun()
	exps := seqExpectations()
	at := testStart.Add(10 * time.Second)
	ev1 := matchedEvent("evt-1", "exp-0000", at)
	ev2 := matchedEvent("evt-2", "exp-0001", at)
	claim(exps, 0, "evt-1", at)
	claim(exps, 1, "evt-2", at)

	v := Evaluate(run, exps, []domain.ObservedEvent{ev1, ev2}, 0, false, testVerified)
	if !v.Passed {
		t.Fatalf("expected equal timestamps to pass, got %+v", v.Expectations)
	}
}

func TestEvaluatePrereqViolations(t *testing.T) {
	run := readyRun()
	run.Status = domain.StatusTimeout
	exps := []domain.Expectation{
		{ID: "exp-0000", RunID: "run-1", OrderIndex: 0, DetailType: "pipeline.triggered"},
		{ID: "exp-0001", RunID: "run-1", OrderIndex: 1, DetailType: "worker.completed", Prereqs: []string{"exp-0000"}},
		{ID: "exp-0002", RunID: "run-1", OrderIndex: 2, DetailType: "pipeline.aggregated", Prereqs: []string{"exp-0001"}},
	}
	// The trigger's event arrives after the worker that depends on it.
	evDependent := matchedEvent("evt-2", "exp-0001", testStart.Add(5*time.Second))
	evTrigger := matchedEvent("evt-1", "exp-0000", testStart.Add(10*time.Second))
	evAggregate := matchedEvent("evt-3", "exp-0002", testStart.Add(20*time.Second))
	claim(exps, 0, "evt-1", evTrigger.ReceivedAt)
	claim(exps, 1, "evt-2", evDependent.ReceivedAt)
	claim(exps, 2, "evt-3", evAggregate.ReceivedAt)

	v := Evaluate(run, exps, []domain.ObservedEvent{evTrigger, evDependent, evAggregate}, 0, false, testVerified)

	second := v.Expectations[1]
	if second.Status != domain.ExpectationOutOfOrder || !hasReasonContaining(second.Reasons, "prerequisite") {
		t.Fatalf("expected prereq violation, got %+v", second)
	}

	// Unclaimed prerequisite: rebuild without the dependent's primary.
	exps2 := []domain.Expectation{
		{ID: "exp-0000", RunID: "run-1", OrderIndex: 0, DetailType: "pipeline.triggered"},
		{ID: "exp-0001", RunID: "run-1", OrderIndex: 1, DetailType: "pipeline.aggregated", Prereqs: []string{"exp-0000"}},
	}
	evOnly := matchedEvent("evt-9", "exp-0001", testStart.Add(5*time.Second))
	claim(exps2, 1, "evt-9", evOnly.ReceivedAt)

	v2 := Evaluate(run, exps2, []domain.ObservedEvent{evOnly}, 0, false, testVerified)
	if v2.Expectations[1].Status != domain.ExpectationOutOfOrder {
		t.Fatalf("expected unmet prerequisite to violate ordering, got %+v", v2.Expectations[1])
	}
	if !hasReasonContaining(v2.Expectations[1].Reasons, "never matched") {
		t.Fatalf("expected never-matched reason, got %v", v2.Expectations[1].Reasons)
	}
}

func TestEvaluateUnexpectedEventsAreAudited(t *testing.T) {
	run := readyRun()
	exps := seqExpectations()
	ev1 := matchedEvent("evt-1", "exp-0000", testStart.Add(10*time.Second))
	ev2 := matchedEvent("evt-2", "exp-0001", testStart.Add(20*time.Second))
	claim(exps, 0, "evt-1", ev1.ReceivedAt)
	claim(exps, 1, "evt-2", ev2.ReceivedAt)
	rogue := domain.ObservedEvent{
		EventID:    "evt-9",
		RunID:      "run-1",
		DetailType: "rogue.event",
		Source:     "orcabus.unknown",
		ReceivedAt: testStart.Add(15 * time.Second),
	}

	v := Evaluate(run, exps, []domain.ObservedEvent{ev1, ev2, rogue}, 0, false, testVerified)

	if !v.Passed {
		t.Fatalf("unexpected events must not fail the run: %+v", v)
	}
	if len(v.Unexpected) != 1 || v.Unexpected[0].EventID != "evt-9" {
		t.Fatalf("unexpected audit list: %+v", v.Unexpected)
	}
	if v.Counts.Unexpected != 1 {
		t.Fatalf("unexpected counts: %+v", v.Counts)
	}
}

func TestEvaluateLatencyBound(t *testing.T) {
	run := readyRun()
	run.ExpectedCount = 1
	exps := seqExpectations()[:1]
	ev1 := matchedEvent("evt-1", "exp-0000", testStart.Add(90*time.Second))
	claim(exps, 0, "evt-1", ev1.ReceivedAt)

	v := Evaluate(run, exps, []domain.ObservedEvent{ev1}, time.Minute, false, testVerified)
	if !v.Passed {
		t.Fatalf("latency breach must not fail by default: %+v", v)
	}
	if v.Expectations[0].Status != domain.ExpectationMatched {
		t.Fatalf("expected matched status, got %s", v.Expectations[0].Status)
	}
	if !hasReasonContaining(v.Expectations[0].Reasons, "latency bound") {
		t.Fatalf("expected latency reason, got %v", v.Expectations[0].Reasons)
	}
	if !v.Metrics.LatencyBoundExceeded || v.Metrics.LatencyBoundMS != 60_000 {
		t.Fatalf("unexpected metrics: %+v", v.Metrics)
	}

	strict := Evaluate(run, exps, []domain.ObservedEvent{ev1}, time.Minute, true, testVerified)
	if strict.Passed || strict.Status != domain.StatusFailed {
		t.Fatalf("expected fatal latency to fail the run, got %+v", strict)
	}
	if strict.Expectations[0].Status != domain.ExpectationMatched {
		t.Fatalf("latency breach must not reclassify the expectation: %s", strict.Expectations[0].Status)
	}
}

func hasReasonContaining(reasons []string, substr string) bool {
	for _, r := range reasons {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}
