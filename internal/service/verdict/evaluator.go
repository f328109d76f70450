package verdict

import (
	"fmt"
	"time"

	"github.com/OrcaBus/platform-integration-tests/internal/domain"
)

// Evaluate reconciles a run's expectations against its observed events and
// produces the verdict. It is a pure function of its inputs: the same run
// state always yields the same verdict, which is what makes the write-once
// verdict record safe to recompute on racing finalizers.
//
// Per-expectation classification follows a fixed precedence: duplicate over
// mismatch over out_of_order over missing over matched. A latency bound
// breach is recorded as a reason on the expectation and, when latencyFatal
// is set, fails the run without reclassifying the expectation.
func Evaluate(run domain.Run, expectations []domain.Expectation, events []domain.ObservedEvent, maxLatency time.Duration, latencyFatal bool, verifiedAt time.Time) domain.Verdict {
	eventsByID := make(map[string]domain.ObservedEvent, len(events))
	matchCounts := make(map[string]int, len(expectations))
	for _, ev := range events {
		eventsByID[ev.EventID] = ev
		if ev.MatchedExpectationID != "" {
			matchCounts[ev.MatchedExpectationID]++
		}
	}
	expByID := make(map[string]domain.Expectation, len(expectations))
	for _, exp := range expectations {
		expByID[exp.ID] = exp
	}

	v := domain.Verdict{
		RunID:        run.ID,
		TimedOut:     run.Status == domain.StatusTimeout,
		Expectations: make([]domain.ExpectationVerdict, 0, len(expectations)),
		VerifiedAt:   verifiedAt,
	}
	v.Metrics.LatencyBoundMS = maxLatency.Milliseconds()

	for _, exp := range expectations {
		ev := classify(run, exp, expByID, eventsByID, matchCounts[exp.ID], maxLatency, &v.Metrics)
		switch ev.Status {
		case domain.ExpectationMatched:
			v.Counts.Matched++
		case domain.ExpectationMissing:
			v.Counts.Missing++
		case domain.ExpectationMismatch:
			v.Counts.Mismatch++
		case domain.ExpectationDuplicate:
			v.Counts.Duplicate++
		case domain.ExpectationOutOfOrder:
			v.Counts.OutOfOrder++
		}
		v.Expectations = append(v.Expectations, ev)
	}

	for _, ev := range events {
		if ev.MatchedExpectationID != "" {
			continue
		}
		v.Unexpected = append(v.Unexpected, domain.UnexpectedEvent{
			EventID:    ev.EventID,
			DetailType: ev.DetailType,
			Source:     ev.Source,
			ReceivedAt: ev.ReceivedAt,
		})
	}
	v.Counts.Unexpected = len(v.Unexpected)

	fillTimings(run, events, &v.Metrics)

	failures := v.Counts.Missing + v.Counts.Mismatch + v.Counts.Duplicate + v.Counts.OutOfOrder
	passed := failures == 0 && !v.TimedOut
	if latencyFatal && v.Metrics.LatencyBoundExceeded {
		passed = false
	}
	v.Passed = passed
	if passed {
		v.Status = domain.StatusPassed
	} else {
		v.Status = domain.StatusFailed
	}
	return v
}

func classify(run domain.Run, exp domain.Expectation, expByID map[string]domain.Expectation, eventsByID map[string]domain.ObservedEvent, matchCount int, maxLatency time.Duration, metrics *domain.VerdictMetrics) domain.ExpectationVerdict {
	out := domain.ExpectationVerdict{
		ExpectationID:  exp.ID,
		OrderIndex:     exp.OrderIndex,
		DetailType:     exp.DetailType,
		PrimaryEventID: exp.PrimaryEventID,
		MatchCount:     matchCount,
	}

	primary, hasPrimary := eventsByID[exp.PrimaryEventID]

	var duplicate, mismatch, ordering []string
	if matchCount > 1 {
		duplicate = append(duplicate, fmt.Sprintf("%d events matched this expectation", matchCount))
	}
	if hasPrimary && exp.PayloadHash != "" && primary.PayloadHash != exp.PayloadHash {
		mismatch = append(mismatch, fmt.Sprintf("payload hash %s does not match pinned %s", primary.PayloadHash, exp.PayloadHash))
	}
	if hasPrimary {
		ordering = orderViolations(exp, primary.ReceivedAt, expByID, eventsByID)
	}

	switch {
	case len(duplicate) > 0:
		out.Status = domain.ExpectationDuplicate
	case len(mismatch) > 0:
		out.Status = domain.ExpectationMismatch
	case len(ordering) > 0:
		out.Status = domain.ExpectationOutOfOrder
	case !hasPrimary:
		out.Status = domain.ExpectationMissing
		out.Reasons = []string{"no observed event matched"}
		return out
	default:
		out.Status = domain.ExpectationMatched
	}
	out.Reasons = append(out.Reasons, duplicate...)
	out.Reasons = append(out.Reasons, mismatch...)
	out.Reasons = append(out.Reasons, ordering...)

	latency := primary.ReceivedAt.Sub(run.StartedAt)
	out.LatencyMS = latency.Milliseconds()
	if maxLatency > 0 && latency > maxLatency {
		metrics.LatencyBoundExceeded = true
		out.Reasons = append(out.Reasons, fmt.Sprintf("matched after %dms, latency bound is %dms", latency.Milliseconds(), maxLatency.Milliseconds()))
	}
	return out
}

// orderViolations checks the expectation's ordering descriptor against
// primary-match timestamps. Prerequisite edges take effect when present;
// otherwise a positive seq is checked against every lower-seq expectation.
// Equal timestamps are in order.
func orderViolations(exp domain.Expectation, matchedAt time.Time, expByID map[string]domain.Expectation, eventsByID map[string]domain.ObservedEvent) []string {
	var reasons []string
	if len(exp.Prereqs) > 0 {
		for _, preID := range exp.Prereqs {
			pre, ok := expByID[preID]
			if !ok {
				continue
			}
			prePrimary, ok := eventsByID[pre.PrimaryEventID]
			if !ok {
				reasons = append(reasons, fmt.Sprintf("prerequisite %s was never matched", preID))
				continue
			}
			if prePrimary.ReceivedAt.After(matchedAt) {
				reasons = append(reasons, fmt.Sprintf("matched before prerequisite %s", preID))
			}
		}
		return reasons
	}
	if exp.Seq <= 0 {
		return nil
	}
	for _, other := range sortedBySeq(expByID) {
		if other.ID == exp.ID || other.Seq <= 0 || other.Seq >= exp.Seq {
			continue
		}
		otherPrimary, ok := eventsByID[other.PrimaryEventID]
		if !ok {
			continue
		}
		if otherPrimary.ReceivedAt.After(matchedAt) {
			reasons = append(reasons, fmt.Sprintf("matched before seq %d expectation %s", other.Seq, other.ID))
		}
	}
	return reasons
}

// sortedBySeq yields expectations in order-index order so violation reasons
// come out deterministic regardless of map iteration.
func sortedBySeq(expByID map[string]domain.Expectation) []domain.Expectation {
	out := make([]domain.Expectation, 0, len(expByID))
	for _, exp := range expByID {
		out = append(out, exp)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].OrderIndex < out[j-1].OrderIndex; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func fillTimings(run domain.Run, events []domain.ObservedEvent, metrics *domain.VerdictMetrics) {
	metrics.ObservedEventCount = len(events)
	if len(events) == 0 {
		return
	}
	first, last := events[0].ReceivedAt, events[0].ReceivedAt
	for _, ev := range events[1:] {
		if ev.ReceivedAt.Before(first) {
			first = ev.ReceivedAt
		}
		if ev.ReceivedAt.After(last) {
			last = ev.ReceivedAt
		}
	}
	metrics.FirstEventLatencyMS = first.Sub(run.StartedAt).Milliseconds()
	metrics.TotalDurationMS = last.Sub(run.StartedAt).Milliseconds()
}
