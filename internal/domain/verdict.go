package domain

import "time"

// ExpectationStatus classifies one expectation in the final verdict.
type ExpectationStatus string

const (
	ExpectationMatched    ExpectationStatus = "matched"
	ExpectationMissing    ExpectationStatus = "missing"
	ExpectationMismatch   ExpectationStatus = "mismatch"
	ExpectationDuplicate  ExpectationStatus = "duplicate"
	ExpectationOutOfOrder ExpectationStatus = "out_of_order"
)

// ExpectationVerdict is the per-expectation reconciliation outcome.
type ExpectationVerdict struct {
	ExpectationID  string            `json:"expectationId"`
	OrderIndex     int               `json:"orderIndex"`
	DetailType     string            `json:"detailType"`
	Status         ExpectationStatus `json:"status"`
	PrimaryEventID string            `json:"primaryEventId,omitempty"`
	MatchCount     int               `json:"matchCount"`
	LatencyMS      int64             `json:"latencyMs,omitempty"`
	Reasons        []string          `json:"reasons,omitempty"`
}

// UnexpectedEvent is an observed event that never mapped to any expectation.
// It is carried in the verdict's audit list without affecting per-expectation
// status.
type UnexpectedEvent struct {
	EventID    string    `json:"eventId"`
	DetailType string    `json:"detailType"`
	Source     string    `json:"source"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// VerdictCounts aggregates expectation classifications by category.
type VerdictCounts struct {
	Matched    int `json:"matched"`
	Missing    int `json:"missing"`
	Mismatch   int `json:"mismatch"`
	Duplicate  int `json:"duplicate"`
	OutOfOrder int `json:"outOfOrder"`
	Unexpected int `json:"unexpected"`
}

// VerdictMetrics carries run-level latency figures.
type VerdictMetrics struct {
	TotalDurationMS      int64 `json:"totalDurationMs"`
	FirstEventLatencyMS  int64 `json:"firstEventLatencyMs"`
	ObservedEventCount   int   `json:"observedEventCount"`
	LatencyBoundMS       int64 `json:"latencyBoundMs"`
	LatencyBoundExceeded bool  `json:"latencyBoundExceeded"`
}

// Verdict is the immutable, write-once outcome of reconciling all
// expectations against all observed events for a run.
type Verdict struct {
	RunID        string               `json:"runId"`
	Status       RunStatus            `json:"status"` // passed or failed
	Passed       bool                 `json:"passed"`
	TimedOut     bool                 `json:"timedOut"`
	Expectations []ExpectationVerdict `json:"expectations"`
	Unexpected   []UnexpectedEvent    `json:"unexpected,omitempty"`
	Counts       VerdictCounts        `json:"counts"`
	Metrics      VerdictMetrics       `json:"metrics"`
	VerifiedAt   time.Time            `json:"verifiedAt"`
}
