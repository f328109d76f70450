package domain

import "time"

// RunStatus is the lifecycle state of a test run.
type RunStatus string

const (
	StatusInitializing RunStatus = "initializing"
	StatusRunning      RunStatus = "running"
	StatusReady        RunStatus = "ready"
	StatusTimeout      RunStatus = "timeout"
	StatusPassed       RunStatus = "passed"
	StatusFailed       RunStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == StatusPassed || s == StatusFailed
}

// Finalizable reports whether a verdict may be computed from this status.
func (s RunStatus) Finalizable() bool {
	return s == StatusReady || s == StatusTimeout
}

// Run is the per-run metadata record, the single source of truth for
// lifecycle state. ObservedCount lives in a separate atomic counter and is
// joined in on reads.
type Run struct {
	ID             string    `json:"runId"`
	Scenario       string    `json:"scenario"`
	Status         RunStatus `json:"status"`
	ExpectedCount  int       `json:"expectedCount"`
	ObservedCount  int       `json:"observedCount"`
	StartedAt      time.Time `json:"startedAt"`
	TimeoutAt      time.Time `json:"timeoutAt"`
	VerifiedAt     time.Time `json:"verifiedAt,omitzero"`
	ReportLocation string    `json:"reportLocation,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// SeedResult is returned to the orchestrator after a run has been seeded.
type SeedResult struct {
	RunID         string    `json:"runId"`
	Scenario      string    `json:"scenario"`
	ExpectedCount int       `json:"expectedCount"`
	SeedEventIDs  []string  `json:"seedEventIds"`
	StartedAt     time.Time `json:"startedAt"`
	TimeoutAt     time.Time `json:"timeoutAt"`
}

// RunStatusView is the pure status read consumed by the polling loop.
type RunStatusView struct {
	RunID          string    `json:"runId"`
	Scenario       string    `json:"scenario"`
	Status         RunStatus `json:"status"`
	ObservedCount  int       `json:"observedCount"`
	ExpectedCount  int       `json:"expectedCount"`
	StartedAt      time.Time `json:"startedAt"`
	TimeoutAt      time.Time `json:"timeoutAt"`
	VerifiedAt     time.Time `json:"verifiedAt,omitzero"`
	ReportLocation string    `json:"reportLocation,omitempty"`
}
