package domain

import "time"

// Expectation is a single expected-event fixture seeded for a run. It is
// immutable after seeding except for the primary-match claim fields, which
// are written at most once by the matching engine.
type Expectation struct {
	ID          string   `json:"expectationId"`
	RunID       string   `json:"runId"`
	OrderIndex  int      `json:"orderIndex"`
	DetailType  string   `json:"detailType"`
	Source      string   `json:"source"`
	MatchFields []string `json:"matchFields,omitempty"`
	PayloadHash string   `json:"payloadHash,omitempty"`

	// Ordering descriptor: either a positive sequence number for sequential
	// runs, or a set of prerequisite expectation ids for causal ordering.
	Seq     int      `json:"seq,omitempty"`
	Prereqs []string `json:"prereqs,omitempty"`

	// Seeded payload; match-field paths are resolved against it.
	ExpectedPayload map[string]any `json:"expectedPayload,omitempty"`

	// Primary-match claim, set by the matching engine exactly once.
	PrimaryEventID string    `json:"primaryEventId,omitempty"`
	MatchedAt      time.Time `json:"matchedAt,omitzero"`
}

// Claimed reports whether a primary match has been recorded.
func (e Expectation) Claimed() bool {
	return e.PrimaryEventID != ""
}
