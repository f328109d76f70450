package domain

import "time"

// ObservedEvent is a bus event attributed to a run during its observation
// window. Deduplicated by event id; enriched by the matching engine with the
// matched expectation id.
type ObservedEvent struct {
	EventID    string         `json:"eventId"`
	RunID      string         `json:"runId"`
	DetailType string         `json:"detailType"`
	Source     string         `json:"source"`
	Payload    map[string]any `json:"payload,omitempty"`

	PayloadHash string    `json:"payloadHash"`
	ReceivedAt  time.Time `json:"receivedAt"`
	Seq         int       `json:"seq,omitempty"`
	CausedBy    string    `json:"causedBy,omitempty"`
	ArchiveKey  string    `json:"archiveKey,omitempty"`

	// MatchedExpectationID is empty for unmatched events. Secondary reports
	// whether a primary match already existed for the expectation when this
	// event arrived.
	MatchedExpectationID string `json:"matchedExpectationId,omitempty"`
	Secondary            bool   `json:"secondary,omitempty"`
}
