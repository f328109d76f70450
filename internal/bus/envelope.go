// Package bus defines the event envelope consumed and produced by the
// engine, plus the publisher used to seed synthetic events. The transport
// itself is an external collaborator; only its envelope contract lives here.
package bus

import (
	"encoding/json"
	"fmt"

	"github.com/OrcaBus/platform-integration-tests/internal/domain"
)

// Detail keys the engine owns. Everything else in the detail object is the
// scenario payload.
const (
	DetailRunCorrelationID = "runCorrelationId"
	DetailScenario         = "scenario"
	DetailEventID          = "eventId"
	DetailSchemaVersion    = "schemaVersion"
	DetailSeq              = "seq"
	DetailSource           = "source"
	DetailCausedBy         = "causedBy"
	DetailTestMode         = "testMode"
	DetailEventType        = "eventType"
)

var metadataKeys = map[string]bool{
	DetailRunCorrelationID: true,
	DetailScenario:         true,
	DetailEventID:          true,
	DetailSchemaVersion:    true,
	DetailSeq:              true,
	DetailSource:           true,
	DetailCausedBy:         true,
	DetailTestMode:         true,
	DetailEventType:        true,
}

// Envelope is the inbound/outbound bus event shape.
type Envelope struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	DetailType string         `json:"detailType"`
	Detail     map[string]any `json:"detail"`
}

// ParseEnvelope decodes raw bytes into an Envelope. Schema validation is a
// separate, optional step (see Validator); parsing only requires JSON shape.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if env.ID == "" || env.DetailType == "" {
		return Envelope{}, fmt.Errorf("%w: missing id or detailType", domain.ErrMalformedEvent)
	}
	return env, nil
}

// RunCorrelationID returns the run this event is addressed to, or "".
func (e Envelope) RunCorrelationID() string {
	s, _ := e.Detail[DetailRunCorrelationID].(string)
	return s
}

// TestMode reports whether the test-mode marker is present and true.
func (e Envelope) TestMode() bool {
	b, _ := e.Detail[DetailTestMode].(bool)
	return b
}

// Seq returns the sequence number carried in the detail, or 0.
func (e Envelope) Seq() int {
	switch v := e.Detail[DetailSeq].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// CausedBy returns the causal-edge event id, falling back to the in-detail
// source marker.
func (e Envelope) CausedBy() string {
	if s, _ := e.Detail[DetailCausedBy].(string); s != "" {
		return s
	}
	s, _ := e.Detail[DetailSource].(string)
	return s
}

// Payload returns the detail object with the engine's metadata keys
// stripped, leaving only the scenario payload.
func (e Envelope) Payload() map[string]any {
	payload := make(map[string]any, len(e.Detail))
	for k, v := range e.Detail {
		if !metadataKeys[k] {
			payload[k] = v
		}
	}
	return payload
}
