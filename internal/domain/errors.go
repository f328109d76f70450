package domain

import "errors"

// Engine error taxonomy. Ingest-side errors are isolation signals, never
// fatal to a run; only ErrScenarioNotFound propagates to the seeding caller.
var (
	// ErrScenarioNotFound indicates no fixtures resolved for the requested
	// scenario, even after falling back to the default scenario.
	ErrScenarioNotFound = errors.New("scenario not found")

	// ErrRunNotFound indicates the run id does not resolve to a run.
	ErrRunNotFound = errors.New("run not found")

	// ErrInactiveRun indicates a stray or late event addressed to a run that
	// is no longer in its observation window.
	ErrInactiveRun = errors.New("run is not running")

	// ErrMalformedEvent indicates an envelope that could not be interpreted.
	ErrMalformedEvent = errors.New("malformed event envelope")

	// ErrDuplicateEvent indicates redelivery of an already-stored event id.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrRunNotReady indicates a verify call before the run reached ready or
	// timeout.
	ErrRunNotReady = errors.New("run is not ready for verification")
)
