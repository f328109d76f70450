package registry

import "fmt"

// Key scheme within a run partition. Fixture keys embed the zero-padded
// order index so a prefix range returns expectations in seed order.
const (
	keyRunMeta      = "run#meta"
	keyVerdict      = "verdict"
	prefixFixture   = "fixture#"
	prefixEvent     = "event#"
	counterObserved = "observed"
)

func fixtureKey(orderIndex int) string {
	return fmt.Sprintf("%s%04d", prefixFixture, orderIndex)
}

func eventKey(eventID string) string {
	return prefixEvent + eventID
}
