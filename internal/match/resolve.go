package match

import (
	"github.com/OrcaBus/platform-integration-tests/internal/domain"
)

// Candidate is the outcome of resolving one observed event.
type Candidate struct {
	// Index into the expectations slice passed to Resolve.
	Index int
	// Primary is true when the chosen expectation had no prior primary
	// match at resolution time, so this event should claim it.
	Primary bool
}

// Resolve finds the expectation an observed event satisfies, per the fixed
// tie-break rules: detail type and source must be equal, every match-field
// path must resolve to an equal value on both sides, unclaimed expectations
// are preferred, and the lowest order index wins among remaining ties.
// Matching is attempted exactly once per event, at ingest time.
func Resolve(detailType, source string, payload map[string]any, expectations []domain.Expectation) (Candidate, bool) {
	best := Candidate{Index: -1}
	for i, exp := range expectations {
		if !qualifies(detailType, source, payload, exp) {
			continue
		}
		unclaimed := !exp.Claimed()
		if best.Index == -1 {
			best = Candidate{Index: i, Primary: unclaimed}
			continue
		}
		// Expectations arrive in order-index order, so the first qualifying
		// candidate of each claim state already has the lowest index; only
		// an unclaimed candidate can displace a claimed one.
		if unclaimed && !best.Primary {
			best = Candidate{Index: i, Primary: true}
		}
	}
	if best.Index == -1 {
		return Candidate{}, false
	}
	return best, true
}

func qualifies(detailType, source string, payload map[string]any, exp domain.Expectation) bool {
	if exp.DetailType != detailType {
		return false
	}
	if exp.Source != "" && exp.Source != source {
		return false
	}
	for _, field := range exp.MatchFields {
		path, err := ParsePath(field)
		if err != nil {
			return false
		}
		want, ok := path.Resolve(mapToAny(exp.ExpectedPayload))
		if !ok {
			return false
		}
		got, ok := path.Resolve(mapToAny(payload))
		if !ok {
			return false
		}
		if !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

func mapToAny(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
