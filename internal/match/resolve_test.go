package match

import (
	"testing"

	"github.com/OrcaBus/platform-integration-tests/internal/domain"
)

func expectations() []domain.Expectation {
	return []domain.Expectation{
		{
			ID:              "exp-0000",
			OrderIndex:      0,
			DetailType:      "stepA.started",
			MatchFields:     []string{"step"},
			ExpectedPayload: map[string]any{"step": "A", "action": "start"},
		},
		{
			ID:              "exp-0001",
			OrderIndex:      1,
			DetailType:      "stepA.completed",
			Source:          "orcabus.workerA",
			MatchFields:     []string{"step", "result"},
			ExpectedPayload: map[string]any{"step": "A", "result": "success"},
		},
		{
			ID:              "exp-0002",
			OrderIndex:      2,
			DetailType:      "stepA.started",
			MatchFields:     []string{"step"},
			ExpectedPayload: map[string]any{"step": "A"},
		},
	}
}

func TestResolvePrefersLowestOrderIndex(t *testing.T) {
	cand, ok := Resolve("stepA.started", "any", map[string]any{"step": "A"}, expectations())
	if !ok {
		t.Fatalf("expected a match")
	}
	if cand.Index != 0 || !cand.Primary {
		t.Fatalf("expected primary match on index 0, got %+v", cand)
	}
}

func TestResolvePrefersUnclaimedOverClaimed(t *testing.T) {
	exps := expectations()
	exps[0].PrimaryEventID = "evt-1"
	cand, ok := Resolve("stepA.started", "any", map[string]any{"step": "A"}, exps)
	if !ok {
		t.Fatalf("expected a match")
	}
	if cand.Index != 2 || !cand.Primary {
		t.Fatalf("expected unclaimed index 2 to win, got %+v", cand)
	}
}

func TestResolveAllClaimedYieldsSecondary(t *testing.T) {
	exps := expectations()
	exps[0].PrimaryEventID = "evt-1"
	exps[2].PrimaryEventID = "evt-2"
	cand, ok := Resolve("stepA.started", "any", map[string]any{"step": "A"}, exps)
	if !ok {
		t.Fatalf("expected a match")
	}
	if cand.Index != 0 || cand.Primary {
		t.Fatalf("expected secondary match on index 0, got %+v", cand)
	}
}

func TestResolveSourceMustMatchWhenSet(t *testing.T) {
	payload := map[string]any{"step": "A", "result": "success"}
	if _, ok := Resolve("stepA.completed", "orcabus.other", payload, expectations()); ok {
		t.Fatalf("expected source mismatch to disqualify")
	}
	cand, ok := Resolve("stepA.completed", "orcabus.workerA", payload, expectations())
	if !ok || cand.Index != 1 {
		t.Fatalf("expected match on index 1, got %+v (ok=%v)", cand, ok)
	}
}

func TestResolveMatchFieldMismatchDisqualifies(t *testing.T) {
	payload := map[string]any{"step": "A", "result": "failure"}
	if _, ok := Resolve("stepA.completed", "orcabus.workerA", payload, expectations()); ok {
		t.Fatalf("expected result mismatch to disqualify")
	}
}

func TestResolveMissingPathDisqualifies(t *testing.T) {
	payload := map[string]any{"action": "start"}
	if _, ok := Resolve("stepA.started", "any", payload, expectations()); ok {
		t.Fatalf("expected missing match field to disqualify")
	}
}

func TestResolveNumericEquivalence(t *testing.T) {
	exps := []domain.Expectation{{
		ID:              "exp-0000",
		DetailType:      "pipeline.aggregated",
		MatchFields:     []string{"records"},
		ExpectedPayload: map[string]any{"records": 192},
	}}
	// Bus payloads arrive with float64 numbers.
	cand, ok := Resolve("pipeline.aggregated", "x", map[string]any{"records": float64(192)}, exps)
	if !ok || cand.Index != 0 {
		t.Fatalf("expected numeric equivalence match, got %+v (ok=%v)", cand, ok)
	}
}

func TestResolveNoExpectations(t *testing.T) {
	if _, ok := Resolve("stepA.started", "x", map[string]any{"step": "A"}, nil); ok {
		t.Fatalf("expected no match with no expectations")
	}
}
