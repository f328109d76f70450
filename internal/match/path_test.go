package match

import "testing"

func TestParsePathRejectsEmptyExpressions(t *testing.T) {
	for _, expr := range []string{"", "   ", "a..b", ".a", "a."} {
		if _, err := ParsePath(expr); err == nil {
			t.Fatalf("expected error for %q", expr)
		}
	}
}

func TestPathResolveNestedMap(t *testing.T) {
	payload := map[string]any{
		"sample": map[string]any{
			"library": map[string]any{"id": "L-0042"},
		},
	}
	path, err := ParsePath("sample.library.id")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, ok := path.Resolve(payload)
	if !ok {
		t.Fatalf("expected path to resolve")
	}
	if got != "L-0042" {
		t.Fatalf("expected L-0042, got %v", got)
	}
}

func TestPathResolveArrayIndex(t *testing.T) {
	payload := map[string]any{
		"lanes": []any{
			map[string]any{"id": "lane-1"},
			map[string]any{"id": "lane-2"},
		},
	}
	path, err := ParsePath("lanes.1.id")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, ok := path.Resolve(payload)
	if !ok || got != "lane-2" {
		t.Fatalf("expected lane-2, got %v (ok=%v)", got, ok)
	}

	for _, expr := range []string{"lanes.2.id", "lanes.x.id", "lanes.-1.id"} {
		p, err := ParsePath(expr)
		if err != nil {
			t.Fatalf("parse %q: %v", expr, err)
		}
		if _, ok := p.Resolve(payload); ok {
			t.Fatalf("expected %q not to resolve", expr)
		}
	}
}

func TestPathResolveMissingSegment(t *testing.T) {
	payload := map[string]any{"a": map[string]any{"b": 1}}
	path, _ := ParsePath("a.c")
	if _, ok := path.Resolve(payload); ok {
		t.Fatalf("expected missing key not to resolve")
	}
	path, _ = ParsePath("a.b.c")
	if _, ok := path.Resolve(payload); ok {
		t.Fatalf("expected scalar traversal not to resolve")
	}
}

func TestValuesEqualNormalisesNumericTypes(t *testing.T) {
	// YAML fixtures decode integers as int, bus payloads as float64.
	if !valuesEqual(128, float64(128)) {
		t.Fatalf("expected int and float64 encodings to compare equal")
	}
	if valuesEqual(128, float64(129)) {
		t.Fatalf("expected different values to compare unequal")
	}
	if !valuesEqual(map[string]any{"a": 1, "b": "x"}, map[string]any{"b": "x", "a": float64(1)}) {
		t.Fatalf("expected maps to compare equal regardless of key order")
	}
}
