// Package match resolves observed events against a run's expectations.
// Resolution is pure and deterministic: storage side effects (claims,
// counters) stay with the caller.
package match

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Path is a parsed dot-notation field path into a tree-shaped payload.
// Numeric segments index into arrays.
type Path struct {
	raw      string
	segments []string
}

// ParsePath validates a dot-notation expression like "sample.library.id".
func ParsePath(expr string) (Path, error) {
	if strings.TrimSpace(expr) == "" {
		return Path{}, fmt.Errorf("empty field path")
	}
	segments := strings.Split(expr, ".")
	for _, seg := range segments {
		if seg == "" {
			return Path{}, fmt.Errorf("field path %q has an empty segment", expr)
		}
	}
	return Path{raw: expr, segments: segments}, nil
}

// String returns the original expression.
func (p Path) String() string { return p.raw }

// Resolve walks the value tree and returns the value at the path.
func (p Path) Resolve(v any) (any, bool) {
	current := v
	for _, seg := range p.segments {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// valuesEqual compares two tree values through their canonical JSON
// encodings, which normalises numeric types (YAML fixtures decode integers
// as int, bus payloads as float64) and orders map keys.
func valuesEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
