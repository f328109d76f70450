// Package blob archives raw event bodies outside the primary store so
// full-payload comparisons and audits do not bloat the run records.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates no object exists at the requested location.
var ErrNotFound = errors.New("blob: not found")

// Store persists opaque blobs and returns their locations.
type Store interface {
	// Put writes data at key and returns the resolved location.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Get reads the blob at a location previously returned by Put.
	Get(ctx context.Context, location string) ([]byte, error)
}

// Key builds the deterministic archive key for a run-scoped event:
// {runId}/{datePath}/{timestamp}-{eventId}. The date partitioning keeps
// listings of a long run's archive manageable.
func Key(runID string, receivedAt time.Time, eventID string) string {
	t := receivedAt.UTC()
	return fmt.Sprintf("%s/%s/%d-%s.json", runID, t.Format("2006/01/02"), t.Unix(), eventID)
}
