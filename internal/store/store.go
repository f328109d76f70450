// Package store defines the partitioned key-value abstraction every run
// record lives behind. All cross-invocation coordination happens through its
// atomic primitives: conditional insert, atomic read-modify-write, and
// atomic counter increments. State is partitioned by run id, so runs never
// observe each other.
package store

import (
	"context"
	"errors"
	"time"
)

// Kind tags the variant of a record sharing the partitioned store.
type Kind string

const (
	KindRunMeta     Kind = "run_meta"
	KindExpectation Kind = "expectation"
	KindEvent       Kind = "event"
	KindVerdict     Kind = "verdict"
)

// Record is one tagged-variant entry within a partition. Body is the JSON
// encoding of the corresponding domain type; decoding goes through the typed
// codec in internal/registry, never ad hoc key parsing.
type Record struct {
	Key  string
	Kind Kind
	Body []byte
}

var (
	// ErrNotFound indicates the partition/key pair does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConditionFailed is the expected concurrency signal on conditional
	// writes: the insert hit an existing key, or an Update closure declined
	// the current state. Callers treat it as "already handled".
	ErrConditionFailed = errors.New("store: condition failed")
)

// Store is a partitioned key-value store. Keys are ordered byte strings
// within a partition; Range returns records in key order.
type Store interface {
	// Get returns the record at key, or ErrNotFound.
	Get(ctx context.Context, partition, key string) (Record, error)

	// Put writes a record unconditionally.
	Put(ctx context.Context, partition string, rec Record) error

	// PutBatch writes all records atomically within one partition.
	PutBatch(ctx context.Context, partition string, recs []Record) error

	// Insert writes a record only if the key is absent; returns
	// ErrConditionFailed when the key already exists.
	Insert(ctx context.Context, partition string, rec Record) error

	// Update applies fn to the current record body under a write lock.
	// fn receives the existing body (never nil; ErrNotFound is returned for
	// absent keys) and returns the replacement body. An error from fn aborts
	// the update and is returned unchanged.
	Update(ctx context.Context, partition, key string, fn func(body []byte) ([]byte, error)) error

	// Range returns all records in the partition whose key starts with
	// prefix, in ascending key order.
	Range(ctx context.Context, partition, prefix string) ([]Record, error)

	// Increment atomically adds delta to the named counter, creating it at
	// zero, and returns the new value.
	Increment(ctx context.Context, partition, counter string, delta int64) (int64, error)

	// SetExpiry stamps the partition with a retention deadline.
	SetExpiry(ctx context.Context, partition string, expiresAt time.Time) error

	// PurgeExpired deletes whole partitions whose retention deadline passed,
	// returning the number of partitions removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}
