// Package bolt provides an embedded bbolt implementation of the partitioned
// store, used for local development and tests. Each partition maps to a
// nested bucket, and bbolt's single-writer transactions supply the atomic
// primitives the engine relies on.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/OrcaBus/platform-integration-tests/internal/store"
)

var (
	bucketRecords  = []byte("records")
	bucketCounters = []byte("counters")
	bucketExpiry   = []byte("expiry")
)

// envelope is the on-disk encoding of a store.Record value.
type envelope struct {
	Kind store.Kind      `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Store is a bbolt-backed store.Store.
type Store struct {
	db *bbolt.DB
}

var _ store.Store = (*Store)(nil)

// Open creates or opens a bolt store at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketCounters, bucketExpiry} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func encodeRecord(rec store.Record) ([]byte, error) {
	data, err := json.Marshal(envelope{Kind: rec.Kind, Body: rec.Body})
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.Key, err)
	}
	return data, nil
}

func decodeRecord(key string, data []byte) (store.Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return store.Record{}, fmt.Errorf("decode record %s: %w", key, err)
	}
	return store.Record{Key: key, Kind: env.Kind, Body: env.Body}, nil
}

func (s *Store) partition(tx *bbolt.Tx, root []byte, partition string, create bool) (*bbolt.Bucket, error) {
	parent := tx.Bucket(root)
	if create {
		return parent.CreateBucketIfNotExists([]byte(partition))
	}
	b := parent.Bucket([]byte(partition))
	if b == nil {
		return nil, store.ErrNotFound
	}
	return b, nil
}

func (s *Store) Get(ctx context.Context, partition, key string) (store.Record, error) {
	var rec store.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := s.partition(tx, bucketRecords, partition, false)
		if err != nil {
			return err
		}
		data := b.Get([]byte(key))
		if data == nil {
			return store.ErrNotFound
		}
		rec, err = decodeRecord(key, data)
		return err
	})
	return rec, err
}

func (s *Store) Put(ctx context.Context, partition string, rec store.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.partition(tx, bucketRecords, partition, true)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.Key), data)
	})
}

func (s *Store) PutBatch(ctx context.Context, partition string, recs []store.Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.partition(tx, bucketRecords, partition, true)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			data, err := encodeRecord(rec)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(rec.Key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Insert(ctx context.Context, partition string, rec store.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.partition(tx, bucketRecords, partition, true)
		if err != nil {
			return err
		}
		if b.Get([]byte(rec.Key)) != nil {
			return store.ErrConditionFailed
		}
		return b.Put([]byte(rec.Key), data)
	})
}

func (s *Store) Update(ctx context.Context, partition, key string, fn func(body []byte) ([]byte, error)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.partition(tx, bucketRecords, partition, false)
		if err != nil {
			return err
		}
		data := b.Get([]byte(key))
		if data == nil {
			return store.ErrNotFound
		}
		rec, err := decodeRecord(key, data)
		if err != nil {
			return err
		}
		next, err := fn(rec.Body)
		if err != nil {
			return err
		}
		rec.Body = next
		updated, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), updated)
	})
}

func (s *Store) Range(ctx context.Context, partition, prefix string) ([]store.Record, error) {
	var recs []store.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := s.partition(tx, bucketRecords, partition, false)
		if err != nil {
			if err == store.ErrNotFound {
				return nil
			}
			return err
		}
		c := b.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			rec, err := decodeRecord(string(k), v)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	return recs, err
}

func (s *Store) Increment(ctx context.Context, partition, counter string, delta int64) (int64, error) {
	var value int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.partition(tx, bucketCounters, partition, true)
		if err != nil {
			return err
		}
		if data := b.Get([]byte(counter)); len(data) == 8 {
			value = int64(binary.BigEndian.Uint64(data))
		}
		value += delta
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(value))
		return b.Put([]byte(counter), buf)
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *Store) SetExpiry(ctx context.Context, partition string, expiresAt time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(expiresAt.Unix()))
		return tx.Bucket(bucketExpiry).Put([]byte(partition), buf)
	})
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	purged := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		expiry := tx.Bucket(bucketExpiry)
		var expired []string
		err := expiry.ForEach(func(k, v []byte) error {
			if len(v) == 8 && int64(binary.BigEndian.Uint64(v)) <= now.Unix() {
				expired = append(expired, string(k))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, partition := range expired {
			for _, root := range [][]byte{bucketRecords, bucketCounters} {
				if tx.Bucket(root).Bucket([]byte(partition)) != nil {
					if err := tx.Bucket(root).DeleteBucket([]byte(partition)); err != nil {
						return err
					}
				}
			}
			if err := expiry.Delete([]byte(partition)); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error { return nil })
}

func (s *Store) Close() error {
	return s.db.Close()
}
