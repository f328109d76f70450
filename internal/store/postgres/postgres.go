// Package postgres implements the partitioned store on PostgreSQL. A single
// records table holds every tagged-variant record; conditional inserts map
// to ON CONFLICT DO NOTHING and counter increments to an atomic upsert, so
// concurrent ingest invocations coordinate purely through the database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OrcaBus/platform-integration-tests/internal/store"
)

// Store is a pgx-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New constructs a Store on an existing pool. The pool is owned by the
// caller until Close.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, partition, key string) (store.Record, error) {
	const query = `SELECT kind, body FROM kv_records WHERE partition = $1 AND key = $2`
	rec := store.Record{Key: key}
	err := s.pool.QueryRow(ctx, query, partition, key).Scan(&rec.Kind, &rec.Body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Record{}, store.ErrNotFound
		}
		return store.Record{}, fmt.Errorf("get %s/%s: %w", partition, key, err)
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, partition string, rec store.Record) error {
	const query = `INSERT INTO kv_records (partition, key, kind, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (partition, key) DO UPDATE SET kind = EXCLUDED.kind, body = EXCLUDED.body`
	if _, err := s.pool.Exec(ctx, query, partition, rec.Key, rec.Kind, rec.Body); err != nil {
		return fmt.Errorf("put %s/%s: %w", partition, rec.Key, err)
	}
	return nil
}

func (s *Store) PutBatch(ctx context.Context, partition string, recs []store.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `INSERT INTO kv_records (partition, key, kind, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (partition, key) DO UPDATE SET kind = EXCLUDED.kind, body = EXCLUDED.body`
	for _, rec := range recs {
		if _, err := tx.Exec(ctx, query, partition, rec.Key, rec.Kind, rec.Body); err != nil {
			return fmt.Errorf("put batch %s/%s: %w", partition, rec.Key, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) Insert(ctx context.Context, partition string, rec store.Record) error {
	const query = `INSERT INTO kv_records (partition, key, kind, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (partition, key) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query, partition, rec.Key, rec.Kind, rec.Body)
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", partition, rec.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConditionFailed
	}
	return nil
}

func (s *Store) Update(ctx context.Context, partition, key string, fn func(body []byte) ([]byte, error)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	var body []byte
	err = tx.QueryRow(ctx,
		`SELECT body FROM kv_records WHERE partition = $1 AND key = $2 FOR UPDATE`,
		partition, key).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("lock %s/%s: %w", partition, key, err)
	}

	next, err := fn(body)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE kv_records SET body = $3 WHERE partition = $1 AND key = $2`,
		partition, key, next); err != nil {
		return fmt.Errorf("update %s/%s: %w", partition, key, err)
	}
	return tx.Commit(ctx)
}

func (s *Store) Range(ctx context.Context, partition, prefix string) ([]store.Record, error) {
	const query = `SELECT key, kind, body FROM kv_records
		WHERE partition = $1 AND key LIKE $2 ORDER BY key`
	rows, err := s.pool.Query(ctx, query, partition, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("range %s/%s: %w", partition, prefix, err)
	}
	defer rows.Close()

	var recs []store.Record
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(&rec.Key, &rec.Kind, &rec.Body); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *Store) Increment(ctx context.Context, partition, counter string, delta int64) (int64, error) {
	const query = `INSERT INTO kv_counters (partition, counter, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (partition, counter) DO UPDATE SET value = kv_counters.value + EXCLUDED.value
		RETURNING value`
	var value int64
	if err := s.pool.QueryRow(ctx, query, partition, counter, delta).Scan(&value); err != nil {
		return 0, fmt.Errorf("increment %s/%s: %w", partition, counter, err)
	}
	return value, nil
}

func (s *Store) SetExpiry(ctx context.Context, partition string, expiresAt time.Time) error {
	const query = `INSERT INTO kv_expiry (partition, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (partition) DO UPDATE SET expires_at = EXCLUDED.expires_at`
	if _, err := s.pool.Exec(ctx, query, partition, expiresAt); err != nil {
		return fmt.Errorf("set expiry %s: %w", partition, err)
	}
	return nil
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT partition FROM kv_expiry WHERE expires_at <= $1 FOR UPDATE SKIP LOCKED`, now)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}
	var expired []string
	for rows.Next() {
		var partition string
		if err := rows.Scan(&partition); err != nil {
			rows.Close()
			return 0, err
		}
		expired = append(expired, partition)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, tx.Commit(ctx)
	}

	for _, table := range []string{"kv_records", "kv_counters", "kv_expiry"} {
		if _, err := tx.Exec(ctx,
			`DELETE FROM `+table+` WHERE partition = ANY($1)`, expired); err != nil {
			return 0, fmt.Errorf("purge %s: %w", table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// escapeLike neutralises LIKE metacharacters so prefixes match literally.
func escapeLike(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}
