// Package store is the durable state layer (C1): an embedded, single-file
// relational database reached through database/sql, with single-writer
// concurrency and a typed error taxonomy (internal/storeerr).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/duckdb/duckdb-go/v2"
)

// Store is the single entry point for all persistence in the manager.
// Writes are serialized through mu; reads run concurrently against db.
type Store struct {
	log *slog.Logger
	db  *sql.DB
	mu  sync.Mutex
}

// Open opens (creating if necessary) the embedded database file at path and
// applies the schema. A short backoff absorbs the narrow case where the file
// is still held by a just-exited process on this same host.
func Open(ctx context.Context, log *slog.Logger, path string) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	var db *sql.DB
	openOnce := func() error {
		var err error
		db, err = sql.Open("duckdb", path)
		if err != nil {
			return err
		}
		return db.PingContext(ctx)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 400 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Second

	if err := backoff.Retry(openOnce, bo); err != nil {
		return nil, fmt.Errorf("open store %q: %w", path, err)
	}

	// Single writer: DuckDB's embedded engine does not benefit from a large
	// pool and a process-wide write mutex already serializes mutations, so
	// cap the pool to avoid file-handle churn.
	db.SetMaxOpenConns(8)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store %q: %w", path, err)
	}

	s := &Store{log: log, db: db}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the underlying connection is alive; used by the readiness
// probe so a database hiccup surfaces as 503 rather than a handler panic.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a single transaction, holding the write mutex for
// the duration. Exposed so callers that must commit several Store writes
// atomically (the Reconciler's snapshot + differ observations) can compose
// them without each taking its own transaction. fn must not call Store
// methods that take the write mutex themselves. The Reconciler writes the
// state update and its events after this transaction commits, each in its
// own transaction, so they are not atomic with the snapshot.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withTx(ctx, fn)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nextID(ctx context.Context, tx *sql.Tx, seq string) (int64, error) {
	var id int64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT nextval('%s')", seq)).Scan(&id); err != nil {
		return 0, fmt.Errorf("nextval %s: %w", seq, err)
	}
	return id, nil
}

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
