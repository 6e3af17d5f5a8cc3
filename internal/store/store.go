// Package store provides the identity kernel's transactional persistence
// layer: a direct database/sql + lib/pq implementation satisfying a
// unit-of-work contract (every mutation touching two or more tables, or
// pairing a ledger append with a domain write, commits atomically or rolls
// back).
package store

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
)

// Queryer is the minimal surface both *sql.DB and *sql.Tx satisfy. Entity
// CRUD methods are defined against it so the same code runs standalone or
// inside a caller-owned transaction.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Queries bundles every entity CRUD method behind a single Queryer. It is
// embedded by Store (DB-backed) and handed to WithTx callbacks (Tx-backed).
type Queries struct {
	q Queryer
}

// Store is the top-level, DB-backed handle. Reads not participating in a
// larger transaction go straight through it.
type Store struct {
	*Queries
	db *sql.DB
}

// Open connects to a Postgres DATABASE_URL and pings it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// New wraps an already-open *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{Queries: &Queries{q: db}, db: db}
}

// DB exposes the underlying pool, e.g. for health checks or Close.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn inside a single read-committed transaction. fn's Queries
// operate against the transaction; the transaction commits if fn returns
// nil and rolls back otherwise (including on panic, re-thrown after
// rollback).
func (s *Store) WithTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Queries{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// HealthCheck verifies connectivity with the underlying database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
