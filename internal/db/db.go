// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package db owns the SQLite store: connection setup, schema migration and the
// transaction helper every repository mutation runs under.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Store wraps the backing database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the fwcloud database.
//
// _txlock=immediate makes every write transaction take the database write lock
// at BEGIN time. Rule reordering does read-modify-write over a whole scope, so
// two concurrent reorders must serialize; the immediate lock is the SQLite
// equivalent of SELECT ... FOR UPDATE on the scope.
func Open(path string) (*Store, error) {
	sep := "?"
	if strings.ContainsRune(path, '?') {
		sep = "&"
	}
	dsn := path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open fwcloud db: %w", err)
	}
	// An in-memory database exists per connection, so the pool must not
	// fan out. Pin it to a single connection before touching the schema.
	if strings.Contains(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens a private in-memory database, used by tests.
func OpenMemory() (*Store, error) {
	return Open(":memory:")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for read-only queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic. Nested use is not supported; callers pass the *sql.Tx down.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
