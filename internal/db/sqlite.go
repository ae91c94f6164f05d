package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/campusride/bustrack/pkg/log"
)

// schemaSQL is the single source of truth for the SQLite schema.
//
//go:embed schema.sql
var schemaSQL string

// DB wraps a SQLite database connection with write serialization
type DB struct {
	conn     *sql.DB
	writeSem chan struct{} // Serializes all writes, including the bulk reset
	log      log.Logger
}

// Connect opens a SQLite database with WAL mode enabled
func Connect(dbPath string, logger log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time. A single connection plus writeSem
	// keeps the reset and per-unit writes from interleaving.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.Warn("failed to set pragma", "pragma", pragma, "error", err)
		}
	}

	logger.Info("connected to SQLite database", "path", dbPath)
	return &DB{conn: conn, writeSem: make(chan struct{}, 1), log: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// LockWrite acquires the write lock. Must be paired with UnlockWrite.
func (db *DB) LockWrite() {
	db.writeSem <- struct{}{}
}

// LockWriteContext acquires the write lock, giving up when ctx is done.
// On success it must be paired with UnlockWrite.
func (db *DB) LockWriteContext(ctx context.Context) error {
	select {
	case db.writeSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for write lock: %w", ctx.Err())
	}
}

// UnlockWrite releases the write lock.
func (db *DB) UnlockWrite() {
	<-db.writeSem
}

// WithWriteTx runs fn inside a transaction while holding the write lock.
// The transaction is committed if fn returns nil and rolled back otherwise.
func (db *DB) WithWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := db.LockWriteContext(ctx); err != nil {
		return err
	}
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// EnsureSchema creates tables if they don't exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	db.LockWrite()
	defer db.UnlockWrite()

	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	db.log.Info("database schema ensured")
	return nil
}
