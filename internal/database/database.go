package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"skynet/internal/repository"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the SQLite booking store.
type DB struct {
	*sql.DB
	store
	path   string
	logger *zerolog.Logger
}

var _ repository.Store = (*DB)(nil)

// NewDB opens the database and creates tables if they don't exist.
//
// Transactions are opened with BEGIN IMMEDIATE (_txlock=immediate), so a
// transaction holds the write lock from its first statement. The conflict
// check and the write that follows it therefore run without interleaving
// with any other writer.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := "file:" + path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:     sqlDB,
		store:  store{q: sqlDB},
		path:   path,
		logger: logger,
	}

	if err := db.createTables(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// RunInTx runs fn inside a write transaction and commits when fn returns nil.
func (db *DB) RunInTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&store{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (db *DB) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			student_id TEXT NOT NULL,
			instructor_id TEXT,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'REQUESTED',
			cancellation_reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			CHECK (start_time < end_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_instructor ON bookings(instructor_id, status, start_time, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_student ON bookings(student_id, status, start_time, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_tenant ON bookings(tenant_id, start_time)`,

		`CREATE TABLE IF NOT EXISTS escalations (
			id TEXT PRIMARY KEY,
			booking_id TEXT NOT NULL REFERENCES bookings(id),
			tenant_id TEXT NOT NULL,
			message TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'UNRESOLVED',
			created_at DATETIME NOT NULL,
			resolved_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_escalations_tenant ON escalations(tenant_id, status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_escalations_booking ON escalations(booking_id, status)`,

		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			before_state TEXT,
			after_state TEXT,
			correlation_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant ON audit_logs(tenant_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

// store implements repository.Tx over either the pool or a transaction.
type store struct {
	q queryer
}
