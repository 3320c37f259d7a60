package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrTaskNotFound is returned by status lookups for sessions the ledger has
// never seen. An unknown session is an expected outcome, not a failure.
var ErrTaskNotFound = errors.New("task not found")

type DB struct {
	*sql.DB
}

func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn}, nil
}

// EnsureSchema creates the ledger and catalog tables if they do not exist.
// Safe to run on every startup.
func (db *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			session_id TEXT PRIMARY KEY,
			job_type   TEXT NOT NULL,
			result     TEXT NOT NULL DEFAULT '',
			percent    TEXT NOT NULL DEFAULT '0',
			status     TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS fragments (
			id              TEXT PRIMARY KEY,
			v_id            TEXT NOT NULL UNIQUE,
			overview        TEXT NOT NULL DEFAULT '',
			descriptions    JSONB NOT NULL DEFAULT '{}',
			paths           JSONB NOT NULL DEFAULT '{}',
			backup_paths    JSONB NOT NULL DEFAULT '{}',
			highlight_times JSONB NOT NULL DEFAULT '{}',
			scenes          JSONB NOT NULL DEFAULT '{}',
			category        TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
