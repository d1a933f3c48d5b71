// Package duckdb persists every pipeline namespace (traces, events, reports,
// run status, artifacts, jobs, dead letters, counters) in a single embedded
// DuckDB database.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/inquest-ai/inquest/internal/core/ports"
)

type Repository struct {
	db *sql.DB
}

// Ensure Repository implements the full store port.
var _ ports.Repository = (*Repository)(nil)

func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb at %s: %w", path, err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Repository) migrate() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS traces (
			trace_id   VARCHAR PRIMARY KEY,
			project_id VARCHAR NOT NULL,
			frozen     BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			trace_id   VARCHAR NOT NULL,
			identity   VARCHAR NOT NULL,
			seq        BIGINT NOT NULL,
			event_type VARCHAR NOT NULL,
			ts_ms      BIGINT NOT NULL,
			body       VARCHAR NOT NULL,
			PRIMARY KEY (trace_id, identity)
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			trace_id VARCHAR PRIMARY KEY,
			body     VARCHAR NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_status (
			trace_id         VARCHAR PRIMARY KEY,
			status           VARCHAR NOT NULL,
			failure_reason   VARCHAR,
			failure_event_id VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			artifact_id  VARCHAR PRIMARY KEY,
			content_type VARCHAR NOT NULL,
			data         BLOB NOT NULL,
			sha256       VARCHAR NOT NULL,
			created_at   TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id     VARCHAR PRIMARY KEY,
			trace_id   VARCHAR NOT NULL,
			session_id VARCHAR,
			status     VARCHAR NOT NULL,
			attempts   INTEGER NOT NULL DEFAULT 0,
			last_error VARCHAR,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			job_id    VARCHAR NOT NULL,
			trace_id  VARCHAR NOT NULL,
			error     VARCHAR NOT NULL,
			failed_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS counters (
			name  VARCHAR PRIMARY KEY,
			value BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range ddl {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}
