package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/inquest-ai/inquest/internal/core/domain"
)

func (r *Repository) SaveJob(ctx context.Context, job domain.Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, trace_id, session_id, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			status     = excluded.status,
			attempts   = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		string(job.ID), string(job.TraceID), job.SessionID, string(job.Status),
		job.Attempts, job.LastError, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

func (r *Repository) GetJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	job := domain.Job{ID: id}
	var traceID, status string
	err := r.db.QueryRowContext(ctx, `
		SELECT trace_id, COALESCE(session_id, ''), status, attempts, COALESCE(last_error, ''), created_at, updated_at
		FROM jobs WHERE job_id = ?`, string(id)).
		Scan(&traceID, &job.SessionID, &status, &job.Attempts, &job.LastError,
			&job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Job{}, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("read job %s: %w", id, err)
	}
	job.TraceID = domain.TraceID(traceID)
	job.Status = domain.JobStatus(status)
	return job, nil
}

// PruneCompletedJobs drops completed job records beyond the most recent keep.
func (r *Repository) PruneCompletedJobs(ctx context.Context, keep int) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status = ? AND job_id NOT IN (
			SELECT job_id FROM jobs WHERE status = ?
			ORDER BY updated_at DESC LIMIT ?
		)`, string(domain.JobCompleted), string(domain.JobCompleted), keep)
	if err != nil {
		return fmt.Errorf("prune jobs: %w", err)
	}
	return nil
}

func (r *Repository) PushDeadLetter(ctx context.Context, letter domain.DeadLetter) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dead_letters (job_id, trace_id, error, failed_at)
		VALUES (?, ?, ?, ?)`,
		string(letter.JobID), string(letter.TraceID), letter.Error, letter.FailedAt)
	if err != nil {
		return fmt.Errorf("push dead letter for job %s: %w", letter.JobID, err)
	}
	return nil
}

func (r *Repository) ListDeadLetters(ctx context.Context) ([]domain.DeadLetter, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, trace_id, error, failed_at
		FROM dead_letters ORDER BY failed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []domain.DeadLetter
	for rows.Next() {
		var letter domain.DeadLetter
		var jobID, traceID string
		if err := rows.Scan(&jobID, &traceID, &letter.Error, &letter.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		letter.JobID = domain.JobID(jobID)
		letter.TraceID = domain.TraceID(traceID)
		letters = append(letters, letter)
	}
	return letters, rows.Err()
}

func (r *Repository) IncrCounter(ctx context.Context, name string, delta int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO counters (name, value)
		VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + excluded.value`,
		name, delta)
	if err != nil {
		return fmt.Errorf("increment counter %s: %w", name, err)
	}
	return nil
}

func (r *Repository) GetCounters(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, value FROM counters`)
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}
	defer rows.Close()

	counters := make(map[string]int64)
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		counters[name] = value
	}
	return counters, rows.Err()
}
