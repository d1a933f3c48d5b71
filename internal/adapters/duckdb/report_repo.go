package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/inquest-ai/inquest/internal/core/domain"
)

// SaveReport stores the verdict + causal graph as one JSON unit. Overwrites
// are whole-record: a report is never partially written.
func (r *Repository) SaveReport(ctx context.Context, traceID domain.TraceID, report domain.Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO reports (trace_id, body)
		VALUES (?, ?)
		ON CONFLICT (trace_id) DO UPDATE SET body = excluded.body`,
		string(traceID), string(body))
	if err != nil {
		return fmt.Errorf("upsert report %s: %w", traceID, err)
	}
	return nil
}

// GetReport returns the stored report, defaulting to a null verdict and an
// empty graph when analysis has not completed.
func (r *Repository) GetReport(ctx context.Context, traceID domain.TraceID) (domain.Report, error) {
	var body string
	err := r.db.QueryRowContext(ctx,
		`SELECT body FROM reports WHERE trace_id = ?`, string(traceID)).Scan(&body)
	if err == sql.ErrNoRows {
		return domain.EmptyReport(), nil
	}
	if err != nil {
		return domain.Report{}, fmt.Errorf("read report %s: %w", traceID, err)
	}

	var report domain.Report
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return domain.Report{}, fmt.Errorf("%w: stored report for trace %s: %v",
			domain.ErrStorageCorrupted, traceID, err)
	}
	if report.CausalGraph.Nodes == nil {
		report.CausalGraph.Nodes = []domain.CausalNode{}
	}
	if report.CausalGraph.Edges == nil {
		report.CausalGraph.Edges = []domain.CausalEdge{}
	}
	return report, nil
}

// SetRunStatus writes the explicit status record. The store accepts
// overwrites of terminal states; terminality is a display concern.
func (r *Repository) SetRunStatus(ctx context.Context, traceID domain.TraceID, status domain.RunStatus) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO run_status (trace_id, status, failure_reason, failure_event_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (trace_id) DO UPDATE SET
			status           = excluded.status,
			failure_reason   = excluded.failure_reason,
			failure_event_id = excluded.failure_event_id`,
		string(traceID), string(status.Status), status.FailureReason, status.FailureEventID)
	if err != nil {
		return fmt.Errorf("upsert run status %s: %w", traceID, err)
	}
	return nil
}

// GetRunStatus returns nil when no record exists: the trace is running.
func (r *Repository) GetRunStatus(ctx context.Context, traceID domain.TraceID) (*domain.RunStatus, error) {
	var status, reason, eventID string
	err := r.db.QueryRowContext(ctx, `
		SELECT status, COALESCE(failure_reason, ''), COALESCE(failure_event_id, '')
		FROM run_status WHERE trace_id = ?`, string(traceID)).
		Scan(&status, &reason, &eventID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run status %s: %w", traceID, err)
	}
	return &domain.RunStatus{
		Status:         domain.RunState(status),
		FailureReason:  reason,
		FailureEventID: eventID,
	}, nil
}
