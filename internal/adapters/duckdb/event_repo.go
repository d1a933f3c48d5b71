package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inquest-ai/inquest/internal/core/domain"
)

// AppendEvents merges a batch into a trace's log inside one transaction:
// events whose identity already exists are dropped, the rest get monotone
// sequence numbers so timestamp ties keep insertion order. The trace row is
// upserted even when every event was a duplicate; registration under the
// project is unconditional.
func (r *Repository) AppendEvents(ctx context.Context, traceID domain.TraceID, projectID domain.ProjectID, events []domain.TraceEvent) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := upsertTrace(ctx, tx, traceID, projectID, false); err != nil {
		return 0, err
	}

	existing, err := identitySet(ctx, tx, traceID)
	if err != nil {
		return 0, err
	}

	var maxSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) FROM events WHERE trace_id = ?`,
		string(traceID)).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("read max seq: %w", err)
	}

	stored := 0
	for i := range events {
		identity := events[i].Identity()
		if existing[identity] {
			continue
		}
		existing[identity] = true
		maxSeq++
		if err := insertEvent(ctx, tx, traceID, identity, maxSeq, &events[i]); err != nil {
			return 0, err
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return stored, nil
}

// ReplaceEvents swaps the whole log for the given set and freezes the trace.
// A replayed trace is a fixed recording; the freeze flag never clears.
func (r *Repository) ReplaceEvents(ctx context.Context, traceID domain.TraceID, projectID domain.ProjectID, events []domain.TraceEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := upsertTrace(ctx, tx, traceID, projectID, true); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE trace_id = ?`, string(traceID)); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}

	seen := make(map[string]bool, len(events))
	var seq int64
	for i := range events {
		identity := events[i].Identity()
		if seen[identity] {
			continue
		}
		seen[identity] = true
		if err := insertEvent(ctx, tx, traceID, identity, seq, &events[i]); err != nil {
			return err
		}
		seq++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// ListEvents returns the log sorted by timestamp ascending, sequence number
// breaking ties. A stored row that no longer parses is corruption, not data.
func (r *Repository) ListEvents(ctx context.Context, traceID domain.TraceID) ([]domain.TraceEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM events WHERE trace_id = ? ORDER BY ts_ms ASC, seq ASC`,
		string(traceID))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.TraceEvent
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var event domain.TraceEvent
		if err := json.Unmarshal([]byte(body), &event); err != nil {
			return nil, fmt.Errorf("%w: stored event for trace %s: %v",
				domain.ErrStorageCorrupted, traceID, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	if events == nil {
		events = []domain.TraceEvent{}
	}
	return events, nil
}

func (r *Repository) TraceExists(ctx context.Context, traceID domain.TraceID) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM traces WHERE trace_id = ?`, string(traceID)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check trace: %w", err)
	}
	return true, nil
}

// IsFrozen reports the freeze flag; an unregistered trace is not frozen.
func (r *Repository) IsFrozen(ctx context.Context, traceID domain.TraceID) (bool, error) {
	var frozen bool
	err := r.db.QueryRowContext(ctx,
		`SELECT frozen FROM traces WHERE trace_id = ?`, string(traceID)).Scan(&frozen)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read freeze flag: %w", err)
	}
	return frozen, nil
}

// ListTraceIDs returns all registered traces, scoped to a project when
// projectID is non-empty.
func (r *Repository) ListTraceIDs(ctx context.Context, projectID domain.ProjectID) ([]domain.TraceID, error) {
	query := `SELECT trace_id FROM traces ORDER BY created_at DESC`
	args := []any{}
	if projectID != "" {
		query = `SELECT trace_id FROM traces WHERE project_id = ? ORDER BY created_at DESC`
		args = append(args, string(projectID))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var ids []domain.TraceID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan trace id: %w", err)
		}
		ids = append(ids, domain.TraceID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}
	return ids, nil
}

// DeleteTrace removes the event log, freeze flag, report, run status, and
// project registration in one transaction. Job history and dead letters are
// kept for offline inspection.
func (r *Repository) DeleteTrace(ctx context.Context, traceID domain.TraceID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range []string{
		`DELETE FROM events WHERE trace_id = ?`,
		`DELETE FROM reports WHERE trace_id = ?`,
		`DELETE FROM run_status WHERE trace_id = ?`,
		`DELETE FROM traces WHERE trace_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, string(traceID)); err != nil {
			return fmt.Errorf("delete trace state: %w", err)
		}
	}
	return tx.Commit()
}

func upsertTrace(ctx context.Context, tx *sql.Tx, traceID domain.TraceID, projectID domain.ProjectID, freeze bool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO traces (trace_id, project_id, frozen, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (trace_id) DO UPDATE SET
			project_id = excluded.project_id,
			frozen     = traces.frozen OR excluded.frozen`,
		string(traceID), string(projectID), freeze, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert trace %s: %w", traceID, err)
	}
	return nil
}

func identitySet(ctx context.Context, tx *sql.Tx, traceID domain.TraceID) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT identity FROM events WHERE trace_id = ?`, string(traceID))
	if err != nil {
		return nil, fmt.Errorf("read identities: %w", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		set[identity] = true
	}
	return set, rows.Err()
}

func insertEvent(ctx context.Context, tx *sql.Tx, traceID domain.TraceID, identity string, seq int64, event *domain.TraceEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (trace_id, identity, seq, event_type, ts_ms, body)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(traceID), identity, seq, string(event.Type),
		event.Timestamp.UnixMilli(), string(body))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
