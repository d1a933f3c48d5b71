package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/inquest-ai/inquest/internal/core/domain"
)

// RunRepository is the minimal persistence interface needed by Reports.
type RunRepository interface {
	ListEvents(ctx context.Context, traceID domain.TraceID) ([]domain.TraceEvent, error)
	GetReport(ctx context.Context, traceID domain.TraceID) (domain.Report, error)
	GetRunStatus(ctx context.Context, traceID domain.TraceID) (*domain.RunStatus, error)
	SetRunStatus(ctx context.Context, traceID domain.TraceID, status domain.RunStatus) error
	TraceExists(ctx context.Context, traceID domain.TraceID) (bool, error)
	IsFrozen(ctx context.Context, traceID domain.TraceID) (bool, error)
	ListTraceIDs(ctx context.Context, projectID domain.ProjectID) ([]domain.TraceID, error)
}

// Reports is the read-side composition layer: it merges timeline, stored
// verdict + causal graph, and run status into one consistent view. It
// performs no writes except the explicit status boundary.
type Reports struct {
	logger *slog.Logger
	repo   RunRepository
}

func NewReports(logger *slog.Logger, repo RunRepository) *Reports {
	return &Reports{logger: logger, repo: repo}
}

// Assemble builds the full report view for one trace. Any subset of the
// inputs may be absent: ingested-but-unanalyzed traces get a null verdict and
// an empty (non-nil) graph; analyzed-but-statusless traces get no anchor.
func (r *Reports) Assemble(ctx context.Context, traceID domain.TraceID) (*domain.AssembledReport, error) {
	exists, err := r.repo.TraceExists(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("check trace: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: trace %s", domain.ErrNotFound, traceID)
	}

	timeline, err := r.repo.ListEvents(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("load timeline: %w", err)
	}
	report, err := r.repo.GetReport(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}
	status, err := r.repo.GetRunStatus(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("load run status: %w", err)
	}

	return &domain.AssembledReport{
		TraceID:       traceID,
		Timeline:      timeline,
		Verdict:       report.Verdict,
		CausalGraph:   report.CausalGraph,
		FailureAnchor: deriveFailureAnchor(status),
	}, nil
}

// deriveFailureAnchor yields an anchor only for a failed run that recorded a
// reason or an event reference; everything else is nil.
func deriveFailureAnchor(status *domain.RunStatus) *domain.FailureAnchor {
	if status == nil || status.Status != domain.RunFailed {
		return nil
	}
	if status.FailureReason == "" && status.FailureEventID == "" {
		return nil
	}
	return &domain.FailureAnchor{
		EventID: status.FailureEventID,
		Reason:  status.FailureReason,
	}
}

// SetStatus is the status-update boundary write. The store accepts
// overwrites, terminal or not; callers gate which states they admit.
func (r *Reports) SetStatus(ctx context.Context, traceID domain.TraceID, status domain.RunStatus) error {
	exists, err := r.repo.TraceExists(ctx, traceID)
	if err != nil {
		return fmt.Errorf("check trace: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: trace %s", domain.ErrNotFound, traceID)
	}
	if err := r.repo.SetRunStatus(ctx, traceID, status); err != nil {
		return fmt.Errorf("set run status: %w", err)
	}
	r.logger.Info("run status set",
		"trace_id", traceID, "status", status.Status,
		"failure_event_id", status.FailureEventID)
	return nil
}

// ListRuns aggregates per-trace state across all traces, optionally filtered
// by project. Display status precedence: explicit terminal status wins, then
// a stored verdict implies analyzed, otherwise running.
func (r *Reports) ListRuns(ctx context.Context, projectID domain.ProjectID) ([]domain.RunSummary, error) {
	traceIDs, err := r.repo.ListTraceIDs(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}

	summaries := make([]domain.RunSummary, 0, len(traceIDs))
	for _, traceID := range traceIDs {
		summary, err := r.summarize(ctx, traceID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastTimestamp > summaries[j].LastTimestamp
	})
	return summaries, nil
}

func (r *Reports) summarize(ctx context.Context, traceID domain.TraceID) (domain.RunSummary, error) {
	events, err := r.repo.ListEvents(ctx, traceID)
	if err != nil {
		return domain.RunSummary{}, fmt.Errorf("load timeline %s: %w", traceID, err)
	}
	report, err := r.repo.GetReport(ctx, traceID)
	if err != nil {
		return domain.RunSummary{}, fmt.Errorf("load report %s: %w", traceID, err)
	}
	status, err := r.repo.GetRunStatus(ctx, traceID)
	if err != nil {
		return domain.RunSummary{}, fmt.Errorf("load run status %s: %w", traceID, err)
	}
	frozen, err := r.repo.IsFrozen(ctx, traceID)
	if err != nil {
		return domain.RunSummary{}, fmt.Errorf("check freeze %s: %w", traceID, err)
	}

	summary := domain.RunSummary{
		ID:     traceID,
		Status: domain.RunRunning,
		Frozen: frozen,
	}

	if status != nil && domain.TerminalRunState(status.Status) {
		summary.Status = status.Status
		summary.FailureEventID = status.FailureEventID
	} else if report.Verdict != nil {
		summary.Status = domain.RunAnalyzed
	}

	if status != nil && status.Status == domain.RunFailed && status.FailureReason != "" {
		summary.FailureReason = status.FailureReason
	} else if report.Verdict != nil {
		summary.FailureReason = report.Verdict.RootCause
	}

	if len(events) > 0 {
		first := events[0].Timestamp.UnixMilli()
		last := events[len(events)-1].Timestamp.UnixMilli()
		duration := last - first
		summary.DurationMs = &duration
		summary.LastTimestamp = last
	}
	return summary, nil
}
