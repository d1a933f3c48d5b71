package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/inquest-ai/inquest/internal/core/domain"
	"github.com/inquest-ai/inquest/internal/core/ports"
)

// ReportRepository is the minimal persistence interface needed by Worker.
type ReportRepository interface {
	SaveReport(ctx context.Context, traceID domain.TraceID, report domain.Report) error
}

// Worker executes one forensics job: read the ordered timeline, call the
// external analyzer, persist the verdict + causal graph as a unit.
type Worker struct {
	logger   *slog.Logger
	events   *EventStore
	analyzer ports.Analyzer
	repo     ReportRepository
}

func NewWorker(logger *slog.Logger, events *EventStore, analyzer ports.Analyzer, repo ReportRepository) *Worker {
	return &Worker{logger: logger, events: events, analyzer: analyzer, repo: repo}
}

// Handle is the dispatcher's JobHandler. A trace that vanished or never
// accumulated events is a successful no-op, not a failure to retry.
func (w *Worker) Handle(ctx context.Context, job domain.Job) error {
	events, err := w.events.List(ctx, job.TraceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.logger.Info("trace gone before analysis, skipping",
				"job_id", job.ID, "trace_id", job.TraceID)
			return nil
		}
		return fmt.Errorf("load timeline: %w", err)
	}
	if len(events) == 0 {
		w.logger.Info("no events to analyze, skipping",
			"job_id", job.ID, "trace_id", job.TraceID)
		return nil
	}

	result, err := w.analyzer.Analyze(ctx, job.TraceID, events)
	if err != nil {
		return fmt.Errorf("analyze trace %s: %w", job.TraceID, err)
	}

	report := domain.Report{
		Verdict:     &result.Verdict,
		CausalGraph: result.CausalGraph,
		EventsHash:  domain.EventsDigest(events),
	}
	if err := w.repo.SaveReport(ctx, job.TraceID, report); err != nil {
		return fmt.Errorf("persist report: %w", err)
	}

	w.logger.Info("analysis persisted",
		"job_id", job.ID, "trace_id", job.TraceID, "events", len(events))
	return nil
}
