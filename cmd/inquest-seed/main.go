// Command inquest-seed writes two demo traces into the store: one failed run
// with a full verdict and causal graph, and one successful control run. Useful
// for exercising the UI and API without a live agent.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/inquest-ai/inquest/internal/adapters/duckdb"
	"github.com/inquest-ai/inquest/internal/config"
	"github.com/inquest-ai/inquest/internal/core/domain"
	"github.com/inquest-ai/inquest/internal/core/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := run(logger); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load(os.Getenv("INQUEST_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repo, err := duckdb.NewRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repo.Close()

	ctx := context.Background()
	store := services.NewEventStore(logger, repo)
	now := time.Now().UnixMilli()

	const badTrace = domain.TraceID("demo-bad-run")
	const fixedTrace = domain.TraceID("demo-fixed-run")

	if _, err := store.Append(ctx, badTrace, domain.DefaultProject, badEvents(badTrace, now)); err != nil {
		return fmt.Errorf("seed %s: %w", badTrace, err)
	}
	if _, err := store.Append(ctx, fixedTrace, domain.DefaultProject, fixedEvents(fixedTrace, now)); err != nil {
		return fmt.Errorf("seed %s: %w", fixedTrace, err)
	}

	if err := repo.SetRunStatus(ctx, badTrace, domain.RunStatus{
		Status:         domain.RunFailed,
		FailureReason:  "Invalid date format in flight_search tool call",
		FailureEventID: "Step 2",
	}); err != nil {
		return fmt.Errorf("status %s: %w", badTrace, err)
	}
	if err := repo.SaveReport(ctx, badTrace, domain.Report{
		Verdict:     badVerdict(),
		CausalGraph: badGraph(),
	}); err != nil {
		return fmt.Errorf("report %s: %w", badTrace, err)
	}

	if err := repo.SetRunStatus(ctx, fixedTrace, domain.RunStatus{
		Status: domain.RunSucceeded,
	}); err != nil {
		return fmt.Errorf("status %s: %w", fixedTrace, err)
	}
	if err := repo.SaveReport(ctx, fixedTrace, domain.Report{
		Verdict:     fixedVerdict(),
		CausalGraph: fixedGraph(),
	}); err != nil {
		return fmt.Errorf("report %s: %w", fixedTrace, err)
	}

	logger.Info("seeded demo traces", "traces", []domain.TraceID{badTrace, fixedTrace})
	return nil
}

func event(traceID domain.TraceID, t domain.EventType, ts int64, payload map[string]any) domain.TraceEvent {
	return domain.TraceEvent{
		Type:         t,
		TraceContext: domain.TraceContext{TraceID: string(traceID)},
		Timestamp:    domain.NewEventTime(ts),
		Payload:      payload,
	}
}

func badEvents(traceID domain.TraceID, now int64) []domain.TraceEvent {
	return []domain.TraceEvent{
		event(traceID, domain.EventUserInput, now-10000, map[string]any{
			"text": "Book a flight from NYC to LAX for tomorrow",
		}),
		event(traceID, domain.EventToolCall, now-9500, map[string]any{
			"tool_name":  "flight_search",
			"input":      map[string]any{"origin": "NYC", "destination": "LAX", "date": "2026-02-04"},
			"error":      "Invalid date format: expected YYYY-MM-DD but got 2026-02-04",
			"latency_ms": 1200,
		}),
		event(traceID, domain.EventModelOutput, now-8000, map[string]any{
			"text":        "I encountered an error searching for flights. The date format seems incorrect.",
			"token_count": 45,
		}),
	}
}

func fixedEvents(traceID domain.TraceID, now int64) []domain.TraceEvent {
	return []domain.TraceEvent{
		event(traceID, domain.EventUserInput, now-5000, map[string]any{
			"text": "Book a flight from NYC to LAX for tomorrow",
		}),
		event(traceID, domain.EventToolCall, now-4500, map[string]any{
			"tool_name":  "flight_search",
			"input":      map[string]any{"origin": "NYC", "destination": "LAX", "date": "2026-02-05"},
			"latency_ms": 800,
		}),
		event(traceID, domain.EventModelOutput, now-3000, map[string]any{
			"text":        "Found 3 flights. The best option is Flight AA123 departing at 8:00 AM.",
			"token_count": 52,
		}),
	}
}

func confidence(v float64) *float64 { return &v }

func badVerdict() *domain.VerdictPack {
	return &domain.VerdictPack{
		RootCause: "The flight_search tool rejected the date format (2026-02-04) with error " +
			"'Invalid date format: expected YYYY-MM-DD but got 2026-02-04'. The tool expects " +
			"YYYY-MM-DD but received a value that triggered validation failure.",
		ConfidenceRootCause: confidence(0.92),
		ConfidenceFactors:   confidence(0.88),
		EvidenceLinks: []domain.EvidenceLink{
			{StepID: "Step 2", Snippet: "Invalid date format: expected YYYY-MM-DD but got 2026-02-04"},
		},
		ContributingFactors: []domain.ContributingFactor{
			{
				Rank:          1,
				Description:   "Tool input validation mismatch: agent passed date in wrong format",
				EvidenceLinks: []domain.EvidenceLink{{StepID: "Step 2"}},
			},
			{
				Rank:          2,
				Description:   "No retry or format correction before tool call",
				EvidenceLinks: []domain.EvidenceLink{{StepID: "Step 1"}},
			},
		},
		Counterfactual: "If the agent had formatted the date as YYYY-MM-DD (e.g., 2026-02-05) " +
			"before calling flight_search, the tool would have succeeded.",
		FixSuggestions: []domain.FixSuggestion{
			{
				Category:      domain.FixPrompt,
				Description:   "Add instruction to always format dates as YYYY-MM-DD for flight_search",
				EvidenceLinks: []domain.EvidenceLink{{StepID: "Step 2"}},
			},
			{
				Category:      domain.FixTooling,
				Description:   "Add input validation/transform layer before flight_search to normalize date format",
				EvidenceLinks: []domain.EvidenceLink{{StepID: "Step 2"}},
			},
		},
	}
}

func fixedVerdict() *domain.VerdictPack {
	return &domain.VerdictPack{
		RootCause: "No failure: the run completed successfully. The flight_search tool " +
			"accepted the date format and returned flight options.",
		ConfidenceRootCause: confidence(0.95),
		ConfidenceFactors:   confidence(0.9),
		EvidenceLinks: []domain.EvidenceLink{
			{StepID: "Step 2", Snippet: "input: { origin: 'NYC', destination: 'LAX', date: '2026-02-05' }"},
		},
		ContributingFactors: []domain.ContributingFactor{
			{
				Rank:          1,
				Description:   "Correct date format (YYYY-MM-DD) used in tool call",
				EvidenceLinks: []domain.EvidenceLink{{StepID: "Step 2"}},
			},
		},
		Counterfactual: "N/A, successful run",
		FixSuggestions: []domain.FixSuggestion{},
	}
}

func badGraph() domain.CausalGraph {
	return domain.CausalGraph{
		Nodes: []domain.CausalNode{
			{ID: "n1", Label: "User request", Type: domain.NodeStep, StepID: "Step 1"},
			{ID: "n2", Label: "Flight search error", Type: domain.NodeToolOutput, StepID: "Step 2"},
			{ID: "n3", Label: "Model reports failure", Type: domain.NodeStep, StepID: "Step 3"},
		},
		Edges: []domain.CausalEdge{
			{ID: "e1", Source: "n1", Target: "n2", Type: domain.EdgeDependsOn},
			{ID: "e2", Source: "n2", Target: "n3", Type: domain.EdgeLeadsTo},
		},
		FirstDivergenceNodeID: "n2",
	}
}

func fixedGraph() domain.CausalGraph {
	return domain.CausalGraph{
		Nodes: []domain.CausalNode{
			{ID: "n1", Label: "User request", Type: domain.NodeStep, StepID: "Step 1"},
			{ID: "n2", Label: "Flight search success", Type: domain.NodeToolOutput, StepID: "Step 2"},
			{ID: "n3", Label: "Model returns result", Type: domain.NodeStep, StepID: "Step 3"},
		},
		Edges: []domain.CausalEdge{
			{ID: "e1", Source: "n1", Target: "n2", Type: domain.EdgeDependsOn},
			{ID: "e2", Source: "n2", Target: "n3", Type: domain.EdgeLeadsTo},
		},
		FirstDivergenceNodeID: "n1",
	}
}
