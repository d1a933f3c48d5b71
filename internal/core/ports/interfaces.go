package ports

import (
	"context"

	"github.com/inquest-ai/inquest/internal/core/domain"
)

// Repository abstracts the persistent store (DuckDB). Every namespace
// (events, reports, run status, artifacts, jobs, dead letters, counters) is
// keyed by trace id, project id, or artifact id.
type Repository interface {
	// Events. AppendEvents deduplicates on event identity inside one
	// transaction and returns the number of newly stored events; it also
	// registers the trace under its project, idempotently, even when the
	// batch was fully deduplicated. ReplaceEvents swaps the whole log and
	// sets the freeze flag.
	AppendEvents(ctx context.Context, traceID domain.TraceID, projectID domain.ProjectID, events []domain.TraceEvent) (int, error)
	ReplaceEvents(ctx context.Context, traceID domain.TraceID, projectID domain.ProjectID, events []domain.TraceEvent) error
	ListEvents(ctx context.Context, traceID domain.TraceID) ([]domain.TraceEvent, error)
	TraceExists(ctx context.Context, traceID domain.TraceID) (bool, error)
	IsFrozen(ctx context.Context, traceID domain.TraceID) (bool, error)
	ListTraceIDs(ctx context.Context, projectID domain.ProjectID) ([]domain.TraceID, error)

	// DeleteTrace tears down the event log, freeze flag, report, run status,
	// and project registration in one transaction.
	DeleteTrace(ctx context.Context, traceID domain.TraceID) error

	// Reports
	SaveReport(ctx context.Context, traceID domain.TraceID, report domain.Report) error
	GetReport(ctx context.Context, traceID domain.TraceID) (domain.Report, error)

	// Run status. GetRunStatus returns nil when no record exists (running).
	SetRunStatus(ctx context.Context, traceID domain.TraceID, status domain.RunStatus) error
	GetRunStatus(ctx context.Context, traceID domain.TraceID) (*domain.RunStatus, error)

	// Artifacts
	SaveArtifact(ctx context.Context, artifact domain.Artifact) error
	GetArtifact(ctx context.Context, id domain.ArtifactID) (domain.Artifact, error)

	// Jobs and dead letters
	SaveJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id domain.JobID) (domain.Job, error)
	PruneCompletedJobs(ctx context.Context, keep int) error
	PushDeadLetter(ctx context.Context, letter domain.DeadLetter) error
	ListDeadLetters(ctx context.Context) ([]domain.DeadLetter, error)

	// Metrics counters
	IncrCounter(ctx context.Context, name string, delta int64) error
	GetCounters(ctx context.Context) (map[string]int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// Analyzer is the external root-cause collaborator. Input is the ordered
// event list; output is an atomic verdict + causal graph, already
// shape-validated by the adapter.
type Analyzer interface {
	Analyze(ctx context.Context, traceID domain.TraceID, events []domain.TraceEvent) (*domain.AnalysisResult, error)
}

// Dispatcher schedules asynchronous analysis jobs. Enqueue never blocks;
// when the queue is unreachable it returns domain.ErrDispatchUnavailable and
// the caller decides whether to surface or swallow it.
type Dispatcher interface {
	Enqueue(ctx context.Context, traceID domain.TraceID, sessionID string) (domain.JobID, error)
}
