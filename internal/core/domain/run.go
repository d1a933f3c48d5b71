package domain

// RunState is the per-trace lifecycle state. Running is implicit: a trace
// with no stored record is running. All other states are explicit writes.
type RunState string

const (
	RunRunning   RunState = "running"
	RunFailed    RunState = "failed"
	RunCompleted RunState = "completed"
	RunSucceeded RunState = "succeeded"
	// RunAnalyzed is a derived display status, never stored: no explicit
	// terminal state but a verdict exists.
	RunAnalyzed RunState = "analyzed"
)

// TerminalRunState reports whether s is one of the explicitly-stored
// terminal states. The store still accepts overwrites of terminal states;
// terminality is a display concern, not an enforced state machine.
func TerminalRunState(s RunState) bool {
	return s == RunFailed || s == RunCompleted || s == RunSucceeded
}

// RunStatus is the stored per-trace status record.
type RunStatus struct {
	Status         RunState `json:"status"`
	FailureReason  string   `json:"failure_reason,omitempty"`
	FailureEventID string   `json:"failure_event_id,omitempty"`
}

// FailureAnchor is the specific point of failure for a failed run, derived
// at read time from the run status.
type FailureAnchor struct {
	EventID string `json:"event_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Report is the stored analysis result for a trace. Verdict is nil and the
// graph empty until the worker has persisted an analyzer result.
type Report struct {
	Verdict     *VerdictPack `json:"verdict"`
	CausalGraph CausalGraph  `json:"causal_graph"`
	EventsHash  string       `json:"events_hash,omitempty"`
}

// EmptyReport is the read-side default for an unanalyzed trace.
func EmptyReport() Report {
	return Report{Verdict: nil, CausalGraph: EmptyCausalGraph()}
}

// AssembledReport is the composed read model: timeline, verdict, causal
// graph, and failure anchor in one consistent view.
type AssembledReport struct {
	TraceID       TraceID        `json:"trace_id"`
	Timeline      []TraceEvent   `json:"timeline"`
	Verdict       *VerdictPack   `json:"verdict"`
	CausalGraph   CausalGraph    `json:"causal_graph"`
	FailureAnchor *FailureAnchor `json:"failure_anchor"`
}

// RunSummary is one row of the run-listing view.
type RunSummary struct {
	ID             TraceID  `json:"id"`
	Status         RunState `json:"status"`
	DurationMs     *int64   `json:"duration_ms,omitempty"`
	FailureReason  string   `json:"failure_reason,omitempty"`
	FailureEventID string   `json:"failure_event_id,omitempty"`
	LastTimestamp  int64    `json:"last_timestamp,omitempty"`
	Frozen         bool     `json:"frozen,omitempty"`
}
