package kernel

import (
	"encoding/json"

	"github.com/inquest-ai/inquest/internal/core/domain"
)

// IngestRequestBody is the wire shape of one ingest batch. Events are kept
// raw here so the OpenAPI validator sees exactly what the client sent.
type IngestRequestBody struct {
	TraceID   string            `json:"trace_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	ProjectID string            `json:"project_id,omitempty"`
	Replay    bool              `json:"replay,omitempty"`
	Events    []json.RawMessage `json:"events"`
}

type IngestResponseBody struct {
	Success        bool   `json:"success"`
	TraceID        string `json:"trace_id"`
	SessionID      string `json:"session_id,omitempty"`
	EventsReceived int    `json:"events_received"`
	EventsStored   int    `json:"events_stored"`
	JobID          string `json:"job_id,omitempty"`
}

type RunListResponseBody struct {
	Runs []domain.RunSummary `json:"runs"`
}

type StatusUpdateBody struct {
	Status         string `json:"status"`
	FailureReason  string `json:"failure_reason,omitempty"`
	FailureEventID string `json:"failure_event_id,omitempty"`
}

type AnalyzeResponseBody struct {
	JobID   string `json:"job_id"`
	TraceID string `json:"trace_id"`
	Status  string `json:"status"`
}

type ErrorResponseBody struct {
	Error string `json:"error"`
}
