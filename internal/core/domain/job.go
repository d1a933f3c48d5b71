package domain

import "time"

type JobID string

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one scheduled forensic analysis of a trace. A job terminates either
// at success or, after its retry budget, on the dead-letter queue.
type Job struct {
	ID        JobID     `json:"id"`
	TraceID   TraceID   `json:"trace_id"`
	SessionID string    `json:"session_id,omitempty"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeadLetter is the durable record of a job that exhausted its retry budget,
// retained for manual inspection. Never dropped silently.
type DeadLetter struct {
	TraceID  TraceID   `json:"trace_id"`
	JobID    JobID     `json:"job_id"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}
