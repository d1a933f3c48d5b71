package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/inquest-ai/inquest/internal/core/domain"
	"github.com/inquest-ai/inquest/internal/core/ports"
)

// IngestRequest is a validated batch from the ingestion boundary.
type IngestRequest struct {
	TraceID   string
	SessionID string
	ProjectID string
	Replay    bool
	Events    []domain.TraceEvent
}

// IngestResult reports what the pipeline did with the batch.
type IngestResult struct {
	TraceID        domain.TraceID
	SessionID      string
	EventsReceived int
	EventsStored   int
	JobID          domain.JobID // empty when dispatch degraded
}

// Ingestor runs the write path: redact, append, count, schedule analysis.
// Rate limiting and body-size checks happen upstream at the HTTP boundary.
type Ingestor struct {
	logger     *slog.Logger
	events     *EventStore
	metrics    *Metrics
	dispatcher ports.Dispatcher
}

func NewIngestor(logger *slog.Logger, events *EventStore, metrics *Metrics, dispatcher ports.Dispatcher) *Ingestor {
	return &Ingestor{logger: logger, events: events, metrics: metrics, dispatcher: dispatcher}
}

// Ingest persists one event batch and schedules analysis. Dispatch failures
// degrade to "accepted but unscheduled": the event's durability matters more
// than the job's, so they are logged, never surfaced to the producer.
func (ing *Ingestor) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if len(req.Events) == 0 {
		return nil, fmt.Errorf("%w: empty event batch", domain.ErrValidation)
	}

	for i := range req.Events {
		req.Events[i].Payload = RedactPayload(req.Events[i].Payload)
	}

	traceID := domain.TraceID(req.TraceID)
	if traceID == "" {
		traceID = domain.TraceID(uuid.NewString())
	}
	projectID := domain.ProjectID(req.ProjectID)

	var stored int
	var err error
	if req.Replay {
		stored = len(req.Events)
		err = ing.events.Replay(ctx, traceID, projectID, req.Events)
	} else {
		stored, err = ing.events.Append(ctx, traceID, projectID, req.Events)
	}
	if err != nil {
		return nil, err
	}

	ing.metrics.IngestAccepted(ctx, len(req.Events))

	result := &IngestResult{
		TraceID:        traceID,
		SessionID:      req.SessionID,
		EventsReceived: len(req.Events),
		EventsStored:   stored,
	}

	jobID, err := ing.dispatcher.Enqueue(ctx, traceID, req.SessionID)
	if err != nil {
		ing.logger.Warn("analysis not scheduled",
			"trace_id", traceID, "error", err)
	} else {
		result.JobID = jobID
	}

	ing.logger.Info("ingest accepted",
		"trace_id", traceID,
		"events_received", result.EventsReceived,
		"events_stored", stored,
		"job_id", result.JobID,
		"replay", req.Replay)
	return result, nil
}
