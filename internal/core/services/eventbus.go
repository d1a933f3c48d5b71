package services

import (
	"log/slog"
	"sync"
)

// AnalysisStage is one step of a trace's analysis lifecycle.
type AnalysisStage string

const (
	StageQueued    AnalysisStage = "queued"
	StageStarted   AnalysisStage = "started"
	StageCompleted AnalysisStage = "completed"
	StageFailed    AnalysisStage = "failed"
)

// AnalysisEvent is published by the dispatcher and worker as a job moves
// through its lifecycle; the kernel streams these over SSE per trace.
type AnalysisEvent struct {
	TraceID   string        `json:"trace_id"`
	JobID     string        `json:"job_id"`
	Stage     AnalysisStage `json:"stage"`
	Error     string        `json:"error,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

// EventBus is an in-process pub/sub keyed by trace id.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan AnalysisEvent
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan AnalysisEvent),
	}
}

// Subscribe returns a channel receiving events for one trace and an
// unsubscribe function that closes it.
func (b *EventBus) Subscribe(traceID string) (<-chan AnalysisEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan AnalysisEvent, 16) // buffer so publishers never block
	b.subs[traceID] = append(b.subs[traceID], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subscribers := b.subs[traceID]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[traceID] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[traceID]) == 0 {
			delete(b.subs, traceID)
		}
	}
	return ch, unsub
}

// Publish fans an event out to all subscribers of its trace. Full channels
// drop the event rather than blocking the pipeline.
func (b *EventBus) Publish(e AnalysisEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.TraceID] {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event",
				"trace_id", e.TraceID, "stage", e.Stage)
		}
	}
}
