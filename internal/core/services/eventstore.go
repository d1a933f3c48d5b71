package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/inquest-ai/inquest/internal/core/domain"
)

// EventRepository is the minimal persistence interface needed by EventStore.
type EventRepository interface {
	AppendEvents(ctx context.Context, traceID domain.TraceID, projectID domain.ProjectID, events []domain.TraceEvent) (int, error)
	ReplaceEvents(ctx context.Context, traceID domain.TraceID, projectID domain.ProjectID, events []domain.TraceEvent) error
	ListEvents(ctx context.Context, traceID domain.TraceID) ([]domain.TraceEvent, error)
	TraceExists(ctx context.Context, traceID domain.TraceID) (bool, error)
	IsFrozen(ctx context.Context, traceID domain.TraceID) (bool, error)
	ListTraceIDs(ctx context.Context, projectID domain.ProjectID) ([]domain.TraceID, error)
	DeleteTrace(ctx context.Context, traceID domain.TraceID) error
}

// EventStore owns the per-trace append-only event log: deduplication,
// chronological ordering, and replay-freeze semantics. Appends to the same
// trace are serialized through a per-trace lock so the dedup-merge
// read-modify-write never races with itself.
type EventStore struct {
	logger *slog.Logger
	repo   EventRepository

	mu    sync.Mutex
	locks map[domain.TraceID]*sync.Mutex
}

func NewEventStore(logger *slog.Logger, repo EventRepository) *EventStore {
	return &EventStore{
		logger: logger,
		repo:   repo,
		locks:  make(map[domain.TraceID]*sync.Mutex),
	}
}

func (s *EventStore) traceLock(traceID domain.TraceID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[traceID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[traceID] = lock
	}
	return lock
}

// Append stores a batch of live events for a trace. Events whose identity
// (timestamp + type + canonical payload) is already in the log are dropped,
// so re-ingestion is idempotent. The trace is registered under its project
// even when every event was a duplicate. Fails with domain.ErrTraceFrozen
// when the trace is a replayed recording.
func (s *EventStore) Append(ctx context.Context, traceID domain.TraceID, projectID domain.ProjectID, events []domain.TraceEvent) (int, error) {
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return 0, err
		}
	}
	if projectID == "" {
		projectID = domain.DefaultProject
	}

	lock := s.traceLock(traceID)
	lock.Lock()
	defer lock.Unlock()

	frozen, err := s.repo.IsFrozen(ctx, traceID)
	if err != nil {
		return 0, fmt.Errorf("check freeze flag: %w", err)
	}
	if frozen {
		return 0, fmt.Errorf("%w: trace %s", domain.ErrTraceFrozen, traceID)
	}

	stored, err := s.repo.AppendEvents(ctx, traceID, projectID, events)
	if err != nil {
		return 0, fmt.Errorf("append events: %w", err)
	}
	if stored < len(events) {
		s.logger.Debug("deduplicated events on append",
			"trace_id", traceID, "received", len(events), "stored", stored)
	}
	return stored, nil
}

// Replay replaces the entire event log with the given set and freezes the
// trace: it is now a fixed recording, closed to further live appends. A
// second replay is accepted and again fully replaces the log.
func (s *EventStore) Replay(ctx context.Context, traceID domain.TraceID, projectID domain.ProjectID, events []domain.TraceEvent) error {
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return err
		}
	}
	if projectID == "" {
		projectID = domain.DefaultProject
	}

	lock := s.traceLock(traceID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.repo.ReplaceEvents(ctx, traceID, projectID, events); err != nil {
		return fmt.Errorf("replace events: %w", err)
	}
	s.logger.Info("trace frozen by replay", "trace_id", traceID, "events", len(events))
	return nil
}

// List returns the trace's events sorted ascending by timestamp, insertion
// order breaking ties. Unknown traces yield domain.ErrNotFound.
func (s *EventStore) List(ctx context.Context, traceID domain.TraceID) ([]domain.TraceEvent, error) {
	exists, err := s.repo.TraceExists(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("check trace: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: trace %s", domain.ErrNotFound, traceID)
	}
	return s.repo.ListEvents(ctx, traceID)
}

func (s *EventStore) IsFrozen(ctx context.Context, traceID domain.TraceID) (bool, error) {
	return s.repo.IsFrozen(ctx, traceID)
}

func (s *EventStore) TraceIDs(ctx context.Context, projectID domain.ProjectID) ([]domain.TraceID, error) {
	return s.repo.ListTraceIDs(ctx, projectID)
}

// Delete tears down all per-trace state atomically from the caller's
// perspective: event log, freeze flag, report, run status, and the
// trace-to-project registration.
func (s *EventStore) Delete(ctx context.Context, traceID domain.TraceID) error {
	exists, err := s.repo.TraceExists(ctx, traceID)
	if err != nil {
		return fmt.Errorf("check trace: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: trace %s", domain.ErrNotFound, traceID)
	}

	lock := s.traceLock(traceID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.repo.DeleteTrace(ctx, traceID); err != nil {
		return fmt.Errorf("delete trace: %w", err)
	}

	s.mu.Lock()
	delete(s.locks, traceID)
	s.mu.Unlock()

	s.logger.Info("trace deleted", "trace_id", traceID)
	return nil
}
