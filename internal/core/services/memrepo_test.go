package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/inquest-ai/inquest/internal/core/domain"
)

// memRepo is an in-memory stand-in for the DuckDB repository, implementing
// the event, report, run, and artifact repository interfaces the services
// consume. Behavior mirrors the real adapter: identity dedup, ts+seq
// ordering, freeze-on-replace, empty defaults on missing reports.
type memRepo struct {
	mu        sync.Mutex
	events    map[domain.TraceID][]domain.TraceEvent
	projects  map[domain.TraceID]domain.ProjectID
	frozen    map[domain.TraceID]bool
	reports   map[domain.TraceID]domain.Report
	statuses  map[domain.TraceID]domain.RunStatus
	artifacts map[domain.ArtifactID]domain.Artifact
	counters  map[string]int64

	failListEvents bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		events:    make(map[domain.TraceID][]domain.TraceEvent),
		projects:  make(map[domain.TraceID]domain.ProjectID),
		frozen:    make(map[domain.TraceID]bool),
		reports:   make(map[domain.TraceID]domain.Report),
		statuses:  make(map[domain.TraceID]domain.RunStatus),
		artifacts: make(map[domain.ArtifactID]domain.Artifact),
		counters:  make(map[string]int64),
	}
}

func (m *memRepo) AppendEvents(_ context.Context, traceID domain.TraceID, projectID domain.ProjectID, events []domain.TraceEvent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[traceID] = projectID

	seen := make(map[string]bool)
	for i := range m.events[traceID] {
		seen[m.events[traceID][i].Identity()] = true
	}
	stored := 0
	for i := range events {
		id := events[i].Identity()
		if seen[id] {
			continue
		}
		seen[id] = true
		m.events[traceID] = append(m.events[traceID], events[i])
		stored++
	}
	return stored, nil
}

func (m *memRepo) ReplaceEvents(_ context.Context, traceID domain.TraceID, projectID domain.ProjectID, events []domain.TraceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[traceID] = projectID
	m.frozen[traceID] = true

	seen := make(map[string]bool)
	var deduped []domain.TraceEvent
	for i := range events {
		id := events[i].Identity()
		if seen[id] {
			continue
		}
		seen[id] = true
		deduped = append(deduped, events[i])
	}
	m.events[traceID] = deduped
	return nil
}

func (m *memRepo) ListEvents(_ context.Context, traceID domain.TraceID) ([]domain.TraceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failListEvents {
		return nil, fmt.Errorf("storage down")
	}
	out := append([]domain.TraceEvent(nil), m.events[traceID]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.UnixMilli() < out[j].Timestamp.UnixMilli()
	})
	return out, nil
}

func (m *memRepo) TraceExists(_ context.Context, traceID domain.TraceID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.projects[traceID]
	return ok, nil
}

func (m *memRepo) IsFrozen(_ context.Context, traceID domain.TraceID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frozen[traceID], nil
}

func (m *memRepo) ListTraceIDs(_ context.Context, projectID domain.ProjectID) ([]domain.TraceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []domain.TraceID
	for id, proj := range m.projects {
		if projectID != "" && proj != projectID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memRepo) DeleteTrace(_ context.Context, traceID domain.TraceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, traceID)
	delete(m.projects, traceID)
	delete(m.frozen, traceID)
	delete(m.reports, traceID)
	delete(m.statuses, traceID)
	return nil
}

func (m *memRepo) SaveReport(_ context.Context, traceID domain.TraceID, report domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[traceID] = report
	return nil
}

func (m *memRepo) GetReport(_ context.Context, traceID domain.TraceID) (domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[traceID]
	if !ok {
		return domain.EmptyReport(), nil
	}
	return report, nil
}

func (m *memRepo) SetRunStatus(_ context.Context, traceID domain.TraceID, status domain.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[traceID] = status
	return nil
}

func (m *memRepo) GetRunStatus(_ context.Context, traceID domain.TraceID) (*domain.RunStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[traceID]
	if !ok {
		return nil, nil
	}
	return &status, nil
}

func (m *memRepo) SaveArtifact(_ context.Context, artifact domain.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[artifact.ID] = artifact
	return nil
}

func (m *memRepo) GetArtifact(_ context.Context, id domain.ArtifactID) (domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	artifact, ok := m.artifacts[id]
	if !ok {
		return domain.Artifact{}, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, id)
	}
	return artifact, nil
}

func (m *memRepo) IncrCounter(_ context.Context, name string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
	return nil
}

func (m *memRepo) GetCounters(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out, nil
}
