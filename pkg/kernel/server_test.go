package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inquest-ai/inquest/internal/core/domain"
	"github.com/inquest-ai/inquest/internal/core/services"
)

// stubRepo backs the full service stack in-memory for boundary tests.
type stubRepo struct {
	mu        sync.Mutex
	events    map[domain.TraceID][]domain.TraceEvent
	projects  map[domain.TraceID]domain.ProjectID
	frozen    map[domain.TraceID]bool
	reports   map[domain.TraceID]domain.Report
	statuses  map[domain.TraceID]domain.RunStatus
	artifacts map[domain.ArtifactID]domain.Artifact
	counters  map[string]int64
	pingErr   error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		events:    make(map[domain.TraceID][]domain.TraceEvent),
		projects:  make(map[domain.TraceID]domain.ProjectID),
		frozen:    make(map[domain.TraceID]bool),
		reports:   make(map[domain.TraceID]domain.Report),
		statuses:  make(map[domain.TraceID]domain.RunStatus),
		artifacts: make(map[domain.ArtifactID]domain.Artifact),
		counters:  make(map[string]int64),
	}
}

func (s *stubRepo) AppendEvents(_ context.Context, traceID domain.TraceID, projectID domain.ProjectID, events []domain.TraceEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[traceID] = projectID
	seen := make(map[string]bool)
	for i := range s.events[traceID] {
		seen[s.events[traceID][i].Identity()] = true
	}
	stored := 0
	for i := range events {
		id := events[i].Identity()
		if seen[id] {
			continue
		}
		seen[id] = true
		s.events[traceID] = append(s.events[traceID], events[i])
		stored++
	}
	return stored, nil
}

func (s *stubRepo) ReplaceEvents(_ context.Context, traceID domain.TraceID, projectID domain.ProjectID, events []domain.TraceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[traceID] = projectID
	s.frozen[traceID] = true
	s.events[traceID] = append([]domain.TraceEvent(nil), events...)
	return nil
}

func (s *stubRepo) ListEvents(_ context.Context, traceID domain.TraceID) ([]domain.TraceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]domain.TraceEvent(nil), s.events[traceID]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.UnixMilli() < out[j].Timestamp.UnixMilli()
	})
	return out, nil
}

func (s *stubRepo) TraceExists(_ context.Context, traceID domain.TraceID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.projects[traceID]
	return ok, nil
}

func (s *stubRepo) IsFrozen(_ context.Context, traceID domain.TraceID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen[traceID], nil
}

func (s *stubRepo) ListTraceIDs(_ context.Context, projectID domain.ProjectID) ([]domain.TraceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []domain.TraceID
	for id, proj := range s.projects {
		if projectID != "" && proj != projectID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *stubRepo) DeleteTrace(_ context.Context, traceID domain.TraceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, traceID)
	delete(s.projects, traceID)
	delete(s.frozen, traceID)
	delete(s.reports, traceID)
	delete(s.statuses, traceID)
	return nil
}

func (s *stubRepo) GetReport(_ context.Context, traceID domain.TraceID) (domain.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.reports[traceID]
	if !ok {
		return domain.EmptyReport(), nil
	}
	return report, nil
}

func (s *stubRepo) SetRunStatus(_ context.Context, traceID domain.TraceID, status domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[traceID] = status
	return nil
}

func (s *stubRepo) GetRunStatus(_ context.Context, traceID domain.TraceID) (*domain.RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[traceID]
	if !ok {
		return nil, nil
	}
	return &status, nil
}

func (s *stubRepo) SaveArtifact(_ context.Context, artifact domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifact.ID] = artifact
	return nil
}

func (s *stubRepo) GetArtifact(_ context.Context, id domain.ArtifactID) (domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	artifact, ok := s.artifacts[id]
	if !ok {
		return domain.Artifact{}, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, id)
	}
	return artifact, nil
}

func (s *stubRepo) IncrCounter(_ context.Context, name string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += delta
	return nil
}

func (s *stubRepo) GetCounters(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out, nil
}

func (s *stubRepo) Ping(_ context.Context) error { return s.pingErr }

type stubDispatcher struct {
	mu       sync.Mutex
	enqueued []domain.TraceID
	err      error
}

func (d *stubDispatcher) Enqueue(_ context.Context, traceID domain.TraceID, _ string) (domain.JobID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.enqueued = append(d.enqueued, traceID)
	return "job_test", nil
}

type testEnv struct {
	repo       *stubRepo
	dispatcher *stubDispatcher
	limiter    *services.RateLimiter
	handler    http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := newStubRepo()
	dispatcher := &stubDispatcher{}
	limiter := services.NewRateLimiter(time.Minute, 1000)

	store := services.NewEventStore(logger, repo)
	metrics := services.NewMetrics(logger, repo, prometheus.NewRegistry())
	ingestor := services.NewIngestor(logger, store, metrics, dispatcher)
	reports := services.NewReports(logger, repo)
	artifacts := services.NewArtifacts(logger, repo)
	bus := services.NewEventBus(logger)

	server := NewServer(logger, ingestor, store, reports, artifacts,
		metrics, bus, dispatcher, limiter, repo, 1<<20)
	return &testEnv{
		repo:       repo,
		dispatcher: dispatcher,
		limiter:    limiter,
		handler:    server.Handler(),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func ingestBody(traceID string, replay bool, events ...map[string]any) map[string]any {
	raw := make([]any, len(events))
	for i, e := range events {
		raw[i] = e
	}
	body := map[string]any{"trace_id": traceID, "events": raw}
	if replay {
		body["replay"] = true
	}
	return body
}

func wireEvent(traceID string, ts int64, payload map[string]any) map[string]any {
	return map[string]any{
		"type":          "model_output",
		"trace_context": map[string]any{"trace_id": traceID},
		"timestamp":     ts,
		"payload":       payload,
	}
}

func TestIngestEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/v1/ingest",
		ingestBody("t1", false, wireEvent("t1", 1000, map[string]any{"text": "hi", "api_key": "sk-x"})))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp IngestResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "t1", resp.TraceID)
	assert.Equal(t, 1, resp.EventsReceived)
	assert.Equal(t, 1, resp.EventsStored)
	assert.Equal(t, "job_test", resp.JobID)

	stored := env.repo.events["t1"]
	require.Len(t, stored, 1)
	assert.Equal(t, "[REDACTED]", stored[0].Payload["api_key"])
}

func TestIngestValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body any
		code int
	}{
		{"not json", "{nope", http.StatusBadRequest},
		{"no events", map[string]any{"trace_id": "t1"}, http.StatusBadRequest},
		{"unknown event type", ingestBody("t1", false, map[string]any{
			"type":          "mind_reading",
			"trace_context": map[string]any{"trace_id": "t1"},
			"timestamp":     1000,
			"payload":       map[string]any{},
		}), http.StatusBadRequest},
		{"missing trace context", ingestBody("t1", false, map[string]any{
			"type":      "model_output",
			"timestamp": 1000,
			"payload":   map[string]any{},
		}), http.StatusBadRequest},
		{"missing payload", ingestBody("t1", false, map[string]any{
			"type":          "model_output",
			"trace_context": map[string]any{"trace_id": "t1"},
			"timestamp":     1000,
		}), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, "POST", "/v1/ingest", tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
}

func TestIngestISOTimestampAccepted(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/v1/ingest", ingestBody("t1", false, map[string]any{
		"type":          "user_input",
		"trace_context": map[string]any{"trace_id": "t1"},
		"timestamp":     "2026-02-04T10:00:00Z",
		"payload":       map[string]any{"text": "hello"},
	}))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestIngestFrozenTraceConflicts(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/v1/ingest",
		ingestBody("t1", true, wireEvent("t1", 1000, map[string]any{"text": "recorded"})))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, "POST", "/v1/ingest",
		ingestBody("t1", false, wireEvent("t1", 2000, map[string]any{"text": "live"})))
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestIngestRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.limiter = services.NewRateLimiter(time.Minute, 2)
	// Rebuild with the stricter limiter.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := services.NewEventStore(logger, env.repo)
	metrics := services.NewMetrics(logger, env.repo, prometheus.NewRegistry())
	ingestor := services.NewIngestor(logger, store, metrics, env.dispatcher)
	server := NewServer(logger, ingestor, store, services.NewReports(logger, env.repo),
		services.NewArtifacts(logger, env.repo), metrics, services.NewEventBus(logger),
		env.dispatcher, env.limiter, env.repo, 1<<20)
	env.handler = server.Handler()

	body := ingestBody("t1", false, wireEvent("t1", 1000, map[string]any{"text": "x"}))
	assert.Equal(t, http.StatusOK, env.do(t, "POST", "/v1/ingest", body).Code)
	assert.Equal(t, http.StatusOK, env.do(t, "POST", "/v1/ingest", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, "POST", "/v1/ingest", body).Code)
}

func TestIngestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t)

	huge := ingestBody("t1", false, wireEvent("t1", 1000, map[string]any{
		"blob": strings.Repeat("x", 2<<20),
	}))
	rec := env.do(t, "POST", "/v1/ingest", huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestListRunsAndStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/v1/ingest",
		ingestBody("t1", false, wireEvent("t1", 1000, map[string]any{"text": "a"})))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "POST", "/v1/runs/t1/status", StatusUpdateBody{
		Status: "failed", FailureReason: "bad input", FailureEventID: "e1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, "GET", "/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list RunListResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, domain.RunFailed, list.Runs[0].Status)
	assert.Equal(t, "bad input", list.Runs[0].FailureReason)
}

func TestStatusUpdateValidation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/v1/ingest",
		ingestBody("t1", false, wireEvent("t1", 1000, map[string]any{"text": "a"})))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "POST", "/v1/runs/t1/status", StatusUpdateBody{Status: "running"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "running is implicit, never written")

	rec = env.do(t, "POST", "/v1/runs/t1/status", StatusUpdateBody{Status: "succeeded"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "succeeded is seeder-only, not reportable")

	rec = env.do(t, "POST", "/v1/runs/t1/status", StatusUpdateBody{Status: "analyzed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "analyzed is derived, never written")

	rec = env.do(t, "POST", "/v1/runs/ghost/status", StatusUpdateBody{Status: "failed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetReport(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/v1/ingest",
		ingestBody("t1", false, wireEvent("t1", 1000, map[string]any{"text": "a"})))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/v1/runs/t1/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report domain.AssembledReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Len(t, report.Timeline, 1)
	assert.Nil(t, report.Verdict)
	assert.NotNil(t, report.CausalGraph.Nodes)

	rec = env.do(t, "GET", "/v1/runs/ghost/report", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRun(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/v1/ingest",
		ingestBody("t1", false, wireEvent("t1", 1000, map[string]any{"text": "a"})))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNoContent, env.do(t, "DELETE", "/v1/runs/t1", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "DELETE", "/v1/runs/t1", nil).Code)
}

func TestAnalyzeEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/v1/ingest",
		ingestBody("t1", false, wireEvent("t1", 1000, map[string]any{"text": "a"})))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "POST", "/v1/runs/t1/analyze", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp AnalyzeResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)

	rec = env.do(t, "POST", "/v1/runs/ghost/analyze", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.dispatcher.err = domain.ErrDispatchUnavailable
	rec = env.do(t, "POST", "/v1/runs/t1/analyze", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestArtifactEndpoints(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/v1/artifacts?id=shot-1", strings.NewReader("png-bytes"))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec2 := env.do(t, "GET", "/v1/artifacts/shot-1", nil)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, "image/png", rec2.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", rec2.Body.String())
	assert.NotEmpty(t, rec2.Header().Get("X-Artifact-SHA256"))

	// Unsupported media type.
	req = httptest.NewRequest("POST", "/v1/artifacts?id=exe", strings.NewReader("MZ"))
	req.Header.Set("Content-Type", "application/x-msdownload")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	// Missing id.
	req = httptest.NewRequest("POST", "/v1/artifacts", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/v1/artifacts/ghost", nil).Code)
}

func TestArtifactScoping(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/v1/artifacts?id=linked", strings.NewReader("data"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec2 := env.do(t, "POST", "/v1/ingest", ingestBody("t1", false, wireEvent("t1", 1000, map[string]any{
		"tool_name":  "browser",
		"output_ref": map[string]any{"key": "linked"},
	})))
	require.Equal(t, http.StatusOK, rec2.Code)

	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/v1/artifacts/linked?trace_id=t1", nil).Code)

	req = httptest.NewRequest("POST", "/v1/artifacts?id=orphan", strings.NewReader("data"))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, http.StatusForbidden, env.do(t, "GET", "/v1/artifacts/orphan?trace_id=t1", nil).Code)
}

func TestArtifactCorruptionSurfaces(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/v1/artifacts?id=art-1", strings.NewReader("original"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	env.repo.mu.Lock()
	stored := env.repo.artifacts["art-1"]
	stored.Data = []byte("tampered")
	env.repo.artifacts["art-1"] = stored
	env.repo.mu.Unlock()

	assert.Equal(t, http.StatusInternalServerError, env.do(t, "GET", "/v1/artifacts/art-1", nil).Code)
}

func TestMetricsSummary(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/v1/metrics/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Contains(t, summary, "ingest_requests_total")
	assert.Contains(t, summary, "job_failed_total")
	assert.Equal(t, int64(0), summary["ingest_requests_total"])

	rec = env.do(t, "POST", "/v1/ingest",
		ingestBody("t1", false, wireEvent("t1", 1000, map[string]any{"text": "a"})))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/v1/metrics/summary", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, int64(1), summary["ingest_requests_total"])
	assert.Equal(t, int64(1), summary["ingest_events_total"])
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/v1/ready", nil).Code)

	env.repo.pingErr = fmt.Errorf("db gone")
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, "GET", "/v1/ready", nil).Code)
}

func TestClientKeyPrecedence(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/ingest", nil)
	assert.Equal(t, "default", clientKey(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", clientKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientKey(req))
}
