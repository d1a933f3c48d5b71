// Package kernel is the HTTP boundary of the forensics pipeline: ingest
// admission, run and report reads, artifact transfer, job scheduling, and the
// SSE progress stream.
package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inquest-ai/inquest/internal/core/domain"
	"github.com/inquest-ai/inquest/internal/core/ports"
	"github.com/inquest-ai/inquest/internal/core/services"
)

type Server struct {
	logger     *slog.Logger
	ingestor   *services.Ingestor
	events     *services.EventStore
	reports    *services.Reports
	artifacts  *services.Artifacts
	metrics    *services.Metrics
	bus        *services.EventBus
	dispatcher ports.Dispatcher
	limiter    *services.RateLimiter

	ready interface {
		Ping(ctx context.Context) error
	}
	maxIngestBytes int64
}

func NewServer(
	logger *slog.Logger,
	ingestor *services.Ingestor,
	events *services.EventStore,
	reports *services.Reports,
	artifacts *services.Artifacts,
	metrics *services.Metrics,
	bus *services.EventBus,
	dispatcher ports.Dispatcher,
	limiter *services.RateLimiter,
	ready interface {
		Ping(ctx context.Context) error
	},
	maxIngestBytes int64,
) *Server {
	if maxIngestBytes <= 0 {
		maxIngestBytes = 1 << 20
	}
	return &Server{
		logger:         logger,
		ingestor:       ingestor,
		events:         events,
		reports:        reports,
		artifacts:      artifacts,
		metrics:        metrics,
		bus:            bus,
		dispatcher:     dispatcher,
		limiter:        limiter,
		ready:          ready,
		maxIngestBytes: maxIngestBytes,
	}
}

// Handler returns the http.Handler with all pipeline routes mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/ingest", s.handleIngest)
	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("DELETE /v1/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /v1/runs/{id}/report", s.handleGetReport)
	mux.HandleFunc("POST /v1/runs/{id}/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /v1/runs/{id}/status", s.handleSetStatus)
	mux.HandleFunc("GET /v1/runs/{id}/events", s.handleAnalysisSSE)
	mux.HandleFunc("POST /v1/artifacts", s.handlePutArtifact)
	mux.HandleFunc("GET /v1/artifacts/{id}", s.handleGetArtifact)
	mux.HandleFunc("GET /v1/metrics/summary", s.handleMetricsSummary)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/ready", s.handleReady)

	return mux
}

// clientKey identifies the caller for rate limiting: proxy headers first,
// then a shared default bucket for direct local traffic.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	return "default"
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := s.limiter.Admit(clientKey(r)); err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		s.logger.Error("admission check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxIngestBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload exceeds ingest size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	var req IngestRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "events array is required and must be non-empty")
		return
	}

	events := make([]domain.TraceEvent, 0, len(req.Events))
	for i, raw := range req.Events {
		event, err := validateEvent(raw)
		if err != nil {
			s.logger.Warn("ingest rejected", "event_index", i, "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		events = append(events, event)
	}

	result, err := s.ingestor.Ingest(r.Context(), services.IngestRequest{
		TraceID:   req.TraceID,
		SessionID: req.SessionID,
		ProjectID: req.ProjectID,
		Replay:    req.Replay,
		Events:    events,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTraceFrozen):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("ingest failed", "error", err)
			writeError(w, http.StatusInternalServerError, "ingest failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, IngestResponseBody{
		Success:        true,
		TraceID:        string(result.TraceID),
		SessionID:      result.SessionID,
		EventsReceived: result.EventsReceived,
		EventsStored:   result.EventsStored,
		JobID:          string(result.JobID),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	projectID := domain.ProjectID(r.URL.Query().Get("project_id"))
	runs, err := s.reports.ListRuns(r.Context(), projectID)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	writeJSON(w, http.StatusOK, RunListResponseBody{Runs: runs})
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	traceID := domain.TraceID(r.PathValue("id"))
	if err := s.events.Delete(r.Context(), traceID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("delete run failed", "trace_id", traceID, "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	traceID := domain.TraceID(r.PathValue("id"))
	report, err := s.reports.Assemble(r.Context(), traceID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrStorageCorrupted):
			s.logger.Error("report read hit corrupted state", "trace_id", traceID, "error", err)
			writeError(w, http.StatusInternalServerError, "stored state is corrupted")
		default:
			s.logger.Error("assemble report failed", "trace_id", traceID, "error", err)
			writeError(w, http.StatusInternalServerError, "report failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	traceID := domain.TraceID(r.PathValue("id"))
	if _, err := s.events.List(r.Context(), traceID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("analyze precheck failed", "trace_id", traceID, "error", err)
		writeError(w, http.StatusInternalServerError, "analyze failed")
		return
	}

	jobID, err := s.dispatcher.Enqueue(r.Context(), traceID, "")
	if err != nil {
		if errors.Is(err, domain.ErrDispatchUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.logger.Error("enqueue failed", "trace_id", traceID, "error", err)
		writeError(w, http.StatusInternalServerError, "analyze failed")
		return
	}

	writeJSON(w, http.StatusAccepted, AnalyzeResponseBody{
		JobID:   string(jobID),
		TraceID: string(traceID),
		Status:  "queued",
	})
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	traceID := domain.TraceID(r.PathValue("id"))

	var req StatusUpdateBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	// The boundary admits only the two externally-reported outcomes. The
	// store itself can hold more (the seeder writes succeeded directly).
	state := domain.RunState(req.Status)
	if state != domain.RunFailed && state != domain.RunCompleted {
		writeError(w, http.StatusBadRequest, "status must be one of: failed, completed")
		return
	}

	err := s.reports.SetStatus(r.Context(), traceID, domain.RunStatus{
		Status:         state,
		FailureReason:  req.FailureReason,
		FailureEventID: req.FailureEventID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("set status failed", "trace_id", traceID, "error", err)
		writeError(w, http.StatusInternalServerError, "status update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "trace_id": traceID, "status": state})
}

func (s *Server) handlePutArtifact(w http.ResponseWriter, r *http.Request) {
	id := domain.ArtifactID(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id query parameter is required")
		return
	}
	contentType := r.Header.Get("Content-Type")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, domain.MaxArtifactBytes+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "artifact exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	if err := s.artifacts.Put(r.Context(), id, contentType, data); err != nil {
		switch {
		case errors.Is(err, domain.ErrArtifactTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, domain.ErrInvalidContentType):
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
		case errors.Is(err, domain.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("artifact put failed", "artifact_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "artifact store failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "artifact_id": id})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id := domain.ArtifactID(r.PathValue("id"))

	var artifact domain.Artifact
	var err error
	if traceID := r.URL.Query().Get("trace_id"); traceID != "" {
		artifact, err = s.artifacts.GetScoped(r.Context(), domain.TraceID(traceID), id)
	} else {
		artifact, err = s.artifacts.Get(r.Context(), id)
	}
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrForbidden):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrStorageCorrupted):
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			s.logger.Error("artifact get failed", "artifact_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "artifact read failed")
		}
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("X-Artifact-SHA256", artifact.SHA256)
	w.WriteHeader(http.StatusOK)
	w.Write(artifact.Data) //nolint:errcheck
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.metrics.Summary(r.Context())
	if err != nil {
		s.logger.Error("metrics summary failed", "error", err)
		writeError(w, http.StatusInternalServerError, "metrics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.ready.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponseBody{Error: msg})
}
