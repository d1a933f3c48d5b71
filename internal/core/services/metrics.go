package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter names as persisted in the store's metrics namespace.
const (
	CounterIngestRequests = "ingest_requests_total"
	CounterIngestEvents   = "ingest_events_total"
	CounterJobSuccess     = "job_success_total"
	CounterJobFailed      = "job_failed_total"
)

// CounterRepository is the minimal persistence interface needed by Metrics.
type CounterRepository interface {
	IncrCounter(ctx context.Context, name string, delta int64) error
	GetCounters(ctx context.Context) (map[string]int64, error)
}

// Metrics keeps durable pipeline counters in the store and mirrors them into
// prometheus. The durable copy survives restarts and feeds the JSON summary
// endpoint; prometheus covers scrape-based monitoring.
type Metrics struct {
	logger *slog.Logger
	repo   CounterRepository

	ingestRequests prometheus.Counter
	ingestEvents   prometheus.Counter
	jobSuccess     prometheus.Counter
	jobFailed      prometheus.Counter
}

func NewMetrics(logger *slog.Logger, repo CounterRepository, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		logger: logger,
		repo:   repo,
		ingestRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "inquest_ingest_requests_total",
			Help: "Accepted ingest requests.",
		}),
		ingestEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "inquest_ingest_events_total",
			Help: "Events accepted for storage.",
		}),
		jobSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "inquest_job_success_total",
			Help: "Forensics jobs that completed successfully.",
		}),
		jobFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "inquest_job_failed_total",
			Help: "Forensics jobs that exhausted retries or failed terminally.",
		}),
	}
}

func (m *Metrics) IngestAccepted(ctx context.Context, eventCount int) {
	m.ingestRequests.Inc()
	m.ingestEvents.Add(float64(eventCount))
	m.incr(ctx, CounterIngestRequests, 1)
	m.incr(ctx, CounterIngestEvents, int64(eventCount))
}

func (m *Metrics) JobSucceeded(ctx context.Context) {
	m.jobSuccess.Inc()
	m.incr(ctx, CounterJobSuccess, 1)
}

func (m *Metrics) JobFailed(ctx context.Context) {
	m.jobFailed.Inc()
	m.incr(ctx, CounterJobFailed, 1)
}

// Summary returns the durable counters, zero-filled for names never
// incremented so the summary shape is stable.
func (m *Metrics) Summary(ctx context.Context) (map[string]int64, error) {
	counters, err := m.repo.GetCounters(ctx)
	if err != nil {
		return nil, fmt.Errorf("load counters: %w", err)
	}
	for _, name := range []string{CounterIngestRequests, CounterIngestEvents, CounterJobSuccess, CounterJobFailed} {
		if _, ok := counters[name]; !ok {
			counters[name] = 0
		}
	}
	return counters, nil
}

// Counter increments are observability, not pipeline state: a failed write
// is logged and swallowed.
func (m *Metrics) incr(ctx context.Context, name string, delta int64) {
	if err := m.repo.IncrCounter(ctx, name, delta); err != nil {
		m.logger.Warn("counter increment failed", "counter", name, "error", err)
	}
}
