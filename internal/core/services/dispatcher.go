package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/inquest-ai/inquest/internal/core/domain"
	"golang.org/x/sync/semaphore"
)

// ErrJobTerminal wraps a handler error that must not be retried: the job goes
// straight to the dead-letter queue.
var ErrJobTerminal = errors.New("terminal job failure")

// DispatcherConfig defines the retry and concurrency policy.
type DispatcherConfig struct {
	MaxConcurrent int64         // simultaneous analyzer calls
	MaxAttempts   int           // attempts per job before dead-lettering
	BackoffBase   time.Duration // doubled after each failed attempt
	QueueSize     int           // pending jobs before Enqueue degrades
	KeepCompleted int           // completed job records retained
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.KeepCompleted <= 0 {
		c.KeepCompleted = 100
	}
	return c
}

// JobRepository is the minimal persistence interface needed by Dispatcher.
type JobRepository interface {
	SaveJob(ctx context.Context, job domain.Job) error
	PruneCompletedJobs(ctx context.Context, keep int) error
	PushDeadLetter(ctx context.Context, letter domain.DeadLetter) error
}

// JobHandler executes one analysis job.
type JobHandler func(ctx context.Context, job domain.Job) error

// Dispatcher queues analysis jobs, retries them with exponential backoff,
// and routes exhausted jobs to the dead-letter queue. Worker concurrency is
// capped by a weighted semaphore to bound simultaneous analyzer calls.
type Dispatcher struct {
	logger  *slog.Logger
	repo    JobRepository
	metrics *Metrics
	bus     *EventBus
	cfg     DispatcherConfig

	queue chan domain.Job
	sem   *semaphore.Weighted
}

func NewDispatcher(logger *slog.Logger, repo JobRepository, metrics *Metrics, bus *EventBus, cfg DispatcherConfig) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		logger:  logger,
		repo:    repo,
		metrics: metrics,
		bus:     bus,
		cfg:     cfg,
		queue:   make(chan domain.Job, cfg.QueueSize),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// Enqueue schedules one analysis job for a trace. Non-blocking: a full queue
// or failed job persist degrades to domain.ErrDispatchUnavailable so the
// caller can decide whether ingestion should care.
func (d *Dispatcher) Enqueue(ctx context.Context, traceID domain.TraceID, sessionID string) (domain.JobID, error) {
	now := time.Now().UTC()
	job := domain.Job{
		ID:        domain.JobID("job_" + uuid.NewString()[:8]),
		TraceID:   traceID,
		SessionID: sessionID,
		Status:    domain.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.repo.SaveJob(ctx, job); err != nil {
		return "", fmt.Errorf("%w: persist job: %v", domain.ErrDispatchUnavailable, err)
	}

	select {
	case d.queue <- job:
		d.logger.Info("job enqueued", "job_id", job.ID, "trace_id", traceID)
		d.bus.Publish(AnalysisEvent{
			TraceID:   string(traceID),
			JobID:     string(job.ID),
			Stage:     StageQueued,
			Timestamp: now.UnixMilli(),
		})
		return job.ID, nil
	default:
		return "", fmt.Errorf("%w: queue full", domain.ErrDispatchUnavailable)
	}
}

// Start consumes the queue until ctx is cancelled, executing each job under
// the concurrency cap.
func (d *Dispatcher) Start(ctx context.Context, handler JobHandler) {
	d.logger.Info("starting dispatcher",
		"concurrency", d.cfg.MaxConcurrent, "max_attempts", d.cfg.MaxAttempts)

	go func() {
		for {
			select {
			case <-ctx.Done():
				d.logger.Info("stopping dispatcher")
				return
			case job := <-d.queue:
				if err := d.sem.Acquire(ctx, 1); err != nil {
					return
				}
				go func(j domain.Job) {
					defer d.sem.Release(1)
					d.runJob(ctx, j, handler)
				}(job)
			}
		}
	}()
}

func (d *Dispatcher) runJob(ctx context.Context, job domain.Job, handler JobHandler) {
	d.bus.Publish(AnalysisEvent{
		TraceID:   string(job.TraceID),
		JobID:     string(job.ID),
		Stage:     StageStarted,
		Timestamp: time.Now().UnixMilli(),
	})

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		job.Status = domain.JobRunning
		job.Attempts = attempt
		job.UpdatedAt = time.Now().UTC()
		d.saveJob(ctx, job)

		lastErr = handler(ctx, job)
		if lastErr == nil {
			d.completeJob(ctx, job)
			return
		}

		job.LastError = lastErr.Error()
		d.logger.Warn("job attempt failed",
			"job_id", job.ID, "trace_id", job.TraceID, "attempt", attempt, "error", lastErr)

		if errors.Is(lastErr, ErrJobTerminal) {
			break
		}
		if attempt < d.cfg.MaxAttempts {
			backoff := d.cfg.BackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				d.failJob(ctx, job, ctx.Err())
				return
			case <-time.After(backoff):
			}
		}
	}
	d.failJob(ctx, job, lastErr)
}

func (d *Dispatcher) completeJob(ctx context.Context, job domain.Job) {
	job.Status = domain.JobCompleted
	job.LastError = ""
	job.UpdatedAt = time.Now().UTC()
	d.saveJob(ctx, job)
	d.metrics.JobSucceeded(ctx)
	if err := d.repo.PruneCompletedJobs(ctx, d.cfg.KeepCompleted); err != nil {
		d.logger.Warn("job prune failed", "error", err)
	}
	d.bus.Publish(AnalysisEvent{
		TraceID:   string(job.TraceID),
		JobID:     string(job.ID),
		Stage:     StageCompleted,
		Timestamp: time.Now().UnixMilli(),
	})
	d.logger.Info("job completed", "job_id", job.ID, "trace_id", job.TraceID, "attempts", job.Attempts)
}

// failJob records the exhausted job and pushes exactly one dead-letter row,
// a distinct destination from the retry cycle, kept for offline inspection.
func (d *Dispatcher) failJob(ctx context.Context, job domain.Job, cause error) {
	job.Status = domain.JobFailed
	if cause != nil {
		job.LastError = cause.Error()
	}
	job.UpdatedAt = time.Now().UTC()
	d.saveJob(ctx, job)
	d.metrics.JobFailed(ctx)

	letter := domain.DeadLetter{
		TraceID:  job.TraceID,
		JobID:    job.ID,
		Error:    job.LastError,
		FailedAt: time.Now().UTC(),
	}
	if err := d.repo.PushDeadLetter(ctx, letter); err != nil {
		d.logger.Error("dead-letter push failed",
			"job_id", job.ID, "trace_id", job.TraceID, "error", err)
	}

	d.bus.Publish(AnalysisEvent{
		TraceID:   string(job.TraceID),
		JobID:     string(job.ID),
		Stage:     StageFailed,
		Error:     job.LastError,
		Timestamp: time.Now().UnixMilli(),
	})
	d.logger.Error("job dead-lettered",
		"job_id", job.ID, "trace_id", job.TraceID, "attempts", job.Attempts, "error", job.LastError)
}

// Job state writes are bookkeeping around the handler call; a failed write
// must not abort the retry cycle.
func (d *Dispatcher) saveJob(ctx context.Context, job domain.Job) {
	if err := d.repo.SaveJob(ctx, job); err != nil {
		d.logger.Warn("job state write failed", "job_id", job.ID, "error", err)
	}
}
