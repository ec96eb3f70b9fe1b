// Package service implements the job intake and lifecycle orchestration
// between the HTTP layer, the queue, the worker pool, and the job store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/rcoury/transcodarr/internal/models"
	"github.com/rcoury/transcodarr/internal/queue"
	"github.com/rcoury/transcodarr/internal/repository"
	"github.com/rcoury/transcodarr/internal/worker"
)

var (
	// ErrCapacityExceeded is returned when the queue cannot admit a job.
	ErrCapacityExceeded = errors.New("queue capacity exceeded")
	// ErrShuttingDown is returned for submissions during shutdown.
	ErrShuttingDown = errors.New("service is shutting down")
	// ErrJobNotFound is returned when no job exists with the given ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotCancellable is returned when cancelling a terminal job.
	ErrNotCancellable = errors.New("job is already in a terminal state")
	// ErrNotTerminal is returned when deleting a queued or running job.
	ErrNotTerminal = errors.New("job has not finished")
)

// SubmitRequest carries the fields accepted at job intake.
type SubmitRequest struct {
	SourceURL      string
	Preset         string
	Container      string
	VideoCodec     string
	AudioCodec     string
	ExtraArgs      string
	TimeoutSeconds int
}

// QueueStats describes the in-memory queue alongside job store counts.
type QueueStats struct {
	models.JobStats
	QueueDepth    int `json:"queue_depth"`
	QueueCapacity int `json:"queue_capacity"`
	WorkerCount   int `json:"worker_count"`
}

// JobService coordinates the job lifecycle.
type JobService struct {
	repo        repository.JobRepository
	queue       *queue.Queue
	pool        *worker.Pool
	workerCount int
	logger      *slog.Logger
	draining    atomic.Bool
}

// NewJobService creates the service.
func NewJobService(repo repository.JobRepository, q *queue.Queue, pool *worker.Pool, workerCount int, logger *slog.Logger) *JobService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{
		repo:        repo,
		queue:       q,
		pool:        pool,
		workerCount: workerCount,
		logger:      logger.With(slog.String("component", "jobs")),
	}
}

// Submit validates and admits a new job. The job is persisted first so a
// record exists even if admission fails, then removed again when the queue
// rejects it.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	if s.draining.Load() {
		return nil, ErrShuttingDown
	}

	job := &models.Job{
		SourceURL:      req.SourceURL,
		Preset:         models.TargetPreset(req.Preset),
		Container:      req.Container,
		VideoCodec:     req.VideoCodec,
		AudioCodec:     req.AudioCodec,
		ExtraArgs:      req.ExtraArgs,
		TimeoutSeconds: req.TimeoutSeconds,
		Status:         models.JobStatusQueued,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting job: %w", err)
	}

	if err := s.queue.Enqueue(job.ID); err != nil {
		if delErr := s.repo.Delete(ctx, job.ID); delErr != nil {
			s.logger.Error("removing rejected job failed",
				slog.String("job_id", job.ID.String()),
				slog.String("error", delErr.Error()),
			)
		}
		switch {
		case errors.Is(err, queue.ErrQueueFull):
			return nil, ErrCapacityExceeded
		case errors.Is(err, queue.ErrQueueClosed):
			return nil, ErrShuttingDown
		default:
			return nil, fmt.Errorf("enqueueing job: %w", err)
		}
	}

	s.logger.Info("job accepted",
		slog.String("job_id", job.ID.String()),
		slog.String("preset", string(job.Preset)),
		slog.Int("queue_depth", s.queue.Depth()),
	)
	return job, nil
}

// Get returns a job by ID.
func (s *JobService) Get(ctx context.Context, id models.ULID) (*models.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// List returns jobs, newest first, optionally filtered by status.
func (s *JobService) List(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	return s.repo.GetAll(ctx, status)
}

// Queued returns waiting jobs in dequeue order.
func (s *JobService) Queued(ctx context.Context) ([]*models.Job, error) {
	return s.repo.GetQueued(ctx)
}

// Running returns jobs currently executing.
func (s *JobService) Running(ctx context.Context) ([]*models.Job, error) {
	return s.repo.GetRunning(ctx)
}

// Stats aggregates job store counts with queue and pool occupancy.
func (s *JobService) Stats(ctx context.Context) (*QueueStats, error) {
	jobStats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueStats{
		JobStats:      *jobStats,
		QueueDepth:    s.queue.Depth(),
		QueueCapacity: s.queue.Capacity(),
		WorkerCount:   s.workerCount,
	}, nil
}

// Cancel aborts a job. Queued jobs are pulled from the queue and marked
// cancelled immediately; running jobs have their process terminated and
// transition once the worker observes the cancellation.
func (s *JobService) Cancel(ctx context.Context, id models.ULID) (*models.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, ErrNotCancellable
	}

	if job.IsQueued() && s.queue.Remove(id) {
		if err := job.MarkCancelled(); err != nil {
			return nil, err
		}
		if err := s.repo.Update(ctx, job); err != nil {
			return nil, fmt.Errorf("persisting cancellation: %w", err)
		}
		s.logger.Info("queued job cancelled", slog.String("job_id", id.String()))
		return job, nil
	}

	// Either already running or dequeued between the status read and the
	// queue removal; terminate the running process if there is one.
	if s.pool.Cancel(id) {
		s.logger.Info("running job cancellation requested", slog.String("job_id", id.String()))
		return job, nil
	}

	// The job finished in the meantime.
	job, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, ErrNotCancellable
	}
	return job, nil
}

// Delete acknowledges a terminal job, removing its record and output file.
func (s *JobService) Delete(ctx context.Context, id models.ULID) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return ErrNotTerminal
	}

	if job.OutputPath != "" {
		if err := os.Remove(job.OutputPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing output file failed",
				slog.String("job_id", id.String()),
				slog.String("output", job.OutputPath),
				slog.String("error", err.Error()),
			)
		}
	}

	return s.repo.Delete(ctx, id)
}

// Recover repairs state after an unclean shutdown: jobs stuck in running are
// marked failed and surviving queued jobs are readmitted to the queue.
func (s *JobService) Recover(ctx context.Context) error {
	reset, err := s.repo.ResetRunning(ctx, models.ReasonShutdown)
	if err != nil {
		return fmt.Errorf("resetting running jobs: %w", err)
	}
	if reset > 0 {
		s.logger.Warn("marked orphaned running jobs as failed", slog.Int64("count", reset))
	}

	queued, err := s.repo.GetQueued(ctx)
	if err != nil {
		return fmt.Errorf("loading queued jobs: %w", err)
	}
	for _, job := range queued {
		if err := s.queue.Enqueue(job.ID); err != nil {
			if failErr := job.MarkFailed(models.ReasonShutdown); failErr == nil {
				_ = s.repo.Update(ctx, job)
			}
			s.logger.Warn("could not readmit queued job",
				slog.String("job_id", job.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(queued) > 0 {
		s.logger.Info("readmitted queued jobs", slog.Int("count", len(queued)))
	}
	return nil
}

// Draining reports whether shutdown has begun. Readiness checks use this to
// stop advertising the instance.
func (s *JobService) Draining() bool {
	return s.draining.Load()
}

// Shutdown stops intake, closes the queue, and drains the worker pool.
func (s *JobService) Shutdown(ctx context.Context) error {
	if !s.draining.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("shutting down job service")
	s.queue.Close()
	return s.pool.Shutdown(ctx)
}
