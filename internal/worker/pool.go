// Package worker runs the fixed pool of goroutines that drain the job queue
// and supervise transcode executions.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rcoury/transcodarr/internal/config"
	"github.com/rcoury/transcodarr/internal/engine"
	"github.com/rcoury/transcodarr/internal/fetch"
	"github.com/rcoury/transcodarr/internal/models"
	"github.com/rcoury/transcodarr/internal/queue"
	"github.com/rcoury/transcodarr/internal/repository"
)

// Pool owns a fixed number of workers. Each worker dequeues one job at a
// time, so at most Count jobs execute concurrently. A worker that panics is
// logged and replaced; the job it held is marked failed.
type Pool struct {
	cfg     config.WorkerConfig
	storage config.StorageConfig
	queue   *queue.Queue
	repo    repository.JobRepository
	runner  engine.Runner
	fetcher *fetch.Fetcher
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[models.ULID]context.CancelFunc
	started bool
}

// NewPool creates a worker pool. Start must be called before jobs flow.
func NewPool(
	cfg config.WorkerConfig,
	storage config.StorageConfig,
	q *queue.Queue,
	repo repository.JobRepository,
	runner engine.Runner,
	fetcher *fetch.Fetcher,
	logger *slog.Logger,
) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:     cfg,
		storage: storage,
		queue:   q,
		repo:    repo,
		runner:  runner,
		fetcher: fetcher,
		logger:  logger.With(slog.String("component", "worker")),
		running: make(map[models.ULID]context.CancelFunc),
	}
}

// Start launches the configured number of workers.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(context.Background())

	for i := 0; i < p.cfg.Count; i++ {
		p.spawn(i)
	}
	p.logger.Info("worker pool started", slog.Int("workers", p.cfg.Count))
}

// spawn starts one worker goroutine. Caller does not need to hold the lock;
// WaitGroup bookkeeping happens here.
func (p *Pool) spawn(id int) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker crashed, starting replacement",
					slog.Int("worker_id", id),
					slog.Any("panic", r),
				)
				if p.ctx.Err() == nil {
					p.spawn(id)
				}
			}
		}()
		p.run(id)
	}()
}

// run is a single worker's dequeue loop.
func (p *Pool) run(id int) {
	log := p.logger.With(slog.Int("worker_id", id))
	log.Debug("worker started")

	for {
		jobID, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || errors.Is(err, context.Canceled) {
				log.Debug("worker stopping")
				return
			}
			log.Error("dequeue failed", slog.String("error", err.Error()))
			return
		}
		p.process(log, jobID)
	}
}

// process executes one job end to end. A panic inside the job is converted
// into a failed status before propagating to the worker's recover.
func (p *Pool) process(log *slog.Logger, jobID models.ULID) {
	ctx := context.Background()

	job, err := p.repo.GetByID(ctx, jobID)
	if err != nil {
		log.Error("loading job failed", slog.String("job_id", jobID.String()), slog.String("error", err.Error()))
		return
	}
	if job == nil || !job.IsQueued() {
		// Cancelled (or deleted) while waiting in the queue.
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.failJob(ctx, job, models.ReasonWorkerCrash)
			panic(r)
		}
	}()

	// Jobs get their own cancel context so pool shutdown can drain
	// in-flight work instead of killing it.
	jobCtx, cancelJob := context.WithCancel(context.Background())
	p.mu.Lock()
	p.running[job.ID] = cancelJob
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, job.ID)
		p.mu.Unlock()
		cancelJob()
	}()

	if err := job.MarkRunning(); err != nil {
		log.Error("cannot start job", slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))
		return
	}
	if err := p.repo.Update(ctx, job); err != nil {
		log.Error("persisting running status failed", slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))
		return
	}

	log.Info("job started",
		slog.String("job_id", job.ID.String()),
		slog.String("preset", string(job.Preset)),
	)

	outputPath, err := p.execute(jobCtx, job)
	switch {
	case errors.Is(err, context.Canceled):
		if markErr := job.MarkCancelled(); markErr == nil {
			p.persist(ctx, job)
		}
		log.Info("job cancelled", slog.String("job_id", job.ID.String()))
	case err != nil:
		p.failJob(ctx, job, engine.FailureReason(err))
		log.Warn("job failed",
			slog.String("job_id", job.ID.String()),
			slog.String("reason", job.ErrorReason),
			slog.String("error", err.Error()),
		)
	default:
		if markErr := job.MarkSucceeded(outputPath); markErr == nil {
			p.persist(ctx, job)
		}
		log.Info("job succeeded",
			slog.String("job_id", job.ID.String()),
			slog.String("output", outputPath),
			slog.Int64("duration_ms", job.DurationMs),
		)
	}
}

// execute prepares the work directory, fetches the source, and runs the
// engine. The work directory is removed afterwards; outputs persist in the
// output directory.
func (p *Pool) execute(ctx context.Context, job *models.Job) (string, error) {
	workDir := filepath.Join(p.storage.WorkPath(), job.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", &engine.FailureError{Reason: models.ReasonLaunchError, Err: err}
	}
	defer os.RemoveAll(workDir)

	inputPath, err := p.fetcher.Fetch(ctx, job.SourceURL, workDir)
	if err != nil {
		if ctx.Err() != nil {
			return "", context.Canceled
		}
		return "", &engine.FailureError{Reason: models.ReasonFetchError, Err: err}
	}

	if err := os.MkdirAll(p.storage.OutputPath(), 0o755); err != nil {
		return "", &engine.FailureError{Reason: models.ReasonLaunchError, Err: err}
	}
	outputPath := filepath.Join(p.storage.OutputPath(), job.ID.String()+engine.OutputExtension(job))

	result, err := p.runner.Run(ctx, job, inputPath, outputPath)
	if err != nil {
		return "", err
	}
	return result.OutputPath, nil
}

func (p *Pool) failJob(ctx context.Context, job *models.Job, reason string) {
	if err := job.MarkFailed(reason); err != nil {
		return
	}
	p.persist(ctx, job)
}

func (p *Pool) persist(ctx context.Context, job *models.Job) {
	if err := p.repo.Update(ctx, job); err != nil {
		p.logger.Error("persisting job status failed",
			slog.String("job_id", job.ID.String()),
			slog.String("status", string(job.Status)),
			slog.String("error", err.Error()),
		)
	}
}

// Cancel aborts the running job with the given ID. Returns false when the
// job is not currently executing.
func (p *Pool) Cancel(id models.ULID) bool {
	p.mu.Lock()
	cancel, ok := p.running[id]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// RunningCount returns the number of jobs currently executing.
func (p *Pool) RunningCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

// Shutdown stops dequeuing and waits for in-flight jobs up to the drain
// timeout, then cancels whatever is still running and waits for the workers
// to exit.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	drain := time.NewTimer(p.cfg.DrainTimeout)
	defer drain.Stop()

	select {
	case <-done:
		p.logger.Info("worker pool drained")
		return nil
	case <-drain.C:
	case <-ctx.Done():
	}

	p.logger.Warn("drain deadline reached, cancelling running jobs",
		slog.Int("running", p.RunningCount()),
	)
	p.mu.Lock()
	for _, cancelJob := range p.running {
		cancelJob()
	}
	p.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("worker pool did not stop after cancelling jobs")
	}
}
