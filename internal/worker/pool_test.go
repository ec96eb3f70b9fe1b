package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcoury/transcodarr/internal/config"
	"github.com/rcoury/transcodarr/internal/database"
	"github.com/rcoury/transcodarr/internal/engine"
	"github.com/rcoury/transcodarr/internal/fetch"
	"github.com/rcoury/transcodarr/internal/models"
	"github.com/rcoury/transcodarr/internal/queue"
	"github.com/rcoury/transcodarr/internal/repository"
)

// fakeRunner stands in for the engine supervisor so pool behavior can be
// tested without processes.
type fakeRunner struct {
	err   error
	block chan struct{} // when set, Run waits for close or ctx cancel

	mu       sync.Mutex
	panicMsg string
}

func (f *fakeRunner) setPanic(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panicMsg = msg
}

func (f *fakeRunner) Run(ctx context.Context, job *models.Job, inputPath, outputPath string) (*engine.Result, error) {
	f.mu.Lock()
	panicMsg := f.panicMsg
	f.mu.Unlock()
	if panicMsg != "" {
		panic(panicMsg)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, context.Canceled
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(outputPath, []byte("result"), 0o644); err != nil {
		return nil, err
	}
	return &engine.Result{OutputPath: outputPath}, nil
}

type poolFixture struct {
	pool   *Pool
	queue  *queue.Queue
	repo   repository.JobRepository
	source string
}

func newFixture(t *testing.T, workers int, runner engine.Runner) *poolFixture {
	t.Helper()

	db, err := database.New(config.DatabaseConfig{
		DSN:          filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		LogLevel:     "silent",
	}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	base := t.TempDir()
	source := filepath.Join(base, "source.mp4")
	require.NoError(t, os.WriteFile(source, []byte("input data"), 0o644))

	repo := repository.NewJobRepository(db.DB)
	q := queue.New(16)
	t.Cleanup(q.Close)

	fetcher := fetch.NewFetcher(fetch.NewClient(fetch.DefaultClientConfig()), 0, nil)
	pool := NewPool(
		config.WorkerConfig{Count: workers, JobTimeout: time.Minute, DrainTimeout: 2 * time.Second},
		config.StorageConfig{BaseDir: base, OutputDir: "output", WorkDir: "work"},
		q, repo, runner, fetcher, nil,
	)

	return &poolFixture{pool: pool, queue: q, repo: repo, source: source}
}

func (f *poolFixture) submit(t *testing.T) *models.Job {
	t.Helper()
	job := &models.Job{
		SourceURL: f.source,
		Preset:    models.PresetVideo,
		Status:    models.JobStatusQueued,
	}
	require.NoError(t, f.repo.Create(context.Background(), job))
	require.NoError(t, f.queue.Enqueue(job.ID))
	return job
}

func (f *poolFixture) waitStatus(t *testing.T, id models.ULID, want models.JobStatus) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = f.repo.GetByID(context.Background(), id)
		return err == nil && job != nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job never reached status %s", want)
	return job
}

func TestPool_ProcessesJobSuccessfully(t *testing.T) {
	f := newFixture(t, 1, &fakeRunner{})
	f.pool.Start()
	defer f.pool.Shutdown(context.Background())

	job := f.submit(t)
	done := f.waitStatus(t, job.ID, models.JobStatusSucceeded)

	assert.NotEmpty(t, done.OutputPath)
	data, err := os.ReadFile(done.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "result", string(data))
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
}

func TestPool_ConcurrencyLimit(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, 1, &fakeRunner{block: release})
	f.pool.Start()
	defer f.pool.Shutdown(context.Background())

	first := f.submit(t)
	second := f.submit(t)

	f.waitStatus(t, first.ID, models.JobStatusRunning)
	assert.Equal(t, 1, f.pool.RunningCount())

	// The second job must stay queued while the single worker is busy.
	time.Sleep(100 * time.Millisecond)
	loaded, err := f.repo.GetByID(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, loaded.Status)

	close(release)
	f.waitStatus(t, first.ID, models.JobStatusSucceeded)
	f.waitStatus(t, second.ID, models.JobStatusSucceeded)
}

func TestPool_MapsEngineFailure(t *testing.T) {
	f := newFixture(t, 1, &fakeRunner{
		err: &engine.FailureError{Reason: models.EngineErrorReason(2)},
	})
	f.pool.Start()
	defer f.pool.Shutdown(context.Background())

	job := f.submit(t)
	failed := f.waitStatus(t, job.ID, models.JobStatusFailed)
	assert.Equal(t, "engine_error:2", failed.ErrorReason)
}

func TestPool_MapsFetchFailure(t *testing.T) {
	f := newFixture(t, 1, &fakeRunner{})
	f.pool.Start()
	defer f.pool.Shutdown(context.Background())

	job := &models.Job{
		SourceURL: filepath.Join(t.TempDir(), "missing.mp4"),
		Preset:    models.PresetVideo,
		Status:    models.JobStatusQueued,
	}
	require.NoError(t, f.repo.Create(context.Background(), job))
	require.NoError(t, f.queue.Enqueue(job.ID))

	failed := f.waitStatus(t, job.ID, models.JobStatusFailed)
	assert.Equal(t, models.ReasonFetchError, failed.ErrorReason)
}

func TestPool_CancelRunningJob(t *testing.T) {
	f := newFixture(t, 1, &fakeRunner{block: make(chan struct{})})
	f.pool.Start()
	defer f.pool.Shutdown(context.Background())

	job := f.submit(t)
	f.waitStatus(t, job.ID, models.JobStatusRunning)

	assert.True(t, f.pool.Cancel(job.ID))
	f.waitStatus(t, job.ID, models.JobStatusCancelled)
	assert.Eventually(t, func() bool {
		return !f.pool.Cancel(job.ID)
	}, time.Second, 10*time.Millisecond, "cancel after completion reports not running")
}

func TestPool_SkipsJobCancelledWhileQueued(t *testing.T) {
	f := newFixture(t, 1, &fakeRunner{})

	job := f.submit(t)
	require.NoError(t, job.MarkCancelled())
	require.NoError(t, f.repo.Update(context.Background(), job))

	f.pool.Start()
	defer f.pool.Shutdown(context.Background())

	sentinel := f.submit(t)
	f.waitStatus(t, sentinel.ID, models.JobStatusSucceeded)

	loaded, err := f.repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, loaded.Status)
}

func TestPool_ReplacesCrashedWorker(t *testing.T) {
	runner := &fakeRunner{}
	runner.setPanic("boom")
	f := newFixture(t, 1, runner)
	f.pool.Start()
	defer f.pool.Shutdown(context.Background())

	job := f.submit(t)
	failed := f.waitStatus(t, job.ID, models.JobStatusFailed)
	assert.Equal(t, models.ReasonWorkerCrash, failed.ErrorReason)

	// The replacement worker must still drain the queue.
	runner.setPanic("")
	next := f.submit(t)
	f.waitStatus(t, next.ID, models.JobStatusSucceeded)
}

func TestPool_ShutdownDrainsInFlightJob(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, 1, &fakeRunner{block: release})
	f.pool.Start()

	job := f.submit(t)
	f.waitStatus(t, job.ID, models.JobStatusRunning)

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, f.pool.Shutdown(context.Background()))

	f.waitStatus(t, job.ID, models.JobStatusSucceeded)
}

func TestPool_ShutdownCancelsAfterDrainTimeout(t *testing.T) {
	f := newFixture(t, 1, &fakeRunner{block: make(chan struct{})})
	f.pool.cfg.DrainTimeout = 200 * time.Millisecond
	f.pool.Start()

	job := f.submit(t)
	f.waitStatus(t, job.ID, models.JobStatusRunning)

	require.NoError(t, f.pool.Shutdown(context.Background()))
	f.waitStatus(t, job.ID, models.JobStatusCancelled)
}
