package handlers

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcoury/transcodarr/internal/config"
	"github.com/rcoury/transcodarr/internal/models"
	"github.com/rcoury/transcodarr/internal/queue"
	"github.com/rcoury/transcodarr/internal/service"
	"github.com/rcoury/transcodarr/internal/worker"
)

// mockJobRepo implements repository.JobRepository for testing.
type mockJobRepo struct {
	jobs map[models.ULID]*models.Job
	err  error
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{
		jobs: make(map[models.ULID]*models.Job),
	}
}

func (m *mockJobRepo) Create(ctx context.Context, job *models.Job) error {
	if m.err != nil {
		return m.err
	}
	if job.ID.IsZero() {
		job.ID = models.NewULID()
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobRepo) GetByID(ctx context.Context, id models.ULID) (*models.Job, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.jobs[id], nil
}

func (m *mockJobRepo) GetAll(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	if m.err != nil {
		return nil, m.err
	}
	var jobs []*models.Job
	for _, j := range m.jobs {
		if status == "" || j.Status == status {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (m *mockJobRepo) GetQueued(ctx context.Context) ([]*models.Job, error) {
	if m.err != nil {
		return nil, m.err
	}
	var jobs []*models.Job
	for _, j := range m.jobs {
		if j.Status == models.JobStatusQueued {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].ID.String() < jobs[k].ID.String()
	})
	return jobs, nil
}

func (m *mockJobRepo) GetRunning(ctx context.Context) ([]*models.Job, error) {
	if m.err != nil {
		return nil, m.err
	}
	var jobs []*models.Job
	for _, j := range m.jobs {
		if j.Status == models.JobStatusRunning {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (m *mockJobRepo) Update(ctx context.Context, job *models.Job) error {
	if m.err != nil {
		return m.err
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobRepo) Delete(ctx context.Context, id models.ULID) error {
	if m.err != nil {
		return m.err
	}
	delete(m.jobs, id)
	return nil
}

func (m *mockJobRepo) Stats(ctx context.Context) (*models.JobStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	stats := &models.JobStats{}
	for _, j := range m.jobs {
		switch j.Status {
		case models.JobStatusQueued:
			stats.QueuedCount++
		case models.JobStatusRunning:
			stats.RunningCount++
		case models.JobStatusSucceeded:
			stats.SucceededCount++
		case models.JobStatusFailed:
			stats.FailedCount++
		case models.JobStatusCancelled:
			stats.CancelledCount++
		}
	}
	return stats, nil
}

func (m *mockJobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	var removed []*models.Job
	for id, j := range m.jobs {
		if j.IsTerminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			removed = append(removed, j)
			delete(m.jobs, id)
		}
	}
	return removed, nil
}

func (m *mockJobRepo) ResetRunning(ctx context.Context, reason string) (int64, error) {
	var count int64
	for _, j := range m.jobs {
		if j.Status == models.JobStatusRunning {
			j.Status = models.JobStatusFailed
			j.ErrorReason = reason
			count++
		}
	}
	return count, nil
}

func createTestJobService(t *testing.T, repo *mockJobRepo, queueCapacity int) *service.JobService {
	t.Helper()
	logger := slog.Default()
	q := queue.New(queueCapacity)
	pool := worker.NewPool(
		config.WorkerConfig{Count: 2, JobTimeout: time.Minute, DrainTimeout: time.Second},
		config.StorageConfig{BaseDir: t.TempDir(), OutputDir: "output", WorkDir: "work"},
		q, repo, nil, nil, logger,
	)
	return service.NewJobService(repo, q, pool, 2, logger)
}

func TestJobHandler_Create(t *testing.T) {
	repo := newMockJobRepo()
	handler := NewJobHandler(createTestJobService(t, repo, 8))

	ctx := context.Background()

	t.Run("accepts valid job", func(t *testing.T) {
		resp, err := handler.Create(ctx, &CreateJobInput{
			Body: CreateJobRequest{
				SourceURL: "https://example.com/episode.mkv",
				Preset:    "video",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusQueued, resp.Body.Status)
		assert.False(t, resp.Body.ID.IsZero())
	})

	t.Run("rejects missing source", func(t *testing.T) {
		_, err := handler.Create(ctx, &CreateJobInput{
			Body: CreateJobRequest{Preset: "audio"},
		})
		assert.Error(t, err)
	})

	t.Run("rejects unknown preset", func(t *testing.T) {
		_, err := handler.Create(ctx, &CreateJobInput{
			Body: CreateJobRequest{
				SourceURL: "https://example.com/episode.mkv",
				Preset:    "webm",
			},
		})
		assert.Error(t, err)
	})

	t.Run("rejects custom preset without args", func(t *testing.T) {
		_, err := handler.Create(ctx, &CreateJobInput{
			Body: CreateJobRequest{
				SourceURL: "https://example.com/episode.mkv",
				Preset:    "custom",
			},
		})
		assert.Error(t, err)
	})
}

func TestJobHandler_Create_QueueFull(t *testing.T) {
	repo := newMockJobRepo()
	handler := NewJobHandler(createTestJobService(t, repo, 1))

	ctx := context.Background()
	req := CreateJobRequest{
		SourceURL: "https://example.com/episode.mkv",
		Preset:    "audio",
	}

	_, err := handler.Create(ctx, &CreateJobInput{Body: req})
	require.NoError(t, err)

	_, err = handler.Create(ctx, &CreateJobInput{Body: req})
	assert.Error(t, err)
}

func TestJobHandler_List(t *testing.T) {
	repo := newMockJobRepo()
	handler := NewJobHandler(createTestJobService(t, repo, 8))

	ctx := context.Background()

	queued := &models.Job{SourceURL: "/in/a.mkv", Preset: models.PresetVideo, Status: models.JobStatusQueued}
	queued.ID = models.NewULID()
	running := &models.Job{SourceURL: "/in/b.mkv", Preset: models.PresetAudio, Status: models.JobStatusRunning}
	running.ID = models.NewULID()
	repo.jobs[queued.ID] = queued
	repo.jobs[running.ID] = running

	t.Run("all jobs", func(t *testing.T) {
		resp, err := handler.List(ctx, &ListJobsInput{})
		require.NoError(t, err)
		assert.Len(t, resp.Body.Jobs, 2)
	})

	t.Run("status filter", func(t *testing.T) {
		resp, err := handler.List(ctx, &ListJobsInput{Status: "running"})
		require.NoError(t, err)
		require.Len(t, resp.Body.Jobs, 1)
		assert.Equal(t, models.JobStatusRunning, resp.Body.Jobs[0].Status)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		_, err := handler.List(ctx, &ListJobsInput{Status: "paused"})
		assert.Error(t, err)
	})
}

func TestJobHandler_GetByID(t *testing.T) {
	repo := newMockJobRepo()
	handler := NewJobHandler(createTestJobService(t, repo, 8))

	ctx := context.Background()

	job := &models.Job{
		SourceURL: "https://example.com/episode.mkv",
		Preset:    models.PresetVideo,
		Status:    models.JobStatusQueued,
	}
	job.ID = models.NewULID()
	repo.jobs[job.ID] = job

	t.Run("found", func(t *testing.T) {
		resp, err := handler.GetByID(ctx, &GetJobInput{ID: job.ID.String()})
		require.NoError(t, err)
		assert.Equal(t, job.ID, resp.Body.ID)
		assert.Equal(t, job.SourceURL, resp.Body.SourceURL)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := handler.GetByID(ctx, &GetJobInput{ID: models.NewULID().String()})
		assert.Error(t, err)
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := handler.GetByID(ctx, &GetJobInput{ID: "invalid"})
		assert.Error(t, err)
	})
}

func TestJobHandler_ListQueuedAndRunning(t *testing.T) {
	repo := newMockJobRepo()
	handler := NewJobHandler(createTestJobService(t, repo, 8))

	ctx := context.Background()

	queued := &models.Job{SourceURL: "/in/a.mkv", Preset: models.PresetVideo, Status: models.JobStatusQueued}
	queued.ID = models.NewULID()
	running := &models.Job{SourceURL: "/in/b.mkv", Preset: models.PresetAudio, Status: models.JobStatusRunning}
	running.ID = models.NewULID()
	done := &models.Job{SourceURL: "/in/c.mkv", Preset: models.PresetAudio, Status: models.JobStatusSucceeded}
	done.ID = models.NewULID()
	repo.jobs[queued.ID] = queued
	repo.jobs[running.ID] = running
	repo.jobs[done.ID] = done

	queuedResp, err := handler.ListQueued(ctx, nil)
	require.NoError(t, err)
	require.Len(t, queuedResp.Body.Jobs, 1)
	assert.Equal(t, queued.ID, queuedResp.Body.Jobs[0].ID)

	runningResp, err := handler.ListRunning(ctx, nil)
	require.NoError(t, err)
	require.Len(t, runningResp.Body.Jobs, 1)
	assert.Equal(t, running.ID, runningResp.Body.Jobs[0].ID)
}

func TestJobHandler_GetStats(t *testing.T) {
	repo := newMockJobRepo()
	handler := NewJobHandler(createTestJobService(t, repo, 8))

	ctx := context.Background()

	statuses := []models.JobStatus{
		models.JobStatusQueued,
		models.JobStatusRunning,
		models.JobStatusSucceeded,
		models.JobStatusFailed,
	}
	for _, st := range statuses {
		j := &models.Job{SourceURL: "/in/a.mkv", Preset: models.PresetAudio, Status: st}
		j.ID = models.NewULID()
		repo.jobs[j.ID] = j
	}

	resp, err := handler.GetStats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Body.QueuedCount)
	assert.Equal(t, int64(1), resp.Body.RunningCount)
	assert.Equal(t, int64(1), resp.Body.SucceededCount)
	assert.Equal(t, int64(1), resp.Body.FailedCount)
	assert.Equal(t, 8, resp.Body.QueueCapacity)
	assert.Equal(t, 2, resp.Body.WorkerCount)
}

func TestJobHandler_Cancel(t *testing.T) {
	repo := newMockJobRepo()
	svc := createTestJobService(t, repo, 8)
	handler := NewJobHandler(svc)

	ctx := context.Background()

	t.Run("cancel queued job", func(t *testing.T) {
		resp, err := handler.Create(ctx, &CreateJobInput{
			Body: CreateJobRequest{
				SourceURL: "https://example.com/episode.mkv",
				Preset:    "audio",
			},
		})
		require.NoError(t, err)

		cancelled, err := handler.Cancel(ctx, &CancelJobInput{ID: resp.Body.ID.String()})
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCancelled, cancelled.Body.Status)
	})

	t.Run("cannot cancel finished job", func(t *testing.T) {
		job := &models.Job{
			SourceURL: "/in/a.mkv",
			Preset:    models.PresetAudio,
			Status:    models.JobStatusSucceeded,
		}
		job.ID = models.NewULID()
		repo.jobs[job.ID] = job

		_, err := handler.Cancel(ctx, &CancelJobInput{ID: job.ID.String()})
		assert.Error(t, err)
	})

	t.Run("job not found", func(t *testing.T) {
		_, err := handler.Cancel(ctx, &CancelJobInput{ID: models.NewULID().String()})
		assert.Error(t, err)
	})
}

func TestJobHandler_Delete(t *testing.T) {
	repo := newMockJobRepo()
	handler := NewJobHandler(createTestJobService(t, repo, 8))

	ctx := context.Background()

	t.Run("delete finished job", func(t *testing.T) {
		job := &models.Job{
			SourceURL: "/in/a.mkv",
			Preset:    models.PresetAudio,
			Status:    models.JobStatusFailed,
		}
		job.ID = models.NewULID()
		repo.jobs[job.ID] = job

		_, err := handler.Delete(ctx, &DeleteJobInput{ID: job.ID.String()})
		require.NoError(t, err)
		assert.Nil(t, repo.jobs[job.ID])
	})

	t.Run("cannot delete queued job", func(t *testing.T) {
		job := &models.Job{
			SourceURL: "/in/a.mkv",
			Preset:    models.PresetAudio,
			Status:    models.JobStatusQueued,
		}
		job.ID = models.NewULID()
		repo.jobs[job.ID] = job

		_, err := handler.Delete(ctx, &DeleteJobInput{ID: job.ID.String()})
		assert.Error(t, err)
	})
}

func TestJobFromModel(t *testing.T) {
	now := models.Now()
	started := now.Add(-10 * time.Minute)
	completed := now.Add(-5 * time.Minute)

	job := &models.Job{
		SourceURL:      "https://example.com/episode.mkv",
		Preset:         models.PresetVideo,
		Container:      "mkv",
		VideoCodec:     "libx265",
		AudioCodec:     "libopus",
		Status:         models.JobStatusSucceeded,
		StartedAt:      &started,
		CompletedAt:    &completed,
		DurationMs:     300000,
		OutputPath:     "/out/episode.mkv",
		TimeoutSeconds: 600,
	}
	job.ID = models.NewULID()
	job.CreatedAt = now
	job.UpdatedAt = now

	resp := JobFromModel(job)

	assert.Equal(t, job.ID, resp.ID)
	assert.Equal(t, job.SourceURL, resp.SourceURL)
	assert.Equal(t, job.Preset, resp.Preset)
	assert.Equal(t, job.Container, resp.Container)
	assert.Equal(t, job.VideoCodec, resp.VideoCodec)
	assert.Equal(t, job.AudioCodec, resp.AudioCodec)
	assert.Equal(t, job.Status, resp.Status)
	assert.NotNil(t, resp.StartedAt)
	assert.NotNil(t, resp.CompletedAt)
	assert.Equal(t, job.DurationMs, resp.DurationMs)
	assert.Equal(t, job.OutputPath, resp.OutputPath)
	assert.Equal(t, job.TimeoutSeconds, resp.TimeoutSeconds)
}
