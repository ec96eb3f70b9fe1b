package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rcoury/transcodarr/internal/models"
)

// jobRepo implements JobRepository using GORM.
type jobRepo struct {
	db *gorm.DB
}

var _ JobRepository = (*jobRepo)(nil)

// NewJobRepository creates a new JobRepository backed by db.
func NewJobRepository(db *gorm.DB) *jobRepo {
	return &jobRepo{db: db}
}

// Create persists a new job record.
func (r *jobRepo) Create(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// GetByID returns the job with the given ID, or nil when not found.
func (r *jobRepo) GetByID(ctx context.Context, id models.ULID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job by ID: %w", err)
	}
	return &job, nil
}

// GetAll returns all jobs, newest first. An empty status returns every job.
func (r *jobRepo) GetAll(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	var jobs []*models.Job
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting jobs: %w", err)
	}
	return jobs, nil
}

// GetQueued returns queued jobs in submission order. ULIDs sort
// lexicographically by creation time, so ordering by ID preserves FIFO.
func (r *jobRepo) GetQueued(ctx context.Context) ([]*models.Job, error) {
	var jobs []*models.Job
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.JobStatusQueued).
		Order("id ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting queued jobs: %w", err)
	}
	return jobs, nil
}

// GetRunning returns currently running jobs, oldest start first.
func (r *jobRepo) GetRunning(ctx context.Context) ([]*models.Job, error) {
	var jobs []*models.Job
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.JobStatusRunning).
		Order("started_at ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting running jobs: %w", err)
	}
	return jobs, nil
}

// Update saves changes to an existing job record.
func (r *jobRepo) Update(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return nil
}

// Delete removes the job record with the given ID.
func (r *jobRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Job{}).Error; err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	return nil
}

// Stats returns job counts grouped by status.
func (r *jobRepo) Stats(ctx context.Context) (*models.JobStats, error) {
	var rows []struct {
		Status models.JobStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting jobs by status: %w", err)
	}

	stats := &models.JobStats{}
	for _, row := range rows {
		switch row.Status {
		case models.JobStatusQueued:
			stats.QueuedCount = row.Count
		case models.JobStatusRunning:
			stats.RunningCount = row.Count
		case models.JobStatusSucceeded:
			stats.SucceededCount = row.Count
		case models.JobStatusFailed:
			stats.FailedCount = row.Count
		case models.JobStatusCancelled:
			stats.CancelledCount = row.Count
		}
	}
	return stats, nil
}

// terminalStatuses lists the statuses eligible for retention cleanup.
var terminalStatuses = []models.JobStatus{
	models.JobStatusSucceeded,
	models.JobStatusFailed,
	models.JobStatusCancelled,
}

// DeleteTerminalBefore removes terminal jobs completed before cutoff and
// returns the removed records so callers can clean associated artifacts.
func (r *jobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	var jobs []*models.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("status IN ?", terminalStatuses).
			Where("completed_at < ?", cutoff).
			Find(&jobs).Error; err != nil {
			return fmt.Errorf("finding expired jobs: %w", err)
		}
		if len(jobs) == 0 {
			return nil
		}
		ids := make([]models.ULID, 0, len(jobs))
		for _, job := range jobs {
			ids = append(ids, job.ID)
		}
		if err := tx.Where("id IN ?", ids).Delete(&models.Job{}).Error; err != nil {
			return fmt.Errorf("deleting expired jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ResetRunning marks jobs left in the running state as failed. Used at
// startup: a job recorded as running after a restart has no process behind
// it anymore.
func (r *jobRepo) ResetRunning(ctx context.Context, reason string) (int64, error) {
	now := models.Now()
	result := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("status = ?", models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":       models.JobStatusFailed,
			"error_reason": reason,
			"completed_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("resetting running jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
