// Package repository provides data access for persisted job records.
package repository

import (
	"context"
	"time"

	"github.com/rcoury/transcodarr/internal/models"
)

// JobRepository defines persistence operations for transcode jobs.
type JobRepository interface {
	// Create persists a new job record.
	Create(ctx context.Context, job *models.Job) error
	// GetByID returns the job with the given ID, or nil when not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Job, error)
	// GetAll returns all jobs, newest first, optionally filtered by status.
	GetAll(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	// GetQueued returns queued jobs in submission order.
	GetQueued(ctx context.Context) ([]*models.Job, error)
	// GetRunning returns currently running jobs, oldest start first.
	GetRunning(ctx context.Context) ([]*models.Job, error)
	// Update saves changes to an existing job record.
	Update(ctx context.Context, job *models.Job) error
	// Delete removes the job record with the given ID.
	Delete(ctx context.Context, id models.ULID) error
	// Stats returns job counts grouped by status.
	Stats(ctx context.Context) (*models.JobStats, error)
	// DeleteTerminalBefore removes terminal jobs completed before cutoff
	// and returns the removed records.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]*models.Job, error)
	// ResetRunning marks any jobs left in the running state as failed.
	// Called at startup to repair records orphaned by an unclean shutdown.
	ResetRunning(ctx context.Context, reason string) (int64, error)
}
