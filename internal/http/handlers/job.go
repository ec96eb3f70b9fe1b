package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/rcoury/transcodarr/internal/models"
	"github.com/rcoury/transcodarr/internal/service"
)

// JobHandler handles job API endpoints.
type JobHandler struct {
	jobService *service.JobService
}

// NewJobHandler creates a new job handler.
func NewJobHandler(jobService *service.JobService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
	}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createJob",
		Method:        "POST",
		Path:          "/api/v1/jobs",
		Summary:       "Submit job",
		Description:   "Submits a new transcode job for asynchronous processing",
		Tags:          []string{"Jobs"},
		DefaultStatus: 201,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Returns all jobs, newest first, optionally filtered by status",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "listQueuedJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs/queued",
		Summary:     "List queued jobs",
		Description: "Returns queued jobs in dispatch order",
		Tags:        []string{"Jobs"},
	}, h.ListQueued)

	huma.Register(api, huma.Operation{
		OperationID: "listRunningJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs/running",
		Summary:     "List running jobs",
		Description: "Returns all running jobs",
		Tags:        []string{"Jobs"},
	}, h.ListRunning)

	huma.Register(api, huma.Operation{
		OperationID: "getJobStats",
		Method:      "GET",
		Path:        "/api/v1/jobs/stats",
		Summary:     "Get job statistics",
		Description: "Returns job counts by status plus queue and worker occupancy",
		Tags:        []string{"Jobs"},
	}, h.GetStats)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns a job by ID",
		Tags:        []string{"Jobs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{id}/cancel",
		Summary:     "Cancel job",
		Description: "Cancels a queued or running job",
		Tags:        []string{"Jobs"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteJob",
		Method:        "DELETE",
		Path:          "/api/v1/jobs/{id}",
		Summary:       "Delete job",
		Description:   "Deletes a finished job and its output artifact",
		Tags:          []string{"Jobs"},
		DefaultStatus: 204,
	}, h.Delete)
}

// CreateJobInput is the input for submitting a job.
type CreateJobInput struct {
	Body CreateJobRequest
}

// CreateJobOutput is the output for submitting a job.
type CreateJobOutput struct {
	Body JobResponse
}

// Create submits a new job.
func (h *JobHandler) Create(ctx context.Context, input *CreateJobInput) (*CreateJobOutput, error) {
	job, err := h.jobService.Submit(ctx, input.Body.ToSubmitRequest())
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSourceRequired),
			errors.Is(err, models.ErrInvalidPreset),
			errors.Is(err, models.ErrExtraArgsRequired):
			return nil, huma.Error422UnprocessableEntity(err.Error())
		case errors.Is(err, service.ErrCapacityExceeded):
			return nil, huma.Error429TooManyRequests("queue is full, retry later")
		case errors.Is(err, service.ErrShuttingDown):
			return nil, huma.Error503ServiceUnavailable("service is shutting down")
		default:
			return nil, huma.Error500InternalServerError("failed to submit job", err)
		}
	}

	return &CreateJobOutput{
		Body: JobFromModel(job),
	}, nil
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct {
	Status string `query:"status" doc:"Filter by status (queued, running, succeeded, failed, cancelled)"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs []JobResponse `json:"jobs"`
	}
}

// List returns all jobs, optionally filtered by status.
func (h *JobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	if input.Status != "" && !validStatusFilter(models.JobStatus(input.Status)) {
		return nil, huma.Error400BadRequest(fmt.Sprintf("unknown status %q", input.Status))
	}

	jobs, err := h.jobService.List(ctx, models.JobStatus(input.Status))
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs", err)
	}
	return jobListOutput(jobs), nil
}

// ListQueued returns queued jobs in dispatch order.
func (h *JobHandler) ListQueued(ctx context.Context, _ *struct{}) (*ListJobsOutput, error) {
	jobs, err := h.jobService.Queued(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list queued jobs", err)
	}
	return jobListOutput(jobs), nil
}

// ListRunning returns all running jobs.
func (h *JobHandler) ListRunning(ctx context.Context, _ *struct{}) (*ListJobsOutput, error) {
	jobs, err := h.jobService.Running(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list running jobs", err)
	}
	return jobListOutput(jobs), nil
}

func validStatusFilter(s models.JobStatus) bool {
	switch s {
	case models.JobStatusQueued, models.JobStatusRunning, models.JobStatusSucceeded,
		models.JobStatusFailed, models.JobStatusCancelled:
		return true
	default:
		return false
	}
}

func jobListOutput(jobs []*models.Job) *ListJobsOutput {
	resp := &ListJobsOutput{}
	resp.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp.Body.Jobs = append(resp.Body.Jobs, JobFromModel(j))
	}
	return resp
}

// GetJobStatsOutput is the output for job statistics.
type GetJobStatsOutput struct {
	Body JobStatsResponse
}

// GetStats returns job statistics.
func (h *JobHandler) GetStats(ctx context.Context, _ *struct{}) (*GetJobStatsOutput, error) {
	stats, err := h.jobService.Stats(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job stats", err)
	}
	return &GetJobStatsOutput{
		Body: JobStatsFromService(stats),
	}, nil
}

// GetJobInput is the input for getting a job.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// GetJobOutput is the output for getting a job.
type GetJobOutput struct {
	Body JobResponse
}

// GetByID returns a job by ID.
func (h *JobHandler) GetByID(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	job, err := h.jobService.Get(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("job %s not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to get job", err)
	}

	return &GetJobOutput{
		Body: JobFromModel(job),
	}, nil
}

// CancelJobInput is the input for cancelling a job.
type CancelJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// CancelJobOutput is the output for cancelling a job.
type CancelJobOutput struct {
	Body JobResponse
}

// Cancel cancels a queued or running job.
func (h *JobHandler) Cancel(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	job, err := h.jobService.Cancel(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return nil, huma.Error404NotFound(fmt.Sprintf("job %s not found", input.ID))
		case errors.Is(err, service.ErrNotCancellable):
			return nil, huma.Error409Conflict("job has already finished")
		default:
			return nil, huma.Error500InternalServerError("failed to cancel job", err)
		}
	}

	return &CancelJobOutput{
		Body: JobFromModel(job),
	}, nil
}

// DeleteJobInput is the input for deleting a job.
type DeleteJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// DeleteJobOutput is the output for deleting a job.
type DeleteJobOutput struct{}

// Delete deletes a finished job and its output artifact.
func (h *JobHandler) Delete(ctx context.Context, input *DeleteJobInput) (*DeleteJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	if err := h.jobService.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return nil, huma.Error404NotFound(fmt.Sprintf("job %s not found", input.ID))
		case errors.Is(err, service.ErrNotTerminal):
			return nil, huma.Error409Conflict("job is still queued or running")
		default:
			return nil, huma.Error500InternalServerError("failed to delete job", err)
		}
	}

	return &DeleteJobOutput{}, nil
}
