// Package handlers provides HTTP API handlers for transcodarr.
package handlers

import (
	"time"

	"github.com/rcoury/transcodarr/internal/models"
	"github.com/rcoury/transcodarr/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Job types

// JobResponse represents a job in API responses.
type JobResponse struct {
	ID             models.ULID         `json:"id"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	SourceURL      string              `json:"source_url"`
	Preset         models.TargetPreset `json:"preset"`
	Container      string              `json:"container,omitempty"`
	VideoCodec     string              `json:"video_codec,omitempty"`
	AudioCodec     string              `json:"audio_codec,omitempty"`
	ExtraArgs      string              `json:"extra_args,omitempty"`
	Status         models.JobStatus    `json:"status"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	DurationMs     int64               `json:"duration_ms,omitempty"`
	ErrorReason    string              `json:"error_reason,omitempty"`
	OutputPath     string              `json:"output_path,omitempty"`
	TimeoutSeconds int                 `json:"timeout_seconds,omitempty"`
}

// JobFromModel converts a job model to a response.
func JobFromModel(j *models.Job) JobResponse {
	resp := JobResponse{
		ID:             j.ID,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		SourceURL:      j.SourceURL,
		Preset:         j.Preset,
		Container:      j.Container,
		VideoCodec:     j.VideoCodec,
		AudioCodec:     j.AudioCodec,
		ExtraArgs:      j.ExtraArgs,
		Status:         j.Status,
		DurationMs:     j.DurationMs,
		ErrorReason:    j.ErrorReason,
		OutputPath:     j.OutputPath,
		TimeoutSeconds: j.TimeoutSeconds,
	}
	if j.StartedAt != nil {
		t := time.Time(*j.StartedAt)
		resp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := time.Time(*j.CompletedAt)
		resp.CompletedAt = &t
	}
	return resp
}

// CreateJobRequest is the request body for submitting a transcode job.
type CreateJobRequest struct {
	SourceURL      string `json:"source_url" doc:"Input media locator: http(s) URL or local path" minLength:"1" maxLength:"2048"`
	Preset         string `json:"preset" doc:"Output profile" enum:"audio,video,custom"`
	Container      string `json:"container,omitempty" doc:"Output container override (e.g. mkv)" maxLength:"20"`
	VideoCodec     string `json:"video_codec,omitempty" doc:"Video codec override for the video preset" maxLength:"50"`
	AudioCodec     string `json:"audio_codec,omitempty" doc:"Audio codec override" maxLength:"50"`
	ExtraArgs      string `json:"extra_args,omitempty" doc:"Raw engine output arguments, required for the custom preset" maxLength:"2048"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" doc:"Per-job timeout in seconds (0 uses the configured default)" minimum:"0" maximum:"86400"`
}

// ToSubmitRequest converts the request body to a service submission.
func (r *CreateJobRequest) ToSubmitRequest() service.SubmitRequest {
	return service.SubmitRequest{
		SourceURL:      r.SourceURL,
		Preset:         r.Preset,
		Container:      r.Container,
		VideoCodec:     r.VideoCodec,
		AudioCodec:     r.AudioCodec,
		ExtraArgs:      r.ExtraArgs,
		TimeoutSeconds: r.TimeoutSeconds,
	}
}

// JobStatsResponse reports job store counts and live queue occupancy.
type JobStatsResponse struct {
	QueuedCount    int64 `json:"queued_count"`
	RunningCount   int64 `json:"running_count"`
	SucceededCount int64 `json:"succeeded_count"`
	FailedCount    int64 `json:"failed_count"`
	CancelledCount int64 `json:"cancelled_count"`
	QueueDepth     int   `json:"queue_depth"`
	QueueCapacity  int   `json:"queue_capacity"`
	WorkerCount    int   `json:"worker_count"`
}

// JobStatsFromService converts service stats to a response.
func JobStatsFromService(s *service.QueueStats) JobStatsResponse {
	return JobStatsResponse{
		QueuedCount:    s.QueuedCount,
		RunningCount:   s.RunningCount,
		SucceededCount: s.SucceededCount,
		FailedCount:    s.FailedCount,
		CancelledCount: s.CancelledCount,
		QueueDepth:     s.QueueDepth,
		QueueCapacity:  s.QueueCapacity,
		WorkerCount:    s.WorkerCount,
	}
}
