package models

import (
	"fmt"

	"gorm.io/gorm"
)

// JobStatus represents the current status of a transcode job.
//
// Transitions are monotonic along queued -> running -> {succeeded, failed,
// cancelled}; a terminal status never changes again.
type JobStatus string

const (
	// JobStatusQueued indicates the job is admitted and waiting for a worker.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates a worker is supervising the engine process.
	JobStatusRunning JobStatus = "running"
	// JobStatusSucceeded indicates the engine produced a verified output artifact.
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusFailed indicates the job failed; ErrorReason carries the cause.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled by the caller.
	JobStatusCancelled JobStatus = "cancelled"
)

// TargetPreset selects the output profile for a transcode job.
type TargetPreset string

const (
	// PresetAudio extracts/re-encodes the audio track (aac in m4a).
	PresetAudio TargetPreset = "audio"
	// PresetVideo transcodes to h264/aac in an mp4 container.
	PresetVideo TargetPreset = "video"
	// PresetCustom passes user-supplied engine output arguments through.
	PresetCustom TargetPreset = "custom"
)

// Failure reason constants surfaced on failed jobs. EngineError reasons are
// formatted with the exit code, e.g. "engine_error:1".
const (
	ReasonLaunchError   = "launch_error"
	ReasonTimeout       = "timeout"
	ReasonMissingOutput = "missing_output"
	ReasonFetchError    = "fetch_error"
	ReasonShutdown      = "shutdown"
	ReasonWorkerCrash   = "worker_crash"
)

// EngineErrorReason formats a failure reason for a non-zero engine exit code.
func EngineErrorReason(code int) string {
	return fmt.Sprintf("engine_error:%d", code)
}

// Job represents a single unit of requested media transformation work,
// tracked from submission through a terminal status.
type Job struct {
	BaseModel

	// SourceURL is the locator of the input media. http(s) URLs are
	// fetched before the engine is launched; anything else is treated as
	// a local path.
	SourceURL string `gorm:"not null;size:2048" json:"source_url"`

	// Preset selects the output profile.
	Preset TargetPreset `gorm:"not null;size:20" json:"preset"`

	// Container overrides the preset's output container (optional).
	Container string `gorm:"size:20" json:"container,omitempty"`

	// VideoCodec overrides the preset's video codec (optional).
	VideoCodec string `gorm:"size:50" json:"video_codec,omitempty"`

	// AudioCodec overrides the preset's audio codec (optional).
	AudioCodec string `gorm:"size:50" json:"audio_codec,omitempty"`

	// ExtraArgs carries raw engine output arguments (required for the
	// custom preset).
	ExtraArgs string `gorm:"size:2048" json:"extra_args,omitempty"`

	// Status is the current lifecycle state.
	Status JobStatus `gorm:"not null;default:'queued';size:20;index" json:"status"`

	// StartedAt is when a worker began supervising the job.
	StartedAt *Time `json:"started_at,omitempty"`

	// CompletedAt is when the job reached a terminal status.
	CompletedAt *Time `gorm:"index" json:"completed_at,omitempty"`

	// DurationMs is the execution duration in milliseconds.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// ErrorReason is the failure cause, present only when Status is failed.
	ErrorReason string `gorm:"size:512" json:"error_reason,omitempty"`

	// OutputPath is the produced artifact, present only when succeeded.
	OutputPath string `gorm:"size:2048" json:"output_path,omitempty"`

	// TimeoutSeconds is the per-job engine timeout. Zero means the
	// configured default applies.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// IsTerminal returns true once the job reached a final status.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// IsQueued returns true while the job is waiting for a worker.
func (j *Job) IsQueued() bool {
	return j.Status == JobStatusQueued
}

// IsRunning returns true while a worker is supervising the job.
func (j *Job) IsRunning() bool {
	return j.Status == JobStatusRunning
}

// canTransition reports whether the lifecycle permits moving to next.
func (j *Job) canTransition(next JobStatus) bool {
	switch j.Status {
	case JobStatusQueued:
		return next == JobStatusRunning || next == JobStatusCancelled || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusSucceeded || next == JobStatusFailed || next == JobStatusCancelled
	default:
		return false
	}
}

// MarkRunning transitions the job to running.
func (j *Job) MarkRunning() error {
	if !j.canTransition(JobStatusRunning) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusRunning)
	}
	j.Status = JobStatusRunning
	now := Now()
	j.StartedAt = &now
	return nil
}

// MarkSucceeded transitions the job to succeeded with its output artifact.
func (j *Job) MarkSucceeded(outputPath string) error {
	if !j.canTransition(JobStatusSucceeded) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusSucceeded)
	}
	j.Status = JobStatusSucceeded
	j.OutputPath = outputPath
	j.finish()
	return nil
}

// MarkFailed transitions the job to failed with a reason.
func (j *Job) MarkFailed(reason string) error {
	if !j.canTransition(JobStatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusFailed)
	}
	j.Status = JobStatusFailed
	j.ErrorReason = reason
	j.finish()
	return nil
}

// MarkCancelled transitions the job to cancelled.
func (j *Job) MarkCancelled() error {
	if !j.canTransition(JobStatusCancelled) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusCancelled)
	}
	j.Status = JobStatusCancelled
	j.finish()
	return nil
}

// finish stamps completion time and duration.
func (j *Job) finish() {
	now := Now()
	j.CompletedAt = &now
	if j.StartedAt != nil {
		j.DurationMs = now.Sub(*j.StartedAt).Milliseconds()
	}
}

// Validate performs basic validation on the job.
func (j *Job) Validate() error {
	if j.SourceURL == "" {
		return ErrSourceRequired
	}
	switch j.Preset {
	case PresetAudio, PresetVideo:
	case PresetCustom:
		if j.ExtraArgs == "" {
			return ErrExtraArgsRequired
		}
	default:
		return ErrInvalidPreset
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the job and generates a ULID.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return j.Validate()
}

// JobStats aggregates job counts by status.
type JobStats struct {
	QueuedCount    int64 `json:"queued_count"`
	RunningCount   int64 `json:"running_count"`
	SucceededCount int64 `json:"succeeded_count"`
	FailedCount    int64 `json:"failed_count"`
	CancelledCount int64 `json:"cancelled_count"`
}
