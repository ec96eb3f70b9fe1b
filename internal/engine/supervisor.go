package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rcoury/transcodarr/internal/config"
	"github.com/rcoury/transcodarr/internal/models"
)

// stderrTailLines bounds how much engine stderr is kept for diagnostics.
const stderrTailLines = 40

// Result describes a completed engine run.
type Result struct {
	OutputPath string
	ExitCode   int
	Duration   time.Duration
	Stats      ProcessStats
}

// FailureError carries the reason string recorded on a failed job.
type FailureError struct {
	Reason string
	Err    error
}

func (e *FailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

// FailureReason extracts the recorded reason from an error chain, or returns
// a generic launch error reason when the error carries none.
func FailureReason(err error) string {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return models.ReasonLaunchError
}

// Runner executes a transcode job against prepared input and output paths.
// Implementations return context.Canceled when the run was cancelled rather
// than failed.
type Runner interface {
	Run(ctx context.Context, job *models.Job, inputPath, outputPath string) (*Result, error)
}

// Supervisor runs FFmpeg processes with per-job timeouts and graceful
// termination. On timeout or cancellation the process receives SIGTERM and
// is killed after a grace period if it has not exited.
type Supervisor struct {
	detector       *BinaryDetector
	cfg            config.EngineConfig
	defaultTimeout time.Duration
	termGrace      time.Duration
	logger         *slog.Logger
}

var _ Runner = (*Supervisor)(nil)

// NewSupervisor creates a supervisor.
func NewSupervisor(cfg config.EngineConfig, defaultTimeout time.Duration, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		detector:       NewBinaryDetector(cfg.BinaryPath, cfg.ProbePath),
		cfg:            cfg,
		defaultTimeout: defaultTimeout,
		termGrace:      10 * time.Second,
		logger:         logger.With(slog.String("component", "engine")),
	}
}

// WithTermGrace overrides the SIGTERM-to-SIGKILL grace period.
func (s *Supervisor) WithTermGrace(d time.Duration) *Supervisor {
	s.termGrace = d
	return s
}

// Ready verifies the engine binary is available. Used by readiness checks.
func (s *Supervisor) Ready(ctx context.Context) error {
	_, err := s.detector.Detect(ctx)
	return err
}

// BinaryInfo returns the detected engine installation details.
func (s *Supervisor) BinaryInfo(ctx context.Context) (*BinaryInfo, error) {
	return s.detector.Detect(ctx)
}

// Run executes the job's transcode. The returned error is a *FailureError
// for job failures, or context.Canceled when ctx was cancelled.
func (s *Supervisor) Run(ctx context.Context, job *models.Job, inputPath, outputPath string) (*Result, error) {
	info, err := s.detector.Detect(ctx)
	if err != nil {
		return nil, &FailureError{Reason: models.ReasonLaunchError, Err: err}
	}

	timeout := s.defaultTimeout
	if job.TimeoutSeconds > 0 {
		timeout = time.Duration(job.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := BuildJobCommand(info.FFmpegPath, s.cfg.LogLevel, job, inputPath, outputPath).Args()
	cmd := exec.CommandContext(runCtx, info.FFmpegPath, args...)
	// Ask the process to stop cleanly first; WaitDelay escalates to SIGKILL.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.termGrace

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &FailureError{Reason: models.ReasonLaunchError, Err: err}
	}

	log := s.logger.With(slog.String("job_id", job.ID.String()))
	log.Info("starting engine process",
		slog.String("binary", info.FFmpegPath),
		slog.String("preset", string(job.Preset)),
		slog.Duration("timeout", timeout),
	)
	log.Debug("engine command", slog.String("args", strings.Join(args, " ")))

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &FailureError{Reason: models.ReasonLaunchError, Err: err}
	}

	var tailMu sync.Mutex
	var tail []string
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			tailMu.Lock()
			tail = append(tail, scanner.Text())
			if len(tail) > stderrTailLines {
				tail = tail[1:]
			}
			tailMu.Unlock()
		}
	}()

	monitor := NewProcessMonitor(cmd.Process.Pid)
	monitor.Start()

	waitErr := cmd.Wait()
	<-scanDone
	monitor.Stop()
	duration := time.Since(started)

	result := &Result{
		OutputPath: outputPath,
		Duration:   duration,
		Stats:      monitor.Stats(),
	}

	if waitErr != nil {
		tailMu.Lock()
		stderrTail := strings.Join(tail, "\n")
		tailMu.Unlock()

		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			log.Info("engine process cancelled", slog.Duration("duration", duration))
			return nil, context.Canceled
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			log.Warn("engine process timed out",
				slog.Duration("timeout", timeout),
				slog.String("stderr_tail", stderrTail),
			)
			return nil, &FailureError{Reason: models.ReasonTimeout, Err: runCtx.Err()}
		}

		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			log.Warn("engine process failed",
				slog.Int("exit_code", result.ExitCode),
				slog.Duration("duration", duration),
				slog.String("stderr_tail", stderrTail),
			)
			return nil, &FailureError{
				Reason: models.EngineErrorReason(result.ExitCode),
				Err:    waitErr,
			}
		}

		return nil, &FailureError{Reason: models.ReasonLaunchError, Err: waitErr}
	}

	if err := verifyOutput(outputPath); err != nil {
		log.Warn("engine exited cleanly but output is unusable",
			slog.String("output", outputPath),
			slog.String("error", err.Error()),
		)
		return nil, &FailureError{Reason: models.ReasonMissingOutput, Err: err}
	}

	log.Info("engine process completed",
		slog.Duration("duration", duration),
		slog.Float64("cpu_percent", result.Stats.CPUPercent),
	)

	return result, nil
}

// verifyOutput checks the output artifact exists and is non-empty. A zero
// exit code with no usable output still counts as a failure.
func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output not found: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output file %s is empty", path)
	}
	return nil
}
