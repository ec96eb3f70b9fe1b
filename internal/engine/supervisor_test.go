package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcoury/transcodarr/internal/config"
	"github.com/rcoury/transcodarr/internal/models"
)

// fakeEngineScript emulates just enough of the ffmpeg CLI for supervisor
// tests: version/encoder probes plus a transcode phase whose behavior is
// selected via the FAKE_ENGINE_MODE environment variable.
const fakeEngineScript = `#!/bin/sh
case "$1" in
  -version)
    echo "ffmpeg version 6.1.1"
    exit 0
    ;;
  -encoders)
    echo "Encoders:"
    echo " ------"
    echo " V....D libx264              H.264 encoder"
    echo " A....D aac                  AAC encoder"
    exit 0
    ;;
esac
for last; do :; done
case "$FAKE_ENGINE_MODE" in
  hang)
    sleep 60
    ;;
  fail)
    echo "conversion failed" >&2
    exit 3
    ;;
  silent)
    exit 0
    ;;
  *)
    echo "frame=100" >&2
    printf 'payload' > "$last"
    ;;
esac
`

func writeFakeEngine(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(fakeEngineScript), 0o755))
	return path
}

func newTestSupervisor(t *testing.T, timeout time.Duration) *Supervisor {
	t.Helper()
	return NewSupervisor(config.EngineConfig{
		BinaryPath: writeFakeEngine(t),
		LogLevel:   "error",
	}, timeout, nil).WithTermGrace(2 * time.Second)
}

func testJob() *models.Job {
	job := &models.Job{
		SourceURL: "https://example.com/in.mp4",
		Preset:    models.PresetVideo,
		Status:    models.JobStatusQueued,
	}
	job.ID = models.NewULID()
	return job
}

func TestSupervisor_Ready(t *testing.T) {
	s := newTestSupervisor(t, time.Minute)
	require.NoError(t, s.Ready(context.Background()))

	info, err := s.BinaryInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, info.MajorVersion)
	assert.True(t, info.HasEncoder("libx264"))
}

func TestSupervisor_Ready_MissingBinary(t *testing.T) {
	s := NewSupervisor(config.EngineConfig{
		BinaryPath: filepath.Join(t.TempDir(), "does-not-exist"),
	}, time.Minute, nil)

	assert.Error(t, s.Ready(context.Background()))
}

func TestSupervisor_Run_Succeeds(t *testing.T) {
	s := newTestSupervisor(t, time.Minute)
	out := filepath.Join(t.TempDir(), "out.mp4")

	result, err := s.Run(context.Background(), testJob(), "in.mp4", out)
	require.NoError(t, err)
	assert.Equal(t, out, result.OutputPath)
	assert.Zero(t, result.ExitCode)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestSupervisor_Run_EngineError(t *testing.T) {
	t.Setenv("FAKE_ENGINE_MODE", "fail")
	s := newTestSupervisor(t, time.Minute)

	_, err := s.Run(context.Background(), testJob(), "in.mp4", filepath.Join(t.TempDir(), "out.mp4"))
	require.Error(t, err)
	assert.Equal(t, "engine_error:3", FailureReason(err))
}

func TestSupervisor_Run_Timeout(t *testing.T) {
	t.Setenv("FAKE_ENGINE_MODE", "hang")
	s := newTestSupervisor(t, time.Minute)

	job := testJob()
	job.TimeoutSeconds = 1

	start := time.Now()
	_, err := s.Run(context.Background(), job, "in.mp4", filepath.Join(t.TempDir(), "out.mp4"))
	require.Error(t, err)
	assert.Equal(t, models.ReasonTimeout, FailureReason(err))
	assert.Less(t, time.Since(start), 30*time.Second, "timed-out process must be reaped promptly")
}

func TestSupervisor_Run_MissingOutput(t *testing.T) {
	t.Setenv("FAKE_ENGINE_MODE", "silent")
	s := newTestSupervisor(t, time.Minute)

	_, err := s.Run(context.Background(), testJob(), "in.mp4", filepath.Join(t.TempDir(), "out.mp4"))
	require.Error(t, err)
	assert.Equal(t, models.ReasonMissingOutput, FailureReason(err))
}

func TestSupervisor_Run_Cancelled(t *testing.T) {
	t.Setenv("FAKE_ENGINE_MODE", "hang")
	s := newTestSupervisor(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := s.Run(ctx, testJob(), "in.mp4", filepath.Join(t.TempDir(), "out.mp4"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, models.ReasonTimeout, FailureReason(&FailureError{Reason: models.ReasonTimeout}))
	assert.Equal(t, models.ReasonLaunchError, FailureReason(errors.New("plain error")))
}

func TestVerifyOutput(t *testing.T) {
	dir := t.TempDir()

	missing := filepath.Join(dir, "missing.mp4")
	assert.Error(t, verifyOutput(missing))

	empty := filepath.Join(dir, "empty.mp4")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	assert.Error(t, verifyOutput(empty))

	ok := filepath.Join(dir, "ok.mp4")
	require.NoError(t, os.WriteFile(ok, []byte("data"), 0o644))
	assert.NoError(t, verifyOutput(ok))
}
