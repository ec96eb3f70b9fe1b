package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcoury/transcodarr/internal/models"
)

func TestCommandBuilder_ArgOrder(t *testing.T) {
	args := NewCommandBuilder("/usr/bin/ffmpeg").
		LogLevel("warning").
		HideBanner().
		Overwrite().
		InputArgs("-ss", "10").
		Input("in.mp4").
		VideoCodec("libx264").
		AudioCodec("aac").
		Output("out.mp4").
		Args()

	joined := strings.Join(args, " ")
	assert.Equal(t, "-loglevel warning -hide_banner -y -ss 10 -i in.mp4 -c:v libx264 -c:a aac out.mp4", joined)
}

func TestBuildJobCommand_AudioPreset(t *testing.T) {
	job := &models.Job{Preset: models.PresetAudio}
	args := strings.Join(BuildJobCommand("/usr/bin/ffmpeg", "", job, "in.mp4", "out.m4a").Args(), " ")

	assert.Contains(t, args, "-vn")
	assert.Contains(t, args, "-c:a aac")
	assert.Contains(t, args, "-b:a 192k")
	assert.Contains(t, args, "-nostdin")
	assert.True(t, strings.HasSuffix(args, "out.m4a"))
}

func TestBuildJobCommand_VideoPreset(t *testing.T) {
	job := &models.Job{Preset: models.PresetVideo}
	args := strings.Join(BuildJobCommand("/usr/bin/ffmpeg", "", job, "in.mkv", "out.mp4").Args(), " ")

	assert.Contains(t, args, "-c:v libx264")
	assert.Contains(t, args, "-crf 23")
	assert.Contains(t, args, "-c:a aac")
	assert.Contains(t, args, "-movflags +faststart")
}

func TestBuildJobCommand_CodecOverrides(t *testing.T) {
	job := &models.Job{
		Preset:     models.PresetVideo,
		VideoCodec: "libx265",
		AudioCodec: "libopus",
	}
	args := strings.Join(BuildJobCommand("/usr/bin/ffmpeg", "", job, "in.mkv", "out.mp4").Args(), " ")

	assert.Contains(t, args, "-c:v libx265")
	assert.Contains(t, args, "-c:a libopus")
	assert.NotContains(t, args, "-crf")
}

func TestBuildJobCommand_CustomPreset(t *testing.T) {
	job := &models.Job{
		Preset:    models.PresetCustom,
		ExtraArgs: `-c:v libvpx-vp9 -b:v 2M -metadata title="my clip"`,
	}
	args := BuildJobCommand("/usr/bin/ffmpeg", "", job, "in.mp4", "out.webm").Args()

	assert.Contains(t, args, "libvpx-vp9")
	assert.Contains(t, args, "title=my clip")
	assert.NotContains(t, strings.Join(args, " "), "-c:a aac")
}

func TestOutputExtension(t *testing.T) {
	tests := []struct {
		name string
		job  *models.Job
		want string
	}{
		{"audio default", &models.Job{Preset: models.PresetAudio}, ".m4a"},
		{"video default", &models.Job{Preset: models.PresetVideo}, ".mp4"},
		{"custom default", &models.Job{Preset: models.PresetCustom}, ".mp4"},
		{"container override", &models.Job{Preset: models.PresetVideo, Container: "mkv"}, ".mkv"},
		{"container with dot", &models.Job{Preset: models.PresetAudio, Container: ".ogg"}, ".ogg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputExtension(tt.job))
		})
	}
}

func TestParseOptionsString(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"-c:v libx264 -crf 23", []string{"-c:v", "libx264", "-crf", "23"}},
		{`-metadata title="hello world"`, []string{"-metadata", "title=hello world"}},
		{`-vf 'scale=1280:-1'`, []string{"-vf", "scale=1280:-1"}},
		{"", nil},
		{"   ", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseOptionsString(tt.input), "input: %q", tt.input)
	}
}
