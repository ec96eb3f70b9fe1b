package engine

import (
	"strings"

	"github.com/rcoury/transcodarr/internal/models"
)

// CommandBuilder assembles FFmpeg argument lists with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
}

// NewCommandBuilder creates a builder for the given ffmpeg binary.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	if level != "" {
		b.logLevel = level
	}
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// NoStdin disables interaction on stdin so a prompt can never stall the job.
func (b *CommandBuilder) NoStdin() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-nostdin")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs adds arbitrary input arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	return b
}

// DropVideo discards all video streams.
func (b *CommandBuilder) DropVideo() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-vn")
	return b
}

// MovFlags sets MP4 muxer flags.
func (b *CommandBuilder) MovFlags(flags string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-movflags", flags)
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// ApplyCustomOutputOptions parses an options string, respecting quotes, and
// appends the flags to the output arguments.
func (b *CommandBuilder) ApplyCustomOutputOptions(opts string) *CommandBuilder {
	if opts == "" {
		return b
	}
	b.outputArgs = append(b.outputArgs, parseOptionsString(opts)...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Args assembles the final argument list.
func (b *CommandBuilder) Args() []string {
	var args []string
	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)
	if b.overwrite {
		args = append(args, "-y")
	}
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	args = append(args, b.outputArgs...)
	args = append(args, b.output)
	return args
}

// String returns the command as a printable string.
func (b *CommandBuilder) String() string {
	return b.binary + " " + strings.Join(b.Args(), " ")
}

// OutputExtension returns the output file extension for a job, honoring an
// explicit container override before the preset default.
func OutputExtension(job *models.Job) string {
	if job.Container != "" {
		return "." + strings.TrimPrefix(job.Container, ".")
	}
	switch job.Preset {
	case models.PresetAudio:
		return ".m4a"
	default:
		return ".mp4"
	}
}

// BuildJobCommand maps a job's preset and overrides onto an FFmpeg argument
// list reading inputPath and writing outputPath.
func BuildJobCommand(ffmpegPath, logLevel string, job *models.Job, inputPath, outputPath string) *CommandBuilder {
	b := NewCommandBuilder(ffmpegPath).
		LogLevel(logLevel).
		HideBanner().
		NoStdin().
		Overwrite().
		Input(inputPath)

	switch job.Preset {
	case models.PresetAudio:
		b.DropVideo()
		if job.AudioCodec != "" {
			b.AudioCodec(job.AudioCodec)
		} else {
			b.AudioCodec("aac").AudioBitrate("192k")
		}
	case models.PresetVideo:
		if job.VideoCodec != "" {
			b.VideoCodec(job.VideoCodec)
		} else {
			b.VideoCodec("libx264").OutputArgs("-preset", "veryfast", "-crf", "23")
		}
		if job.AudioCodec != "" {
			b.AudioCodec(job.AudioCodec)
		} else {
			b.AudioCodec("aac")
		}
		// Front-load the moov atom so outputs start playing while streaming.
		b.MovFlags("+faststart")
	case models.PresetCustom:
		// Custom presets supply their own output arguments verbatim.
	}

	b.ApplyCustomOutputOptions(job.ExtraArgs)
	return b.Output(outputPath)
}

// parseOptionsString splits an options string respecting quotes.
func parseOptionsString(s string) []string {
	var result []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)
	escaped := false

	for _, r := range s {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}

		if r == '\\' {
			escaped = true
			continue
		}

		if r == '"' || r == '\'' {
			if !inQuote {
				inQuote = true
				quoteChar = r
			} else if r == quoteChar {
				inQuote = false
			} else {
				current.WriteRune(r)
			}
			continue
		}

		if r == ' ' && !inQuote {
			if current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
			continue
		}

		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}
