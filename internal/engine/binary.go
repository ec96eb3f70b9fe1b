// Package engine wraps the FFmpeg binary: detection, command construction,
// and supervised execution of transcode processes.
package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BinaryInfo describes the detected FFmpeg installation.
type BinaryInfo struct {
	FFmpegPath   string   `json:"ffmpeg_path"`
	FFprobePath  string   `json:"ffprobe_path,omitempty"`
	Version      string   `json:"version"`
	MajorVersion int      `json:"major_version"`
	MinorVersion int      `json:"minor_version"`
	Encoders     []string `json:"encoders,omitempty"`
}

// HasEncoder returns true if the encoder is available.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// BinaryDetector locates the FFmpeg binaries and caches their capabilities.
type BinaryDetector struct {
	ffmpegOverride  string
	ffprobeOverride string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. Non-empty override paths take
// precedence over PATH lookup.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		ffmpegOverride:  ffmpegPath,
		ffprobeOverride: ffprobePath,
		cacheTTL:        5 * time.Minute,
	}
}

// WithCacheTTL sets how long detection results are cached.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect locates ffmpeg (required) and ffprobe (optional) and probes version
// and encoder support. Results are cached for the configured TTL.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear drops the cached detection result.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	info := &BinaryInfo{}

	ffmpegPath, err := findBinary("ffmpeg", d.ffmpegOverride)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	info.FFmpegPath = ffmpegPath

	// ffprobe is optional; source inspection degrades gracefully without it.
	if ffprobePath, err := findBinary("ffprobe", d.ffprobeOverride); err == nil {
		info.FFprobePath = ffprobePath
	}

	version, err := getVersion(ctx, ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info.Version = version.full
	info.MajorVersion = version.major
	info.MinorVersion = version.minor

	if encoders, err := getEncoders(ctx, ffmpegPath); err == nil {
		info.Encoders = encoders
	}

	return info, nil
}

// findBinary resolves a binary path. Search order: explicit override,
// current directory, PATH.
func findBinary(name, override string) (string, error) {
	if override != "" {
		if isExecutable(override) {
			return override, nil
		}
		return "", fmt.Errorf("configured path %s is not executable", override)
	}

	if localPath := "./" + name; isExecutable(localPath) {
		return localPath, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

type versionInfo struct {
	full  string
	major int
	minor int
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// getVersion parses "ffmpeg version 6.0 ..." or "ffmpeg version n6.0-2-g...".
func getVersion(ctx context.Context, ffmpegPath string) (*versionInfo, error) {
	output, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, err
	}

	for _, line := range strings.Split(string(output), "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			break
		}
		info := &versionInfo{full: parts[2]}
		if matches := versionRegex.FindStringSubmatch(parts[2]); len(matches) >= 3 {
			info.major, _ = strconv.Atoi(matches[1])
			info.minor, _ = strconv.Atoi(matches[2])
		}
		return info, nil
	}

	return nil, fmt.Errorf("failed to parse ffmpeg version")
}

// getEncoders lists encoder names from "ffmpeg -encoders" output.
// Lines look like " V....D libx264   H.264 / AVC ..." after a separator row.
func getEncoders(ctx context.Context, ffmpegPath string) ([]string, error) {
	output, err := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner").Output()
	if err != nil {
		return nil, err
	}

	var encoders []string
	inList := false
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 {
			continue
		}
		if line[0] != 'V' && line[0] != 'A' && line[0] != 'S' {
			continue
		}
		if fields := strings.Fields(strings.TrimSpace(line[6:])); len(fields) >= 1 && fields[0] != "" {
			encoders = append(encoders, fields[0])
		}
	}

	return encoders, nil
}
