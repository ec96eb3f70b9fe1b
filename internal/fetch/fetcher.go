package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrSourceTooLarge is returned when a remote source exceeds the size limit.
var ErrSourceTooLarge = fmt.Errorf("source exceeds maximum allowed size")

// Fetcher materializes job sources as local files inside a work directory.
// Remote http(s) sources are downloaded; anything else is treated as a path
// on the local filesystem and used in place.
type Fetcher struct {
	client   *Client
	maxBytes int64
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher. maxBytes of zero disables the size limit.
func NewFetcher(client *Client, maxBytes int64, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:   client,
		maxBytes: maxBytes,
		logger:   logger.With(slog.String("component", "fetch")),
	}
}

// Fetch returns a local path for source. Downloads land in workDir; local
// sources are validated and returned unchanged.
func (f *Fetcher) Fetch(ctx context.Context, source, workDir string) (string, error) {
	u, err := url.Parse(source)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return f.download(ctx, source, u, workDir)
	}
	if err == nil && u.Scheme == "file" {
		source = u.Path
	}

	// Local path: require an existing regular, non-empty file.
	info, err := os.Stat(source)
	if err != nil {
		return "", fmt.Errorf("local source: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("local source %s is a directory", source)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("local source %s is empty", source)
	}
	return source, nil
}

func (f *Fetcher) download(ctx context.Context, source string, u *url.URL, workDir string) (string, error) {
	start := time.Now()
	resp, err := f.client.Get(ctx, source)
	if err != nil {
		return "", fmt.Errorf("fetching source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching source: unexpected status %d", resp.StatusCode)
	}

	dest := filepath.Join(workDir, inputFilename(u))
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("creating input file: %w", err)
	}
	defer out.Close()

	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}

	written, err := io.Copy(out, reader)
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("downloading source: %w", err)
	}
	if f.maxBytes > 0 && written > f.maxBytes {
		os.Remove(dest)
		return "", fmt.Errorf("%w: limit %d bytes", ErrSourceTooLarge, f.maxBytes)
	}
	if written == 0 {
		os.Remove(dest)
		return "", fmt.Errorf("downloaded source is empty")
	}

	f.logger.Info("source downloaded",
		slog.String("url", source),
		slog.Int64("bytes", written),
		slog.Duration("duration", time.Since(start)),
	)
	return dest, nil
}

// inputFilename derives a safe local filename from the source URL, falling
// back to a generic name when the path has none.
func inputFilename(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "input"
	}
	// Strip anything path-like that survived Base.
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	return "input_" + name
}
