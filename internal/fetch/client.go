// Package fetch downloads remote job sources into per-job work directories.
// The HTTP client retries transient failures with exponential backoff, trips
// a circuit breaker on repeated failures, and transparently decompresses
// gzip, deflate, and brotli response bodies.
package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/rcoury/transcodarr/internal/version"
)

var (
	// ErrCircuitOpen is returned when the breaker is rejecting requests.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrMaxRetries is returned when all retry attempts are exhausted.
	ErrMaxRetries = errors.New("maximum retry attempts exceeded")
)

// ClientConfig configures the resilient HTTP client.
type ClientConfig struct {
	Timeout           time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	RetryMaxDelay     time.Duration
	BackoffMultiplier float64
	BreakerThreshold  int
	BreakerTimeout    time.Duration
	UserAgent         string
	Logger            *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:           5 * time.Minute,
		RetryAttempts:     3,
		RetryDelay:        time.Second,
		RetryMaxDelay:     30 * time.Second,
		BackoffMultiplier: 2.0,
		BreakerThreshold:  5,
		BreakerTimeout:    30 * time.Second,
		UserAgent:         version.UserAgent(),
	}
}

// Client is an HTTP client with retries, a circuit breaker, and transparent
// response decompression.
type Client struct {
	cfg     ClientConfig
	client  *http.Client
	breaker *circuitBreaker
	logger  *slog.Logger
}

// NewClient creates a resilient client from cfg.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2.0
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerTimeout),
		logger:  cfg.Logger,
	}
}

// Get performs a GET request with retry and breaker protection.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// Do executes the request, retrying transient failures.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if req.Header.Get("User-Agent") == "" && c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}

	var lastErr error
	delay := c.cfg.RetryDelay

	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", req.URL.String()),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.cfg.BackoffMultiplier)
			if delay > c.cfg.RetryMaxDelay {
				delay = c.cfg.RetryMaxDelay
			}
		}

		if !c.breaker.Allow() {
			lastErr = ErrCircuitOpen
			continue
		}

		resp, err := c.client.Do(req.WithContext(ctx))
		if err != nil {
			c.breaker.RecordFailure()
			lastErr = err
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			c.logger.Warn("request failed",
				slog.String("url", req.URL.String()),
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
			)
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			c.breaker.RecordFailure()
			lastErr = fmt.Errorf("retryable status code: %d", resp.StatusCode)
			resp.Body.Close()
			continue
		}

		if resp.StatusCode < 500 {
			c.breaker.RecordSuccess()
		} else {
			c.breaker.RecordFailure()
		}

		resp.Body = wrapDecompression(resp)
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// isRetryableStatus reports whether the status code is worth retrying.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// wrapDecompression wraps the response body according to Content-Encoding.
func wrapDecompression(resp *http.Response) io.ReadCloser {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}
	case "deflate":
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}
	case "br":
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}
	default:
		return resp.Body
	}
}

// decompressReader pairs a decompressing reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if c, ok := d.reader.(io.Closer); ok {
		_ = c.Close()
	}
	return d.closer.Close()
}

// circuitState is the breaker state machine position.
type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

// circuitBreaker opens after threshold consecutive failures and allows a
// single probe request once the timeout has elapsed.
type circuitBreaker struct {
	mu        sync.Mutex
	state     circuitState
	failures  int
	threshold int
	timeout   time.Duration
	openedAt  time.Time
}

func newCircuitBreaker(threshold int, timeout time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &circuitBreaker{threshold: threshold, timeout: timeout}
}

func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(cb.openedAt) >= cb.timeout {
			cb.state = stateHalfOpen
			return true
		}
		return false
	default: // half-open: one probe in flight
		return false
	}
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = stateClosed
	cb.failures = 0
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == stateHalfOpen {
		cb.state = stateOpen
		cb.openedAt = time.Now()
		return
	}

	cb.failures++
	if cb.failures >= cb.threshold {
		cb.state = stateOpen
		cb.openedAt = time.Now()
	}
}
