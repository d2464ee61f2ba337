package osmosis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/osmosync/service/metrics"
	"golang.org/x/time/rate"
)

// Transport performs a request against a JSON HTTP API and returns the raw response body.
// Implementations fail with *NetworkError on transport failure or a non-2xx status.
type Transport interface {
	Do(ctx context.Context, method, url string, body any) ([]byte, error)
	// DoOnce is like Do but never retries. Used for non-idempotent calls such as tx submission.
	DoOnce(ctx context.Context, method, url string, body any) ([]byte, error)
}

// NetworkError describes a failed call to the indexer or node.
type NetworkError struct {
	Method     string
	URL        string
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, truncate(e.Body, 256))
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the call might succeed.
func (e *NetworkError) Temporary() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, context.DeadlineExceeded)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TransportConfig configures an HTTPTransport.
type TransportConfig struct {
	Component         string        // metrics label, e.g. "indexer" or "node"
	Timeout           time.Duration // per request
	RequestsPerSecond float64       // <= 0 disables rate limiting
	MaxAttempts       int
	BaseBackoff       time.Duration
}

// HTTPTransport is the production Transport.
// It rate limits outbound requests and retries idempotent calls with exponential backoff.
type HTTPTransport struct {
	client      *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
	metrics     *metrics.Metrics
	component   string
	maxAttempts int
	baseBackoff time.Duration
}

// NewHTTPTransport creates a new HTTPTransport.
// If metrics is nil, no metrics will be recorded.
func NewHTTPTransport(cfg TransportConfig, m *metrics.Metrics, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}
	return &HTTPTransport{
		client:      &http.Client{Timeout: cfg.Timeout},
		limiter:     limiter,
		logger:      logger,
		metrics:     m,
		component:   cfg.Component,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
	}
}

// Do performs the request, retrying on 429, 5xx and connection errors.
func (t *HTTPTransport) Do(ctx context.Context, method, url string, body any) ([]byte, error) {
	var lastErr error
	for attempt := range t.maxAttempts {
		out, err := t.DoOnce(ctx, method, url, body)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var netErr *NetworkError
		if !errors.As(err, &netErr) || !netErr.Temporary() || attempt == t.maxAttempts-1 {
			break
		}

		reason := "timeout_or_error"
		backoff := t.baseBackoff << uint(attempt) // 1s, 2s, 4s, ...
		if netErr.StatusCode == http.StatusTooManyRequests {
			reason = "rate_limit"
			backoff *= 2
			if t.metrics != nil {
				t.metrics.RecordRateLimitHit(t.component)
			}
		}
		if t.metrics != nil {
			t.metrics.RecordNetworkRetry(t.component, reason)
		}
		t.logger.WarnContext(ctx, "request failed, retrying",
			"component", t.component,
			"method", method,
			"url", url,
			"attempt", attempt+1,
			"error", err,
			"backoff_seconds", backoff.Seconds(),
		)

		select {
		case <-ctx.Done():
			return nil, &NetworkError{Method: method, URL: url, Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

// DoOnce performs a single attempt of the request.
func (t *HTTPTransport) DoOnce(ctx context.Context, method, url string, body any) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, &NetworkError{Method: method, URL: url, Err: err}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		t.record(method, "error", duration)
		return nil, &NetworkError{Method: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.record(method, "error", duration)
		return nil, &NetworkError{Method: method, URL: url, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.record(method, "error", duration)
		return nil, &NetworkError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: string(out)}
	}

	t.record(method, "success", duration)
	t.logger.DebugContext(ctx, "request completed",
		"component", t.component,
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"bytes", len(out),
	)
	return out, nil
}

func (t *HTTPTransport) record(method, status string, duration float64) {
	if t.metrics != nil {
		t.metrics.RecordNetworkCall(t.component, method, status, duration)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
