// Package collectors implements the polymorphic source collectors.
//
// Every collector normalizes an external feed into domain.RawItems under a
// shared contract: config validation, rate-limited requests, date-range and
// relevance filtering, per-symbol caps, and failure-as-value semantics. A
// failure of one symbol never prevents collection for another; total failure
// returns Success=false with a message rather than an error.
package collectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/abood991b/insightbull/internal/domain"
)

// RateLimiter is the admission interface collectors require.
type RateLimiter interface {
	Acquire(ctx context.Context, source domain.Source) error
	Backoff(source domain.Source, attempt int, err error) time.Duration
}

// Collector is the contract every source implementation adheres to.
type Collector interface {
	// Source returns the data source this collector handles.
	Source() domain.Source
	// RequiresAPIKey reports whether the collector needs a credential.
	RequiresAPIKey() bool
	// Collect fetches and normalizes items for the config.
	Collect(ctx context.Context, cfg domain.CollectionConfig) domain.CollectionResult
	// ValidateConnection checks reachability of the external service.
	ValidateConnection(ctx context.Context) error
}

// HealthStatus is the health-check report for one collector.
type HealthStatus struct {
	Source           domain.Source `json:"source"`
	Healthy          bool          `json:"healthy"`
	ResponseTime     float64       `json:"response_time_seconds"`
	APIKeyConfigured bool          `json:"api_key_configured"`
	Error            string        `json:"error,omitempty"`
}

// CheckHealth runs a collector's connection validation with timing.
func CheckHealth(ctx context.Context, c Collector) HealthStatus {
	start := time.Now()
	err := c.ValidateConnection(ctx)
	status := HealthStatus{
		Source:           c.Source(),
		Healthy:          err == nil,
		ResponseTime:     time.Since(start).Seconds(),
		APIKeyConfigured: !c.RequiresAPIKey(),
	}
	if c.RequiresAPIKey() {
		// Key-gated collectors only exist when their key was present.
		status.APIKeyConfigured = true
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// httpClient wraps the outbound HTTP path shared by all collectors:
// rate-limiter admission, a per-source circuit breaker, retry with the
// limiter's backoff policy, and body size capping.
type httpClient struct {
	source  domain.Source
	client  *http.Client
	limiter RateLimiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

const maxResponseBytes = 10 << 20 // 10 MiB cap on any source payload

func newHTTPClient(source domain.Source, timeout time.Duration, limiter RateLimiter, log zerolog.Logger) *httpClient {
	settings := gobreaker.Settings{
		Name: string(source),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 2 * time.Minute,
	}
	return &httpClient{
		source:  source,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log,
	}
}

// getJSON issues a rate-limited GET and returns the response body. Transient
// failures (network errors, 429, 5xx) are retried under the limiter's
// backoff policy until it returns zero.
func (h *httpClient) getJSON(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if h.limiter != nil {
			if err := h.limiter.Acquire(ctx, h.source); err != nil {
				return nil, err
			}
		}

		body, err := h.doOnce(ctx, url, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isTransient(err) {
			return nil, err
		}

		var delay time.Duration
		if h.limiter != nil {
			delay = h.limiter.Backoff(h.source, attempt, err)
		}
		if delay <= 0 {
			return nil, lastErr
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (h *httpClient) doOnce(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	result, err := h.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("User-Agent", "insightbull/1.0")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			// Drain a little so the connection can be reused.
			_, _ = io.CopyN(io.Discard, resp.Body, 4096)
			return nil, &statusError{Code: resp.StatusCode}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// statusError carries a non-200 HTTP status through the retry logic.
type statusError struct {
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API returned status %d", e.Code)
}

// isTransient reports whether an error is worth retrying: network-level
// failures, 429s, and 5xx responses.
func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	return true
}

// failedResult builds the total-failure CollectionResult for a source.
func failedResult(source domain.Source, start time.Time, msg string) domain.CollectionResult {
	return domain.CollectionResult{
		Source:        source,
		Success:       false,
		ErrorMessage:  msg,
		ExecutionTime: time.Since(start),
	}
}

// successResult builds the success CollectionResult for a source.
func successResult(source domain.Source, start time.Time, items []domain.RawItem) domain.CollectionResult {
	return domain.CollectionResult{
		Source:         source,
		Success:        true,
		Items:          items,
		ItemsCollected: len(items),
		ExecutionTime:  time.Since(start),
	}
}

// capPerSymbol enforces the per-symbol item budget, preserving order.
func capPerSymbol(items []domain.RawItem, limit int) []domain.RawItem {
	counts := make(map[string]int)
	out := items[:0:0]
	for _, item := range items {
		if counts[item.Symbol] >= limit {
			continue
		}
		counts[item.Symbol]++
		out = append(out, item)
	}
	return out
}
