package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned for HTTP 404 responses
var ErrNotFound = errors.New("resource not found")

// StatusError is a non-2xx response
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

type ClientConfig struct {
	Name           string
	BaseURL        string
	MaxConcurrency int
	RequestTimeout time.Duration
	RPS            float64
	Burst          int
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	UserAgent      string

	// Breaker trips after this many consecutive failures and stays open for OpenTimeout
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// DefaultClientConfig returns defaults for a collaborator at baseURL
func DefaultClientConfig(name, baseURL string) ClientConfig {
	return ClientConfig{
		Name:                name,
		BaseURL:             baseURL,
		MaxConcurrency:      8,
		RequestTimeout:      15 * time.Second,
		RPS:                 10,
		Burst:               5,
		MaxRetries:          2,
		BackoffBase:         200 * time.Millisecond,
		BackoffMax:          2 * time.Second,
		UserAgent:           "pairsrun/1.0",
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

// ClientPool is a JSON HTTP client with a concurrency cap, rate limit, retry
// on transient failures and a circuit breaker around each logical call.
type ClientPool struct {
	config    ClientConfig
	semaphore chan struct{}
	client    *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	mu        sync.RWMutex
	stats     ClientStats
}

type ClientStats struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	RetriedRequests int64
	TotalLatency    time.Duration
}

func NewClientPool(config ClientConfig) *ClientPool {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	limit := rate.Inf
	if config.RPS > 0 {
		limit = rate.Limit(config.RPS)
	}

	cp := &ClientPool{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrency),
		client:    &http.Client{Timeout: config.RequestTimeout},
		limiter:   rate.NewLimiter(limit, config.Burst),
	}
	cp.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    config.Name,
		Timeout: config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return config.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= config.ConsecutiveFailures
		},
		// Client errors say nothing about the collaborator's health
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || errors.Is(err, ErrNotFound) || (errors.As(err, &se) && se.Code < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
	return cp
}

// State returns the breaker state name
func (cp *ClientPool) State() string {
	return cp.breaker.State().String()
}

// DoJSON sends in as the JSON body (nil for none) and decodes the response into out
func (cp *ClientPool) DoJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", cp.config.Name, err)
		}
		body = b
	}

	_, err := cp.breaker.Execute(func() (interface{}, error) {
		return nil, cp.do(ctx, method, path, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s %s %s: %w", cp.config.Name, method, path, err)
	}
	return err
}

func (cp *ClientPool) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	select {
	case cp.semaphore <- struct{}{}:
		defer func() { <-cp.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	url := strings.TrimRight(cp.config.BaseURL, "/") + path

	var lastErr error
	for attempt := 0; attempt <= cp.config.MaxRetries; attempt++ {
		if attempt > 0 {
			cp.incrementStat("retried")
			backoff := cp.calculateBackoff(attempt)
			log.Debug().
				Dur("backoff", backoff).
				Int("attempt", attempt).
				Str("url", url).
				Msg("Retrying HTTP request")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := cp.limiter.Wait(ctx); err != nil {
			return err
		}

		err := cp.once(ctx, method, url, body, out)
		if err == nil {
			cp.incrementStat("success")
			return nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			break
		}
	}

	cp.incrementStat("failed")
	return fmt.Errorf("%s %s %s: %w", cp.config.Name, method, path, lastErr)
}

func (cp *ClientPool) once(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cp.config.UserAgent != "" {
		req.Header.Set("User-Agent", cp.config.UserAgent)
	}

	start := time.Now()
	resp, err := cp.client.Do(req)
	cp.recordLatency(time.Since(start))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (cp *ClientPool) calculateBackoff(attempt int) time.Duration {
	backoff := cp.config.BackoffBase * time.Duration(1<<uint(attempt))
	if cp.config.BackoffMax > 0 && backoff > cp.config.BackoffMax {
		backoff = cp.config.BackoffMax
	}

	// Add up to 10% jitter to backoff
	jitter := time.Duration(rand.Float64() * 0.1 * float64(backoff))
	return backoff + jitter
}

func (cp *ClientPool) GetStats() ClientStats {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.stats
}

func (cp *ClientPool) incrementStat(statType string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	switch statType {
	case "success":
		cp.stats.TotalRequests++
		cp.stats.SuccessRequests++
	case "failed":
		cp.stats.TotalRequests++
		cp.stats.FailedRequests++
	case "retried":
		cp.stats.RetriedRequests++
	}
}

func (cp *ClientPool) recordLatency(duration time.Duration) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.stats.TotalLatency += duration
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, retryable := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"eof",
	} {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}
	return false
}
