package resilience

import (
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ClientHealth is the getHealth() contract from spec §4.R3.
type ClientHealth struct {
	Healthy      bool
	CircuitState BreakerState
	RequestCount int64
	ErrorCount   int64
	ErrorRate    float64
}

// ResilientHTTPClientConfig configures one named resilient client.
type ResilientHTTPClientConfig struct {
	// Name identifies the circuit breaker and rate-limiter bucket class
	// this client uses.
	Name string
	Class BucketClass

	Timeout       time.Duration
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	RetryableCodes map[int]bool

	// MinSpacing enforces a floor on inter-request gaps as an extra safety
	// throttle, independent of the token bucket.
	MinSpacing time.Duration
}

// DefaultRetryableCodes is the spec's default retryable status set.
func DefaultRetryableCodes() map[int]bool {
	return map[int]bool{408: true, 429: true, 500: true, 502: true, 503: true, 504: true}
}

// ResilientHTTPClient composes a circuit breaker and a rate limiter around
// net/http with exponential backoff, Retry-After honoring, and per-status
// retry policy, per spec §4.R3.
type ResilientHTTPClient struct {
	cfg      ResilientHTTPClientConfig
	breakers *Registry
	limiter  *DualBucketRateLimiter
	client   *http.Client
	spacer   *rate.Limiter
	log      zerolog.Logger

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewResilientHTTPClient builds a client wrapping the given breaker
// registry and dual rate limiter.
func NewResilientHTTPClient(cfg ResilientHTTPClientConfig, breakers *Registry, limiter *DualBucketRateLimiter, log zerolog.Logger) *ResilientHTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.RetryableCodes == nil {
		cfg.RetryableCodes = DefaultRetryableCodes()
	}
	var spacer *rate.Limiter
	if cfg.MinSpacing > 0 {
		spacer = rate.NewLimiter(rate.Every(cfg.MinSpacing), 1)
	}
	return &ResilientHTTPClient{
		cfg:      cfg,
		breakers: breakers,
		limiter:  limiter,
		client:   &http.Client{Timeout: cfg.Timeout},
		spacer:   spacer,
		log:      log.With().Str("component", "resilient_http").Str("client", cfg.Name).Logger(),
	}
}

// enforceSpacing is the "minimum inter-request spacing" safety throttle
// required by spec §4.R3, layered underneath the weighted dual bucket.
func (c *ResilientHTTPClient) enforceSpacing(ctx context.Context) {
	if c.spacer == nil {
		return
	}
	_ = c.spacer.Wait(ctx)
}

// Do executes req with rate-limiting, circuit-breaking, retry, and
// Retry-After handling. req.Body must be re-readable across retries; pass a
// nil body or use a GetBody-capable request for non-GET retries.
func (c *ResilientHTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	limitResult := c.limiter.Bucket(c.cfg.Class).ConsumeAndWait(1, 30_000)
	if !limitResult.Allowed {
		return nil, ErrCircuitOpen
	}

	var finalResp *http.Response
	var finalErr error

	breakerErr := c.breakers.Execute(ctx, c.cfg.Name, func(ctx context.Context) error {
		resp, err := c.doWithRetry(ctx, req)
		finalResp, finalErr = resp, err
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return errStatusFailure{code: resp.StatusCode}
		}
		return nil
	}, nil)

	if breakerErr != nil && finalErr == nil && finalResp == nil {
		return nil, breakerErr
	}
	return finalResp, finalErr
}

type errStatusFailure struct{ code int }

func (e errStatusFailure) Error() string { return "upstream returned 5xx" }

func (c *ResilientHTTPClient) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		c.enforceSpacing(ctx)

		reqCtx := req.Clone(ctx)
		c.requestCount.Add(1)
		resp, err := c.client.Do(reqCtx)
		if err != nil {
			c.errorCount.Add(1)
			lastErr = err
			if attempt == c.cfg.MaxRetries {
				return nil, err
			}
			c.sleepBackoff(attempt, nil)
			continue
		}

		if resp.StatusCode < 300 {
			return resp, nil
		}

		if !c.cfg.RetryableCodes[resp.StatusCode] {
			return resp, nil
		}

		c.errorCount.Add(1)
		if attempt == c.cfg.MaxRetries {
			return resp, nil
		}

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		c.sleepBackoff(attempt, retryAfter)
	}
	return nil, lastErr
}

// sleepBackoff sleeps for Retry-After when the response carried one, and
// otherwise for exponential backoff plus up to 30% jitter; either delay is
// capped at MaxDelay. Retry-After always wins over the backoff.
func (c *ResilientHTTPClient) sleepBackoff(attempt int, retryAfter *time.Duration) {
	if retryAfter != nil {
		d := *retryAfter
		if d > c.cfg.MaxDelay {
			d = c.cfg.MaxDelay
		}
		time.Sleep(d)
		return
	}

	base := float64(c.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	jitter := base * 0.30 * rand.Float64()
	delay := time.Duration(base + jitter)
	if delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}
	time.Sleep(delay)
}

// parseRetryAfter parses either a delay-seconds or an HTTP-date form.
func parseRetryAfter(header string) *time.Duration {
	if header == "" {
		return nil
	}
	if secs, err := strconv.Atoi(header); err == nil {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

// GetHealth reports the client's own request/error counters combined with
// the underlying breaker's state. healthy iff CLOSED and errorRate < 10%.
func (c *ResilientHTTPClient) GetHealth() ClientHealth {
	reqs := c.requestCount.Load()
	errs := c.errorCount.Load()
	var rate float64
	if reqs > 0 {
		rate = float64(errs) / float64(reqs)
	}
	status := c.breakers.GetBreakerStatus(c.cfg.Name)
	return ClientHealth{
		Healthy:      status.State == StateClosed && rate < 0.10,
		CircuitState: status.State,
		RequestCount: reqs,
		ErrorCount:   errs,
		ErrorRate:    rate,
	}
}
