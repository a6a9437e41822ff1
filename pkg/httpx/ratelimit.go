package httpx

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the client-side rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// GraphLimit stays under the documented Graph ceiling of roughly 10,000
// requests per 10 minutes per app and tenant.
// Override with: RATELIMIT_GRAPH_REQUESTS, RATELIMIT_GRAPH_WINDOW_SEC, RATELIMIT_GRAPH_BURST
var GraphLimit = RateLimitConfig{
	RequestsPerWindow: 600,
	Window:            time.Minute,
	Burst:             15,
}

// ParseRateLimitFromEnv reads rate limit configuration from environment variables.
// Environment variables follow the pattern: RATELIMIT_{prefix}_{field}
// For example: RATELIMIT_GRAPH_REQUESTS, RATELIMIT_GRAPH_WINDOW_SEC, RATELIMIT_GRAPH_BURST
func ParseRateLimitFromEnv(prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// RateLimiter paces outbound requests with a token bucket and, after the
// server throttles, holds every caller until the Retry-After period ends.
type RateLimiter struct {
	limiter *rate.Limiter

	mu      sync.Mutex
	retryAt time.Time
}

// NewRateLimiter builds a limiter from config.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	perSecond := float64(config.RequestsPerWindow) / config.Window.Seconds()
	burst := max(config.Burst, 1)
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a request may be sent.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		if err := Sleep(ctx, d); err != nil {
			return err
		}
	}

	return r.limiter.Wait(ctx)
}

// Hold pauses all callers for d. Overlapping holds keep the later deadline.
func (r *RateLimiter) Hold(d time.Duration) {
	if d <= 0 {
		return
	}

	until := time.Now().Add(d)

	r.mu.Lock()
	defer r.mu.Unlock()
	if until.After(r.retryAt) {
		r.retryAt = until
	}
}

// RetryAt returns the end of the current hold, or the zero time.
func (r *RateLimiter) RetryAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryAt
}
