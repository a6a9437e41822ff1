package httpx_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func TestParseRateLimitFromEnv(t *testing.T) {
	t.Setenv("RATELIMIT_TEST_REQUESTS", "30")
	t.Setenv("RATELIMIT_TEST_WINDOW_SEC", "10")
	t.Setenv("RATELIMIT_TEST_BURST", "not-a-number")

	cfg := httpx.ParseRateLimitFromEnv("TEST", httpx.GraphLimit)
	require.Equal(t, 30, cfg.RequestsPerWindow)
	require.Equal(t, 10*time.Second, cfg.Window)
	require.Equal(t, httpx.GraphLimit.Burst, cfg.Burst, "invalid values keep the default")
}

func TestRateLimiterHold(t *testing.T) {
	t.Parallel()

	rl := httpx.NewRateLimiter(httpx.RateLimitConfig{RequestsPerWindow: 1000, Window: time.Second, Burst: 10})
	rl.Hold(80 * time.Millisecond)
	rl.Hold(10 * time.Millisecond) // shorter hold must not shorten the first

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	t.Parallel()

	rl := httpx.NewRateLimiter(httpx.GraphLimit)
	rl.Hold(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, rl.Wait(ctx), context.Canceled)
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	b := httpx.DefaultBackoff
	b.Rand = func() float64 { return 0.5 } // no jitter

	require.Equal(t, 500*time.Millisecond, b.Delay(0))
	require.Equal(t, time.Second, b.Delay(1))
	require.Equal(t, 2*time.Second, b.Delay(2))
	require.Equal(t, 4*time.Second, b.Delay(3))
	require.Equal(t, 4*time.Second, b.Delay(10), "capped")
}

func TestBackoffJitterBounds(t *testing.T) {
	t.Parallel()

	for attempt := range 5 {
		d := httpx.DefaultBackoff.Delay(attempt)
		base := min(500*time.Millisecond<<attempt, 4*time.Second)
		require.GreaterOrEqual(t, d, time.Duration(float64(base)*0.8))
		require.LessOrEqual(t, d, time.Duration(float64(base)*1.2))
	}
}

func TestSleepHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, httpx.Sleep(ctx, time.Hour), context.DeadlineExceeded)
	require.NoError(t, httpx.Sleep(context.Background(), time.Millisecond))
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		header string
		want   time.Duration
		ok     bool
	}{
		{"seconds", "7", 7 * time.Second, true},
		{"zero", "0", 0, true},
		{"http date", now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second, true},
		{"date in the past", now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
		{"empty", "", 0, false},
		{"negative", "-3", 0, false},
		{"garbage", "soon", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := httpx.ParseRetryAfter(tt.header, now)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}

	require.True(t, httpx.IsRetryableStatus(http.StatusTooManyRequests))
	require.True(t, httpx.IsRetryableStatus(http.StatusBadGateway))
	require.False(t, httpx.IsRetryableStatus(http.StatusNotFound))
}
