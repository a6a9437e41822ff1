package httpx

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes exponential retry delays with symmetric jitter.
type Backoff struct {
	Base   time.Duration // delay before the first retry
	Factor float64       // growth per attempt
	Cap    time.Duration // upper bound before jitter
	Jitter float64       // fraction of the delay, e.g. 0.2 for ±20%

	// Rand returns a value in [0,1). Tests pin it; nil uses math/rand/v2.
	Rand func() float64
}

// DefaultBackoff is 500ms doubling up to 4s with ±20% jitter.
var DefaultBackoff = Backoff{
	Base:   500 * time.Millisecond,
	Factor: 2,
	Cap:    4 * time.Second,
	Jitter: 0.2,
}

// Delay returns the wait before retry number attempt (zero based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(b.Base) * math.Pow(b.Factor, float64(attempt))
	if b.Cap > 0 && d > float64(b.Cap) {
		d = float64(b.Cap)
	}

	if b.Jitter > 0 {
		rnd := b.Rand
		if rnd == nil {
			rnd = rand.Float64
		}
		// Map [0,1) onto [-jitter, +jitter)
		d += d * b.Jitter * (2*rnd() - 1)
	}

	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
