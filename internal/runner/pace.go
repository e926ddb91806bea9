package runner

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out consecutive processor calls. The run loop calls Wait
// between items; implementations block until the next item may proceed.
type Pacer interface {
	Wait(ctx context.Context) error
}

type fixedDelay struct {
	d time.Duration
}

// FixedDelay returns a Pacer that sleeps a constant duration between items,
// the behavior the dashboard shipped with.
func FixedDelay(d time.Duration) Pacer {
	return fixedDelay{d: d}
}

func (f fixedDelay) Wait(ctx context.Context) error {
	if f.d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(f.d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TokenBucket returns a Pacer backed by a token bucket, for deployments
// that want sustained-rate smoothing instead of a flat sleep. The loop is
// still strictly sequential; only the spacing policy changes.
func TokenBucket(perSecond float64, burst int) Pacer {
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
