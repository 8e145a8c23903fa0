package channel

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces out external calls made by sweeps. A nil Throttle never waits.
type Throttle struct {
	limiter *rate.Limiter
}

func NewThrottle(pause time.Duration) *Throttle {
	if pause <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(pause), 1)}
}

func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}
