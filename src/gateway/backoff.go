package gateway

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff is a bounded exponential backoff with full jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is used when a Config leaves Backoff zero.
var DefaultBackoff = Backoff{Base: time.Second, Max: time.Minute}

// Delay returns a random duration in [0, min(Max, Base*2^attempt)].
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	ceiling := b.Base
	for i := 0; i < attempt && ceiling < b.Max; i++ {
		ceiling *= 2
	}
	if b.Max > 0 && ceiling > b.Max {
		ceiling = b.Max
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
