package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IdentifyInterval is how often one max_concurrency bucket may start a
// new session.
const IdentifyInterval = 5 * time.Second

// IdentifyLimiter gates Identify sends. Shards share a bucket when
// shardID % maxConcurrency is equal; each bucket admits one identify per
// interval.
type IdentifyLimiter struct {
	maxConcurrency int
	interval       time.Duration

	mu      sync.Mutex
	buckets map[int]*rate.Limiter
}

// NewIdentifyLimiter builds a limiter for the given max_concurrency as
// reported by the gateway metadata. Values below one are treated as one.
func NewIdentifyLimiter(maxConcurrency int, interval time.Duration) *IdentifyLimiter {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if interval <= 0 {
		interval = IdentifyInterval
	}
	return &IdentifyLimiter{
		maxConcurrency: maxConcurrency,
		interval:       interval,
		buckets:        make(map[int]*rate.Limiter),
	}
}

// Wait blocks until shardID may identify or ctx is done.
func (l *IdentifyLimiter) Wait(ctx context.Context, shardID int) error {
	return l.limiter(shardID).Wait(ctx)
}

func (l *IdentifyLimiter) limiter(shardID int) *rate.Limiter {
	key := shardID % l.maxConcurrency

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.interval), 1)
		l.buckets[key] = lim
	}
	return lim
}
