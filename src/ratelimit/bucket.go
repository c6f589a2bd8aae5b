package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Bucket is a fixed-window token bucket. Takes are an atomic
// compare-and-decrement on the remaining count so unrelated callers
// never serialize behind one another; the mutex only guards the wakeup
// channel handed to blocked waiters.
//
// A Bucket only refills when Refill is called, either by Run (the
// background refill loop) or by the owner after a server told it the
// window has reset.
type Bucket struct {
	capacity  atomic.Int64
	remaining atomic.Int64
	resetAt   atomic.Int64 // unix nanoseconds
	window    time.Duration

	mu       sync.Mutex
	refilled chan struct{}
}

// NewBucket returns a full bucket holding capacity tokens per window.
func NewBucket(capacity int, window time.Duration) *Bucket {
	b := &Bucket{
		window:   window,
		refilled: make(chan struct{}),
	}
	b.capacity.Store(int64(capacity))
	b.remaining.Store(int64(capacity))
	b.resetAt.Store(time.Now().Add(window).UnixNano())
	return b
}

// Capacity returns the number of tokens restored on each refill.
func (b *Bucket) Capacity() int { return int(b.capacity.Load()) }

// Remaining returns the tokens left in the current window.
func (b *Bucket) Remaining() int {
	if r := b.remaining.Load(); r > 0 {
		return int(r)
	}
	return 0
}

// ResetAt returns when the current window ends.
func (b *Bucket) ResetAt() time.Time { return time.Unix(0, b.resetAt.Load()) }

// TryTake takes one token without blocking. It reports false when the
// bucket is empty.
func (b *Bucket) TryTake() bool {
	for {
		r := b.remaining.Load()
		if r <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(r, r-1) {
			return true
		}
	}
}

// Wait takes one token, blocking until a refill makes one available or
// ctx is done.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		if b.TryTake() {
			return nil
		}
		ch := b.wakeup()
		// A refill may have landed between the failed take and grabbing
		// the channel.
		if b.TryTake() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Acquire is Wait for buckets that have no refill loop: once the window
// has ended the first caller to notice refills the bucket.
func (b *Bucket) Acquire(ctx context.Context) error {
	for {
		if b.TryTake() {
			return nil
		}
		if b.RefillIfDue() {
			continue
		}
		t := time.NewTimer(b.UntilReset())
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		case <-b.wakeup():
			t.Stop()
		}
	}
}

// Refill restores the bucket to capacity, starts a new window and
// wakes every blocked waiter.
func (b *Bucket) Refill() {
	b.resetAt.Store(time.Now().Add(b.window).UnixNano())
	b.restore()
}

// RefillIfDue refills the bucket if its window has ended. Concurrent
// callers refill it at most once per window.
func (b *Bucket) RefillIfDue() bool {
	cur := b.resetAt.Load()
	now := time.Now()
	if now.UnixNano() < cur {
		return false
	}
	if !b.resetAt.CompareAndSwap(cur, now.Add(b.window).UnixNano()) {
		return false
	}
	b.restore()
	return true
}

func (b *Bucket) restore() {
	b.remaining.Store(b.capacity.Load())

	b.mu.Lock()
	close(b.refilled)
	b.refilled = make(chan struct{})
	b.mu.Unlock()
}

// Exhaust empties the bucket until the given time. A later reset time
// always wins over an earlier one.
func (b *Bucket) Exhaust(until time.Time) {
	b.remaining.Store(0)
	for {
		cur := b.resetAt.Load()
		if until.UnixNano() <= cur {
			return
		}
		if b.resetAt.CompareAndSwap(cur, until.UnixNano()) {
			return
		}
	}
}

// Update overwrites the bucket state with values reported by the
// server.
func (b *Bucket) Update(limit, remaining int, resetAt time.Time) {
	if limit > 0 {
		b.capacity.Store(int64(limit))
	}
	b.remaining.Store(int64(remaining))
	b.resetAt.Store(resetAt.UnixNano())
}

// UntilReset returns how long until the current window ends, or zero if
// it already has.
func (b *Bucket) UntilReset() time.Duration {
	d := time.Until(b.ResetAt())
	if d < 0 {
		return 0
	}
	return d
}

// Run refills the bucket every time its window ends until ctx is done.
// Exhaust may push the window end further out; Run honours that.
func (b *Bucket) Run(ctx context.Context) {
	timer := time.NewTimer(b.UntilReset())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if d := b.UntilReset(); d > 0 {
				timer.Reset(d)
				continue
			}
			b.Refill()
			timer.Reset(b.window)
		}
	}
}

func (b *Bucket) wakeup() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refilled
}
