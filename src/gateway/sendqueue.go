package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"personal/discord_gateway/src/ratelimit"
)

// Priority selects which allowance a send draws from.
type Priority int

const (
	PriorityNormal Priority = iota
	// PriorityHeartbeat draws from the reserved allowance first so bulk
	// traffic cannot starve liveness.
	PriorityHeartbeat
)

// Gateway command limits.
const (
	DefaultCommandLimit     = 120
	DefaultCommandWindow    = time.Minute
	DefaultHeartbeatReserve = 3
)

// SendQueue serializes outbound payloads through the command budget.
// The budget is split in two buckets: commands get limit-reserve tokens
// per window, heartbeats get reserve tokens and may also take from the
// command bucket when their own runs dry. Application commands also draw
// from an optional global bucket shared with the REST client.
type SendQueue struct {
	transport Transport
	commands  *ratelimit.Bucket
	reserve   *ratelimit.Bucket
	global    *ratelimit.Bucket

	// The transport allows one writer at a time.
	writeMu sync.Mutex
}

// NewSendQueue builds a queue over transport. Zero values pick the
// defaults, and the reserve is clamped so commands keep at least one
// token per window. A non-nil global bucket is shared with other callers
// and refills lazily, so the queue never runs a loop for it.
func NewSendQueue(transport Transport, global *ratelimit.Bucket, limit, reserve int, window time.Duration) *SendQueue {
	if limit <= 0 {
		limit = DefaultCommandLimit
	}
	if reserve <= 0 {
		reserve = DefaultHeartbeatReserve
	}
	reserve = min(reserve, limit-1)
	if window <= 0 {
		window = DefaultCommandWindow
	}

	return &SendQueue{
		transport: transport,
		commands:  ratelimit.NewBucket(limit-reserve, window),
		reserve:   ratelimit.NewBucket(reserve, window),
		global:    global,
	}
}

// Commands returns the bucket application traffic draws from.
func (q *SendQueue) Commands() *ratelimit.Bucket { return q.commands }

// Reserve returns the bucket heartbeats draw from first.
func (q *SendQueue) Reserve() *ratelimit.Bucket { return q.reserve }

// Run refills the command and reserve buckets until ctx is done.
func (q *SendQueue) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, b := range [...]*ratelimit.Bucket{q.commands, q.reserve} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Run(ctx)
		}()
	}
	wg.Wait()
}

// Enqueue returns once p has been written to the transport. It blocks
// while the budget is exhausted and fails with ctx.Err() if ctx ends
// first, or with a *TransportError if the write fails.
func (q *SendQueue) Enqueue(ctx context.Context, p Payload, priority Priority) error {
	if err := q.take(ctx, priority); err != nil {
		return fmt.Errorf("waiting to send %s: %w", p.Op, err)
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	return q.transport.SendPayload(ctx, p)
}

// take never charges heartbeats to the global bucket.
func (q *SendQueue) take(ctx context.Context, priority Priority) error {
	if priority == PriorityHeartbeat {
		if q.reserve.TryTake() {
			return nil
		}
		return q.commands.Wait(ctx)
	}
	if err := q.commands.Wait(ctx); err != nil {
		return err
	}
	if q.global != nil {
		return q.global.Acquire(ctx)
	}
	return nil
}
