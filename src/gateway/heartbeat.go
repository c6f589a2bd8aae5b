package gateway

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Heartbeater keeps one connection alive. It sends a heartbeat on every
// tick and, before each one, checks that the previous heartbeat was
// acknowledged. It never touches connection state; a missed ack ends Run
// with ErrZombie and the state machine decides what happens next.
type Heartbeater struct {
	interval time.Duration
	send     func(ctx context.Context) error
	logger   zerolog.Logger

	// Jitter returns the fraction of the interval to wait before the
	// first heartbeat. Defaults to a uniform random value in [0, 1).
	Jitter func() float64

	acked    atomic.Bool
	lastSent atomic.Int64 // unix nanoseconds
	latency  atomic.Int64 // nanoseconds
}

// NewHeartbeater returns a heartbeater that calls send on every tick.
func NewHeartbeater(interval time.Duration, send func(ctx context.Context) error, logger zerolog.Logger) *Heartbeater {
	h := &Heartbeater{
		interval: interval,
		send:     send,
		logger:   logger,
		Jitter:   rand.Float64,
	}
	h.acked.Store(true)
	return h
}

// Interval returns the heartbeat period.
func (h *Heartbeater) Interval() time.Duration { return h.interval }

// Run sends heartbeats until ctx is done, the previous heartbeat goes
// unacknowledged, or a send fails. It returns ctx.Err(), ErrZombie or
// the send error respectively.
func (h *Heartbeater) Run(ctx context.Context) error {
	first := time.Duration(h.Jitter() * float64(h.interval))
	h.logger.Debug().Dur("interval", h.interval).Dur("first", first).Msg("starting heartbeat")

	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug().Msg("context cancelled, stopping heartbeat")
			return ctx.Err()
		case <-timer.C:
			if !h.acked.Load() {
				h.logger.Warn().Dur("interval", h.interval).Msg("last heartbeat was not acknowledged")
				return ErrZombie
			}
			if err := h.Beat(ctx); err != nil {
				return err
			}
			timer.Reset(h.interval)
		}
	}
}

// Beat sends one heartbeat immediately and marks it as awaiting an ack.
func (h *Heartbeater) Beat(ctx context.Context) error {
	h.lastSent.Store(time.Now().UnixNano())
	h.acked.Store(false)
	if err := h.send(ctx); err != nil {
		return fmt.Errorf("could not send heartbeat: %w", err)
	}
	h.logger.Debug().Msg("sent heartbeat")
	return nil
}

// Ack records that the gateway answered. Both HeartbeatACK and an
// inbound Heartbeat count.
func (h *Heartbeater) Ack() {
	if sent := h.lastSent.Load(); sent != 0 && !h.acked.Load() {
		h.latency.Store(time.Now().UnixNano() - sent)
	}
	h.acked.Store(true)
}

// Acked reports whether the last heartbeat has been acknowledged.
func (h *Heartbeater) Acked() bool { return h.acked.Load() }

// Latency is the round trip of the last acknowledged heartbeat, or zero
// before the first ack.
func (h *Heartbeater) Latency() time.Duration { return time.Duration(h.latency.Load()) }
