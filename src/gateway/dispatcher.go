package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// AllEvents registers a responder for every dispatch.
const AllEvents = "*"

// DefaultResponderTimeout bounds a single responder invocation.
const DefaultResponderTimeout = 10 * time.Second

// Event is one decoded Dispatch payload.
type Event struct {
	Name     string
	Sequence int64
	ShardID  int
	Data     json.RawMessage
}

// Responder handles events of the types it was registered for.
type Responder interface {
	Respond(ctx context.Context, ev Event) error
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, ev Event) error

func (f ResponderFunc) Respond(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Phase orders groups of responders for one event. All responders of a
// phase finish before the next phase starts; within a phase they run
// concurrently.
type Phase int

const (
	PhaseEarly Phase = iota
	PhaseNormal
	PhaseLate
)

var phases = [...]Phase{PhaseEarly, PhaseNormal, PhaseLate}

func (p Phase) String() string {
	switch p {
	case PhaseEarly:
		return "early"
	case PhaseNormal:
		return "normal"
	case PhaseLate:
		return "late"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type registration struct {
	id        uuid.UUID
	name      string
	event     string
	phase     Phase
	responder Responder
}

// RegisterOption configures a registration.
type RegisterOption func(*registration)

// WithPhase places the responder in phase p. The default is PhaseNormal.
func WithPhase(p Phase) RegisterOption {
	return func(r *registration) { r.phase = p }
}

// WithName labels the responder in results and logs.
func WithName(name string) RegisterOption {
	return func(r *registration) { r.name = name }
}

// Result is the outcome of one responder for one event.
type Result struct {
	ResponderID uuid.UUID
	Name        string
	Phase       Phase
	Duration    time.Duration
	Err         error
}

// Outcome aggregates every responder result for one event.
type Outcome struct {
	Event   Event
	Trace   uuid.UUID
	Results []Result
}

// Failures returns the results that carry an error.
func (o Outcome) Failures() []Result {
	var failed []Result
	for _, r := range o.Results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}

// Err joins every responder error, or returns nil if all succeeded.
func (o Outcome) Err() error {
	var errs []error
	for _, r := range o.Failures() {
		errs = append(errs, fmt.Errorf("responder %s: %w", r.Name, r.Err))
	}
	return errors.Join(errs...)
}

// Dispatcher fans events out to registered responders.
type Dispatcher struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu         sync.RWMutex
	responders map[string][]registration
}

// NewDispatcher returns an empty dispatcher. A responder that runs past
// timeout is reported as failed with ErrResponderTimeout.
func NewDispatcher(timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultResponderTimeout
	}
	return &Dispatcher{
		timeout:    timeout,
		logger:     logger,
		responders: make(map[string][]registration),
	}
}

// Register adds r for event (or AllEvents) and returns its ID.
func (d *Dispatcher) Register(event string, r Responder, opts ...RegisterOption) uuid.UUID {
	reg := registration{
		id:        uuid.New(),
		event:     event,
		phase:     PhaseNormal,
		responder: r,
	}
	for _, opt := range opts {
		opt(&reg)
	}
	if reg.name == "" {
		reg.name = reg.id.String()
	}

	d.mu.Lock()
	d.responders[event] = append(d.responders[event], reg)
	d.mu.Unlock()

	return reg.id
}

// Handle registers a plain function.
func (d *Dispatcher) Handle(event string, fn func(ctx context.Context, ev Event) error, opts ...RegisterOption) uuid.UUID {
	return d.Register(event, ResponderFunc(fn), opts...)
}

// Unregister removes the responder with the given ID. It reports whether
// one was found.
func (d *Dispatcher) Unregister(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for event, regs := range d.responders {
		for i, reg := range regs {
			if reg.id != id {
				continue
			}
			regs = append(regs[:i:i], regs[i+1:]...)
			if len(regs) == 0 {
				delete(d.responders, event)
			} else {
				d.responders[event] = regs
			}
			return true
		}
	}
	return false
}

// Len returns the number of registered responders.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, regs := range d.responders {
		n += len(regs)
	}
	return n
}

func (d *Dispatcher) matching(event string) [len(phases)][]registration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var byPhase [len(phases)][]registration
	for _, key := range [...]string{event, AllEvents} {
		for _, reg := range d.responders[key] {
			if reg.phase < PhaseEarly || reg.phase > PhaseLate {
				continue
			}
			byPhase[reg.phase] = append(byPhase[reg.phase], reg)
		}
	}
	return byPhase
}

// Dispatch runs every matching responder and returns once all of them
// have finished or timed out. A failing or panicking responder never
// affects the others.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) Outcome {
	out := Outcome{Event: ev, Trace: uuid.New()}
	for _, regs := range d.matching(ev.Name) {
		if len(regs) == 0 {
			continue
		}
		p := pool.NewWithResults[Result]()
		for _, reg := range regs {
			p.Go(func() Result { return d.invoke(ctx, reg, ev) })
		}
		out.Results = append(out.Results, p.Wait()...)
	}

	for _, r := range out.Failures() {
		d.logger.Warn().
			Err(r.Err).
			Stringer("trace", out.Trace).
			Str("event", ev.Name).
			Int64("seq", ev.Sequence).
			Str("responder", r.Name).
			Stringer("phase", r.Phase).
			Msg("responder failed")
	}
	return out
}

func (d *Dispatcher) invoke(ctx context.Context, reg registration, ev Event) Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		var err error
		var pc panics.Catcher
		pc.Try(func() { err = reg.responder.Respond(ctx, ev) })
		if r := pc.Recovered(); r != nil {
			err = fmt.Errorf("responder panicked: %w", r.AsError())
		}
		done <- err
	}()

	res := Result{ResponderID: reg.id, Name: reg.name, Phase: reg.phase}
	select {
	case res.Err = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Err = fmt.Errorf("%w after %s", ErrResponderTimeout, d.timeout)
		} else {
			res.Err = ctx.Err()
		}
	}
	res.Duration = time.Since(start)
	return res
}

// On registers a responder that receives the event body decoded as T.
func On[T any](d *Dispatcher, event string, fn func(ctx context.Context, v T) error, opts ...RegisterOption) uuid.UUID {
	return d.Register(event, ResponderFunc(func(ctx context.Context, ev Event) error {
		var v T
		if err := json.Unmarshal(ev.Data, &v); err != nil {
			return fmt.Errorf("could not unmarshal %s event data: %w", ev.Name, err)
		}
		return fn(ctx, v)
	}), opts...)
}

// eventQueue is an unbounded FIFO between the receive loop and the
// dispatch worker. Pushing never blocks, so slow responders cannot hold
// up heartbeat acks.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until an event is available or ctx is done.
func (q *eventQueue) pop(ctx context.Context) (Event, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, false
		case <-q.notify:
		}
	}
}

// run delivers queued events to d one at a time, in arrival order.
func (q *eventQueue) run(ctx context.Context, d *Dispatcher) {
	for {
		ev, ok := q.pop(ctx)
		if !ok {
			return
		}
		d.Dispatch(ctx, ev)
	}
}
