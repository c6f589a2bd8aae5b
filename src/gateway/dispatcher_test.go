package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(timeout time.Duration) *Dispatcher {
	return NewDispatcher(timeout, zerolog.Nop())
}

func TestDispatcher_FailureIsolated(t *testing.T) {
	d := newTestDispatcher(time.Second)
	boom := errors.New("boom")

	d.Handle("MESSAGE_CREATE", func(context.Context, Event) error { return boom }, WithName("a"))
	d.Handle("MESSAGE_CREATE", func(context.Context, Event) error { return nil }, WithName("b"))

	out := d.Dispatch(context.Background(), Event{Name: "MESSAGE_CREATE", Sequence: 1})

	require.Len(t, out.Results, 2)
	for _, r := range out.Results {
		switch r.Name {
		case "a":
			assert.ErrorIs(t, r.Err, boom)
		case "b":
			assert.NoError(t, r.Err)
		}
	}
	require.Len(t, out.Failures(), 1)
	assert.ErrorIs(t, out.Err(), boom)
}

func TestDispatcher_PanicBecomesFailure(t *testing.T) {
	d := newTestDispatcher(time.Second)
	var ran atomic.Bool

	d.Handle("GUILD_CREATE", func(context.Context, Event) error { panic("kaboom") }, WithName("panics"))
	d.Handle("GUILD_CREATE", func(context.Context, Event) error { ran.Store(true); return nil })

	out := d.Dispatch(context.Background(), Event{Name: "GUILD_CREATE"})

	require.Len(t, out.Failures(), 1)
	assert.Equal(t, "panics", out.Failures()[0].Name)
	assert.Contains(t, out.Failures()[0].Err.Error(), "kaboom")
	assert.True(t, ran.Load())
}

func TestDispatcher_ResponderTimeout(t *testing.T) {
	d := newTestDispatcher(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	d.Handle("TYPING_START", func(context.Context, Event) error {
		<-release // ignores ctx on purpose
		return nil
	}, WithName("slow"))

	start := time.Now()
	out := d.Dispatch(context.Background(), Event{Name: "TYPING_START"})

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	require.Len(t, out.Failures(), 1)
	assert.ErrorIs(t, out.Failures()[0].Err, ErrResponderTimeout)
}

func TestDispatcher_RunsConcurrentlyWithinPhase(t *testing.T) {
	d := newTestDispatcher(time.Second)
	var wg sync.WaitGroup
	wg.Add(2)

	barrier := func(context.Context, Event) error {
		wg.Done()
		wg.Wait() // deadlocks unless both run at once
		return nil
	}
	d.Handle("READY", barrier)
	d.Handle("READY", barrier)

	out := d.Dispatch(context.Background(), Event{Name: "READY"})
	assert.NoError(t, out.Err())
}

func TestDispatcher_PhaseOrder(t *testing.T) {
	d := newTestDispatcher(time.Second)
	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context, Event) error {
		return func(context.Context, Event) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	d.Handle("GUILD_DELETE", record("late"), WithPhase(PhaseLate))
	d.Handle("GUILD_DELETE", record("normal"))
	d.Handle("GUILD_DELETE", record("early"), WithPhase(PhaseEarly))

	d.Dispatch(context.Background(), Event{Name: "GUILD_DELETE"})
	assert.Equal(t, []string{"early", "normal", "late"}, order)
}

func TestDispatcher_AllEventsAndUnregister(t *testing.T) {
	d := newTestDispatcher(time.Second)
	var calls atomic.Int32

	id := d.Handle(AllEvents, func(context.Context, Event) error { calls.Add(1); return nil })
	d.Handle("OTHER", func(context.Context, Event) error { return nil })
	assert.Equal(t, 2, d.Len())

	d.Dispatch(context.Background(), Event{Name: "ANYTHING"})
	assert.Equal(t, int32(1), calls.Load())

	assert.True(t, d.Unregister(id))
	assert.False(t, d.Unregister(id))
	assert.Equal(t, 1, d.Len())

	out := d.Dispatch(context.Background(), Event{Name: "ANYTHING"})
	assert.Empty(t, out.Results)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOn_DecodesTypedBody(t *testing.T) {
	d := newTestDispatcher(time.Second)
	type message struct {
		Content string `json:"content"`
	}
	got := make(chan string, 1)

	On(d, "MESSAGE_CREATE", func(_ context.Context, m message) error {
		got <- m.Content
		return nil
	})

	out := d.Dispatch(context.Background(), Event{Name: "MESSAGE_CREATE", Data: json.RawMessage(`{"content":"hi"}`)})
	require.NoError(t, out.Err())
	assert.Equal(t, "hi", <-got)

	out = d.Dispatch(context.Background(), Event{Name: "MESSAGE_CREATE", Data: json.RawMessage(`[`)})
	assert.Error(t, out.Err())
}

func TestEventQueue_PreservesOrder(t *testing.T) {
	d := newTestDispatcher(time.Second)
	var mu sync.Mutex
	var seqs []int64
	d.Handle(AllEvents, func(_ context.Context, ev Event) error {
		if ev.Sequence%7 == 0 {
			time.Sleep(time.Millisecond)
		}
		mu.Lock()
		seqs = append(seqs, ev.Sequence)
		mu.Unlock()
		return nil
	})

	q := newEventQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.run(ctx, d)

	for i := int64(1); i <= 100; i++ {
		q.push(Event{Name: "MESSAGE_CREATE", Sequence: i})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) == 100
	}, 2*time.Second, 5*time.Millisecond)

	for i, s := range seqs {
		assert.Equal(t, int64(i+1), s)
	}
}
