package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"personal/discord_gateway/src/gateway"
	"personal/discord_gateway/src/gateway/gatewaytest"
	"personal/discord_gateway/src/opcodes"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

func testConfig() gateway.Config {
	return gateway.Config{
		Token:        "token",
		Intents:      513,
		GatewayURL:   "wss://gateway.test",
		HelloTimeout: time.Second,
		Backoff:      gateway.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
	}
}

type harness struct {
	t         *testing.T
	transport *gatewaytest.Transport
	shard     *gateway.Shard
	events    chan gateway.Event
	states    chan gateway.State
	cancel    context.CancelFunc
	done      chan error
	finished  chan struct{}
}

func startShard(t *testing.T, cfg gateway.Config, opts ...gateway.Option) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		transport: gatewaytest.NewTransport(),
		events:    make(chan gateway.Event, 256),
		states:    make(chan gateway.State, 256),
		done:      make(chan error, 1),
		finished:  make(chan struct{}),
	}

	d := gateway.NewDispatcher(time.Second, zerolog.Nop())
	d.Handle(gateway.AllEvents, func(_ context.Context, ev gateway.Event) error {
		h.events <- ev
		return nil
	})

	opts = append([]gateway.Option{
		gateway.WithDispatcher(d),
		gateway.WithStateObserver(func(_, to gateway.State) {
			select {
			case h.states <- to:
			default:
			}
		}),
	}, opts...)
	h.shard = gateway.NewShard(cfg, h.transport, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.done <- h.shard.Run(ctx)
		close(h.finished)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.finished:
		case <-time.After(wait):
		}
	})
	return h
}

func (h *harness) waitState(want gateway.State) {
	h.t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-deadline:
			h.t.Fatalf("never reached %s (now %s)", want, h.shard.State())
		}
	}
}

func (h *harness) nextEvent() gateway.Event {
	h.t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(wait):
		h.t.Fatal("no event delivered")
		return gateway.Event{}
	}
}

func (h *harness) noEvent(within time.Duration) {
	h.t.Helper()
	select {
	case ev := <-h.events:
		h.t.Fatalf("unexpected event %s seq %d", ev.Name, ev.Sequence)
	case <-time.After(within):
	}
}

// connect walks a fresh shard through Hello, Identify and READY.
func (h *harness) connect(interval time.Duration, sessionID string) {
	h.t.Helper()
	h.transport.WaitConnect(h.t, wait)
	h.transport.Push(gatewaytest.Hello(interval))
	h.transport.Expect(h.t, opcodes.Identify, wait)
	h.transport.Push(gatewaytest.Ready(1, sessionID, gatewaytest.ResumeURL))
	h.waitState(gateway.StateConnected)
	assert.Equal(h.t, gateway.EventReady, h.nextEvent().Name)
}

func TestShard_HandshakeAndDuplicateSuppression(t *testing.T) {
	h := startShard(t, testConfig())

	uri := h.transport.WaitConnect(t, wait)
	assert.Equal(t, "wss://gateway.test?encoding=json&v=10", uri)

	h.transport.Push(gatewaytest.Hello(41250 * time.Millisecond))
	identify := h.transport.Expect(t, opcodes.Identify, wait)

	var data gateway.IdentifyData
	require.NoError(t, json.Unmarshal(identify.D, &data))
	assert.Equal(t, "token", data.Token)
	assert.Equal(t, int64(513), data.Intents)
	assert.Equal(t, &[2]int{0, 1}, data.Shard)

	h.transport.Push(gatewaytest.Ready(1, "abc", gatewaytest.ResumeURL))
	h.waitState(gateway.StateConnected)
	assert.Equal(t, int64(1), h.nextEvent().Sequence)

	sess := h.shard.Session()
	assert.Equal(t, "abc", sess.ID)
	assert.Equal(t, int64(1), sess.Sequence)
	assert.Equal(t, gatewaytest.ResumeURL, sess.ResumeURL)
	assert.Equal(t, 41250*time.Millisecond, sess.HeartbeatInterval)

	h.transport.Push(gatewaytest.Dispatch("MESSAGE_CREATE", 1, nil))
	h.transport.Push(gatewaytest.Dispatch("MESSAGE_CREATE", 2, nil))

	ev := h.nextEvent()
	assert.Equal(t, int64(2), ev.Sequence, "the duplicate with seq 1 must be dropped")
	assert.Equal(t, int64(2), h.shard.Session().Sequence)
	h.noEvent(20 * time.Millisecond)
}

func TestShard_SequenceTracksMaximum(t *testing.T) {
	h := startShard(t, testConfig())
	h.connect(time.Minute, "abc")

	for seq := int64(2); seq <= 50; seq++ {
		h.transport.Push(gatewaytest.Dispatch("MESSAGE_CREATE", seq, nil))
	}
	for seq := int64(2); seq <= 50; seq++ {
		assert.Equal(t, seq, h.nextEvent().Sequence)
	}
	assert.Equal(t, int64(50), h.shard.Session().Sequence)
}

func TestShard_ZombieResumes(t *testing.T) {
	h := startShard(t, testConfig())
	h.connect(50*time.Millisecond, "abc")

	// Never acknowledge: the second tick finds the first unacked.
	h.waitState(gateway.StateZombied)
	h.waitState(gateway.StateReconnecting)
	assert.True(t, h.transport.WaitDisconnect(t, wait))

	uri := h.transport.WaitConnect(t, wait)
	assert.Contains(t, uri, gatewaytest.ResumeURL)
	h.transport.Push(gatewaytest.Hello(time.Minute))

	resume := h.transport.Expect(t, opcodes.Resume, wait)
	var data gateway.ResumeData
	require.NoError(t, json.Unmarshal(resume.D, &data))
	assert.Equal(t, "abc", data.SessionID)
	assert.Equal(t, int64(1), data.Sequence)

	h.transport.Push(gatewaytest.Resumed(2))
	h.waitState(gateway.StateConnected)
	assert.Equal(t, gateway.EventResumed, h.nextEvent().Name)
}

func TestShard_ServerRequestedHeartbeat(t *testing.T) {
	h := startShard(t, testConfig())
	h.connect(time.Minute, "abc")

	h.transport.Push(gatewaytest.Op(opcodes.Heartbeat))
	hb := h.transport.Expect(t, opcodes.Heartbeat, wait)
	assert.JSONEq(t, "1", string(hb.D))

	h.transport.Push(gatewaytest.Op(opcodes.HeartbeatACK))
	assert.Eventually(t, func() bool { return h.shard.Latency() > 0 }, wait, time.Millisecond)
}

func TestShard_ResumableDisconnectUsesResume(t *testing.T) {
	h := startShard(t, testConfig())
	h.connect(time.Minute, "abc")

	h.transport.Push(gatewaytest.Op(opcodes.Reconnect))
	h.waitState(gateway.StateReconnecting)

	h.transport.WaitConnect(t, wait)
	h.transport.Push(gatewaytest.Hello(time.Minute))
	h.transport.Expect(t, opcodes.Resume, wait)
}

func TestShard_NonResumableInvalidSessionIdentifies(t *testing.T) {
	h := startShard(t, testConfig())
	h.connect(time.Minute, "abc")
	h.transport.Push(gatewaytest.Dispatch("MESSAGE_CREATE", 2, nil))
	h.nextEvent()

	h.transport.Push(gatewaytest.InvalidSession(false))
	h.waitState(gateway.StateReconnecting)

	uri := h.transport.WaitConnect(t, wait)
	assert.Contains(t, uri, "wss://gateway.test")
	assert.Zero(t, h.shard.Session().Sequence)
	assert.Empty(t, h.shard.Session().ID)

	h.transport.Push(gatewaytest.Hello(time.Minute))
	h.transport.Expect(t, opcodes.Identify, wait)

	// The fresh session starts over at 1, which is not a duplicate.
	h.transport.Push(gatewaytest.Ready(1, "def", gatewaytest.ResumeURL))
	h.waitState(gateway.StateConnected)
	ev := h.nextEvent()
	assert.Equal(t, gateway.EventReady, ev.Name)
	assert.Equal(t, int64(1), ev.Sequence)
	assert.Equal(t, "def", h.shard.Session().ID)
}

func TestShard_SessionInvalidatingCloseCodeIdentifies(t *testing.T) {
	h := startShard(t, testConfig())
	h.connect(time.Minute, "abc")

	h.transport.Close(opcodes.CloseSessionTimedOut)
	h.transport.WaitConnect(t, wait)
	h.transport.Push(gatewaytest.Hello(time.Minute))
	h.transport.Expect(t, opcodes.Identify, wait)
}

func TestShard_FatalCloseCodeTerminates(t *testing.T) {
	h := startShard(t, testConfig())
	h.connect(time.Minute, "abc")

	h.transport.Close(opcodes.CloseAuthFailed)

	select {
	case err := <-h.done:
		var terminated *gateway.TerminatedError
		require.ErrorAs(t, err, &terminated)
		var te *gateway.TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, opcodes.CloseAuthFailed, te.CloseCode)
	case <-time.After(wait):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, gateway.StateTerminated, h.shard.State())
}

func TestShard_ShutdownReturnsNil(t *testing.T) {
	h := startShard(t, testConfig())
	h.connect(time.Minute, "abc")

	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, gateway.StateTerminated, h.shard.State())
	assert.False(t, h.transport.WaitDisconnect(t, wait), "without a session store shutdown closes normally")
}

func TestShard_HelloTimeoutReconnects(t *testing.T) {
	cfg := testConfig()
	cfg.HelloTimeout = 20 * time.Millisecond
	h := startShard(t, cfg)

	h.transport.WaitConnect(t, wait)
	h.waitState(gateway.StateReconnecting)
	h.transport.WaitConnect(t, wait)
}

func TestShard_TooManyFailuresTerminates(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 3

	transport := gatewaytest.NewTransport()
	refused := errors.New("connection refused")
	transport.ConnectErr = func(string) error { return refused }

	shard := gateway.NewShard(cfg, transport)
	err := shard.Run(context.Background())

	var terminated *gateway.TerminatedError
	require.ErrorAs(t, err, &terminated)
	assert.ErrorIs(t, err, gateway.ErrTooManyFailures)
	assert.ErrorIs(t, err, refused)
}

func TestShard_ResumeBudgetFallsBackToIdentify(t *testing.T) {
	cfg := testConfig()
	cfg.MaxResumeAttempts = 1
	h := startShard(t, cfg)
	h.connect(time.Minute, "abc")

	h.transport.Close(opcodes.CloseUnknownError)
	h.transport.WaitConnect(t, wait)
	h.transport.Push(gatewaytest.Hello(time.Minute))
	h.transport.Expect(t, opcodes.Resume, wait)

	// The resume never completes.
	h.transport.Close(opcodes.CloseUnknownError)
	h.transport.WaitConnect(t, wait)
	h.transport.Push(gatewaytest.Hello(time.Minute))
	h.transport.Expect(t, opcodes.Identify, wait)
}

func TestShard_SendRequiresConnection(t *testing.T) {
	h := startShard(t, testConfig())
	err := h.shard.Send(context.Background(), opcodes.PresenceUpdate, map[string]string{"status": "online"})
	assert.ErrorIs(t, err, gateway.ErrNotConnected)

	h.connect(time.Minute, "abc")
	require.NoError(t, h.shard.Send(context.Background(), opcodes.PresenceUpdate, map[string]string{"status": "online"}))
	h.transport.Expect(t, opcodes.PresenceUpdate, wait)
}

func TestShard_HeartbeatReservedWhenCommandsExhausted(t *testing.T) {
	h := startShard(t, testConfig())
	h.connect(time.Minute, "abc")

	// Identify already took one command token.
	ctx := context.Background()
	commands := gateway.DefaultCommandLimit - gateway.DefaultHeartbeatReserve - 1
	for range commands {
		require.NoError(t, h.shard.Send(ctx, opcodes.PresenceUpdate, map[string]string{"status": "online"}))
	}
	for range commands {
		h.transport.Expect(t, opcodes.PresenceUpdate, wait)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := h.shard.Send(shortCtx, opcodes.PresenceUpdate, map[string]string{"status": "idle"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	h.transport.Push(gatewaytest.Op(opcodes.Heartbeat))
	h.transport.Expect(t, opcodes.Heartbeat, wait)
	assert.Equal(t, gateway.StateConnected, h.shard.State())
}

func TestShard_SlowRespondersDoNotDelayHeartbeats(t *testing.T) {
	h := startShard(t, testConfig())
	release := make(chan struct{})
	defer close(release)
	h.shard.Dispatcher().Handle("MESSAGE_CREATE", func(ctx context.Context, _ gateway.Event) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	h.transport.WaitConnect(t, wait)
	h.transport.Push(gatewaytest.Hello(50 * time.Millisecond))

	beats := 0
	deadline := time.After(wait)
	for beats < 10 {
		select {
		case p := <-h.transport.Sent():
			switch p.Op {
			case opcodes.Heartbeat:
				beats++
				h.transport.Push(gatewaytest.Op(opcodes.HeartbeatACK))
			case opcodes.Identify:
				h.transport.Push(gatewaytest.Ready(1, "abc", gatewaytest.ResumeURL))
				for seq := int64(2); seq <= 9; seq++ {
					h.transport.Push(gatewaytest.Dispatch("MESSAGE_CREATE", seq, nil))
				}
			}
		case <-deadline:
			t.Fatalf("only %d heartbeats sent", beats)
		}
	}

	assert.Eventually(t, func() bool { return h.shard.Session().Sequence == 9 }, wait, time.Millisecond)
	assert.Equal(t, gateway.StateConnected, h.shard.State())
	for {
		select {
		case st := <-h.states:
			assert.NotEqual(t, gateway.StateZombied, st)
			continue
		default:
		}
		break
	}
}

type memoryStore struct {
	mu       sync.Mutex
	sessions map[int]gateway.Session
}

func (m *memoryStore) LoadSession(_ context.Context, shardID int) (gateway.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[shardID]
	return s, ok, nil
}

func (m *memoryStore) SaveSession(_ context.Context, shardID int, sess gateway.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[shardID] = sess
	return nil
}

func (m *memoryStore) DeleteSession(_ context.Context, shardID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, shardID)
	return nil
}

func (m *memoryStore) get(shardID int) (gateway.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[shardID]
	return s, ok
}

func TestShard_WarmStartResumes(t *testing.T) {
	store := &memoryStore{sessions: map[int]gateway.Session{
		0: {ID: "stored", Sequence: 77, ResumeURL: "wss://stored.test"},
	}}
	h := startShard(t, testConfig(), gateway.WithSessionStore(store))

	uri := h.transport.WaitConnect(t, wait)
	assert.Contains(t, uri, "wss://stored.test")
	h.transport.Push(gatewaytest.Hello(time.Minute))

	resume := h.transport.Expect(t, opcodes.Resume, wait)
	var data gateway.ResumeData
	require.NoError(t, json.Unmarshal(resume.D, &data))
	assert.Equal(t, "stored", data.SessionID)
	assert.Equal(t, int64(77), data.Sequence)

	h.transport.Push(gatewaytest.Resumed(78))
	h.waitState(gateway.StateConnected)
	require.Eventually(t, func() bool {
		s, ok := store.get(0)
		return ok && s.Sequence == 78
	}, wait, time.Millisecond)

	h.transport.Push(gatewaytest.InvalidSession(false))
	require.Eventually(t, func() bool {
		_, ok := store.get(0)
		return !ok
	}, wait, time.Millisecond)
}

func TestShard_ShutdownWithStoreKeepsSessionResumable(t *testing.T) {
	store := &memoryStore{sessions: map[int]gateway.Session{}}
	h := startShard(t, testConfig(), gateway.WithSessionStore(store))
	h.connect(time.Minute, "abc")

	h.cancel()
	assert.True(t, h.transport.WaitDisconnect(t, wait))
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("Run did not return")
	}

	s, ok := store.get(0)
	require.True(t, ok)
	assert.Equal(t, "abc", s.ID)
	assert.Equal(t, int64(1), s.Sequence)
}

func TestShard_SurvivesContinuousReconnectCycles(t *testing.T) {
	transport := gatewaytest.NewTransport()
	server := gatewaytest.NewServer(transport, 100*time.Millisecond, "MESSAGE_CREATE", "TYPING_START", "MESSAGE_UPDATE")

	var mu sync.Mutex
	var events []gateway.Event
	d := gateway.NewDispatcher(time.Second, zerolog.Nop())
	d.Handle(gateway.AllEvents, func(_ context.Context, ev gateway.Event) error {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		return nil
	})

	shard := gateway.NewShard(testConfig(), transport, gateway.WithDispatcher(d))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)
	done := make(chan error, 1)
	go func() { done <- shard.Run(ctx) }()

	require.Eventually(t, func() bool { return server.Cycles() >= 25 }, 10*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int64(1), server.Identifies())
	assert.GreaterOrEqual(t, server.Resumes(), int64(20))
	assert.Zero(t, server.Invalidated())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, gateway.EventReady, events[0].Name)
	for i := 1; i < len(events); i++ {
		require.Greater(t, events[i].Sequence, events[i-1].Sequence, "dispatch %d was duplicated or reordered", i)
	}
}
