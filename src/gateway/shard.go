package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"personal/discord_gateway/src/opcodes"
	"personal/discord_gateway/src/ratelimit"

	"github.com/rs/zerolog"
)

// Connection defaults.
const (
	DefaultHelloTimeout           = 20 * time.Second
	DefaultMaxResumeAttempts      = 3
	DefaultMaxConsecutiveFailures = 10
)

// Config describes one shard's connection.
type Config struct {
	Token          string
	Intents        int64
	ShardID        int
	ShardCount     int
	GatewayURL     string
	Version        int
	Compress       bool
	LargeThreshold int
	Properties     IdentifyProperties
	Presence       json.RawMessage

	HelloTimeout           time.Duration
	MaxResumeAttempts      int
	MaxConsecutiveFailures int
	Backoff                Backoff

	CommandLimit     int
	CommandWindow    time.Duration
	HeartbeatReserve int
	// Global, when set, is a bucket shared with the REST client. Every
	// application command also takes a token from it.
	Global *ratelimit.Bucket
}

func (c *Config) setDefaults() {
	if c.ShardCount < 1 {
		c.ShardCount = 1
	}
	if c.Version <= 0 {
		c.Version = DefaultVersion
	}
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = DefaultHelloTimeout
	}
	if c.MaxResumeAttempts <= 0 {
		c.MaxResumeAttempts = DefaultMaxResumeAttempts
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if c.CommandLimit <= 0 {
		c.CommandLimit = DefaultCommandLimit
	}
	if c.CommandWindow <= 0 {
		c.CommandWindow = DefaultCommandWindow
	}
	if c.HeartbeatReserve <= 0 {
		c.HeartbeatReserve = DefaultHeartbeatReserve
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff
	}
	if c.Properties == (IdentifyProperties{}) {
		c.Properties = IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "discord_gateway",
			Device:  "discord_gateway",
		}
	}
}

// IdentifyWaiter gates Identify sends across shards.
type IdentifyWaiter interface {
	Wait(ctx context.Context, shardID int) error
}

// Option configures a Shard.
type Option func(*Shard)

// WithDispatcher delivers events to d instead of a private dispatcher.
func WithDispatcher(d *Dispatcher) Option {
	return func(s *Shard) { s.dispatcher = d }
}

// WithSessionStore enables warm starts from store.
func WithSessionStore(store SessionStore) Option {
	return func(s *Shard) { s.store = store }
}

// WithIdentifyLimiter gates every Identify through l.
func WithIdentifyLimiter(l IdentifyWaiter) Option {
	return func(s *Shard) { s.identify = l }
}

// WithLogger sets the parent logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Shard) { s.logger = l }
}

// WithStateObserver registers fn for every state transition.
func WithStateObserver(fn StateObserver) Option {
	return func(s *Shard) { s.observers = append(s.observers, fn) }
}

// Shard drives one gateway session end to end: connect, handshake,
// steady-state dispatch, and reconnect, resume or terminate. Only the
// goroutine running Run mutates the state and the session; everything
// else reads them.
type Shard struct {
	cfg        Config
	transport  Transport
	dispatcher *Dispatcher
	identify   IdentifyWaiter
	store      SessionStore
	logger     zerolog.Logger
	observers  []StateObserver

	queue *SendQueue

	state     atomic.Int32
	seq       atomic.Int64
	heartbeat atomic.Pointer[Heartbeater]

	mu      sync.RWMutex
	session Session
}

// NewShard returns a disconnected shard.
func NewShard(cfg Config, transport Transport, opts ...Option) *Shard {
	cfg.setDefaults()

	s := &Shard{
		cfg:       cfg,
		transport: transport,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "gateway").Int("shard", cfg.ShardID).Logger()
	if s.dispatcher == nil {
		s.dispatcher = NewDispatcher(DefaultResponderTimeout, s.logger)
	}
	s.queue = NewSendQueue(transport, cfg.Global, cfg.CommandLimit, cfg.HeartbeatReserve, cfg.CommandWindow)
	return s
}

// ID returns the shard ID.
func (s *Shard) ID() int { return s.cfg.ShardID }

// Dispatcher returns the dispatcher events are delivered to.
func (s *Shard) Dispatcher() *Dispatcher { return s.dispatcher }

// State returns the current connection state.
func (s *Shard) State() State { return State(s.state.Load()) }

// Session returns a snapshot of the current session.
func (s *Shard) Session() Session {
	s.mu.RLock()
	sess := s.session
	s.mu.RUnlock()
	sess.Sequence = s.seq.Load()
	return sess
}

// Latency returns the last heartbeat round trip.
func (s *Shard) Latency() time.Duration {
	if hb := s.heartbeat.Load(); hb != nil {
		return hb.Latency()
	}
	return 0
}

// Send queues an application command, such as a presence update, through
// the command budget.
func (s *Shard) Send(ctx context.Context, op opcodes.Opcode, data any) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}
	p, err := newPayload(op, data)
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, p, PriorityNormal)
}

// Run connects and keeps the session alive until ctx is done, which
// returns nil, or until the connection terminates, which returns a
// *TerminatedError.
func (s *Shard) Run(ctx context.Context) error {
	if s.cfg.GatewayURL == "" {
		return errors.New("gateway URL not set")
	}
	s.warmStart(ctx)

	lifetime, cancel := context.WithCancel(ctx)
	events := newEventQueue()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.queue.Run(lifetime)
	}()
	go func() {
		defer wg.Done()
		events.run(lifetime, s.dispatcher)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	failures, resumeAttempts := 0, 0
	for {
		resuming := s.Session().Resumable()
		if resuming {
			resumeAttempts++
		}

		dc := s.connectOnce(ctx, events)
		if ctx.Err() != nil {
			return s.shutdown(ctx)
		}

		if dc.connected {
			failures, resumeAttempts = 0, 0
		} else {
			failures++
		}

		s.logger.Info().
			Err(dc.err).
			Bool("resumable", dc.resumable).
			Bool("was_connected", dc.connected).
			Int("failures", failures).
			Msg("disconnected")

		if dc.fatal {
			s.discardSession(ctx)
			return s.terminate(dc.err)
		}
		if failures >= s.cfg.MaxConsecutiveFailures {
			return s.terminate(fmt.Errorf("%w: last error: %w", ErrTooManyFailures, dc.err))
		}

		switch {
		case !dc.resumable:
			s.discardSession(ctx)
			resumeAttempts = 0
		case resuming && !dc.connected && resumeAttempts >= s.cfg.MaxResumeAttempts:
			s.logger.Warn().Int("attempts", resumeAttempts).Msg("resume budget exhausted, identifying next")
			s.discardSession(ctx)
			resumeAttempts = 0
		default:
			s.saveSession(ctx)
		}

		s.setState(StateReconnecting)
		if err := sleep(ctx, s.cfg.Backoff.Delay(failures)); err != nil {
			return s.shutdown(ctx)
		}
	}
}

// connectOnce runs a single connection attempt. Everything it starts is
// scoped to the attempt and stops when it returns.
func (s *Shard) connectOnce(ctx context.Context, events *eventQueue) disconnect {
	attempt, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := s.Session()
	base := s.cfg.GatewayURL
	if sess.Resumable() && sess.ResumeURL != "" {
		base = sess.ResumeURL
	}
	uri, err := GatewayURL(base, s.cfg.Version)
	if err != nil {
		return disconnect{err: err, fatal: true}
	}

	s.setState(StateConnecting)
	if err := s.transport.Connect(attempt, uri); err != nil {
		return classify(err)
	}

	reconnectIntended := true
	defer func() {
		if err := s.transport.Disconnect(reconnectIntended); err != nil {
			s.logger.Debug().Err(err).Msg("disconnect failed")
		}
	}()

	s.setState(StateAwaitingHello)

	inbound := make(chan Payload)
	recvErr := make(chan error, 1)
	go s.receive(attempt, inbound, recvErr)

	helloTimer := time.NewTimer(s.cfg.HelloTimeout)
	defer helloTimer.Stop()

	beatErr := make(chan error, 1)
	handshakeErr := make(chan error, 1)
	var hb *Heartbeater
	connected := false

	for {
		select {
		case <-ctx.Done():
			// A warm start can only resume if the server did not see a
			// normal closure.
			reconnectIntended = s.store != nil
			return disconnect{err: ErrShutdown, connected: connected}

		case <-helloTimer.C:
			return disconnect{err: ErrHelloTimeout, resumable: true}

		case err := <-beatErr:
			if errors.Is(err, ErrZombie) {
				s.setState(StateZombied)
			}
			return disconnect{err: err, resumable: true, connected: connected}

		case err := <-handshakeErr:
			if err != nil {
				return disconnect{err: fmt.Errorf("handshake failed: %w", err), resumable: true, connected: connected}
			}

		case err := <-recvErr:
			dc := classify(err)
			dc.connected = connected
			return dc

		case p := <-inbound:
			switch p.Op {
			case opcodes.Hello:
				if hb != nil {
					s.logger.Debug().Msg("ignoring repeated hello")
					continue
				}
				helloTimer.Stop()

				hello, err := p.Hello()
				if err != nil {
					return disconnect{err: err, resumable: true}
				}
				interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
				s.mu.Lock()
				s.session.HeartbeatInterval = interval
				s.mu.Unlock()
				s.logger.Info().Dur("heartbeat_interval", interval).Msg("received hello")

				hb = NewHeartbeater(interval, s.sendHeartbeat, s.logger)
				s.heartbeat.Store(hb)
				go func() { beatErr <- hb.Run(attempt) }()

				handshake, err := s.handshakePayload()
				if err != nil {
					return disconnect{err: err, resumable: true}
				}
				go func() { handshakeErr <- s.sendHandshake(attempt, handshake) }()

			case opcodes.HeartbeatACK:
				if hb != nil {
					hb.Ack()
				}

			case opcodes.Heartbeat:
				if hb == nil {
					continue
				}
				hb.Ack()
				if err := hb.Beat(attempt); err != nil {
					return disconnect{err: err, resumable: true, connected: connected}
				}

			case opcodes.Reconnect:
				return disconnect{err: ErrReconnectRequested, resumable: true, connected: connected}

			case opcodes.InvalidSession:
				resumable := p.Resumable()
				return disconnect{
					err:       fmt.Errorf("%w (resumable: %t)", ErrInvalidSession, resumable),
					resumable: resumable,
					connected: connected,
				}

			case opcodes.Dispatch:
				if !s.advance(p.S) {
					s.logger.Debug().Str("event", p.T).Int64("seq", p.S).Msg("dropping duplicate dispatch")
					continue
				}

				switch p.T {
				case EventReady:
					ready, err := p.Ready()
					if err != nil {
						return disconnect{err: err, connected: connected}
					}
					s.mu.Lock()
					s.session.ID = ready.SessionID
					s.session.ResumeURL = ready.ResumeGatewayURL
					s.mu.Unlock()
					connected = true
					s.setState(StateConnected)
					s.saveSession(ctx)

				case EventResumed:
					connected = true
					s.setState(StateConnected)
					s.saveSession(ctx)
				}

				events.push(Event{Name: p.T, Sequence: p.S, ShardID: s.cfg.ShardID, Data: p.D})

			default:
				s.logger.Debug().Int("op", int(p.Op)).Msg("received unknown opcode")
			}
		}
	}
}

func (s *Shard) receive(ctx context.Context, inbound chan<- Payload, errc chan<- error) {
	for {
		p, err := s.transport.ReceivePayload(ctx)
		if err != nil {
			errc <- err
			return
		}
		select {
		case inbound <- p:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Shard) sendHeartbeat(ctx context.Context) error {
	return s.queue.Enqueue(ctx, HeartbeatPayload(s.seq.Load()), PriorityHeartbeat)
}

// handshakePayload picks Resume when the session allows it and Identify
// otherwise. Identify starts a fresh session.
func (s *Shard) handshakePayload() (Payload, error) {
	sess := s.Session()
	if sess.Resumable() {
		s.setState(StateResuming)
		return ResumePayload(ResumeData{
			Token:     s.cfg.Token,
			SessionID: sess.ID,
			Sequence:  sess.Sequence,
		})
	}

	s.setState(StateIdentifying)
	s.resetSession()
	return IdentifyPayload(IdentifyData{
		Token:          s.cfg.Token,
		Properties:     s.cfg.Properties,
		Compress:       s.cfg.Compress,
		LargeThreshold: s.cfg.LargeThreshold,
		Shard:          &[2]int{s.cfg.ShardID, s.cfg.ShardCount},
		Presence:       s.cfg.Presence,
		Intents:        s.cfg.Intents,
	})
}

func (s *Shard) sendHandshake(ctx context.Context, p Payload) error {
	if p.Op == opcodes.Identify && s.identify != nil {
		if err := s.identify.Wait(ctx, s.cfg.ShardID); err != nil {
			return fmt.Errorf("waiting for identify slot: %w", err)
		}
	}
	if err := s.queue.Enqueue(ctx, p, PriorityNormal); err != nil {
		return err
	}
	s.logger.Info().Stringer("op", p.Op).Msg("sent handshake")
	return nil
}

// advance moves the sequence forward. It reports false for a sequence
// that is not newer than the stored one.
func (s *Shard) advance(seq int64) bool {
	for {
		cur := s.seq.Load()
		if seq <= cur {
			return false
		}
		if s.seq.CompareAndSwap(cur, seq) {
			return true
		}
	}
}

func (s *Shard) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.logger.Info().Stringer("from", from).Stringer("to", to).Msg("state changed")
	for _, fn := range s.observers {
		fn(from, to)
	}
}

func (s *Shard) resetSession() {
	s.seq.Store(0)
	s.mu.Lock()
	s.session.ID = ""
	s.session.ResumeURL = ""
	s.mu.Unlock()
}

func (s *Shard) warmStart(ctx context.Context) {
	if s.store == nil {
		return
	}
	sess, ok, err := s.store.LoadSession(ctx, s.cfg.ShardID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not load stored session")
		return
	}
	if !ok || !sess.Resumable() {
		return
	}

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	s.seq.Store(sess.Sequence)
	s.logger.Info().Str("session_id", sess.ID).Int64("seq", sess.Sequence).Msg("loaded stored session")
}

func storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

func (s *Shard) saveSession(ctx context.Context) {
	if s.store == nil {
		return
	}
	sess := s.Session()
	if !sess.Resumable() {
		return
	}
	ctx, cancel := storeContext(ctx)
	defer cancel()
	if err := s.store.SaveSession(ctx, s.cfg.ShardID, sess); err != nil {
		s.logger.Warn().Err(err).Msg("could not save session")
	}
}

func (s *Shard) discardSession(ctx context.Context) {
	s.resetSession()
	if s.store == nil {
		return
	}
	ctx, cancel := storeContext(ctx)
	defer cancel()
	if err := s.store.DeleteSession(ctx, s.cfg.ShardID); err != nil {
		s.logger.Warn().Err(err).Msg("could not delete stored session")
	}
}

func (s *Shard) shutdown(ctx context.Context) error {
	s.saveSession(ctx)
	s.setState(StateTerminated)
	s.logger.Info().AnErr("reason", ErrShutdown).Msg("shut down")
	return nil
}

func (s *Shard) terminate(reason error) error {
	s.setState(StateTerminated)
	s.logger.Error().Err(reason).Msg("connection terminated")
	return &TerminatedError{Reason: reason}
}
