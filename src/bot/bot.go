// Package bot owns everything a running bot needs: the REST client, the
// entity cache, the dispatcher, the command tree, the session store and
// one shard per gateway connection.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"personal/discord_gateway/src/cache"
	"personal/discord_gateway/src/client"
	"personal/discord_gateway/src/commands"
	"personal/discord_gateway/src/config"
	"personal/discord_gateway/src/gateway"
	"personal/discord_gateway/src/logging"
	"personal/discord_gateway/src/ratelimit"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TransportFactory returns the transport of one shard.
type TransportFactory func(shardID int) gateway.Transport

type Bot struct {
	cfg    *config.Config
	logger zerolog.Logger

	rest       *client.Client
	cache      *cache.Cache
	dispatcher *gateway.Dispatcher
	commands   *commands.Tree
	store      gateway.SessionStore

	newTransport     TransportFactory
	identifyInterval time.Duration

	mu     sync.RWMutex
	shards []*gateway.Shard
	self   client.User
}

// Option configures a Bot.
type Option func(*Bot)

// WithLogger sets the root logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

// WithCommands routes interactions and prefixed messages into tree.
func WithCommands(tree *commands.Tree) Option {
	return func(b *Bot) { b.commands = tree }
}

// WithSessionStore enables warm starts.
func WithSessionStore(s gateway.SessionStore) Option {
	return func(b *Bot) { b.store = s }
}

// WithTransportFactory replaces the websocket transport.
func WithTransportFactory(f TransportFactory) Option {
	return func(b *Bot) { b.newTransport = f }
}

// WithIdentifyInterval overrides the pause between identifies of one
// concurrency bucket.
func WithIdentifyInterval(d time.Duration) Option {
	return func(b *Bot) { b.identifyInterval = d }
}

// New builds a bot from cfg. Nothing connects until Run.
func New(cfg *config.Config, opts ...Option) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	b := &Bot{
		cfg:              cfg,
		logger:           zerolog.Nop(),
		identifyInterval: ratelimit.IdentifyInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.newTransport == nil {
		b.newTransport = func(int) gateway.Transport {
			return gateway.NewWebsocketTransport(nil, logging.Component(b.logger, "transport"))
		}
	}

	b.rest = client.New(cfg.Token,
		client.WithBaseURL(cfg.API.BaseURL),
		client.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		client.WithMaxRetries(cfg.API.MaxRetries),
		client.WithGlobalBucket(ratelimit.NewBucket(cfg.API.GlobalLimit, time.Second)),
		client.WithLogger(b.logger),
	)
	b.cache = cache.New(b.logger)
	b.dispatcher = gateway.NewDispatcher(cfg.Dispatch.ResponderTimeout, logging.Component(b.logger, "dispatcher"))

	cache.Register(b.dispatcher, b.cache)
	gateway.On(b.dispatcher, gateway.EventReady, b.onReady, gateway.WithPhase(gateway.PhaseEarly), gateway.WithName("bot:ready"))
	if b.commands != nil {
		gateway.On(b.dispatcher, EventInteractionCreate, b.onInteraction, gateway.WithName("bot:interactions"))
		if cfg.Commands.Prefix != "" {
			gateway.On(b.dispatcher, cache.EventMessageCreate, b.onMessage, gateway.WithName("bot:text-commands"))
		}
	}
	return b, nil
}

func (b *Bot) REST() *client.Client { return b.rest }
func (b *Bot) Cache() *cache.Cache { return b.cache }
func (b *Bot) Dispatcher() *gateway.Dispatcher { return b.dispatcher }
func (b *Bot) Commands() *commands.Tree { return b.commands }

// Self returns the bot user from the last READY.
func (b *Bot) Self() client.User {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.self
}

// Shards returns the shards started by Run.
func (b *Bot) Shards() []*gateway.Shard {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.shards)
}

// ShardStatus is a snapshot of one shard.
type ShardStatus struct {
	ID       int
	State    gateway.State
	Sequence int64
	Latency  time.Duration
}

// Status reports every shard.
func (b *Bot) Status() []ShardStatus {
	shards := b.Shards()
	out := make([]ShardStatus, 0, len(shards))
	for _, s := range shards {
		out = append(out, ShardStatus{
			ID:       s.ID(),
			State:    s.State(),
			Sequence: s.Session().Sequence,
			Latency:  s.Latency(),
		})
	}
	return out
}

// Plan is what Run will start.
type Plan struct {
	URL               string
	ShardCount        int
	ShardIDs          []int
	MaxConcurrency    int
	SessionStartLimit client.SessionStartLimit
}

// Plan asks /gateway/bot where to connect and how many shards to run.
// Configured values override the recommendation; when both the URL and
// the shard count are configured nothing is fetched.
func (b *Bot) Plan(ctx context.Context) (Plan, error) {
	gw := b.cfg.Gateway
	p := Plan{URL: gw.URL, ShardCount: gw.ShardCount, MaxConcurrency: 1}

	if p.URL == "" || p.ShardCount == 0 {
		res, err := b.rest.GetGatewayBot(ctx)
		if err != nil {
			return Plan{}, fmt.Errorf("could not discover gateway: %w", err)
		}
		if p.URL == "" {
			p.URL = res.URL
		}
		if p.ShardCount == 0 {
			p.ShardCount = res.Shards
		}
		p.MaxConcurrency = max(res.SessionStartLimit.MaxConcurrency, 1)
		p.SessionStartLimit = res.SessionStartLimit
	}
	p.ShardCount = max(p.ShardCount, 1)

	if len(gw.ShardIDs) > 0 {
		p.ShardIDs = slices.Clone(gw.ShardIDs)
	} else {
		for id := range p.ShardCount {
			p.ShardIDs = append(p.ShardIDs, id)
		}
	}
	return p, nil
}

// Run starts every planned shard and blocks until ctx is done, which
// returns nil, or until one shard terminates, which stops the others and
// returns its error.
func (b *Bot) Run(ctx context.Context) error {
	plan, err := b.Plan(ctx)
	if err != nil {
		return err
	}
	b.logger.Info().
		Str("url", plan.URL).
		Int("shard_count", plan.ShardCount).
		Ints("shard_ids", plan.ShardIDs).
		Int("max_concurrency", plan.MaxConcurrency).
		Msg("starting shards")

	limit := plan.SessionStartLimit
	if limit.Total > 0 && limit.Remaining < len(plan.ShardIDs) {
		wait := time.Duration(limit.ResetAfter) * time.Millisecond
		b.logger.Warn().
			Int("remaining", limit.Remaining).
			Dur("reset_after", wait).
			Msg("session start limit reached, waiting for reset")
		if err := sleep(ctx, wait); err != nil {
			return nil
		}
	}

	identify := ratelimit.NewIdentifyLimiter(plan.MaxConcurrency, b.identifyInterval)
	shards := make([]*gateway.Shard, 0, len(plan.ShardIDs))
	for _, id := range plan.ShardIDs {
		shards = append(shards, b.newShard(plan, id, identify))
	}
	b.mu.Lock()
	b.shards = shards
	b.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range shards {
		g.Go(func() error {
			if err := s.Run(ctx); err != nil {
				return fmt.Errorf("shard %d: %w", s.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *Bot) newShard(plan Plan, id int, identify gateway.IdentifyWaiter) *gateway.Shard {
	gw := b.cfg.Gateway
	cfg := gateway.Config{
		Token:                  b.cfg.Token,
		Intents:                b.cfg.Intents,
		ShardID:                id,
		ShardCount:             plan.ShardCount,
		GatewayURL:             plan.URL,
		Version:                gw.Version,
		Compress:               gw.Compress,
		LargeThreshold:         gw.LargeThreshold,
		HelloTimeout:           gw.HelloTimeout,
		MaxResumeAttempts:      gw.MaxResumeAttempts,
		MaxConsecutiveFailures: gw.MaxConsecutiveFailures,
		Backoff:                gateway.Backoff{Base: gw.BackoffBase, Max: gw.BackoffMax},
		CommandLimit:           gw.CommandLimit,
		CommandWindow:          gw.CommandWindow,
		HeartbeatReserve:       gw.HeartbeatReserve,
		Global:                 b.rest.Global(),
	}

	opts := []gateway.Option{
		gateway.WithDispatcher(b.dispatcher),
		gateway.WithIdentifyLimiter(identify),
		gateway.WithLogger(b.logger),
		gateway.WithStateObserver(func(from, to gateway.State) {
			if to == gateway.StateTerminated {
				b.logger.Error().Int("shard", id).Stringer("from", from).Msg("shard terminated")
			}
		}),
	}
	if b.store != nil {
		opts = append(opts, gateway.WithSessionStore(b.store))
	}
	return gateway.NewShard(cfg, b.newTransport(id), opts...)
}

func (b *Bot) onReady(_ context.Context, ready gateway.ReadyData) error {
	if len(ready.User) == 0 {
		return nil
	}
	var u client.User
	if err := json.Unmarshal(ready.User, &u); err != nil {
		return fmt.Errorf("could not unmarshal ready user: %w", err)
	}
	b.mu.Lock()
	b.self = u
	b.mu.Unlock()
	return nil
}

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

// IsTerminated reports whether err ended Run because a shard could not
// continue, as opposed to a discovery failure.
func IsTerminated(err error) bool {
	var te *gateway.TerminatedError
	return errors.As(err, &te)
}
