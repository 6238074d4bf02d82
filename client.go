package dgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/discord-net/dgate/caches"
	"github.com/discord-net/dgate/dispatch"
	"github.com/discord-net/dgate/gateway"
	"github.com/discord-net/dgate/model"
	"github.com/discord-net/dgate/rest"
	"github.com/discord-net/dgate/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

var ErrNotOpen = errors.New("dgate: client is not open")

// SessionContext is shared by every component of one client. It is created once by NewClient and
// passed explicitly; there is no global cache.
type SessionContext struct {
	Config Config
	State  *caches.State
	Router *dispatch.Router
	REST   rest.Executor
	// Registerer is nil unless Config.EnablePrometheus is set.
	Registerer prometheus.Registerer
}

type options struct {
	registerer prometheus.Registerer
	executor   rest.Executor
	dialer     gateway.Dialer
	raw        caches.RawStore
}

type Option func(*options)

// WithRegisterer registers metrics somewhere other than the default prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func WithExecutor(exec rest.Executor) Option {
	return func(o *options) { o.executor = exec }
}

func WithDialer(d gateway.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithRawStore keeps the cache in raw instead of the store named by Config.Store.
func WithRawStore(raw caches.RawStore) Option {
	return func(o *options) { o.raw = raw }
}

// Client runs the shards of one bot and keeps its cache.
type Client struct {
	*SessionContext
	opts    options
	metrics *gateway.Metrics
	pg      *state.PostgresStore

	mu     sync.Mutex
	shards []*gateway.Shard
	count  int
	group  *errgroup.Group
	cancel context.CancelFunc
	closed bool

	urlMu      sync.Mutex
	gatewayURL string
}

func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	c := &Client{
		SessionContext: &SessionContext{Config: cfg},
		opts:           o,
	}
	if cfg.EnablePrometheus {
		c.Registerer = o.registerer
		if c.Registerer == nil {
			c.Registerer = prometheus.DefaultRegisterer
		}
	}
	c.REST = o.executor
	if c.REST == nil {
		c.REST = rest.NewHTTPExecutor(cfg.APIBaseURL, cfg.Token)
	}

	raw := o.raw
	if raw == nil && cfg.Store == StorePostgres {
		pg, err := state.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		c.pg = pg
		raw = pg
	}
	st, err := caches.NewState(caches.Options{
		Raw: raw,
		Eviction: map[caches.Kind]caches.EvictionPolicy{
			caches.KindMessage: {Capacity: cfg.MessageCacheSize},
			caches.KindMember:  {TTL: cfg.MemberTTL},
		},
		Registerer: c.Registerer,
	})
	if err != nil {
		c.teardown()
		return nil, err
	}
	c.State = st
	router, err := dispatch.NewRouter(dispatch.Options{State: st, Registerer: c.Registerer})
	if err != nil {
		c.teardown()
		return nil, err
	}
	c.Router = router
	if c.Registerer != nil {
		if c.metrics, err = gateway.NewMetrics(c.Registerer); err != nil {
			c.teardown()
			return nil, err
		}
	}
	return c, nil
}

// On registers a typed listener on the client's router.
func On[E dispatch.Event](c *Client, fn func(ctx context.Context, ev E)) dispatch.ListenerID {
	return dispatch.On(c.Router, fn)
}

// Open starts every shard this process runs and returns once they are launched. Use Wait to block
// until they stop.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return gateway.ErrShardStopped
	}
	if c.group != nil {
		return errors.New("dgate: client is already open")
	}
	count := c.Config.ShardCount
	if count == 0 {
		gb, err := rest.GetGatewayBot(ctx, c.REST)
		if err != nil {
			return fmt.Errorf("discover shard count: %w", err)
		}
		count = max(gb.Shards, 1)
		c.urlMu.Lock()
		c.gatewayURL = gb.URL
		c.urlMu.Unlock()
	}
	ids := c.Config.ShardIDs
	if len(ids) == 0 {
		ids = make([]int, count)
		for i := range ids {
			ids[i] = i
		}
	}
	shards := make([]*gateway.Shard, 0, len(ids))
	for _, id := range ids {
		s, err := gateway.NewShard(c.Config.shardConfig(id, count), gateway.Options{
			Dialer:     c.opts.dialer,
			Metrics:    c.metrics,
			Dispatch:   c.Router.HandleDispatch,
			Lifecycle:  c.Router.HandleLifecycle,
			ResolveURL: c.resolveGatewayURL,
		})
		if err != nil {
			return err
		}
		shards = append(shards, s)
	}
	c.shards = shards
	c.count = count
	c.Router.Start(context.WithoutCancel(ctx))

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	for _, s := range shards {
		s := s
		g.Go(func() error {
			err := s.Run(gctx)
			if errors.Is(err, gateway.ErrShardStopped) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("shard %d: %w", s.ShardID(), err)
		})
	}
	c.group = g
	logger.Info().Int("shards", len(shards)).Int("shard_count", count).Msg("client open")
	return nil
}

// Wait blocks until every shard has stopped and returns the first fatal shard error.
func (c *Client) Wait() error {
	c.mu.Lock()
	g := c.group
	c.mu.Unlock()
	if g == nil {
		return ErrNotOpen
	}
	return g.Wait()
}

// Close stops every shard, waits for queued events to reach listeners and releases the cache.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	shards := c.shards
	g := c.group
	cancel := c.cancel
	c.mu.Unlock()

	for _, s := range shards {
		s.Stop()
	}
	if cancel != nil {
		cancel()
	}
	var err error
	if g != nil {
		err = g.Wait()
	}
	c.teardown()
	return err
}

func (c *Client) teardown() {
	if c.Router != nil {
		if err := c.Router.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close router")
		}
	}
	if c.State != nil {
		c.State.Close()
	}
	c.metrics.Unregister()
	if c.pg != nil {
		c.pg.Teardown()
	}
}

func (c *Client) resolveGatewayURL(ctx context.Context) (string, error) {
	c.urlMu.Lock()
	defer c.urlMu.Unlock()
	if c.gatewayURL != "" {
		return c.gatewayURL, nil
	}
	u, err := rest.GatewayURLResolver(c.REST)(ctx)
	if err != nil {
		return "", err
	}
	c.gatewayURL = u
	return u, nil
}

// Shards returns the shards this process runs, empty before Open.
func (c *Client) Shards() []*gateway.Shard {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*gateway.Shard(nil), c.shards...)
}

// Health reports every shard. Healthy means every shard is connected.
type Health struct {
	Healthy bool             `json:"healthy"`
	Shards  []gateway.Health `json:"shards"`
}

func (c *Client) Health() Health {
	shards := c.Shards()
	h := Health{Healthy: len(shards) > 0, Shards: make([]gateway.Health, 0, len(shards))}
	for _, s := range shards {
		sh := s.Health()
		if s.State() != gateway.StateConnected {
			h.Healthy = false
		}
		h.Shards = append(h.Shards, sh)
	}
	return h
}

func (c *Client) shardFor(guildID model.Snowflake) (*gateway.Shard, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.shards) == 0 {
		return nil, ErrNotOpen
	}
	want := guildID.ShardID(c.count)
	for _, s := range c.shards {
		if s.ShardID() == want {
			return s, nil
		}
	}
	return nil, fmt.Errorf("dgate: guild %s belongs to shard %d which this process does not run", guildID, want)
}

// RequestGuildMembers asks the guild's shard for member chunks. They arrive as MembersChunk events
// and are cached.
func (c *Client) RequestGuildMembers(ctx context.Context, req gateway.RequestGuildMembers) error {
	s, err := c.shardFor(req.GuildID)
	if err != nil {
		return err
	}
	return s.RequestGuildMembers(ctx, req)
}

// UpdatePresence sets the presence on every shard.
func (c *Client) UpdatePresence(ctx context.Context, p gateway.PresenceUpdate) error {
	shards := c.Shards()
	if len(shards) == 0 {
		return ErrNotOpen
	}
	var errs []error
	for _, s := range shards {
		errs = append(errs, s.UpdatePresence(ctx, p))
	}
	return errors.Join(errs...)
}

func isNotFound(err error) bool {
	var restErr *rest.Error
	return errors.As(err, &restErr) && restErr.Category == rest.CategoryNotFound
}

// FetchGuild loads a guild and its roles over REST, merges them into the cache and returns a handle.
func (c *Client) FetchGuild(ctx context.Context, id model.Snowflake) (*caches.GuildHandle, error) {
	var raw json.RawMessage
	if err := c.REST.Execute(ctx, rest.GetGuild(id), &raw); err != nil {
		return nil, err
	}
	var g model.Guild
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode guild: %w", err)
	}
	var extra struct {
		Roles []model.Role `json:"roles"`
	}
	if err := json.Unmarshal(raw, &extra); err != nil {
		return nil, fmt.Errorf("decode guild roles: %w", err)
	}
	if _, err := c.State.ApplyGuild(ctx, g, caches.EventUpdate); err != nil {
		return nil, err
	}
	for _, r := range extra.Roles {
		if _, err := c.State.ApplyRole(ctx, g.ID, r, caches.EventUpdate); err != nil {
			return nil, err
		}
	}
	return c.State.Guild(ctx, id)
}

// Guild returns the cached guild, fetching it when it is not cached. A guild the bot cannot see is
// nil.
func (c *Client) Guild(ctx context.Context, id model.Snowflake) (*caches.GuildHandle, error) {
	h, err := c.State.Guild(ctx, id)
	if err != nil || h != nil {
		return h, err
	}
	h, err = c.FetchGuild(ctx, id)
	if isNotFound(err) {
		return nil, nil
	}
	return h, err
}

func (c *Client) FetchChannel(ctx context.Context, id model.Snowflake) (*caches.ChannelHandle, error) {
	var ch model.Channel
	if err := c.REST.Execute(ctx, rest.GetChannel(id), &ch); err != nil {
		return nil, err
	}
	if _, err := c.State.ApplyChannel(ctx, ch, caches.EventUpdate); err != nil {
		return nil, err
	}
	return c.State.Channel(ctx, id)
}

func (c *Client) Channel(ctx context.Context, id model.Snowflake) (*caches.ChannelHandle, error) {
	h, err := c.State.Channel(ctx, id)
	if err != nil || h != nil {
		return h, err
	}
	h, err = c.FetchChannel(ctx, id)
	if isNotFound(err) {
		return nil, nil
	}
	return h, err
}

func (c *Client) FetchUser(ctx context.Context, id model.Snowflake) (*caches.UserHandle, error) {
	var u model.User
	if err := c.REST.Execute(ctx, rest.GetUser(id), &u); err != nil {
		return nil, err
	}
	if _, err := c.State.ApplyUser(ctx, u, caches.EventUpdate); err != nil {
		return nil, err
	}
	return c.State.User(ctx, id)
}

func (c *Client) User(ctx context.Context, id model.Snowflake) (*caches.UserHandle, error) {
	h, err := c.State.User(ctx, id)
	if err != nil || h != nil {
		return h, err
	}
	h, err = c.FetchUser(ctx, id)
	if isNotFound(err) {
		return nil, nil
	}
	return h, err
}

func (c *Client) FetchMember(ctx context.Context, guildID, userID model.Snowflake) (*caches.MemberHandle, error) {
	var m model.Member
	if err := c.REST.Execute(ctx, rest.GetGuildMember(guildID, userID), &m); err != nil {
		return nil, err
	}
	if _, err := c.State.ApplyMember(ctx, guildID, m, caches.EventUpdate); err != nil {
		return nil, err
	}
	return c.State.Member(ctx, guildID, userID)
}

// FetchMessages loads messages next to anchor over REST and caches them. They are returned in
// ascending id order.
func (c *Client) FetchMessages(ctx context.Context, channelID, anchor model.Snowflake, dir caches.Direction, limit int) ([]model.Message, error) {
	var direction string
	switch dir {
	case caches.Before:
		direction = "before"
	case caches.After:
		direction = "after"
	case caches.Around:
		direction = "around"
	default:
		return nil, caches.ErrInvalidDirection
	}
	var msgs []model.Message
	if err := c.REST.Execute(ctx, rest.GetChannelMessages(channelID, anchor, direction, limit), &msgs); err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.ChannelID == 0 {
			m.ChannelID = channelID
		}
		if _, err := c.State.ApplyMessage(ctx, m, caches.EventUpdate); err != nil {
			return nil, err
		}
	}
	return c.State.Messages.Stores().Store(channelID).QueryRange(ctx, anchor, dir, limit)
}
