package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/discord-net/dgate/internal"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// State of a shard's connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentifying
	StateResuming
	StateConnected
	StateReconnecting
)

var allStates = []State{StateDisconnected, StateConnecting, StateIdentifying, StateResuming, StateConnected, StateReconnecting}

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentifying:
		return "identifying"
	case StateResuming:
		return "resuming"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// LifecycleKind is a shard level happening which subscribers may want to know about.
type LifecycleKind int

const (
	// LifecycleSessionInvalidated: the session was discarded and the shard is identifying again. Caches
	// are rebuilt from the READY and GUILD_CREATE burst which follows.
	LifecycleSessionInvalidated LifecycleKind = iota
	// LifecycleDisconnected: the shard gave up. Run returns.
	LifecycleDisconnected
	// LifecycleAuthenticationFailed: the token was rejected. Run returns.
	LifecycleAuthenticationFailed
)

type LifecycleEvent struct {
	Kind  LifecycleKind
	Err   error
	Fatal bool
}

type Options struct {
	// Dialer opens connections, defaults to WebSocketDialer.
	Dialer  Dialer
	Metrics *Metrics
	// Dispatch receives every Dispatch frame on the receive goroutine in arrival order. It is
	// responsible for calling AdvanceSequence. Without it the shard advances the sequence itself.
	Dispatch func(ctx context.Context, s *Shard, env Envelope)
	// Lifecycle receives session invalidation and fatal disconnects.
	Lifecycle func(ctx context.Context, s *Shard, ev LifecycleEvent)
	// ResolveURL is asked once for the gateway URL when Config.GatewayURL is empty.
	ResolveURL func(ctx context.Context) (string, error)
}

// Session is a snapshot of the resumable session state.
type Session struct {
	ID        string
	Seq       *int64
	ResumeURL string
}

// Health is a point in time view of a shard, safe to serialise.
type Health struct {
	Shard             int           `json:"shard"`
	State             string        `json:"state"`
	SessionID         string        `json:"session_id,omitempty"`
	Seq               *int64        `json:"seq,omitempty"`
	Latency           time.Duration `json:"latency"`
	MissedAcks        int           `json:"missed_acks"`
	CooldownRemaining time.Duration `json:"cooldown_remaining,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
}

// Shard owns one gateway connection and its session: it connects, identifies or resumes, keeps the
// heartbeat going and reconnects with backoff until it is stopped or hits a fatal close.
type Shard struct {
	cfg     Config
	opts    Options
	codec   Codec
	limiter *rate.Limiter
	metrics *Metrics

	mu            sync.Mutex
	state         State
	sessionID     string
	seq           *int64
	resumeURL     string
	gatewayURL    string
	cooldownUntil time.Time
	lastErr       error
	running       bool
	cancel        context.CancelFunc
	logCtx        context.Context
	hb            *Heartbeater

	// sendMu serialises writes against Stop so no frame is written once the connection is closing
	sendMu   sync.Mutex
	stopping bool
	conn     *connection
}

// connection is one dial of the gateway, from Hello to close.
type connection struct {
	id        string
	transport Transport
	group     *errgroup.Group
	hb        *Heartbeater
	ready     chan struct{}
	readyOnce sync.Once
	// whether READY or RESUMED was received
	established atomic.Bool
	// guarded by Shard.sendMu
	closing bool
	failErr error
}

func NewShard(cfg Config, opts Options) (*Shard, error) {
	cfg = cfg.withDefaults()
	if cfg.Token == "" {
		return nil, errors.New("gateway: token is required")
	}
	if cfg.ShardID < 0 || cfg.ShardID >= cfg.ShardCount {
		return nil, fmt.Errorf("gateway: shard id %d out of range for %d shards", cfg.ShardID, cfg.ShardCount)
	}
	codec, err := CodecFor(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	every := cfg.SendWindow / time.Duration(cfg.SendLimit)
	return &Shard{
		cfg:     cfg,
		opts:    opts,
		codec:   codec,
		metrics: opts.Metrics,
		limiter: rate.NewLimiter(rate.Every(every), cfg.SendLimit),
		logCtx:  context.Background(),
	}, nil
}

func (s *Shard) ShardID() int    { return s.cfg.ShardID }
func (s *Shard) ShardCount() int { return s.cfg.ShardCount }

func (s *Shard) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns a copy of the current session. The ID is empty when there is none.
func (s *Shard) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Session{ID: s.sessionID, ResumeURL: s.resumeURL}
	if s.seq != nil {
		seq := *s.seq
		out.Seq = &seq
	}
	return out
}

// Sequence is the last dispatch sequence seen, read by the heartbeat.
func (s *Shard) Sequence() *int64 {
	return s.Session().Seq
}

// AdvanceSequence records seq as the latest dispatch sequence. It returns false, leaving the
// sequence untouched, if seq is not newer than the current one, in which case the frame is a
// duplicate and must not be applied.
func (s *Shard) AdvanceSequence(seq int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != nil && seq <= *s.seq {
		return false
	}
	s.seq = &seq
	internal.SetContextSession(s.logCtx, s.sessionID, seq)
	return true
}

// Latency is the last heartbeat round trip.
func (s *Shard) Latency() time.Duration {
	s.mu.Lock()
	hb := s.hb
	s.mu.Unlock()
	if hb == nil {
		return 0
	}
	return hb.Latency()
}

func (s *Shard) Health() Health {
	sess := s.Session()
	s.mu.Lock()
	h := Health{
		Shard:     s.cfg.ShardID,
		State:     s.state.String(),
		SessionID: sess.ID,
		Seq:       sess.Seq,
	}
	if s.lastErr != nil {
		h.LastError = s.lastErr.Error()
	}
	if rem := time.Until(s.cooldownUntil); rem > 0 {
		h.CooldownRemaining = rem
	}
	hb := s.hb
	s.mu.Unlock()
	if hb != nil {
		h.Latency = hb.Latency()
		h.MissedAcks = hb.Missed()
	}
	return h
}

// Run connects and keeps the shard connected until ctx is done, Stop is called or the gateway
// closes with a fatal code. It always returns a non-nil error.
func (s *Shard) Run(ctx context.Context) error {
	if s.isStopping() {
		return ErrShardStopped
	}
	ctx, cancel := context.WithCancel(internal.ShardContext(ctx, s.cfg.ShardID, s.cfg.ShardCount))
	defer cancel()
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("gateway: shard is already running")
	}
	s.running = true
	s.cancel = cancel
	s.logCtx = ctx
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
		s.setState(StateDisconnected)
	}()

	bo := newReconnectBackOff(s.cfg.BackoffInitial, s.cfg.BackoffMax, s.cfg.MaxReconnectAttempts)
	for {
		if wait := s.cooldownRemaining(); wait > 0 {
			internal.DecorateLogger(ctx, logger.Info()).Dur("cooldown", wait).Msg("waiting for rate limit cooldown")
			if err := sleep(ctx, wait); err != nil {
				return s.exitErr(err)
			}
		}
		established, err := s.connect(ctx)
		if s.isStopping() {
			return ErrShardStopped
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()

		action := classify(err)
		internal.DecorateLogger(ctx, logger.Warn()).Err(err).Str("action", action.String()).Msg("connection ended")
		switch action {
		case ActionFatalAuth:
			s.discardSession()
			err = fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
			s.fatal(ctx, LifecycleAuthenticationFailed, err)
			return err
		case ActionFatalConfig:
			s.discardSession()
			err = fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
			s.fatal(ctx, LifecycleDisconnected, err)
			return err
		case ActionIdentify:
			s.discardSession()
		}

		if established {
			bo.Reset()
		}
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			err = fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
			s.fatal(ctx, LifecycleDisconnected, err)
			return err
		}
		var closeErr *CloseError
		if errors.As(err, &closeErr) && closeErr.Code == CloseRateLimited {
			s.startCooldown(closeErr)
		}
		if rem := s.cooldownRemaining(); rem > delay {
			delay = rem
		}
		s.metrics.reconnect(s.cfg.ShardID, reason(err))
		s.setState(StateReconnecting)
		internal.DecorateLogger(ctx, logger.Info()).Dur("delay", delay).Msg("reconnecting")
		if err := sleep(ctx, delay); err != nil {
			return s.exitErr(err)
		}
	}
}

// Stop closes the connection with 1000 and ends Run. A stopped shard cannot be restarted.
func (s *Shard) Stop() {
	s.sendMu.Lock()
	s.stopping = true
	if c := s.conn; c != nil && !c.closing {
		c.closing = true
		c.failErr = ErrShardStopped
		if err := c.transport.Close(CloseNormal, "shutting down"); err != nil {
			logger.Debug().Err(err).Msg("error closing transport")
		}
	}
	s.sendMu.Unlock()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.setState(StateDisconnected)
}

// RequestGuildMembers asks for GUILD_MEMBERS_CHUNK dispatches for a guild.
func (s *Shard) RequestGuildMembers(ctx context.Context, req RequestGuildMembers) error {
	if req.Query == nil && len(req.UserIDs) == 0 {
		empty := ""
		req.Query = &empty
	}
	return s.write(ctx, nil, OpRequestGuildMembers, req, true)
}

// UpdatePresence changes the bot's status on this shard.
func (s *Shard) UpdatePresence(ctx context.Context, p PresenceUpdate) error {
	if p.Activities == nil {
		p.Activities = []Activity{}
	}
	return s.write(ctx, nil, OpPresenceUpdate, p, true)
}

func (s *Shard) connect(ctx context.Context) (bool, error) {
	connID := uuid.NewString()
	internal.SetContextConnection(ctx, connID)
	ctx, task := internal.StartTask(ctx, "connect")
	defer task.End()
	s.setState(StateConnecting)
	resume := s.canResume()
	internal.Logf(ctx, "gateway", "connection %s resume=%v", connID, resume)

	target, err := s.dialURL(ctx, resume)
	if err != nil {
		return false, err
	}
	deadline := time.Now().Add(s.cfg.ConnectTimeout)
	dialCtx, cancelDial := context.WithDeadline(ctx, deadline)
	transport, err := s.opts.Dialer.Dial(dialCtx, target)
	cancelDial()
	if err != nil {
		return false, err
	}
	c := &connection{id: connID, transport: transport, ready: make(chan struct{})}
	if !s.attach(c) {
		transport.Close(CloseNormal, "shutting down")
		return false, ErrShardStopped
	}
	defer s.detach(c)
	internal.DecorateLogger(ctx, logger.Info()).Bool("resume", resume).Msg("connected to gateway")

	g, gctx := errgroup.WithContext(ctx)
	c.group = g
	g.Go(func() error {
		<-gctx.Done()
		s.closeConnection(c, closeReconnect, nil)
		return nil
	})
	g.Go(func() error {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		select {
		case <-c.ready:
			return nil
		case <-gctx.Done():
			return nil
		case <-timer.C:
			return errConnectTimeout
		}
	})
	g.Go(func() error {
		return s.receive(gctx, c, resume)
	})
	err = g.Wait()
	return c.established.Load(), err
}

func (s *Shard) receive(ctx context.Context, c *connection, resume bool) error {
	decodeFailures := 0
	for {
		_, frame, err := c.transport.ReadMessage()
		if err != nil {
			if failure := s.connFailure(c); failure != nil {
				return failure
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closeErr *CloseError
			if errors.As(err, &closeErr) {
				return closeErr
			}
			return fmt.Errorf("read: %w", err)
		}
		env, err := decodeFrame(s.codec, frame)
		if err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				s.metrics.decodeError(s.cfg.ShardID, "protocol")
				internal.DecorateLogger(ctx, logger.Warn()).Err(err).Msg("dropping frame")
				continue
			}
			decodeFailures++
			s.metrics.decodeError(s.cfg.ShardID, "malformed")
			internal.DecorateLogger(ctx, logger.Warn()).Err(err).Int("consecutive", decodeFailures).Msg("dropping malformed frame")
			if decodeFailures >= s.cfg.MaxConsecutiveDecodeErrors {
				return fmt.Errorf("%w: %w", errTooManyDecodeErrors, err)
			}
			continue
		}
		decodeFailures = 0
		if err := s.handle(ctx, c, env, resume); err != nil {
			return err
		}
	}
}

func (s *Shard) handle(ctx context.Context, c *connection, env Envelope, resume bool) error {
	switch env.Op {
	case OpHello:
		if c.hb != nil {
			internal.DecorateLogger(ctx, logger.Debug()).Msg("ignoring repeated hello")
			return nil
		}
		var hello Hello
		if err := json.Unmarshal(env.Data, &hello); err != nil {
			return &DecodeError{Encoding: s.codec.Encoding(), Err: fmt.Errorf("hello: %w", err)}
		}
		if hello.HeartbeatInterval <= 0 {
			return &DecodeError{Encoding: s.codec.Encoding(), Err: fmt.Errorf("hello: bad heartbeat interval %d", hello.HeartbeatInterval)}
		}
		s.startHeartbeat(ctx, c, hello.Interval())
		if resume {
			s.setState(StateResuming)
			return s.sendResume(ctx, c)
		}
		s.setState(StateIdentifying)
		return s.sendIdentify(ctx, c)
	case OpHeartbeat:
		if c.hb != nil {
			c.hb.Beat()
		}
	case OpHeartbeatAck:
		if c.hb != nil {
			c.hb.OnAck()
		}
	case OpReconnect:
		return errReconnectRequested
	case OpInvalidSession:
		resumable := gjson.ParseBytes(env.Data).Bool()
		internal.DecorateLogger(ctx, logger.Warn()).Bool("resumable", resumable).Msg("invalid session")
		if resumable && s.canResume() {
			return &InvalidSessionError{Resumable: true}
		}
		return s.reidentify(ctx, c)
	case OpDispatch:
		s.handleDispatch(ctx, c, env)
	default:
		internal.DecorateLogger(ctx, logger.Debug()).Str("op", env.Op.String()).Msg("ignoring unexpected opcode")
	}
	return nil
}

func (s *Shard) handleDispatch(ctx context.Context, c *connection, env Envelope) {
	switch env.Event {
	case "READY":
		var ready Ready
		if err := json.Unmarshal(env.Data, &ready); err != nil {
			internal.DecorateLogger(ctx, logger.Error()).Err(err).Msg("malformed READY")
			break
		}
		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeGatewayURL
		s.seq = nil
		s.mu.Unlock()
		internal.SetContextSession(ctx, ready.SessionID, -1)
		s.markEstablished(c)
		internal.DecorateLogger(ctx, logger.Info()).Int("guilds", len(ready.Guilds)).Msg("ready")
	case "RESUMED":
		s.markEstablished(c)
		internal.DecorateLogger(ctx, logger.Info()).Msg("resumed")
	}
	if s.opts.Dispatch != nil {
		s.opts.Dispatch(ctx, s, env)
		return
	}
	if seq, ok := env.Sequence(); ok {
		s.AdvanceSequence(seq)
	}
}

// reidentify handles a non resumable Invalid Session: drop the session, wait a moment as the
// gateway asks, then identify again on the same connection.
func (s *Shard) reidentify(ctx context.Context, c *connection) error {
	s.discardSession()
	s.setState(StateIdentifying)
	s.publish(ctx, LifecycleEvent{Kind: LifecycleSessionInvalidated})
	if err := sleep(ctx, randomDuration(time.Second, 5*time.Second)); err != nil {
		return err
	}
	return s.sendIdentify(ctx, c)
}

func (s *Shard) startHeartbeat(ctx context.Context, c *connection, interval time.Duration) {
	hb := NewHeartbeater(func(ctx context.Context) error {
		return s.write(ctx, c, OpHeartbeat, s.Sequence(), false)
	}, func() {
		s.closeConnection(c, closeReconnect, errZombie)
	}, s.cfg.MaxMissedAcks).OnLatency(func(d time.Duration) {
		s.metrics.observeLatency(s.cfg.ShardID, d.Seconds())
	})
	c.hb = hb
	s.mu.Lock()
	s.hb = hb
	s.mu.Unlock()
	c.group.Go(func() error {
		hb.Run(ctx, interval)
		return nil
	})
}

func (s *Shard) sendIdentify(ctx context.Context, c *connection) error {
	identify := Identify{
		Token:          s.cfg.Token,
		Properties:     s.cfg.Properties,
		Intents:        s.cfg.Intents,
		Compress:       s.cfg.Compress,
		LargeThreshold: s.cfg.LargeThreshold,
		Presence:       s.cfg.Presence,
	}
	if s.cfg.ShardCount > 1 {
		identify.Shard = &[2]int{s.cfg.ShardID, s.cfg.ShardCount}
	}
	return s.write(ctx, c, OpIdentify, identify, true)
}

func (s *Shard) sendResume(ctx context.Context, c *connection) error {
	sess := s.Session()
	internal.Assert("resume requires a session", sess.ID != "" && sess.Seq != nil)
	if sess.Seq == nil {
		return s.sendIdentify(ctx, c)
	}
	return s.write(ctx, c, OpResume, Resume{
		Token:     s.cfg.Token,
		SessionID: sess.ID,
		Seq:       *sess.Seq,
	}, true)
}

// write encodes and sends one frame on c, or on the current connection when c is nil. Heartbeats
// pass limited=false and skip the send limiter.
func (s *Shard) write(ctx context.Context, c *connection, op Opcode, payload any, limited bool) error {
	if limited {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	env, err := NewEnvelope(op, payload)
	if err != nil {
		return err
	}
	frame, err := s.codec.Encode(env)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.stopping {
		return ErrShardStopped
	}
	if c == nil {
		c = s.conn
	}
	if c == nil || c.closing {
		return errNotConnected
	}
	if err := c.transport.WriteMessage(s.codec.MessageType(), frame); err != nil {
		return fmt.Errorf("write %s: %w", op, err)
	}
	s.metrics.frameSent(s.cfg.ShardID, op)
	return nil
}

// closeConnection marks c closing and closes its transport. failure, if set, is what the receive
// loop reports once its read fails.
func (s *Shard) closeConnection(c *connection, code CloseCode, failure error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if c.closing {
		return
	}
	c.closing = true
	c.failErr = failure
	if err := c.transport.Close(code, ""); err != nil {
		logger.Debug().Err(err).Msg("error closing transport")
	}
}

func (s *Shard) connFailure(c *connection) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return c.failErr
}

func (s *Shard) attach(c *connection) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.stopping {
		return false
	}
	s.conn = c
	return true
}

func (s *Shard) detach(c *connection) {
	s.sendMu.Lock()
	if s.conn == c {
		s.conn = nil
	}
	s.sendMu.Unlock()
	s.mu.Lock()
	if s.hb == c.hb {
		s.hb = nil
	}
	s.mu.Unlock()
}

func (s *Shard) markEstablished(c *connection) {
	c.established.Store(true)
	c.readyOnce.Do(func() { close(c.ready) })
	s.setState(StateConnected)
}

func (s *Shard) isStopping() bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stopping
}

func (s *Shard) exitErr(err error) error {
	if s.isStopping() {
		return ErrShardStopped
	}
	return err
}

func (s *Shard) canResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID != "" && s.seq != nil
}

func (s *Shard) discardSession() {
	s.mu.Lock()
	s.sessionID = ""
	s.seq = nil
	s.resumeURL = ""
	s.mu.Unlock()
	internal.SetContextSession(s.logCtx, "", -1)
}

func (s *Shard) startCooldown(closeErr *CloseError) {
	cooldown := s.cfg.RateLimitCooldown
	if ra := closeErr.RetryAfter(); ra > cooldown {
		cooldown = ra
	}
	s.mu.Lock()
	s.cooldownUntil = time.Now().Add(cooldown)
	s.mu.Unlock()
	logger.Warn().Int("shard", s.cfg.ShardID).Dur("cooldown", cooldown).Msg("rate limited by gateway")
}

func (s *Shard) cooldownRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	rem := time.Until(s.cooldownUntil)
	if rem < 0 {
		return 0
	}
	return rem
}

func (s *Shard) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	if prev != state {
		logger.Trace().Int("shard", s.cfg.ShardID).Str("from", prev.String()).Str("to", state.String()).Msg("state")
		s.metrics.setState(s.cfg.ShardID, state)
	}
}

func (s *Shard) publish(ctx context.Context, ev LifecycleEvent) {
	if s.opts.Lifecycle != nil {
		s.opts.Lifecycle(ctx, s, ev)
	}
}

func (s *Shard) fatal(ctx context.Context, kind LifecycleKind, err error) {
	internal.DecorateLogger(ctx, logger.Error()).Err(err).Msg("shard stopped")
	internal.CaptureError(ctx, err, map[string]string{
		"shard": strconv.Itoa(s.cfg.ShardID),
	})
	s.publish(ctx, LifecycleEvent{Kind: kind, Err: err, Fatal: true})
}

func (s *Shard) dialURL(ctx context.Context, resume bool) (string, error) {
	s.mu.Lock()
	base := ""
	if resume {
		base = s.resumeURL
	}
	s.mu.Unlock()
	if base == "" {
		var err error
		if base, err = s.resolveGatewayURL(ctx); err != nil {
			return "", err
		}
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("gateway: bad gateway url %q: %w", base, err)
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(APIVersion))
	q.Set("encoding", s.codec.Encoding())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Shard) resolveGatewayURL(ctx context.Context) (string, error) {
	if s.cfg.GatewayURL != "" {
		return s.cfg.GatewayURL, nil
	}
	s.mu.Lock()
	cached := s.gatewayURL
	s.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	if s.opts.ResolveURL == nil {
		return "", errors.New("gateway: no gateway url configured")
	}
	resolved, err := s.opts.ResolveURL(ctx)
	if err != nil {
		return "", fmt.Errorf("gateway: resolve url: %w", err)
	}
	s.mu.Lock()
	s.gatewayURL = resolved
	s.mu.Unlock()
	return resolved, nil
}
