package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/discord-net/dgate/caches"
	"github.com/discord-net/dgate/gateway"
	"github.com/discord-net/dgate/internal"
	"github.com/discord-net/dgate/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

const (
	DefaultWorkers    = 16
	DefaultBufferSize = 256

	chanName = "dispatch"
)

// Session is the part of a gateway shard the router needs: the sequence gate and the shard's place
// in the shard set.
type Session interface {
	AdvanceSequence(seq int64) bool
	ShardID() int
	ShardCount() int
}

var _ Session = (*gateway.Shard)(nil)

type Options struct {
	// State is the cache dispatches are applied to. Required.
	State *caches.State
	// Workers bounds how many listeners run concurrently for one event.
	Workers int
	// BufferSize is how many events may wait for listeners before Route blocks.
	BufferSize int
	// Registerer receives dispatch and notifier metrics. Nil disables metrics.
	Registerer prometheus.Registerer
}

type ListenerID uint64

type listener struct {
	id        ListenerID
	eventType string // empty for every event
	fn        func(ctx context.Context, ev Event)
}

// Router applies gateway dispatches to the cache and fans the resulting events out to listeners.
// Cache mutation happens synchronously in Route, on the caller's goroutine. Listeners run later, on
// the router's fan-out goroutine, one event at a time in the order the events were routed.
type Router struct {
	state    *caches.State
	table    map[string]handler
	ps       *pubsub.PubSub
	notifier pubsub.Notifier
	pool     *internal.WorkerPool

	listenersMu sync.RWMutex
	listeners   []listener
	nextID      atomic.Uint64

	dispatched *prometheus.CounterVec
	registerer prometheus.Registerer

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc
}

func NewRouter(opts Options) (*Router, error) {
	if opts.State == nil {
		return nil, errors.New("dispatch: a cache state is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	r := &Router{
		state: opts.State,
		ps:    pubsub.NewPubSub(opts.BufferSize),
		pool:  internal.NewWorkerPool(opts.Workers),
		done:  make(chan struct{}),
	}
	r.notifier = r.ps
	r.table = r.buildTable()
	if opts.Registerer != nil {
		r.dispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dgate",
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Number of dispatches routed, by event and outcome.",
		}, []string{"event", "outcome"})
		if err := opts.Registerer.Register(r.dispatched); err != nil {
			return nil, fmt.Errorf("register dispatch counter: %w", err)
		}
		notifier, err := pubsub.NewPromNotifier(r.ps, opts.Registerer, "dispatch")
		if err != nil {
			opts.Registerer.Unregister(r.dispatched)
			return nil, fmt.Errorf("register notifier counter: %w", err)
		}
		r.notifier = notifier
		r.registerer = opts.Registerer
	}
	return r, nil
}

// Start runs the fan-out goroutine. Listeners receive ctx, which also bounds how long they run after
// Close.
func (r *Router) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, r.cancel = context.WithCancel(ctx)
		r.pool.Start()
		go func() {
			defer close(r.done)
			defer internal.ReportPanicsToSentry()
			err := r.ps.Listen(chanName, func(p pubsub.Payload) {
				r.deliver(ctx, p.(Event))
			})
			if err != nil && !errors.Is(err, pubsub.ErrClosed) {
				logger.Error().Err(err).Msg("dispatch fan-out stopped")
			}
		}()
	})
}

// Close stops accepting events, waits for queued events to reach their listeners, then stops the
// fan-out. Safe to call more than once.
func (r *Router) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.notifier.Close()
		started := r.cancel != nil
		if started {
			<-r.done
			r.cancel()
		}
		r.pool.Stop()
		if r.registerer != nil {
			r.registerer.Unregister(r.dispatched)
		}
	})
	return err
}

// Route handles one frame from session. Non dispatch frames are ignored. A dispatch whose sequence is
// not newer than the session's is a duplicate and is dropped without touching the cache. Otherwise the
// event is applied to the cache before Route returns, and queued for listeners.
func (r *Router) Route(ctx context.Context, session Session, env gateway.Envelope) error {
	if env.Op != gateway.OpDispatch {
		return nil
	}
	if seq, ok := env.Sequence(); ok && !session.AdvanceSequence(seq) {
		r.count(env.Event, "duplicate")
		logger.Debug().Int("shard", session.ShardID()).Int64("seq", seq).Str("event", env.Event).Msg("dropping duplicate dispatch")
		return nil
	}
	ctx, span := internal.StartSpan(ctx, "dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("event", env.Event), attribute.Int("shard", session.ShardID()))

	var ev Event
	h, ok := r.table[env.Event]
	if !ok {
		r.count(env.Event, "unknown")
		ev = Unknown{Name: env.Event, Data: env.Data}
	} else {
		var err error
		ev, err = h(ctx, session, env.Data)
		if err != nil {
			r.count(env.Event, "error")
			err = fmt.Errorf("dispatch %s: %w", env.Event, err)
			span.RecordError(err)
			return err
		}
		r.count(env.Event, "applied")
	}
	if err := r.notifier.Notify(ctx, chanName, ev); err != nil {
		span.RecordError(err)
		return fmt.Errorf("queue %s for listeners: %w", ev.Type(), err)
	}
	return nil
}

// Publish queues an event which did not come from a dispatch, e.g. a shard lifecycle event.
func (r *Router) Publish(ctx context.Context, ev Event) error {
	return r.notifier.Notify(ctx, chanName, ev)
}

// HandleDispatch adapts Route to gateway.Options.Dispatch.
func (r *Router) HandleDispatch(ctx context.Context, s *gateway.Shard, env gateway.Envelope) {
	if err := r.Route(ctx, s, env); err != nil {
		internal.DecorateLogger(ctx, logger.Error()).Err(err).Msg("failed to route dispatch")
	}
}

// HandleLifecycle adapts gateway.Options.Lifecycle, publishing the matching event.
func (r *Router) HandleLifecycle(ctx context.Context, s *gateway.Shard, ev gateway.LifecycleEvent) {
	var out Event
	switch ev.Kind {
	case gateway.LifecycleSessionInvalidated:
		out = SessionInvalidated{ShardID: s.ShardID()}
	case gateway.LifecycleAuthenticationFailed:
		out = AuthenticationFailed{ShardID: s.ShardID(), Err: ev.Err}
	default:
		out = Disconnected{ShardID: s.ShardID(), Err: ev.Err, Fatal: ev.Fatal}
	}
	if err := r.Publish(ctx, out); err != nil {
		internal.DecorateLogger(ctx, logger.Error()).Err(err).Str("event", out.Type()).Msg("failed to publish lifecycle event")
	}
}

func (r *Router) count(event, outcome string) {
	if r.dispatched == nil {
		return
	}
	r.dispatched.WithLabelValues(event, outcome).Inc()
}

// On registers fn for every event of type E.
func On[E Event](r *Router, fn func(ctx context.Context, ev E)) ListenerID {
	var zero E
	return r.add(zero.Type(), func(ctx context.Context, ev Event) {
		fn(ctx, ev.(E))
	})
}

// OnAny registers fn for every event.
func (r *Router) OnAny(fn func(ctx context.Context, ev Event)) ListenerID {
	return r.add("", fn)
}

func (r *Router) add(eventType string, fn func(ctx context.Context, ev Event)) ListenerID {
	id := ListenerID(r.nextID.Add(1))
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, listener{id: id, eventType: eventType, fn: fn})
	return id
}

// Unregister removes a listener. It returns false if id was not registered.
func (r *Router) Unregister(id ListenerID) bool {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	for i, l := range r.listeners {
		if l.id == id {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// deliver runs every listener for ev and waits for all of them. A panicking listener is reported
// and does not affect the others.
func (r *Router) deliver(ctx context.Context, ev Event) {
	r.listenersMu.RLock()
	var fns []func()
	for _, l := range r.listeners {
		if l.eventType != "" && l.eventType != ev.Type() {
			continue
		}
		l := l
		fns = append(fns, func() {
			defer func() {
				internal.RecoverAndReport(recover(), internal.GetSentryHubFromContextOrDefault(ctx), "listener "+ev.Type())
			}()
			l.fn(ctx, ev)
		})
	}
	r.listenersMu.RUnlock()
	r.pool.RunAll(fns)
}
