package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var ErrClosed = errors.New("pubsub: closed")

// DefaultNotifyTimeout bounds how long Notify waits for room in a full channel.
const DefaultNotifyTimeout = 5 * time.Second

// Every payload needs a type to distinguish what kind of update it is.
type Payload interface {
	Type() string
}

// Listener represents the common functions required by all subscription listeners
type Listener interface {
	// Begin listening on this channel with this callback. Payloads are delivered one at a time in
	// the order they were notified. Blocks until Close() is called.
	Listen(chanName string, fn func(p Payload)) error
	// Close the listener. No more callbacks should fire.
	Close() error
}

// Notifier represents the common functions required by all notifiers
type Notifier interface {
	// Notify chanName that there is a new payload p. Blocks while the channel is full, and returns an
	// error if the payload could not be queued before the timeout or ctx expired.
	Notify(ctx context.Context, chanName string, p Payload) error
	// Close is called when we should stop listening.
	Close() error
}

type PubSub struct {
	chans         map[string]chan Payload
	mu            sync.RWMutex
	closed        bool
	bufferSize    int
	notifyTimeout time.Duration
}

func NewPubSub(bufferSize int) *PubSub {
	return &PubSub{
		chans:         make(map[string]chan Payload),
		bufferSize:    bufferSize,
		notifyTimeout: DefaultNotifyTimeout,
	}
}

// WithNotifyTimeout changes how long Notify waits on a full channel.
func (ps *PubSub) WithNotifyTimeout(d time.Duration) *PubSub {
	ps.notifyTimeout = d
	return ps
}

// getChan must be called with at least a read lock held.
func (ps *PubSub) getChan(chanName string) chan Payload {
	ch := ps.chans[chanName]
	if ch != nil {
		return ch
	}
	ps.mu.RUnlock()
	ps.mu.Lock()
	ch = ps.chans[chanName]
	if ch == nil && !ps.closed {
		ch = make(chan Payload, ps.bufferSize)
		ps.chans[chanName] = ch
	}
	ps.mu.Unlock()
	ps.mu.RLock()
	return ch
}

func (ps *PubSub) Notify(ctx context.Context, chanName string, p Payload) error {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if ps.closed {
		return ErrClosed
	}
	ch := ps.getChan(chanName)
	if ch == nil || ps.closed {
		return ErrClosed
	}
	timer := time.NewTimer(ps.notifyTimeout)
	defer timer.Stop()
	select {
	case ch <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("notify with payload %v timed out", p.Type())
	}
}

func (ps *PubSub) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return nil
	}
	ps.closed = true
	for _, ch := range ps.chans {
		close(ch)
	}
	return nil
}

func (ps *PubSub) Listen(chanName string, fn func(p Payload)) error {
	ps.mu.RLock()
	ch := ps.getChan(chanName)
	ps.mu.RUnlock()
	if ch == nil {
		return ErrClosed
	}
	for payload := range ch {
		fn(payload)
	}
	return nil
}

// Wrapper around a Notifier which adds Prometheus metrics
type PromNotifier struct {
	Notifier
	msgCounter *prometheus.CounterVec
	registerer prometheus.Registerer
}

func (p *PromNotifier) Notify(ctx context.Context, chanName string, payload Payload) error {
	p.msgCounter.WithLabelValues(payload.Type()).Inc()
	return p.Notifier.Notify(ctx, chanName, payload)
}

func (p *PromNotifier) Close() error {
	p.registerer.Unregister(p.msgCounter)
	return p.Notifier.Close()
}

// NewPromNotifier counts every payload by type on the given registerer.
func NewPromNotifier(n Notifier, reg prometheus.Registerer, subsystem string) (Notifier, error) {
	p := &PromNotifier{
		Notifier:   n,
		registerer: reg,
		msgCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dgate",
			Subsystem: subsystem,
			Name:      "num_payloads",
			Help:      "Number of payloads published",
		}, []string{"payload_type"}),
	}
	if err := reg.Register(p.msgCounter); err != nil {
		return nil, err
	}
	return p, nil
}
