package gateway

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxMissedAcks is how many heartbeats may go unacknowledged before the connection is a zombie.
const DefaultMaxMissedAcks = 2

// Heartbeater sends heartbeats on a timer and tracks their acks. It never reads from the connection,
// the receive loop feeds it acks with OnAck.
type Heartbeater struct {
	send      func(ctx context.Context) error
	onZombie  func()
	onLatency func(time.Duration)
	maxMissed int

	mu          sync.Mutex
	sentAt      time.Time
	acked       bool
	missed      int
	zombie      bool
	latency     time.Duration
	beatCh      chan struct{}
	cancel      context.CancelFunc
	done        chan struct{}
	sentAnyBeat bool
}

// NewHeartbeater returns a heartbeater which calls send for every beat and onZombie once
// maxMissed consecutive beats went unacknowledged.
func NewHeartbeater(send func(ctx context.Context) error, onZombie func(), maxMissed int) *Heartbeater {
	if maxMissed <= 0 {
		maxMissed = DefaultMaxMissedAcks
	}
	return &Heartbeater{
		send:      send,
		onZombie:  onZombie,
		maxMissed: maxMissed,
		beatCh:    make(chan struct{}, 1),
	}
}

// OnLatency registers a callback for every measured round trip.
func (h *Heartbeater) OnLatency(fn func(time.Duration)) *Heartbeater {
	h.onLatency = fn
	return h
}

// Start runs the heartbeat loop in the background until Stop is called or ctx is done.
func (h *Heartbeater) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	h.mu.Lock()
	h.cancel = cancel
	h.done = done
	h.mu.Unlock()
	go func() {
		defer close(done)
		h.Run(ctx, interval)
	}()
}

// Stop ends a loop begun with Start and waits for it to exit.
func (h *Heartbeater) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run beats every interval until ctx is done. The first beat is delayed by a random jitter within
// one interval so that many shards reconnecting together do not beat in lockstep.
func (h *Heartbeater) Run(ctx context.Context, interval time.Duration) {
	timer := time.NewTimer(randomDuration(0, interval))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			h.tick(ctx)
			timer.Reset(interval)
		case <-h.beatCh:
			h.sendBeat(ctx)
		}
	}
}

// Beat asks for a heartbeat to be sent now, as the server does with a Heartbeat frame. It does not
// count towards missed acks.
func (h *Heartbeater) Beat() {
	select {
	case h.beatCh <- struct{}{}:
	default:
	}
}

// OnAck records a heartbeat ack and resets the missed counter.
func (h *Heartbeater) OnAck() {
	h.mu.Lock()
	h.acked = true
	h.missed = 0
	h.zombie = false
	var rtt time.Duration
	if !h.sentAt.IsZero() {
		rtt = time.Since(h.sentAt)
		h.latency = rtt
		h.sentAt = time.Time{}
	}
	h.mu.Unlock()
	if rtt > 0 && h.onLatency != nil {
		h.onLatency(rtt)
	}
}

// Latency is the round trip time of the last acknowledged heartbeat.
func (h *Heartbeater) Latency() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latency
}

// Missed is the number of consecutive beats without an ack.
func (h *Heartbeater) Missed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.missed
}

func (h *Heartbeater) tick(ctx context.Context) {
	h.mu.Lock()
	if h.sentAnyBeat && !h.acked {
		h.missed++
	}
	if h.missed >= h.maxMissed {
		fire := !h.zombie
		h.zombie = true
		h.mu.Unlock()
		if fire {
			logger.Warn().Int("missed", h.maxMissed).Msg("heartbeat acks stopped, connection is a zombie")
			h.onZombie()
		}
		return
	}
	h.mu.Unlock()
	h.sendBeat(ctx)
}

func (h *Heartbeater) sendBeat(ctx context.Context) {
	h.mu.Lock()
	h.acked = false
	h.sentAnyBeat = true
	h.sentAt = time.Now()
	h.mu.Unlock()
	if err := h.send(ctx); err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("failed to send heartbeat")
	}
}
