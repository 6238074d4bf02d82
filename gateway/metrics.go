package gateway

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are shared by every shard of a client. A nil *Metrics records nothing.
type Metrics struct {
	registerer       prometheus.Registerer
	state            *prometheus.GaugeVec
	reconnects       *prometheus.CounterVec
	heartbeatLatency *prometheus.HistogramVec
	decodeErrors     *prometheus.CounterVec
	framesSent       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		registerer: reg,
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dgate",
			Subsystem: "gateway",
			Name:      "state",
			Help:      "Connection state of each shard, 1 for the current state.",
		}, []string{"shard", "state"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dgate",
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Number of times a shard reconnected, by reason.",
		}, []string{"shard", "reason"}),
		heartbeatLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dgate",
			Subsystem: "gateway",
			Name:      "heartbeat_latency_seconds",
			Help:      "Time between sending a heartbeat and receiving its ack.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"shard"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dgate",
			Subsystem: "gateway",
			Name:      "decode_errors_total",
			Help:      "Number of frames dropped because they could not be decoded.",
		}, []string{"shard", "kind"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dgate",
			Subsystem: "gateway",
			Name:      "frames_sent_total",
			Help:      "Number of frames written, by opcode.",
		}, []string{"shard", "op"}),
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			m.Unregister()
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.state, m.reconnects, m.heartbeatLatency, m.decodeErrors, m.framesSent}
}

func (m *Metrics) Unregister() {
	if m == nil {
		return
	}
	for _, c := range m.collectors() {
		m.registerer.Unregister(c)
	}
}

func (m *Metrics) setState(shard int, state State) {
	if m == nil {
		return
	}
	label := strconv.Itoa(shard)
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(label, s.String()).Set(v)
	}
}

func (m *Metrics) reconnect(shard int, reason string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(strconv.Itoa(shard), reason).Inc()
}

func (m *Metrics) observeLatency(shard int, seconds float64) {
	if m == nil {
		return
	}
	m.heartbeatLatency.WithLabelValues(strconv.Itoa(shard)).Observe(seconds)
}

func (m *Metrics) decodeError(shard int, kind string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(strconv.Itoa(shard), kind).Inc()
}

func (m *Metrics) frameSent(shard int, op Opcode) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(strconv.Itoa(shard), op.String()).Inc()
}
