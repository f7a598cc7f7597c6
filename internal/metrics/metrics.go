// Package metrics exposes Prometheus instruments for the event pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chat"

// Metrics is safe to use as a nil pointer, in which case nothing is
// recorded.
type Metrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pushes   *prometheus.CounterVec
}

// New registers the instruments on reg. connections, when set, backs the
// live connection gauge.
func New(reg prometheus.Registerer, connections func() float64) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events handled, by event name and result code.",
		}, []string{"event", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Time spent handling inbound events.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Frames pushed to connections without a request.",
		}, []string{"event"}),
	}
	reg.MustRegister(m.events, m.duration, m.pushes)

	if connections != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Registered WebSocket connections.",
		}, connections))
	}
	return m
}

func (m *Metrics) ObserveEvent(event, code string, took time.Duration) {
	if m == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	m.events.WithLabelValues(event, code).Inc()
	m.duration.WithLabelValues(event).Observe(took.Seconds())
}

func (m *Metrics) ObservePush(event string, delivered int) {
	if m == nil || delivered <= 0 {
		return
	}
	m.pushes.WithLabelValues(event).Add(float64(delivered))
}
