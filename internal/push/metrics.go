package push

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the observability counters/gauges of spec.md §4.8, fixed by
// SPEC_FULL.md §4 (mahavishnu/websocket/metrics.py) since spec.md leaves
// the exact names unspecified.
type Metrics struct {
	MessagesTotal      *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
	BroadcastDuration  *prometheus.HistogramVec
	ActiveConnections  prometheus.Gauge
	ActiveSubscriptions prometheus.Gauge
}

// NewMetrics registers the push server's metrics against reg. Passing a
// fresh prometheus.NewRegistry() per server instance keeps tests isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_messages_total",
			Help: "Count of push frames by direction.",
		}, []string{"direction"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_errors_total",
			Help: "Count of push errors by kind.",
		}, []string{"kind"}),
		BroadcastDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "push_broadcast_duration_seconds",
			Help: "Duration of BroadcastToRoom fan-out by channel.",
		}, []string{"channel"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "push_active_connections",
			Help: "Count of currently open connections.",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "push_active_subscriptions",
			Help: "Count of currently active room memberships.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.MessagesTotal, m.ErrorsTotal, m.BroadcastDuration, m.ActiveConnections, m.ActiveSubscriptions)
	}
	return m
}
