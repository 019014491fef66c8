package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/draftsync/draftsync/pkg/protocol"
)

// Metrics holds the Prometheus instruments for the sync server. All methods
// are nil-safe so components can run without metrics in tests.
type Metrics struct {
	activeConns       prometheus.Gauge
	connsTotal        prometheus.Counter
	commandsTotal     *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	broadcastsTotal   prometheus.Counter
	broadcastFailures prometheus.Counter
	restRequests      *prometheus.CounterVec
}

// NewMetrics registers the server's instruments with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	const namespace = "draftsync"

	return &Metrics{
		activeConns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of live WebSocket connections",
		}),

		connsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of WebSocket connections accepted",
		}),

		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of commands processed by action and status",
		}, []string{"action", "status"}),

		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),

		broadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Total number of notifications fanned out",
		}),

		broadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Total number of per-connection broadcast delivery failures",
		}),

		restRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rest_requests_total",
			Help:      "Total number of REST requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConns.Inc()
	m.connsTotal.Inc()
}

// ConnectionClosed records a removed connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConns.Dec()
}

// Command records a processed command.
func (m *Metrics) Command(action protocol.Action, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(string(action), status).Inc()
	m.commandDuration.WithLabelValues(string(action)).Observe(elapsed.Seconds())
}

// Broadcast records a completed fan-out.
func (m *Metrics) Broadcast() {
	if m == nil {
		return
	}
	m.broadcastsTotal.Inc()
}

// BroadcastFailure records one failed delivery within a fan-out.
func (m *Metrics) BroadcastFailure() {
	if m == nil {
		return
	}
	m.broadcastFailures.Inc()
}

// RESTRequest records a handled REST request.
func (m *Metrics) RESTRequest(route string, code string) {
	if m == nil {
		return
	}
	m.restRequests.WithLabelValues(route, code).Inc()
}
