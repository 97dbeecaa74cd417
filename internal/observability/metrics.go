package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	bridgeRequestsTotal  *prometheus.CounterVec
	bridgeLatencySeconds *prometheus.HistogramVec
	liveEventsTotal      *prometheus.CounterVec
	optimisticSendsTotal *prometheus.CounterVec
	connectionsActive    prometheus.Gauge
	connectionDialsTotal *prometheus.CounterVec
	streamClientsActive  prometheus.Gauge
	backendRequestsTotal *prometheus.CounterVec
	devserverPushesTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the messenger and devserver.
func RegisterMetrics() {
	registerOnce.Do(func() {
		bridgeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_requests_total",
			Help: "Total number of presentation bridge requests served.",
		}, []string{"method", "route", "status"})

		bridgeLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_latency_seconds",
			Help:    "Latency distribution for presentation bridge requests.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		liveEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_live_events_total",
			Help: "Push-channel events handled by the session, by event and outcome.",
		}, []string{"event", "outcome"})

		optimisticSendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_optimistic_sends_total",
			Help: "Optimistic sends by final outcome.",
		}, []string{"outcome"})

		connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_connections_active",
			Help: "Live push-channel connections held by the registry.",
		})

		connectionDialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_connection_dials_total",
			Help: "Push-channel dial attempts by transport and outcome.",
		}, []string{"transport", "outcome"})

		streamClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_stream_clients_active",
			Help: "Open SSE change streams.",
		})

		backendRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_backend_requests_total",
			Help: "REST calls issued to the backend by operation and outcome.",
		}, []string{"operation", "outcome"})

		devserverPushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devserver_pushes_total",
			Help: "Events pushed by the devserver hub by event name.",
		}, []string{"event"})

		prometheus.MustRegister(
			bridgeRequestsTotal,
			bridgeLatencySeconds,
			liveEventsTotal,
			optimisticSendsTotal,
			connectionsActive,
			connectionDialsTotal,
			streamClientsActive,
			backendRequestsTotal,
			devserverPushesTotal,
		)
	})
}

// BridgeRequests exposes the counter for bridge requests.
func BridgeRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return bridgeRequestsTotal
}

// BridgeLatency exposes the latency histogram for bridge requests.
func BridgeLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return bridgeLatencySeconds
}

// LiveEvents exposes the counter of handled push events.
func LiveEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return liveEventsTotal
}

// OptimisticSends exposes the counter of optimistic send outcomes.
func OptimisticSends() *prometheus.CounterVec {
	RegisterMetrics()
	return optimisticSendsTotal
}

// ConnectionsActive exposes the live connection gauge.
func ConnectionsActive() prometheus.Gauge {
	RegisterMetrics()
	return connectionsActive
}

// ConnectionDials exposes the dial attempt counter.
func ConnectionDials() *prometheus.CounterVec {
	RegisterMetrics()
	return connectionDialsTotal
}

// StreamClientsActive exposes the SSE subscriber gauge.
func StreamClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return streamClientsActive
}

// BackendRequests exposes the REST call counter.
func BackendRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return backendRequestsTotal
}

// DevserverPushes exposes the devserver hub push counter.
func DevserverPushes() *prometheus.CounterVec {
	RegisterMetrics()
	return devserverPushesTotal
}
