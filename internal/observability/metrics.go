package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
	httpErrorsTotal    *prometheus.CounterVec

	messagesCreatedTotal     *prometheus.CounterVec
	encryptionFallbacksTotal prometheus.Counter
	undecryptableTotal       prometheus.Counter

	wsConnections       prometheus.Gauge
	wsDroppedFrames     prometheus.Counter
	presenceTransitions *prometheus.CounterVec
	notificationsTotal  *prometheus.CounterVec
	relayEventsTotal    *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the chat API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		messagesCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_created_total",
			Help: "Messages persisted, by type and whether the content was stored encrypted.",
		}, []string{"type", "encrypted"})

		encryptionFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_encryption_fallbacks_total",
			Help: "Messages stored as plaintext because encryption was unavailable.",
		})

		undecryptableTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_undecryptable_messages_total",
			Help: "Messages that failed authentication or decoding on read.",
		})

		wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_ws_connections",
			Help: "Live websocket connections on this node.",
		})

		wsDroppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_ws_dropped_frames_total",
			Help: "Outbound frames discarded because a connection queue was full.",
		})

		presenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_presence_transitions_total",
			Help: "Presence status transitions by target status.",
		}, []string{"status"})

		notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_notifications_total",
			Help: "Notification persistence attempts by type and result.",
		}, []string{"type", "result"})

		relayEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_relay_events_total",
			Help: "Cross-node realtime events by transport and direction.",
		}, []string{"transport", "direction"})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			messagesCreatedTotal, encryptionFallbacksTotal, undecryptableTotal,
			wsConnections, wsDroppedFrames, presenceTransitions,
			notificationsTotal, relayEventsTotal,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

func MessagesCreated() *prometheus.CounterVec {
	RegisterMetrics()
	return messagesCreatedTotal
}

func EncryptionFallbacks() prometheus.Counter {
	RegisterMetrics()
	return encryptionFallbacksTotal
}

func UndecryptableMessages() prometheus.Counter {
	RegisterMetrics()
	return undecryptableTotal
}

// WSConnections tracks live websocket connections held by this process.
func WSConnections() prometheus.Gauge {
	RegisterMetrics()
	return wsConnections
}

func WSDroppedFrames() prometheus.Counter {
	RegisterMetrics()
	return wsDroppedFrames
}

func PresenceTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return presenceTransitions
}

// Notifications counts fan-out results; result is "created", "skipped" or "failed".
func Notifications() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsTotal
}

// RelayEvents counts relay traffic by direction: "published", "received",
// "duplicate" or "dropped".
func RelayEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return relayEventsTotal
}
