package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pokerboy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pokerboy",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	sessionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pokerboy",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Session events received from the server.",
		},
		[]string{"event"},
	)
	sessionActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pokerboy",
			Subsystem: "session",
			Name:      "actions_total",
			Help:      "Session actions sent to the server.",
		},
		[]string{"action", "success"},
	)
	relayClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pokerboy",
			Subsystem: "relay",
			Name:      "clients",
			Help:      "Connected relay websocket clients.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, sessionEvents, sessionActions, relayClients)
	})
}

// Handler exposes the registered metrics
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSessionEvent(event string) {
	RegisterMetrics()
	sessionEvents.WithLabelValues(event).Inc()
}

func RecordSessionAction(action string, success bool) {
	RegisterMetrics()
	sessionActions.WithLabelValues(action, strconv.FormatBool(success)).Inc()
}

func SetRelayClients(n int) {
	RegisterMetrics()
	relayClients.Set(float64(n))
}
