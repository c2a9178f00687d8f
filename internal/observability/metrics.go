package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Command outcome labels.
const (
	OutcomeOK             = "ok"
	OutcomeRejected       = "rejected"
	OutcomeTimeout        = "timeout"
	OutcomeConnectionLost = "connection_lost"
	OutcomeCorrupt        = "corrupt"
	OutcomeClosed         = "closed"
	OutcomeQueueFull      = "queue_full"
)

var (
	registerOnce sync.Once

	mdcCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "displayctl",
			Subsystem: "mdc",
			Name:      "commands_total",
			Help:      "Settled MDC commands by outcome.",
		},
		[]string{"display", "outcome"},
	)
	mdcCommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "displayctl",
			Subsystem: "mdc",
			Name:      "command_duration_seconds",
			Help:      "Submit to settlement latency of MDC commands.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"display"},
	)
	mdcTransmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "displayctl",
			Subsystem: "mdc",
			Name:      "transmissions_total",
			Help:      "MDC request frames written, first sends and retries.",
		},
		[]string{"display", "kind"},
	)
	mdcUnexpected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "displayctl",
			Subsystem: "mdc",
			Name:      "unexpected_responses_total",
			Help:      "Responses that did not match the queue head.",
		},
		[]string{"display"},
	)
	mdcReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "displayctl",
			Subsystem: "mdc",
			Name:      "reconnects_total",
			Help:      "Scheduled reconnect attempts.",
		},
		[]string{"display"},
	)
	mdcConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "displayctl",
			Subsystem: "mdc",
			Name:      "connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected.",
		},
		[]string{"display"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "displayctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "displayctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			mdcCommands,
			mdcCommandDuration,
			mdcTransmissions,
			mdcUnexpected,
			mdcReconnects,
			mdcConnectionState,
			httpRequests,
			httpDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordCommand(display, outcome string, duration time.Duration) {
	RegisterMetrics()
	mdcCommands.WithLabelValues(display, outcome).Inc()
	mdcCommandDuration.WithLabelValues(display).Observe(duration.Seconds())
}

func RecordTransmission(display string, retry bool) {
	RegisterMetrics()
	kind := "first"
	if retry {
		kind = "retry"
	}
	mdcTransmissions.WithLabelValues(display, kind).Inc()
}

func RecordUnexpected(display string) {
	RegisterMetrics()
	mdcUnexpected.WithLabelValues(display).Inc()
}

func RecordReconnect(display string) {
	RegisterMetrics()
	mdcReconnects.WithLabelValues(display).Inc()
}

func SetConnectionState(display string, state int) {
	RegisterMetrics()
	mdcConnectionState.WithLabelValues(display).Set(float64(state))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
