package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const opOther = "other"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vcsrpc",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vcsrpc",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	rpcMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vcsrpc",
			Subsystem: "session",
			Name:      "messages_total",
			Help:      "RPC messages by direction and operation.",
		},
		[]string{"node", "direction", "op"},
	)
	rpcBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vcsrpc",
			Subsystem: "session",
			Name:      "bytes_total",
			Help:      "Framed RPC bytes by direction.",
		},
		[]string{"node", "direction"},
	)
	flowMarkers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vcsrpc",
			Subsystem: "session",
			Name:      "flow_markers_total",
			Help:      "Flow-control markers sent.",
		},
		[]string{"node"},
	)
	handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vcsrpc",
			Subsystem: "session",
			Name:      "handler_duration_seconds",
			Help:      "Handler duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "op", "success"},
	)
	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vcsrpc",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently dispatching.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			rpcMessages, rpcBytes, flowMarkers, handlerDuration, activeSessions,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// SessionStarted counts a dispatching session; call the returned func when
// it ends.
func SessionStarted(node string) func() {
	RegisterMetrics()
	g := activeSessions.WithLabelValues(node)
	g.Inc()
	return g.Dec
}
