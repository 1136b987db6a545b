package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SecurityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_events_total",
			Help: "Audit events recorded, by event type and severity",
		},
		[]string{"event_type", "severity"},
	)

	AuditFallbackWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_fallback_writes_total",
			Help: "Audit events written to the fallback file because the primary store failed",
		},
	)

	PurgeDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purge_deleted_total",
			Help: "Rows removed by the retention purge, by table",
		},
		[]string{"table"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by method and status code",
		},
		[]string{"method", "status"},
	)
)

var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP handler latency, by route pattern",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"route"},
)
