package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowTotal 写入流程结果（workflow: log_entry|complete_pending|onboarding, result: success|<error kind>）
	WorkflowTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flicklog_workflow_total",
			Help: "Total number of logging workflow executions by outcome",
		},
		[]string{"workflow", "result"},
	)

	PendingRatingsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flicklog_pending_ratings_created_total",
			Help: "Total number of pending rating obligations created by fan-out",
		},
	)

	// WebhookDispatchTotal 通知推送结果（success|http_error|network_error|payload_error|throttled）
	WebhookDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flicklog_webhook_dispatch_total",
			Help: "Total number of webhook notifications by outcome",
		},
		[]string{"result"},
	)

	// MetadataLookupTotal 元数据查询结果（hit|miss|error|rejected）
	MetadataLookupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flicklog_metadata_lookup_total",
			Help: "Total number of metadata lookups by outcome",
		},
		[]string{"result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flicklog_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	StatsCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flicklog_stats_cache_total",
			Help: "Stats cache lookups by outcome",
		},
		[]string{"result"},
	)

	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flicklog_realtime_clients",
			Help: "Number of connected websocket clients",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flicklog_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
