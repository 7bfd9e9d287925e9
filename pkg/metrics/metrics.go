package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Platform-wide Prometheus collectors. Registered once at package init and
// shared by the stream engine, screening service, scheduler and HTTP layer.
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "napsa_http_requests_total",
		Help: "Total HTTP requests by method, path and status",
	}, []string{"method", "path", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "napsa_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	StreamEventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "napsa_stream_events_processed_total",
		Help: "Events processed by the stream engine, by event type",
	}, []string{"event_type"})

	StreamEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "napsa_stream_events_dropped_total",
		Help: "Events dropped because the ingest queue was full",
	})

	StreamAlertsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "napsa_stream_alerts_generated_total",
		Help: "Alerts generated by the stream engine, by scenario and severity",
	}, []string{"scenario", "severity"})

	StreamQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "napsa_stream_queue_depth",
		Help: "Current depth of the stream engine ingest queue",
	})

	ScreeningChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "napsa_screening_checks_total",
		Help: "Sanctions screening checks by outcome (hit/clear/cached)",
	}, []string{"outcome"})

	LedgerBlocksMined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "napsa_audit_blocks_mined_total",
		Help: "Audit ledger blocks mined",
	})

	LedgerEntriesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "napsa_audit_entries_recorded_total",
		Help: "Audit ledger entries recorded, by event type",
	}, []string{"event_type"})

	ScheduledReportRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "napsa_scheduled_report_runs_total",
		Help: "Scheduled report executions by status",
	}, []string{"status"})

	DBOpenConns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "napsa_db_open_connections",
		Help: "Open database connections by database",
	}, []string{"database"})

	DBInUseConns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "napsa_db_inuse_connections",
		Help: "In-use database connections by database",
	}, []string{"database"})
)
