package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Chain data source metrics (Helius and Solana RPC)
	sourceCallsTotal          *prometheus.CounterVec
	sourceCallDuration        *prometheus.HistogramVec
	sourceRateLimitHits       *prometheus.CounterVec
	sourceRetries             *prometheus.CounterVec
	sourceTransactionsPerCall *prometheus.HistogramVec

	// Classification metrics
	classificationsTotal  *prometheus.CounterVec
	classifyDuration      *prometheus.HistogramVec
	classifyFallbacks     *prometheus.CounterVec
	actionsPerTransaction *prometheus.HistogramVec

	// Watch workflow metrics
	watchWorkflowDuration        *prometheus.HistogramVec
	watchWorkflowExecutionsTotal *prometheus.CounterVec
	watchActivityDuration        *prometheus.HistogramVec
	transactionsIngestedTotal    *prometheus.CounterVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		sourceCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_source_calls_total",
				Help: "Total number of chain data source calls by source, method and status",
			},
			[]string{"source", "method", "status"},
		),
		sourceCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xray_source_call_duration_seconds",
				Help:    "Duration of chain data source calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"source", "method"},
		),
		sourceRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_source_rate_limit_hits_total",
				Help: "Total number of rate limit responses (429) from a chain data source",
			},
			[]string{"source"},
		),
		sourceRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_source_retries_total",
				Help: "Total number of chain data source retry attempts",
			},
			[]string{"source", "method", "reason"},
		),
		sourceTransactionsPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xray_source_transactions_per_call",
				Help:    "Number of transactions or signatures returned per list call",
				Buckets: []float64{1, 10, 25, 50, 100, 250, 1000},
			},
			[]string{"source"},
		),

		classificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_classifications_total",
				Help: "Total number of classified transactions by declared type and outcome",
			},
			[]string{"type", "status"},
		),
		classifyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xray_classify_duration_seconds",
				Help:    "Duration of a single classification in seconds",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
			},
			[]string{"type"},
		),
		classifyFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_classify_fallbacks_total",
				Help: "Total number of classifications that fell back to the unknown parser",
			},
			[]string{"type", "reason"},
		),
		actionsPerTransaction: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xray_actions_per_transaction",
				Help:    "Number of actions produced per classified transaction",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"type"},
		),

		watchWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xray_watch_workflow_duration_seconds",
				Help:    "Duration of address watch workflow executions in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		watchWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_watch_workflow_executions_total",
				Help: "Total number of address watch workflow executions",
			},
			[]string{"status"},
		),
		watchActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xray_watch_activity_duration_seconds",
				Help:    "Duration of address watch activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),
		transactionsIngestedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_transactions_ingested_total",
				Help: "Total number of transactions passing through each watch stage",
			},
			[]string{"stage"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xray_db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xray_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "xray_sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"address"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"address", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xray_nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xray_nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Source metric helpers

// RecordSourceCall records a chain data source call with duration.
func (m *Metrics) RecordSourceCall(source, method, status string, duration float64) {
	m.sourceCallsTotal.WithLabelValues(source, method, status).Inc()
	m.sourceCallDuration.WithLabelValues(source, method).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(source string) {
	m.sourceRateLimitHits.WithLabelValues(source).Inc()
}

// RecordSourceRetry records a retry attempt.
func (m *Metrics) RecordSourceRetry(source, method, reason string) {
	m.sourceRetries.WithLabelValues(source, method, reason).Inc()
}

// RecordTransactionsPerCall records the number of items returned by a list call.
func (m *Metrics) RecordTransactionsPerCall(source string, count int) {
	m.sourceTransactionsPerCall.WithLabelValues(source).Observe(float64(count))
}

// Classification metric helpers

// RecordClassification records one classification. status is "ok" or "fallback".
func (m *Metrics) RecordClassification(txType, status string, actions int, duration float64) {
	m.classificationsTotal.WithLabelValues(txType, status).Inc()
	m.classifyDuration.WithLabelValues(txType).Observe(duration)
	m.actionsPerTransaction.WithLabelValues(txType).Observe(float64(actions))
}

// RecordClassifyFallback records a parser failure that was replaced by unknown
// handling. reason is "error" or "panic".
func (m *Metrics) RecordClassifyFallback(txType, reason string) {
	m.classifyFallbacks.WithLabelValues(txType, reason).Inc()
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.watchWorkflowDuration.WithLabelValues(status).Observe(duration)
	m.watchWorkflowExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.watchActivityDuration.WithLabelValues(activity).Observe(duration)
}

// RecordTransactionsIngested records transactions handled by a watch stage
// (fetched, classified, stored, published).
func (m *Metrics) RecordTransactionsIngested(stage string, count int) {
	m.transactionsIngestedTotal.WithLabelValues(stage).Add(float64(count))
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(address string, delta float64) {
	m.sseActiveConnections.WithLabelValues(address).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(address, eventType string) {
	m.sseEventsSent.WithLabelValues(address, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
