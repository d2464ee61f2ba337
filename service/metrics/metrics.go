package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Indexer / node network metrics
	networkCallsTotal    *prometheus.CounterVec
	networkCallDuration  *prometheus.HistogramVec
	networkRateLimitHits *prometheus.CounterVec
	networkRetries       *prometheus.CounterVec

	// Synchronization metrics
	syncPagesTotal         *prometheus.CounterVec
	syncPageSize           *prometheus.HistogramVec
	operationsMergedTotal  *prometheus.CounterVec
	operationsSkippedTotal *prometheus.CounterVec
	syncDuration           *prometheus.HistogramVec
	syncExecutionsTotal    *prometheus.CounterVec
	operationsWrittenTotal *prometheus.CounterVec
	eventsSkippedTotal     *prometheus.CounterVec

	// Transaction pipeline metrics
	pipelineTransitionsTotal *prometheus.CounterVec
	broadcastsTotal          *prometheus.CounterVec

	// Workflow metrics
	syncWorkflowDuration *prometheus.HistogramVec
	syncActivityDuration *prometheus.HistogramVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

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
		networkCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "osmosis_network_calls_total",
				Help: "Total number of indexer and node calls by component, method and status",
			},
			[]string{"component", "method", "status"},
		),
		networkCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "osmosis_network_call_duration_seconds",
				Help:    "Duration of indexer and node calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"component", "method"},
		),
		networkRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "osmosis_network_rate_limit_hits_total",
				Help: "Total number of 429 responses from the indexer or node",
			},
			[]string{"component"},
		),
		networkRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "osmosis_network_retries_total",
				Help: "Total number of retried network calls",
			},
			[]string{"component", "reason"},
		),

		syncPagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_pages_total",
				Help: "Total number of indexer pages requested during synchronization",
			},
			[]string{"status"},
		),
		syncPageSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_page_transactions",
				Help:    "Number of raw transactions returned per indexer page",
				Buckets: []float64{0, 1, 10, 50, 100, 200},
			},
			[]string{"network"},
		),
		operationsMergedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operations_merged_total",
				Help: "Total number of new operations merged into account history",
			},
			[]string{"account_address"},
		),
		operationsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operations_skipped_total",
				Help: "Total number of fetched operations skipped because they were already known",
			},
			[]string{"account_address"},
		),
		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_duration_seconds",
				Help:    "Duration of account synchronizations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		syncExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_executions_total",
				Help: "Total number of account synchronizations by outcome",
			},
			[]string{"status"},
		),
		operationsWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operations_written_total",
				Help: "Total number of operations written to the database",
			},
			[]string{"account_address"},
		),
		eventsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_events_skipped_total",
				Help: "Total number of indexer events dropped during decoding or mapping",
			},
			[]string{"reason"},
		),

		pipelineTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tx_pipeline_transitions_total",
				Help: "Total number of transaction pipeline state transitions by target state",
			},
			[]string{"state"},
		),
		broadcastsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tx_broadcasts_total",
				Help: "Total number of transaction broadcasts by result",
			},
			[]string{"result"},
		),

		syncWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_workflow_duration_seconds",
				Help:    "Duration of sync workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"account_address", "status"},
		),
		syncActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_activity_duration_seconds",
				Help:    "Duration of sync workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "account_address"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Network metric helpers

// RecordNetworkCall records an indexer or node call with duration.
func (m *Metrics) RecordNetworkCall(component, method, status string, duration float64) {
	m.networkCallsTotal.WithLabelValues(component, method, status).Inc()
	m.networkCallDuration.WithLabelValues(component, method).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(component string) {
	m.networkRateLimitHits.WithLabelValues(component).Inc()
}

// RecordNetworkRetry records a retry attempt.
func (m *Metrics) RecordNetworkRetry(component, reason string) {
	m.networkRetries.WithLabelValues(component, reason).Inc()
}

// Synchronization metric helpers

// RecordSyncPage records one indexer page request and, on success, its size.
func (m *Metrics) RecordSyncPage(network, status string, transactions int) {
	m.syncPagesTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.syncPageSize.WithLabelValues(network).Observe(float64(transactions))
	}
}

// RecordOperationsMerged records operations newly added to an account's history.
func (m *Metrics) RecordOperationsMerged(accountAddress string, count int) {
	m.operationsMergedTotal.WithLabelValues(accountAddress).Add(float64(count))
}

// RecordOperationsSkipped records fetched operations that were already known.
func (m *Metrics) RecordOperationsSkipped(accountAddress string, count int) {
	m.operationsSkippedTotal.WithLabelValues(accountAddress).Add(float64(count))
}

// RecordSync records a completed synchronization. Status is one of
// "success", "partial" or "error".
func (m *Metrics) RecordSync(status string, duration float64) {
	m.syncDuration.WithLabelValues(status).Observe(duration)
	m.syncExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordOperationsWritten records operations written to the database.
func (m *Metrics) RecordOperationsWritten(accountAddress string, count int) {
	m.operationsWrittenTotal.WithLabelValues(accountAddress).Add(float64(count))
}

// RecordEventSkipped records an indexer event dropped during decoding or mapping.
func (m *Metrics) RecordEventSkipped(reason string) {
	m.eventsSkippedTotal.WithLabelValues(reason).Inc()
}

// Transaction pipeline metric helpers

// RecordPipelineTransition records a transaction pipeline entering a state.
func (m *Metrics) RecordPipelineTransition(state string) {
	m.pipelineTransitionsTotal.WithLabelValues(state).Inc()
}

// RecordBroadcast records a broadcast outcome ("accepted", "rejected" or "error").
func (m *Metrics) RecordBroadcast(result string) {
	m.broadcastsTotal.WithLabelValues(result).Inc()
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(accountAddress, status string, duration float64) {
	m.syncWorkflowDuration.WithLabelValues(accountAddress, status).Observe(duration)
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, accountAddress string, duration float64) {
	m.syncActivityDuration.WithLabelValues(activity, accountAddress).Observe(duration)
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
