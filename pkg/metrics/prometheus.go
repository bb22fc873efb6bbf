// Package metrics provides Prometheus metrics for the duel ranking service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// ratingDeltaBuckets covers |ΔR| for K up to 64.
var ratingDeltaBuckets = []float64{0.5, 1, 2, 4, 8, 12, 16, 20, 24, 28, 32, 48, 64} //nolint:gochecknoglobals // fixed buckets

// Manager owns all Prometheus collectors for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Ranking
	matchupsGenerated      prometheus.Counter
	insufficientCandidates prometheus.Counter
	decisionsRecorded      prometheus.Counter
	decisionsInvalid       prometheus.Counter
	decisionsDuplicate     prometheus.Counter
	skips                  prometheus.Counter
	ratingDelta            prometheus.Histogram
	ratedEntities          prometheus.Gauge
	historyLength          prometheus.Gauge
	activeSessions         prometheus.Gauge

	// Store
	storeUpdateLatency prometheus.Histogram
	storeQueryLatency  prometheus.Histogram

	// Queue and worker
	queueSize               prometheus.Gauge
	queueCapacity           prometheus.Gauge
	queueEnqueued           prometheus.Counter
	queueRejected           prometheus.Counter
	workerProcessed         prometheus.Counter
	workerErrors            prometheus.Counter
	workerProcessingLatency prometheus.Histogram

	// Live feed
	liveClients prometheus.Gauge

	// Persistence
	snapshotSaves    *prometheus.CounterVec
	snapshotDuration prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// customRegistry keeps default Go collectors out of /healthz.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "duel",
		subsystem:        "ranking",
		histogramBuckets: prometheus.DefBuckets,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

// RefreshInterval returns how often gauges should be refreshed by callers.
func (m *Manager) RefreshInterval() time.Duration {
	return m.refreshInterval
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of collectors
	auto := promauto.With(m.registry)

	m.matchupsGenerated = m.counter("matchups_generated_total", "Total number of matchups generated")
	m.insufficientCandidates = m.counter("insufficient_candidates_total", "Matchup requests that had fewer than two eligible entities")
	m.decisionsRecorded = m.counter("decisions_recorded_total", "Total number of decisions applied to the rating table")
	m.decisionsInvalid = m.counter("decisions_invalid_total", "Decisions rejected as invalid")
	m.decisionsDuplicate = m.counter("decisions_duplicate_total", "Decision submissions dropped by idempotency key")
	m.skips = m.counter("skips_total", "Total number of skipped matchups")
	m.ratingDelta = m.histogram("rating_delta_points", "Absolute rating change applied to the winner per decision", ratingDeltaBuckets)
	m.ratedEntities = m.gauge("rated_entities", "Number of entities with a rating record")
	m.historyLength = m.gauge("history_length", "Number of decisions in the history log")
	m.activeSessions = m.gauge("active_sessions", "Number of ranking sessions held in memory")

	m.storeUpdateLatency = m.histogram("store_update_latency_milliseconds", "Rating table write latency in milliseconds", m.histogramBuckets)
	m.storeQueryLatency = m.histogram("store_query_latency_milliseconds", "Rating table read latency in milliseconds", m.histogramBuckets)

	m.queueSize = m.gauge("queue_size", "Current number of queued decision commands")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum decision queue capacity")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Decision commands accepted by the queue")
	m.queueRejected = m.counter("queue_rejected_total", "Decision commands rejected by the queue")
	m.workerProcessed = m.counter("worker_processed_total", "Decision commands processed by the writer")
	m.workerErrors = m.counter("worker_errors_total", "Decision commands that failed in the writer")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Writer processing latency in milliseconds", m.histogramBuckets)

	m.liveClients = m.gauge("live_clients", "Connected live feed clients")

	m.snapshotSaves = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "snapshot_saves_total", Help: "Snapshot save attempts by outcome",
	}, []string{"backend", "outcome"})
	m.snapshotDuration = m.histogram("snapshot_duration_milliseconds", "Snapshot save/load duration in milliseconds", m.histogramBuckets)

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "http_requests_total", Help: "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "http_request_duration_milliseconds", Help: "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "errors_by_component_total", Help: "Total number of errors by component",
	}, []string{"component", "error_type"})

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause in milliseconds", m.histogramBuckets)
}

// RecordMatchupGenerated increments the generated matchups counter.
func RecordMatchupGenerated() { globalManager.matchupsGenerated.Inc() }

// RecordInsufficientCandidates counts a failed matchup request.
func RecordInsufficientCandidates() { globalManager.insufficientCandidates.Inc() }

// RecordDecision counts an applied decision and observes the rating change.
func RecordDecision(delta float64) {
	globalManager.decisionsRecorded.Inc()
	if delta < 0 {
		delta = -delta
	}
	globalManager.ratingDelta.Observe(delta)
}

// RecordInvalidDecision counts a rejected decision.
func RecordInvalidDecision() { globalManager.decisionsInvalid.Inc() }

// RecordDuplicateDecision counts a submission dropped by its idempotency key.
func RecordDuplicateDecision() { globalManager.decisionsDuplicate.Inc() }

// RecordSkip counts a skipped matchup.
func RecordSkip() { globalManager.skips.Inc() }

// UpdateRatedEntities sets the rated entities gauge.
func UpdateRatedEntities(n int) { globalManager.ratedEntities.Set(float64(n)) }

// UpdateHistoryLength sets the history length gauge.
func UpdateHistoryLength(n int) { globalManager.historyLength.Set(float64(n)) }

// UpdateActiveSessions sets the sessions gauge.
func UpdateActiveSessions(n int) { globalManager.activeSessions.Set(float64(n)) }

// RecordStoreUpdateLatency records a rating table write latency.
func RecordStoreUpdateLatency(ms float64) { globalManager.storeUpdateLatency.Observe(ms) }

// RecordStoreQueryLatency records a rating table read latency.
func RecordStoreQueryLatency(ms float64) { globalManager.storeQueryLatency.Observe(ms) }

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue counts an accepted command.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueReject counts a rejected command.
func RecordQueueReject() { globalManager.queueRejected.Inc() }

// RecordWorkerProcessed counts a processed command and its latency.
func RecordWorkerProcessed(latencyMs float64) {
	globalManager.workerProcessed.Inc()
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a failed command.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// UpdateLiveClients sets the live feed client gauge.
func UpdateLiveClients(n int) { globalManager.liveClients.Set(float64(n)) }

// RecordSnapshot counts a snapshot operation for a backend.
func RecordSnapshot(backend string, err error, durationMs float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	globalManager.snapshotSaves.WithLabelValues(backend, outcome).Inc()
	globalManager.snapshotDuration.Observe(durationMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap allocation gauge.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(n int) { globalManager.systemGoroutineCount.Set(float64(n)) }

// RecordSystemGCPauseTime observes an average GC pause.
func RecordSystemGCPauseTime(ms float64) { globalManager.systemGCPauseTime.Observe(ms) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
