// Package metrics provides Prometheus metrics for the agentrank pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Pipeline cycle metrics
	cyclesTotal   prometheus.Counter
	cycleFailures prometheus.Counter
	cycleDuration prometheus.Histogram

	// Discovery metrics
	agentsDiscovered prometheus.Counter
	agentsScored     prometheus.Counter
	walletsResolved  prometheus.Counter

	// Chain scanner metrics
	windowsScanned prometheus.Counter
	windowsSkipped prometheus.Counter
	eventsFolded   prometheus.Counter
	scanHeight     *prometheus.GaugeVec

	// Source health metrics
	sourceErrors *prometheus.CounterVec

	// Outreach metrics
	repliesSent    prometheus.Counter
	repliesSkipped *prometheus.CounterVec
	walletRequests prometheus.Counter

	// Attestation metrics
	attestationsIssued prometheus.Counter
	verifications      *prometheus.CounterVec

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "agentrank",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.cyclesTotal = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cycles_total",
		Help:      "Total number of completed pipeline cycles",
	})
	m.cycleFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cycle_failures_total",
		Help:      "Total number of pipeline cycles that failed at the top level",
	})
	m.cycleDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cycle_duration_seconds",
		Help:      "Histogram of pipeline cycle wall-clock duration",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	m.agentsDiscovered = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "agents_discovered_total",
		Help:      "Total number of agents discovered or refreshed by the crawler",
	})
	m.agentsScored = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "agents_scored_total",
		Help:      "Total number of per-agent score computations",
	})
	m.walletsResolved = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "wallets_resolved_total",
		Help:      "Total number of wallet addresses resolved from replies or profiles",
	})

	m.windowsScanned = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scan_windows_total",
		Help:      "Total number of successfully processed scan windows",
	})
	m.windowsSkipped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scan_windows_skipped_total",
		Help:      "Total number of scan windows skipped after exhausted retries (events in a skipped window are lost)",
	})
	m.eventsFolded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "chain_events_folded_total",
		Help:      "Total number of chain events folded into wallet metrics",
	})
	m.scanHeight = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scan_checkpoint_height",
		Help:      "Last processed block height per scan source",
	}, []string{"source"})

	m.sourceErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "source_errors_total",
		Help:      "Total number of degraded external source calls by source",
	}, []string{"source"})

	m.repliesSent = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "replies_sent_total",
		Help:      "Total number of outreach replies sent",
	})
	m.repliesSkipped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "replies_skipped_total",
		Help:      "Total number of outreach candidates skipped by reason",
	}, []string{"reason"})
	m.walletRequests = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "wallet_requests_total",
		Help:      "Total number of unsolicited wallet request posts",
	})

	m.attestationsIssued = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "attestations_issued_total",
		Help:      "Total number of signed score attestations issued",
	})
	m.verifications = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "attestation_verifications_total",
		Help:      "Total number of attestation verification requests by result",
	}, []string{"result"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "Histogram of HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method"})
}

// GetRegistry returns the custom Prometheus registry used by the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Package-level helpers operating on the global manager.

func RecordCycle(durationSeconds float64) {
	globalManager.cyclesTotal.Inc()
	globalManager.cycleDuration.Observe(durationSeconds)
}

func RecordCycleFailure() { globalManager.cycleFailures.Inc() }

func RecordAgentsDiscovered(n int) { globalManager.agentsDiscovered.Add(float64(n)) }
func RecordAgentScored()           { globalManager.agentsScored.Inc() }
func RecordWalletResolved()        { globalManager.walletsResolved.Inc() }

func RecordWindowScanned()     { globalManager.windowsScanned.Inc() }
func RecordWindowSkipped()     { globalManager.windowsSkipped.Inc() }
func RecordEventsFolded(n int) { globalManager.eventsFolded.Add(float64(n)) }
func UpdateScanHeight(source string, height uint64) {
	globalManager.scanHeight.WithLabelValues(source).Set(float64(height))
}

func RecordSourceError(source string) {
	globalManager.sourceErrors.WithLabelValues(source).Inc()
}

func RecordReplySent() { globalManager.repliesSent.Inc() }
func RecordReplySkipped(reason string) {
	globalManager.repliesSkipped.WithLabelValues(reason).Inc()
}
func RecordWalletRequest() { globalManager.walletRequests.Inc() }

func RecordAttestationIssued() { globalManager.attestationsIssued.Inc() }
func RecordVerification(result string) {
	globalManager.verifications.WithLabelValues(result).Inc()
}

func RecordHTTPRequest(endpoint, method, status string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
}

func RecordHTTPRequestDuration(endpoint, method string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method).Observe(durationMs)
}
