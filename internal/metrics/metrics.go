package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the attribution engine. A nil
// *Metrics is valid: every recorder is a no-op, so tests and metric-disabled
// deployments skip registration entirely.
type Metrics struct {
	// Ingestion metrics
	EventsAccepted *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec
	IngestLatency  *prometheus.HistogramVec
	QueueDropped   prometheus.Counter
	QueueDepth     prometheus.Gauge

	// Entity metrics
	VisitorsCreated  prometheus.Counter
	SessionsCreated  prometheus.Counter
	ConversionsTotal *prometheus.CounterVec

	// Attribution metrics
	AttributionRuns    *prometheus.CounterVec
	AttributionCredits *prometheus.CounterVec
	AttributionLatency *prometheus.HistogramVec
	EmptyJourneys      prometheus.Counter

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec

	// System metrics
	DBConnections *prometheus.GaugeVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		// Ingestion metrics
		EventsAccepted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_accepted_total",
				Help:      "Events accepted by the ingestion pipeline",
			},
			[]string{"mode"}, // sync, async
		),
		EventsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_rejected_total",
				Help:      "Events rejected by validation",
			},
			[]string{"mode"},
		),
		IngestLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_latency_seconds",
				Help:      "Per-event ingestion latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"status"},
		),
		QueueDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_queue_dropped_total",
				Help:      "Async events dropped because the queue was full",
			},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ingest_queue_depth",
				Help:      "Events waiting in the async ingestion queue",
			},
		),

		// Entity metrics
		VisitorsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "visitors_created_total",
				Help:      "New visitors created",
			},
		),
		SessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "New sessions created",
			},
		),
		ConversionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Conversions recorded",
			},
			[]string{"conversion_type"},
		),

		// Attribution metrics
		AttributionRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attribution_runs_total",
				Help:      "Attribution computations per algorithm",
			},
			[]string{"algorithm", "status"},
		),
		AttributionCredits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attribution_credits_total",
				Help:      "Credit rows written per algorithm",
			},
			[]string{"algorithm"},
		),
		AttributionLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attribution_latency_seconds",
				Help:      "Full attribution run latency per conversion",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"algorithm"},
		),
		EmptyJourneys: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attribution_empty_journeys_total",
				Help:      "Conversions whose journey had no touchpoints",
			},
		),

		// Rate limiting metrics
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint"},
		),

		// System metrics
		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),
	}

	DefaultMetrics = m
	return m
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAccepted records accepted events.
func (m *Metrics) RecordAccepted(mode string, n int) {
	if m == nil {
		return
	}
	m.EventsAccepted.WithLabelValues(mode).Add(float64(n))
}

// RecordRejected records rejected events.
func (m *Metrics) RecordRejected(mode string, n int) {
	if m == nil {
		return
	}
	m.EventsRejected.WithLabelValues(mode).Add(float64(n))
}

// RecordIngest records one event's processing latency.
func (m *Metrics) RecordIngest(status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.IngestLatency.WithLabelValues(status).Observe(latency.Seconds())
}

// RecordQueueDrop records an async event dropped on a full queue.
func (m *Metrics) RecordQueueDrop() {
	if m == nil {
		return
	}
	m.QueueDropped.Inc()
}

// SetQueueDepth updates the async queue depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordVisitorCreated records a new visitor.
func (m *Metrics) RecordVisitorCreated() {
	if m == nil {
		return
	}
	m.VisitorsCreated.Inc()
}

// RecordSessionCreated records a new session.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordConversion records a conversion.
func (m *Metrics) RecordConversion(conversionType string) {
	if m == nil {
		return
	}
	m.ConversionsTotal.WithLabelValues(conversionType).Inc()
}

// RecordAttributionRun records one model computation.
func (m *Metrics) RecordAttributionRun(algorithm, status string, credits int, latency time.Duration) {
	if m == nil {
		return
	}
	m.AttributionRuns.WithLabelValues(algorithm, status).Inc()
	m.AttributionCredits.WithLabelValues(algorithm).Add(float64(credits))
	m.AttributionLatency.WithLabelValues(algorithm).Observe(latency.Seconds())
}

// RecordEmptyJourney records a conversion with no attributable touchpoints.
func (m *Metrics) RecordEmptyJourney() {
	if m == nil {
		return
	}
	m.EmptyJourneys.Inc()
}

// RecordRateLimitHit records a rate-limited request.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}

// SetDBConnections updates the pool gauges.
func (m *Metrics) SetDBConnections(idle, inUse, total int) {
	if m == nil {
		return
	}
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}
