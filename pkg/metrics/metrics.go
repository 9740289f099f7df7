package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Intake metrics
	AuditEventsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phi_audit_events_recorded_total",
		Help: "Total number of audit events accepted by the recorder",
	}, []string{"event_type", "sensitivity"})
	AuditEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phi_audit_events_dropped_total",
		Help: "Total number of audit events dropped before delivery, by reason",
	}, []string{"reason"})
	AuditIntakeOverflow = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phi_audit_intake_overflow_total",
		Help: "Total number of events that found the intake queue full, by disposition (dispatched, dropped)",
	}, []string{"disposition"})
	AuditQueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "phi_audit_queue_length",
		Help: "Number of work units currently buffered in the batcher",
	})
	AuditBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "phi_audit_batch_size",
		Help:    "Number of events per drained batch",
		Buckets: []float64{1, 5, 10, 20, 30, 40, 50},
	})

	// Delivery metrics. The path label is either "immediate" or "batch".
	AuditEventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phi_audit_events_delivered_total",
		Help: "Total number of audit events confirmed by the sink",
	}, []string{"path"})
	AuditDeliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phi_audit_delivery_failures_total",
		Help: "Total number of failed delivery attempts grouped by error kind",
	}, []string{"sink", "path", "kind"})
	AuditRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phi_audit_retries_total",
		Help: "Total number of work units scheduled for another delivery attempt",
	}, []string{"path"})
	AuditSinkLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "phi_audit_sink_latency_seconds",
		Help:    "Latency of sink submit calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"sink"})
	AuditSinkConnected = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "phi_audit_sink_connected",
		Help: "Whether the sink accepted its most recent submit (1) or not (0)",
	}, []string{"sink"})
	AuditCircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "phi_audit_circuit_breaker_state",
		Help: "Circuit breaker state per sink (0=closed, 1=open, 2=half-open)",
	}, []string{"sink"})
	AuditCircuitBreakerRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phi_audit_circuit_breaker_rejections_total",
		Help: "Total number of submits rejected by an open circuit",
	}, []string{"sink"})
	AuditKafkaMessagesInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "phi_audit_kafka_messages_in_flight",
		Help: "Number of Kafka messages currently being written",
	}, []string{"sink"})

	// Fallback store metrics
	AuditFallbackWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phi_audit_fallback_writes_total",
		Help: "Total number of sealed events written to the local fallback store",
	}, []string{"reason"})
	AuditFallbackEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phi_audit_fallback_evictions_total",
		Help: "Total number of fallback entries evicted because the store was full",
	})
	AuditFallbackEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "phi_audit_fallback_entries",
		Help: "Number of entries currently held in the local fallback store",
	})

	// Enrichment and reporting
	AuditEnrichmentLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phi_audit_enrichment_lookups_total",
		Help: "Total number of geo lookups grouped by result (hit, miss, error, timeout, limited)",
	}, []string{"result"})
	AuditReportRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phi_audit_report_requests_total",
		Help: "Total number of compliance report requests grouped by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(AuditEventsRecorded)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditIntakeOverflow)
	prometheus.MustRegister(AuditQueueLength)
	prometheus.MustRegister(AuditBatchSize)
	prometheus.MustRegister(AuditEventsDelivered)
	prometheus.MustRegister(AuditDeliveryFailures)
	prometheus.MustRegister(AuditRetries)
	prometheus.MustRegister(AuditSinkLatency)
	prometheus.MustRegister(AuditSinkConnected)
	prometheus.MustRegister(AuditCircuitBreakerState)
	prometheus.MustRegister(AuditCircuitBreakerRejections)
	prometheus.MustRegister(AuditKafkaMessagesInFlight)
	prometheus.MustRegister(AuditFallbackWrites)
	prometheus.MustRegister(AuditFallbackEvictions)
	prometheus.MustRegister(AuditFallbackEntries)
	prometheus.MustRegister(AuditEnrichmentLookups)
	prometheus.MustRegister(AuditReportRequests)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
