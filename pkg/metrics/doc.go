// Package metrics defines Prometheus metrics for the PHI audit pipeline,
// covering event intake, batching, sink delivery, retries, the local
// fallback store, enrichment lookups and compliance report requests.
package metrics
