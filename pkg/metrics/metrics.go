// Package metrics holds the prometheus collectors for form sync and
// submission ingestion. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for sync and ingestion.
type Metrics struct {
	// Sync attempts by terminal status and trigger
	SyncAttempts *prometheus.CounterVec

	// Sync attempt latency, create or update
	SyncLatency *prometheus.HistogramVec

	// Processed submissions by source and validation status
	Submissions *prometheus.CounterVec

	// Identity resolutions by match type and confidence
	Resolutions *prometheus.CounterVec

	// Webhook deliveries rejected at the boundary, by reason
	WebhookRejected *prometheus.CounterVec
}

// New registers all collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		SyncAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "formsync_sync_attempts_total",
			Help: "Total form sync attempts by status and trigger",
		}, []string{"status", "trigger"}),

		SyncLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formsync_sync_duration_seconds",
			Help:    "Duration of form sync attempts against the collection platform",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),

		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "formsync_submissions_total",
			Help: "Total processed submissions by source and validation status",
		}, []string{"source", "status"}),

		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "formsync_identity_resolutions_total",
			Help: "Total identity resolutions by match type and confidence",
		}, []string{"match_type", "confidence"}),

		WebhookRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "formsync_webhook_rejected_total",
			Help: "Total webhook deliveries rejected before reaching the ledger",
		}, []string{"reason"}),
	}
}

// ObserveSync records one sync attempt.
func (m *Metrics) ObserveSync(operation, status, trigger string, d time.Duration) {
	if m != nil {
		m.SyncAttempts.WithLabelValues(status, trigger).Inc()
		m.SyncLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// IncrementSubmission records a processed submission. Duplicates use status "duplicate".
func (m *Metrics) IncrementSubmission(source, status string) {
	if m != nil {
		m.Submissions.WithLabelValues(source, status).Inc()
	}
}

// IncrementResolution records one identity resolution.
func (m *Metrics) IncrementResolution(matchType, confidence string) {
	if m != nil {
		m.Resolutions.WithLabelValues(matchType, confidence).Inc()
	}
}

// IncrementWebhookRejected records a delivery rejected with a 4xx.
func (m *Metrics) IncrementWebhookRejected(reason string) {
	if m != nil {
		m.WebhookRejected.WithLabelValues(reason).Inc()
	}
}
