package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSync("create", "synced", "manual", time.Second)
		m.IncrementSubmission("webhook", "beneficiary_found")
		m.IncrementResolution("id_exact", "high")
		m.IncrementWebhookRejected("bad_signature")
	})
}

func TestCountersUseOwnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSync("update", "synced", "edit", 250*time.Millisecond)
	m.ObserveSync("update", "sync_failed", "edit", time.Second)
	m.IncrementSubmission("pull", "duplicate")
	m.IncrementSubmission("pull", "duplicate")
	m.IncrementResolution("phone", "medium")
	m.IncrementWebhookRejected("malformed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncAttempts.WithLabelValues("synced", "edit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Submissions.WithLabelValues("pull", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("phone", "medium")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookRejected.WithLabelValues("malformed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SyncLatency))

	// A second registry accepts a second set of collectors.
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}
