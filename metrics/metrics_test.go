package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EventEnqueued()
	m.EventEnqueued()
	m.BatchSent(ResultSuccess, 2)
	m.BatchSent(ResultFailure, 3)
	m.InteractionRequest("toggle_favorite", nil)
	m.InteractionRequest("toggle_favorite", errors.New("boom"))
	m.Rollback("toggle_favorite")
	m.AmbientResolved("geolocation")
	m.ImpressionFired()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsEnqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Batches.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InteractionRequests.WithLabelValues("toggle_favorite", ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InteractionRollback.WithLabelValues("toggle_favorite")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AmbientResolutions.WithLabelValues("geolocation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImpressionsFired))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventEnqueued()
		m.BatchSent(ResultFailure, 1)
		m.EventDropped()
		m.InteractionRequest("fetch_one", nil)
		m.Rollback("set_rating")
		m.AmbientResolved("default")
		m.ImpressionFired()
	})
}
