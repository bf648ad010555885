package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Ingest(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.IngestStarted()
	m.IngestStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TasksInFlight))

	m.IngestSucceeded(3*time.Second, 12)
	m.IngestFailed("extraction_error")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TasksInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestJobs.WithLabelValues("completed", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestJobs.WithLabelValues("error", "extraction_error")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.IngestChunks))
}

func TestMetrics_Gauges(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.SetVectorStoreDegraded(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VectorStoreDegraded))
	m.SetVectorStoreDegraded(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.VectorStoreDegraded))
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IngestStarted()
		m.IngestFailed("internal")
		m.QueryAnswered(time.Second, true)
		m.FeedbackRecorded("like")
	})
}
