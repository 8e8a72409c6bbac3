package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerCountsOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("archive:purge").End(nil))
	boom := errors.New("disk full")
	require.ErrorIs(t, m.Track("archive:purge").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("archive:purge", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("archive:purge", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("archive:purge")))

	m.AddPurged(3)
	m.AddPurged(-1)
	require.Equal(t, 3.0, testutil.ToFloat64(m.purged))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("archive:purge").End(nil))
	m.AddPurged(2)
}
