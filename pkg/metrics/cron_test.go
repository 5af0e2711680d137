package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCronMetricsSplitOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronMetrics(reg)
	finished := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)

	m.ObserveRun("invite-expiry-sweep", nil, 250*time.Millisecond, finished)
	m.ObserveRun("invite-expiry-sweep", errors.New("db gone"), time.Second, finished.Add(time.Hour))
	m.ObserveRun("", nil, time.Millisecond, finished)
	m.IncSkipped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("invite-expiry-sweep", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("invite-expiry-sweep", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("unknown", "ok")))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(m.lastSuccess.WithLabelValues("invite-expiry-sweep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped))
}

func TestCronMetricsNilSafe(t *testing.T) {
	var m *CronMetrics
	m.ObserveRun("job", nil, time.Second, time.Now())
	m.IncSkipped()
	NewCronMetrics(nil).ObserveRun("job", nil, time.Second, time.Now())
}
