package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MembershipMetrics records the outcome of every membership operation. Outcome is
// "ok" or the lower-cased error code of the rejection.
type MembershipMetrics struct {
	operations       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	versionConflicts *prometheus.CounterVec
}

func NewMembershipMetrics(reg prometheus.Registerer) *MembershipMetrics {
	if reg == nil {
		return &MembershipMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keeply_membership_operations_total",
		Help: "Membership operations by name and outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keeply_membership_operation_duration_seconds",
		Help:    "Latency of membership operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	versionConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keeply_membership_version_conflicts_total",
		Help: "Optimistic version conflicts that forced a re-read.",
	}, []string{"operation"})
	reg.MustRegister(operations, duration, versionConflicts)
	return &MembershipMetrics{
		operations:       operations,
		duration:         duration,
		versionConflicts: versionConflicts,
	}
}

func (m *MembershipMetrics) Observe(operation, outcome string, elapsed time.Duration) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(elapsed.Seconds())
}

func (m *MembershipMetrics) IncVersionConflict(operation string) {
	if m == nil || m.versionConflicts == nil {
		return
	}
	m.versionConflicts.WithLabelValues(normalizeLabel(operation)).Inc()
}
