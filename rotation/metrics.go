package rotation

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rotationPathAttemptsTotal *prometheus.CounterVec
	rotationOutcomesTotal     *prometheus.CounterVec
	rotationDuration          prometheus.Histogram

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
)

// RotationMetrics provides methods to record rotation metrics. The methods
// no-op until InitMetrics has run, so library users who never call it pay
// nothing.
type RotationMetrics struct{}

// NewRotationMetrics creates a new RotationMetrics instance.
func NewRotationMetrics() *RotationMetrics {
	return &RotationMetrics{}
}

// InitMetrics registers all rotation Prometheus metrics. Call once at
// startup when metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		rotationPathAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credential_engine_rotation_path_attempts_total",
				Help: "Rotation attempts by execution path (transactional, cas, offload)",
			},
			[]string{"path"},
		)

		rotationOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credential_engine_rotation_outcomes_total",
				Help: "Finished rotations by outcome (completed, routed, failed)",
			},
			[]string{"outcome"},
		)

		rotationDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "credential_engine_rotation_duration_seconds",
				Help:    "Wall-clock duration of Rotate calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		)

		metricsRegistered = true
	})
}

// IsMetricsRegistered reports whether InitMetrics has run.
func IsMetricsRegistered() bool {
	return metricsRegistered
}

// RecordPathAttempt counts an attempt on one of the rotation paths.
func (m *RotationMetrics) RecordPathAttempt(path string) {
	if !metricsRegistered || rotationPathAttemptsTotal == nil {
		return
	}
	rotationPathAttemptsTotal.WithLabelValues(path).Inc()
}

// RecordOutcome counts a finished rotation by its outcome label.
func (m *RotationMetrics) RecordOutcome(outcome string) {
	if !metricsRegistered || rotationOutcomesTotal == nil {
		return
	}
	rotationOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRotationDuration records how long a Rotate call took.
func (m *RotationMetrics) ObserveRotationDuration(seconds float64) {
	if !metricsRegistered || rotationDuration == nil {
		return
	}
	rotationDuration.Observe(seconds)
}
