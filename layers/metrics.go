package layers

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sagarc03/anystore"
)

const (
	metricsNamespace = "anystore"
	metricsSubsystem = "accessor"
)

// Metrics records prometheus metrics for every operation:
//
//	anystore_accessor_operations_total{backend, operation, outcome}
//	anystore_accessor_operation_duration_seconds{backend, operation}
//	anystore_accessor_bytes_total{backend, operation}
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "operations_total",
			Help:      "Total number of accessor operations by outcome.",
		}, []string{"backend", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "operation_duration_seconds",
			Help:      "Accessor operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "bytes_total",
			Help:      "Bytes read from and written to accessors.",
		}, []string{"backend", "operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.bytes)
	}
	return m
}

func (m *Metrics) Layer(inner anystore.Accessor) anystore.Accessor {
	return observe(inner, m)
}

func (m *Metrics) begin(ctx context.Context, scheme string, op anystore.Operation, _ string) (context.Context, func(error)) {
	start := time.Now()
	return ctx, func(err error) {
		m.operations.WithLabelValues(scheme, op.String(), outcome(err)).Inc()
		m.duration.WithLabelValues(scheme, op.String()).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) transferred(scheme string, op anystore.Operation, n int) {
	m.bytes.WithLabelValues(scheme, op.String()).Add(float64(n))
}
