// Package telemetry holds the prometheus metrics and OpenTelemetry tracer
// shared by the dispatcher and its adapters.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/HendryAvila/warden")

// StartOp starts the span that wraps one dispatched operation.
func StartOp(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "warden."+op, trace.WithAttributes(attribute.String("warden.op", op)))
}

// Metrics are the operation metrics. A nil *Metrics records nothing.
type Metrics struct {
	ops        *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	violations *prometheus.CounterVec
	degraded   *prometheus.CounterVec
}

// NewMetrics registers the metrics with reg. contexts, when set, backs a
// gauge of live project contexts.
func NewMetrics(reg prometheus.Registerer, contexts func() int) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		ops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_ops_total",
			Help: "Dispatched operations by op and result code",
		}, []string{"op", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_op_duration_seconds",
			Help:    "Operation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}, []string{"op"}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_covenant_violations_total",
			Help: "Operations refused by the covenant, by code",
		}, []string{"code"}),
		degraded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_degraded_total",
			Help: "Operations answered without the similarity service",
		}, []string{"op"}),
	}
	if contexts != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "warden_contexts",
			Help: "Project contexts currently held",
		}, func() float64 { return float64(contexts()) })
	}
	return m
}

// Observe records one finished operation. code is "ok" or the error code.
func (m *Metrics) Observe(op, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, code).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

// Violation counts a covenant refusal.
func (m *Metrics) Violation(code string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(code).Inc()
}

// Degraded counts an answer produced without vector search.
func (m *Metrics) Degraded(op string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(op).Inc()
}
