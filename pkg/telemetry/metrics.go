package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce              sync.Once
	metricsInitErr           error
	operationCounter         metric.Int64Counter
	operationItemsCounter    metric.Int64Counter
	operationRejectedCounter metric.Int64Counter
	operationLatency         metric.Float64Histogram
)

// Outcome classifies how an operation invocation ended.
type Outcome string

// Operation outcomes.
const (
	OutcomeSuccess  Outcome = "success"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailure  Outcome = "failure"
)

// OperationMetrics captures the fields needed to record one operation invocation.
type OperationMetrics struct {
	Operation  string
	Outcome    Outcome
	ErrorKind  string
	StatusCode int
	Items      int
	Duration   time.Duration
}

// RecordOperationMetrics emits counters and histograms that describe an operation invocation.
func RecordOperationMetrics(ctx context.Context, m OperationMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("crdp.operation", m.Operation),
		attribute.String("crdp.outcome", string(m.Outcome)),
	}
	if m.ErrorKind != "" {
		attrs = append(attrs, attribute.String("crdp.error_kind", m.ErrorKind))
	}
	if m.StatusCode != 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", m.StatusCode))
	}

	operationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Outcome == OutcomeRejected {
		operationRejectedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}

	if m.Items > 0 {
		operationItemsCounter.Add(ctx, int64(m.Items), metric.WithAttributes(attrs...))
	}
	if m.Duration > 0 {
		operationLatency.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("crdp.orchestrator")

		operationCounter, metricsInitErr = meter.Int64Counter(
			"crdp.operation.invocations_total",
			metric.WithDescription("Operation invocations partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		operationItemsCounter, metricsInitErr = meter.Int64Counter(
			"crdp.operation.items_total",
			metric.WithDescription("Values or tokens submitted to the gateway"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		operationRejectedCounter, metricsInitErr = meter.Int64Counter(
			"crdp.operation.rejected_total",
			metric.WithDescription("Invocations rejected locally before any gateway call"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		operationLatency, metricsInitErr = meter.Float64Histogram(
			"crdp.operation.duration_ms",
			metric.WithDescription("Observed gateway round-trip latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
