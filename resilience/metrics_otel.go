package resilience

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsCollector implements MetricsCollector by emitting counters
// through the global OpenTelemetry meter provider. With no SDK registered
// the global provider is a no-op, so this is safe to wire unconditionally;
// a deployment that wants the numbers just registers a real meter
// provider before constructing one.
type OTelMetricsCollector struct {
	success   metric.Int64Counter
	failure   metric.Int64Counter
	rejection metric.Int64Counter
	stateChg  metric.Int64Counter
}

// NewOTelMetricsCollector builds a MetricsCollector on the named meter.
func NewOTelMetricsCollector(meterName string) (*OTelMetricsCollector, error) {
	meter := otel.Meter(meterName)

	success, err := meter.Int64Counter("circuit_breaker.success",
		metric.WithDescription("circuit breaker calls that completed without a counted error"))
	if err != nil {
		return nil, err
	}
	failure, err := meter.Int64Counter("circuit_breaker.failure",
		metric.WithDescription("circuit breaker calls that completed with a counted error"))
	if err != nil {
		return nil, err
	}
	rejection, err := meter.Int64Counter("circuit_breaker.rejected",
		metric.WithDescription("calls rejected by an open or exhausted-half-open breaker"))
	if err != nil {
		return nil, err
	}
	stateChg, err := meter.Int64Counter("circuit_breaker.state_change",
		metric.WithDescription("circuit breaker state transitions"))
	if err != nil {
		return nil, err
	}

	return &OTelMetricsCollector{success: success, failure: failure, rejection: rejection, stateChg: stateChg}, nil
}

// RecordSuccess implements MetricsCollector.
func (o *OTelMetricsCollector) RecordSuccess(name string) {
	o.success.Add(context.Background(), 1, metric.WithAttributes(attribute.String("circuit_breaker", name)))
}

// RecordFailure implements MetricsCollector.
func (o *OTelMetricsCollector) RecordFailure(name string, errorType string) {
	o.failure.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("circuit_breaker", name),
		attribute.String("error_type", errorType),
	))
}

// RecordStateChange implements MetricsCollector.
func (o *OTelMetricsCollector) RecordStateChange(name string, from, to string) {
	o.stateChg.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("circuit_breaker", name),
		attribute.String("from_state", from),
		attribute.String("to_state", to),
	))
}

// RecordRejection implements MetricsCollector.
func (o *OTelMetricsCollector) RecordRejection(name string) {
	o.rejection.Add(context.Background(), 1, metric.WithAttributes(attribute.String("circuit_breaker", name)))
}
