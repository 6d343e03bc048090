package core

import "context"

// MetricsRegistry lets framework internals (monitor, cache) emit metrics
// without importing a concrete telemetry backend. A composition root
// installs an implementation (e.g. telemetry.OTelRegistry) via
// SetMetricsRegistry; until then GetGlobalMetricsRegistry returns nil and
// those internals emit nothing.
type MetricsRegistry interface {
	// Counter increments a named counter by 1.
	Counter(name string, labels ...string)

	// Gauge sets a named gauge to value.
	Gauge(name string, value float64, labels ...string)

	// Histogram records value in a named distribution (durations, sizes).
	Histogram(name string, value float64, labels ...string)

	// EmitWithContext emits a metric with its originating context, so a
	// backend that wants trace correlation can extract it from ctx.
	EmitWithContext(ctx context.Context, name string, value float64, labels ...string)
}

var globalMetricsRegistry MetricsRegistry

// SetMetricsRegistry installs registry as the process-wide metrics sink.
func SetMetricsRegistry(registry MetricsRegistry) {
	globalMetricsRegistry = registry
}

// GetGlobalMetricsRegistry returns the installed registry, or nil if none
// has been set yet. Callers must check for nil before emitting.
func GetGlobalMetricsRegistry() MetricsRegistry {
	return globalMetricsRegistry
}
