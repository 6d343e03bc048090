// Package telemetry implements core.MetricsRegistry over OpenTelemetry,
// the process-wide metrics sink that framework internals (monitor,
// cache) reach via core.GetGlobalMetricsRegistry without
// importing this package directly.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelRegistry lazily creates and caches one instrument per metric name,
// since core.MetricsRegistry callers invent names at the call site rather
// than declaring them upfront.
type OTelRegistry struct {
	meter metric.Meter

	mu         sync.RWMutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Histogram
}

// NewOTelRegistry builds a registry on the named meter. Call
// core.SetMetricsRegistry with the result to make it the process-wide sink.
func NewOTelRegistry(meterName string) *OTelRegistry {
	return &OTelRegistry{
		meter:      otel.Meter(meterName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Histogram),
	}
}

func labelsToAttributes(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}

func (r *OTelRegistry) counter(name string) metric.Int64Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; ok {
		return c
	}
	c, err := r.meter.Int64Counter(name)
	if err != nil {
		return nil
	}
	r.counters[name] = c
	return c
}

func (r *OTelRegistry) histogram(name string) metric.Float64Histogram {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.histograms[name]; ok {
		return h
	}
	h, err := r.meter.Float64Histogram(name)
	if err != nil {
		return nil
	}
	r.histograms[name] = h
	return h
}

// gauge is implemented as a histogram: an observable gauge requires a
// callback registered at creation time, which core.MetricsRegistry's
// point-in-time Gauge(name, value) call doesn't provide.
func (r *OTelRegistry) gauge(name string) metric.Float64Histogram {
	r.mu.RLock()
	g, ok := r.gauges[name]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok = r.gauges[name]; ok {
		return g
	}
	g, err := r.meter.Float64Histogram(name)
	if err != nil {
		return nil
	}
	r.gauges[name] = g
	return g
}

// Counter implements core.MetricsRegistry.
func (r *OTelRegistry) Counter(name string, labels ...string) {
	if c := r.counter(name); c != nil {
		c.Add(context.Background(), 1, metric.WithAttributes(labelsToAttributes(labels)...))
	}
}

// Gauge implements core.MetricsRegistry.
func (r *OTelRegistry) Gauge(name string, value float64, labels ...string) {
	if g := r.gauge(name); g != nil {
		g.Record(context.Background(), value, metric.WithAttributes(labelsToAttributes(labels)...))
	}
}

// Histogram implements core.MetricsRegistry.
func (r *OTelRegistry) Histogram(name string, value float64, labels ...string) {
	if h := r.histogram(name); h != nil {
		h.Record(context.Background(), value, metric.WithAttributes(labelsToAttributes(labels)...))
	}
}

// EmitWithContext implements core.MetricsRegistry, recording value as a
// histogram using ctx so a future exporter can pull trace correlation
// out of it.
func (r *OTelRegistry) EmitWithContext(ctx context.Context, name string, value float64, labels ...string) {
	if h := r.histogram(name); h != nil {
		h.Record(ctx, value, metric.WithAttributes(labelsToAttributes(labels)...))
	}
}
