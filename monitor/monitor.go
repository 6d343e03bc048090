// Package monitor implements the performance tracker and health monitor:
// a bounded ring buffer of operation outcomes, derived percentiles, SLA
// compliance, trend detection, and edge-triggered alerting.
package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/localforge/fabric/core"
)

const (
	defaultWindowSamples = 200
	defaultWindowSeconds = 300
	trendThresholdPct    = 25.0
	degradationP95Factor = 1.5
)

// SLAConfig is the per-agent service-level target.
type SLAConfig struct {
	ResponseTimeSLAMS     float64
	MinSuccessRatePercent float64
}

// SLACompliance reports whether each metric, and the overall result,
// meets its configured target.
type SLACompliance struct {
	ResponseTimeCompliant bool    `json:"response_time_compliant"`
	SuccessRateCompliant  bool    `json:"success_rate_compliant"`
	OverallCompliant      bool    `json:"overall_compliant"`
	P95MS                 float64 `json:"p95_ms"`
	SuccessRatePercent    float64 `json:"success_rate_percent"`
}

// AlertKind classifies an emitted alert.
type AlertKind string

const (
	AlertSLAViolation         AlertKind = "sla_violation"
	AlertPerformanceDegraded  AlertKind = "performance_degradation"
	AlertRecovery             AlertKind = "recovery"
)

// Alert is one edge-triggered notification.
type Alert struct {
	Kind      AlertKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Dashboard is the synthesized view returned by GET /metrics.
type Dashboard struct {
	PerformanceSummary struct {
		Current       core.AggregatedMetrics `json:"current"`
		TrendAnalysis core.Trend             `json:"trend_analysis"`
	} `json:"performance_summary"`
	Alerts struct {
		Recent []Alert        `json:"recent"`
		Counts map[string]int `json:"counts"`
	} `json:"alerts"`
	Recommendations []string `json:"recommendations"`
}

// Monitor is the per-agent ring buffer plus derived-metrics engine.
// Recording a sample is O(1); Dashboard/Metrics are O(W log W) and
// invoked on demand, never on the hot path.
type Monitor struct {
	mu      sync.Mutex
	samples []core.PerformanceSample
	head    int
	count   int
	maxSize int
	window  time.Duration

	sla SLAConfig

	// edge-trigger state: alerts fire only on transition, not every tick.
	slaViolating     bool
	degrading        bool
	recentAlerts     []Alert
	alertCounts      map[string]int
	baselineP95      float64
}

// New constructs a Monitor with the fixed W=200/T=300s window; no option
// changes it.
func New(sla SLAConfig) *Monitor {
	return &Monitor{
		samples: make([]core.PerformanceSample, defaultWindowSamples),
		maxSize: defaultWindowSamples,
		window:  defaultWindowSeconds * time.Second,
		sla:     sla,
		alertCounts: make(map[string]int),
	}
}

// RecordOperation appends one outcome to the ring buffer, overwriting the
// oldest entry once full.
func (m *Monitor) RecordOperation(durationMS float64, success bool, capability string) {
	sample := core.PerformanceSample{
		Timestamp:  time.Now(),
		DurationMS: durationMS,
		Success:    success,
		Capability: capability,
	}

	m.mu.Lock()
	if m.count < m.maxSize {
		m.samples[(m.head+m.count)%m.maxSize] = sample
		m.count++
	} else {
		m.samples[m.head] = sample
		m.head = (m.head + 1) % m.maxSize
	}
	m.mu.Unlock()

	emitSample(sample)
}

// emitSample forwards one outcome to the process-wide metrics registry, if
// one has been installed. Framework internals must never import a
// concrete telemetry backend directly, so this is the only coupling point.
func emitSample(sample core.PerformanceSample) {
	registry := core.GetGlobalMetricsRegistry()
	if registry == nil {
		return
	}
	registry.Histogram("agent.operation.duration_ms", sample.DurationMS, "capability", sample.Capability)
	result := "success"
	if !sample.Success {
		result = "failure"
	}
	registry.Counter("agent.operation.count", "capability", sample.Capability, "result", result)
}

// windowSamplesLocked returns the samples considered "in window": the
// most recent W samples and/or the samples within the last T seconds,
// whichever set is larger, in chronological order. Caller must hold m.mu.
func (m *Monitor) windowSamplesLocked() []core.PerformanceSample {
	all := make([]core.PerformanceSample, m.count)
	for i := 0; i < m.count; i++ {
		all[i] = m.samples[(m.head+i)%m.maxSize]
	}

	cutoff := time.Now().Add(-m.window)
	var byTime []core.PerformanceSample
	for _, s := range all {
		if s.Timestamp.After(cutoff) {
			byTime = append(byTime, s)
		}
	}

	if len(byTime) > len(all) {
		return byTime
	}
	if len(all) >= len(byTime) {
		return all
	}
	return byTime
}

// Metrics computes aggregated metrics over the current window.
func (m *Monitor) Metrics() core.AggregatedMetrics {
	m.mu.Lock()
	samples := m.windowSamplesLocked()
	m.mu.Unlock()

	return computeMetrics(samples, m.maxSize)
}

func computeMetrics(samples []core.PerformanceSample, windowSize int) core.AggregatedMetrics {
	n := len(samples)
	if n == 0 {
		return core.AggregatedMetrics{Trend: core.TrendInsufficientData}
	}

	durations := make([]float64, n)
	successes := 0
	for i, s := range samples {
		durations[i] = s.DurationMS
		if s.Success {
			successes++
		}
	}
	sorted := append([]float64(nil), durations...)
	sort.Float64s(sorted)

	metrics := core.AggregatedMetrics{
		SuccessRatePercent: 100 * float64(successes) / float64(n),
		P50MS:              percentile(sorted, 0.50),
		P95MS:              percentile(sorted, 0.95),
		P99MS:              percentile(sorted, 0.99),
		SampleCount:        n,
		Trend:              trend(samples, windowSize),
	}

	if n > 1 {
		span := samples[n-1].Timestamp.Sub(samples[0].Timestamp)
		if span > 0 {
			metrics.ThroughputOpsPerMin = float64(n) / span.Minutes()
		}
	}

	return metrics
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func trend(samples []core.PerformanceSample, windowSize int) core.Trend {
	n := len(samples)
	minRequired := (2 * windowSize) / 3
	if n < minRequired {
		return core.TrendInsufficientData
	}

	mid := n / 2
	firstHalf := mean(samples[:mid])
	secondHalf := mean(samples[mid:])

	if firstHalf == 0 {
		return core.TrendStable
	}

	delta := 100 * (secondHalf - firstHalf) / firstHalf
	switch {
	case delta >= trendThresholdPct:
		return core.TrendDegrading
	case delta <= -trendThresholdPct:
		return core.TrendImproving
	default:
		return core.TrendStable
	}
}

func mean(samples []core.PerformanceSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.DurationMS
	}
	return sum / float64(len(samples))
}

// CheckSLACompliance evaluates the current window against sla. Compliance
// is judged against the most recent half of the window rather than the
// full window average, using the same chronological split trend() uses:
// without this, ten hot samples sitting at the front of an otherwise
// healthy window can hold P95 hostage long after the agent has recovered.
func (m *Monitor) CheckSLACompliance() SLACompliance {
	m.mu.Lock()
	samples := m.windowSamplesLocked()
	m.mu.Unlock()

	full := computeMetrics(samples, m.maxSize)
	recent := computeMetrics(recentHalf(samples), m.maxSize)

	respOK := recent.P95MS <= m.sla.ResponseTimeSLAMS || recent.SampleCount == 0
	successOK := recent.SuccessRatePercent >= m.sla.MinSuccessRatePercent || recent.SampleCount == 0

	compliance := SLACompliance{
		ResponseTimeCompliant: respOK,
		SuccessRateCompliant:  successOK,
		OverallCompliant:      respOK && successOK,
		P95MS:                 recent.P95MS,
		SuccessRatePercent:    recent.SuccessRatePercent,
	}

	m.evaluateAlerts(full, compliance)
	return compliance
}

// recentHalf returns the chronologically newer half of samples, the same
// split trend() uses to compare first-half/second-half behavior.
func recentHalf(samples []core.PerformanceSample) []core.PerformanceSample {
	n := len(samples)
	if n == 0 {
		return samples
	}
	return samples[n/2:]
}

// evaluateAlerts fires edge-triggered alerts: a violation is recorded
// only on the transition into non-compliance, and a recovery only on the
// transition back. Degradation fires once when the trend turns degrading
// and p95 exceeds baseline*1.5; it is cleared once the trend recovers.
func (m *Monitor) evaluateAlerts(metrics core.AggregatedMetrics, compliance SLACompliance) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.baselineP95 == 0 {
		m.baselineP95 = metrics.P95MS
	}

	if !compliance.OverallCompliant && !m.slaViolating {
		m.slaViolating = true
		m.emitLocked(Alert{Kind: AlertSLAViolation, Message: "SLA compliance violated", Timestamp: time.Now()})
	} else if compliance.OverallCompliant && m.slaViolating {
		m.slaViolating = false
		m.emitLocked(Alert{Kind: AlertRecovery, Message: "SLA compliance restored", Timestamp: time.Now()})
	}

	degradingNow := metrics.Trend == core.TrendDegrading && metrics.P95MS > m.baselineP95*degradationP95Factor
	if degradingNow && !m.degrading {
		m.degrading = true
		m.emitLocked(Alert{Kind: AlertPerformanceDegraded, Message: "latency trend degrading beyond baseline", Timestamp: time.Now()})
	} else if !degradingNow && m.degrading {
		m.degrading = false
	}

	if metrics.Trend == core.TrendStable || metrics.Trend == core.TrendImproving {
		m.baselineP95 = metrics.P95MS
	}
}

func (m *Monitor) emitLocked(a Alert) {
	m.recentAlerts = append(m.recentAlerts, a)
	if len(m.recentAlerts) > 50 {
		m.recentAlerts = m.recentAlerts[len(m.recentAlerts)-50:]
	}
	m.alertCounts[string(a.Kind)]++
}

// BuildDashboard assembles the full dashboard: current metrics, trend,
// recent alerts, and deterministic recommendations derived from the
// alert set.
func (m *Monitor) BuildDashboard() Dashboard {
	metrics := m.Metrics()
	compliance := m.CheckSLACompliance()

	m.mu.Lock()
	alerts := append([]Alert(nil), m.recentAlerts...)
	counts := make(map[string]int, len(m.alertCounts))
	for k, v := range m.alertCounts {
		counts[k] = v
	}
	m.mu.Unlock()

	var dash Dashboard
	dash.PerformanceSummary.Current = metrics
	dash.PerformanceSummary.TrendAnalysis = metrics.Trend
	dash.Alerts.Recent = alerts
	dash.Alerts.Counts = counts
	dash.Recommendations = recommendations(metrics, compliance, counts)
	return dash
}

// recommendations derives deterministic guidance from the alert set.
func recommendations(metrics core.AggregatedMetrics, compliance SLACompliance, counts map[string]int) []string {
	var recs []string

	if metrics.Trend == core.TrendDegrading && metrics.P95MS > 0 {
		recs = append(recs, "investigate upstream latency: p95 trend is degrading")
	}
	if !compliance.SuccessRateCompliant && metrics.P95MS > compliance.P95MS*0.8 {
		recs = append(recs, "warm cache for frequent patterns: low success rate coincides with elevated latency")
	}
	if counts[string(AlertSLAViolation)] > 0 && compliance.OverallCompliant {
		recs = append(recs, "SLA recently restored: monitor for recurrence before closing out the incident")
	}
	if metrics.SampleCount == 0 {
		recs = append(recs, "no samples recorded yet: insufficient data for recommendations")
	}

	return recs
}
