package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localforge/fabric/core"
)

func TestRecordOperationNeverExceedsWindowSize(t *testing.T) {
	m := New(SLAConfig{ResponseTimeSLAMS: 200, MinSuccessRatePercent: 95})
	for i := 0; i < defaultWindowSamples*2; i++ {
		m.RecordOperation(10, true, "mail.search")
	}
	assert.LessOrEqual(t, m.count, defaultWindowSamples)
}

func TestMetricsInsufficientDataWithFewSamples(t *testing.T) {
	m := New(SLAConfig{})
	m.RecordOperation(10, true, "mail.search")

	metrics := m.Metrics()
	assert.Equal(t, core.TrendInsufficientData, metrics.Trend)
}

func TestSLAViolationThenRecoveryFiresEachAlertOnce(t *testing.T) {
	m := New(SLAConfig{ResponseTimeSLAMS: 200, MinSuccessRatePercent: 95})

	for i := 0; i < 10; i++ {
		m.RecordOperation(300, true, "mail.search")
	}
	compliance := m.CheckSLACompliance()
	require.False(t, compliance.OverallCompliant)

	for i := 0; i < 20; i++ {
		m.RecordOperation(100, true, "mail.search")
	}
	compliance = m.CheckSLACompliance()
	require.True(t, compliance.OverallCompliant)

	dash := m.BuildDashboard()
	assert.Equal(t, 1, dash.Alerts.Counts[string(AlertSLAViolation)])
	assert.Equal(t, 1, dash.Alerts.Counts[string(AlertRecovery)])
}

func TestCheckSLAComplianceDoesNotDuplicateAlertsOnRepeatedCalls(t *testing.T) {
	m := New(SLAConfig{ResponseTimeSLAMS: 50, MinSuccessRatePercent: 95})
	for i := 0; i < 10; i++ {
		m.RecordOperation(300, true, "mail.search")
	}

	m.CheckSLACompliance()
	m.CheckSLACompliance()
	m.CheckSLACompliance()

	dash := m.BuildDashboard()
	assert.Equal(t, 1, dash.Alerts.Counts[string(AlertSLAViolation)])
}

func TestPercentilesAreExactOverWindow(t *testing.T) {
	m := New(SLAConfig{})
	for i := 1; i <= 100; i++ {
		m.RecordOperation(float64(i), true, "")
	}

	metrics := m.Metrics()
	assert.InDelta(t, 50, metrics.P50MS, 2)
	assert.InDelta(t, 95, metrics.P95MS, 2)
}

func TestSuccessRatePercentReflectsFailures(t *testing.T) {
	m := New(SLAConfig{})
	for i := 0; i < 8; i++ {
		m.RecordOperation(10, true, "")
	}
	for i := 0; i < 2; i++ {
		m.RecordOperation(10, false, "")
	}

	metrics := m.Metrics()
	assert.Equal(t, 80.0, metrics.SuccessRatePercent)
}
