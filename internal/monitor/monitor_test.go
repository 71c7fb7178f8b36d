package monitor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedCacheStats(hitRate float64, memBytes, entries int64) CacheStatsFunc {
	return func() (float64, int64, int64) { return hitRate, memBytes, entries }
}

func TestMonitor_PercentilesOverWindow(t *testing.T) {
	m := New(8, fixedCacheStats(1.0, 0, 0), DefaultThresholds())
	for _, ms := range []int{10, 20, 30, 40, 50, 60, 70, 80} {
		m.RecordResponseTime(time.Duration(ms) * time.Millisecond)
	}

	p := m.Percentiles()
	assert.Equal(t, 8, p.N)
	assert.Equal(t, 45*time.Millisecond, p.Mean)
	assert.True(t, p.P95 >= p.P50)
	assert.True(t, p.P99 >= p.P95)
}

func TestMonitor_RingBufferOverwritesOldestOnWrap(t *testing.T) {
	m := New(4, fixedCacheStats(1.0, 0, 0), DefaultThresholds())
	for _, ms := range []int{100, 100, 100, 100, 1, 1, 1, 1} {
		m.RecordResponseTime(time.Duration(ms) * time.Millisecond)
	}

	p := m.Percentiles()
	assert.Equal(t, 4, p.N)
	assert.Equal(t, 1*time.Millisecond, p.Mean, "only the last 4 samples should remain after wrap")
}

func TestMonitor_ThresholdsFlagDegradedHitRate(t *testing.T) {
	m := New(8, fixedCacheStats(0.10, 0, 100), DefaultThresholds())
	m.RecordResponseTime(5 * time.Millisecond)

	report := m.CheckPerformanceThresholds()
	assert.False(t, report.HitRateOk)
	assert.False(t, report.OverallHealthy)
}

func TestMonitor_ThresholdsHealthyWhenWithinBounds(t *testing.T) {
	m := New(8, fixedCacheStats(0.95, 1024, 10), DefaultThresholds())
	for i := 0; i < 8; i++ {
		m.RecordResponseTime(5 * time.Millisecond)
	}

	report := m.CheckPerformanceThresholds()
	assert.True(t, report.OverallHealthy)
}

func TestMonitor_GeneratePerformanceReportContainsRequiredSections(t *testing.T) {
	m := New(8, fixedCacheStats(0.9, 2048, 5), DefaultThresholds())
	m.RecordResponseTime(12 * time.Millisecond)

	report := m.GeneratePerformanceReport()
	for _, want := range []string{"Cache Performance Report", "Hit Rate:", "Response Times:", "Memory Usage:"} {
		assert.True(t, strings.Contains(report, want), "report missing %q:\n%s", want, report)
	}
}

func TestMonitor_EmptyWindowReportsZeroPercentiles(t *testing.T) {
	m := New(8, fixedCacheStats(0, 0, 0), DefaultThresholds())
	p := m.Percentiles()
	assert.Equal(t, 0, p.N)
	assert.Equal(t, time.Duration(0), p.P99)
}
