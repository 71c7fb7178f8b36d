// Package monitor implements rolling response-time windows, threshold
// checks, and a human-readable performance report.
package monitor

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"
)

// CacheStatsFunc reports the cache's current hit rate and memory usage,
// decoupling the monitor from the concrete cache implementation.
type CacheStatsFunc func() (hitRate float64, memoryUsage int64, entries int64)

// Thresholds configures CheckPerformanceThresholds.
type Thresholds struct {
	MinHitRate         float64
	MaxP95ResponseTime time.Duration
	MaxMemoryUsage     int64
}

// DefaultThresholds returns conservative defaults for a sub-100ms serving
// path.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinHitRate:         0.80,
		MaxP95ResponseTime: 100 * time.Millisecond,
		MaxMemoryUsage:     512 * 1024 * 1024,
	}
}

// Monitor records response-time samples in a fixed-capacity ring buffer and
// reports percentiles, hit rate, and memory usage against thresholds.
type Monitor struct {
	mu         sync.Mutex
	samples    []time.Duration
	writeIndex int
	filled     bool
	capacity   int

	cacheStats CacheStatsFunc
	thresholds Thresholds
}

// New constructs a Monitor with a ring buffer of the given capacity
// (default 1024).
func New(capacity int, cacheStats CacheStatsFunc, thresholds Thresholds) *Monitor {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Monitor{
		samples:    make([]time.Duration, capacity),
		capacity:   capacity,
		cacheStats: cacheStats,
		thresholds: thresholds,
	}
}

// RecordResponseTime appends one sample to the rolling window, overwriting
// the oldest sample once the window is full.
func (m *Monitor) RecordResponseTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples[m.writeIndex] = d
	m.writeIndex = (m.writeIndex + 1) % m.capacity
	if m.writeIndex == 0 {
		m.filled = true
	}
}

// snapshotSorted returns a sorted copy of the currently populated samples; caller
// must hold m.mu.
func (m *Monitor) snapshotSorted() []time.Duration {
	n := m.writeIndex
	if m.filled {
		n = m.capacity
	}
	out := make([]time.Duration, n)
	copy(out, m.samples[:n])
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Percentiles reports mean/p50/p95/p99 over the current window.
type Percentiles struct {
	Mean time.Duration
	P50  time.Duration
	P95  time.Duration
	P99  time.Duration
	N    int
}

func percentileAt(sorted []time.Duration, p float64) time.Duration {
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

// Percentiles computes the current window's response-time statistics.
func (m *Monitor) Percentiles() Percentiles {
	m.mu.Lock()
	sorted := m.snapshotSorted()
	m.mu.Unlock()

	if len(sorted) == 0 {
		return Percentiles{}
	}

	var sum time.Duration
	for _, s := range sorted {
		sum += s
	}

	return Percentiles{
		Mean: sum / time.Duration(len(sorted)),
		P50:  percentileAt(sorted, 0.50),
		P95:  percentileAt(sorted, 0.95),
		P99:  percentileAt(sorted, 0.99),
		N:    len(sorted),
	}
}

// MemorySnapshot captures a point-in-time memory usage reading.
type MemorySnapshot struct {
	AllocBytes      uint64
	HeapObjects     uint64
	CacheEntries    int64
	CacheMemoryUsed int64
}

// RecordMemorySnapshot samples runtime memory stats plus the cache's own
// memory proxy. Called on query.
func (m *Monitor) RecordMemorySnapshot() MemorySnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var hitRate float64
	var cacheMem int64
	var entries int64
	if m.cacheStats != nil {
		hitRate, cacheMem, entries = m.cacheStats()
		_ = hitRate
	}

	return MemorySnapshot{
		AllocBytes:      ms.Alloc,
		HeapObjects:     ms.HeapObjects,
		CacheEntries:    entries,
		CacheMemoryUsed: cacheMem,
	}
}

// ThresholdReport is the result of CheckPerformanceThresholds.
type ThresholdReport struct {
	HitRateOk       bool
	ResponseTimeOk  bool
	MemoryUsageOk   bool
	OverallHealthy  bool
}

// CheckPerformanceThresholds evaluates current stats against the configured
// thresholds.
func (m *Monitor) CheckPerformanceThresholds() ThresholdReport {
	hitRate, cacheMem, _ := 0.0, int64(0), int64(0)
	if m.cacheStats != nil {
		hitRate, cacheMem, _ = m.cacheStats()
	}
	p := m.Percentiles()

	report := ThresholdReport{
		HitRateOk:      hitRate >= m.thresholds.MinHitRate,
		ResponseTimeOk: p.N == 0 || p.P95 <= m.thresholds.MaxP95ResponseTime,
		MemoryUsageOk:  cacheMem <= m.thresholds.MaxMemoryUsage,
	}
	report.OverallHealthy = report.HitRateOk && report.ResponseTimeOk && report.MemoryUsageOk
	return report
}

// GeneratePerformanceReport renders a human-readable summary, with each
// metric's name and value inline so a downstream consumer can grep it.
func (m *Monitor) GeneratePerformanceReport() string {
	p := m.Percentiles()
	mem := m.RecordMemorySnapshot()
	hitRate := 0.0
	if m.cacheStats != nil {
		hitRate, _, _ = m.cacheStats()
	}

	return fmt.Sprintf(
		"Cache Performance Report\nHit Rate: %.2f%%\nResponse Times: mean=%v p50=%v p95=%v p99=%v (n=%d)\nMemory Usage: alloc=%dB heap_objects=%d cache_entries=%d cache_bytes=%dB\n",
		hitRate*100,
		p.Mean, p.P50, p.P95, p.P99, p.N,
		mem.AllocBytes, mem.HeapObjects, mem.CacheEntries, mem.CacheMemoryUsed,
	)
}
