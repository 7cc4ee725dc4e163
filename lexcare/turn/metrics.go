package turn

import (
	"slices"
	"sync"
	"time"
)

// latencyWindow is the number of recent samples kept per series.
const latencyWindow = 1000

// MetricsCollector collects counters and latencies for turns, phases and units.
type MetricsCollector struct {
	mu sync.RWMutex

	// Counters
	turnCount   int64
	stageCounts map[Stage]int64
	stepLimited int64

	// Latency tracking
	turnLatency  []time.Duration
	phaseLatency map[Phase][]time.Duration

	// Unit-specific metrics
	unitStats map[string]UnitStats
}

// UnitStats tracks metrics for one analysis unit.
type UnitStats struct {
	Calls        int64         `json:"calls"`
	Failures     int64         `json:"failures"`
	TotalLatency time.Duration `json:"total_latency"`
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		stageCounts:  make(map[Stage]int64),
		turnLatency:  make([]time.Duration, 0, latencyWindow),
		phaseLatency: make(map[Phase][]time.Duration),
		unitStats:    make(map[string]UnitStats),
	}
}

// RecordTurn records a finished turn.
func (mc *MetricsCollector) RecordTurn(duration time.Duration, stage Stage, stepLimited bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.turnCount++
	mc.stageCounts[stage]++
	if stepLimited {
		mc.stepLimited++
	}
	mc.turnLatency = pushSample(mc.turnLatency, duration)
}

// RecordPhase records one phase execution.
func (mc *MetricsCollector) RecordPhase(phase Phase, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.phaseLatency[phase] = pushSample(mc.phaseLatency[phase], duration)
}

// RecordUnit records one unit call.
func (mc *MetricsCollector) RecordUnit(name string, duration time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	stats := mc.unitStats[name]
	stats.Calls++
	stats.TotalLatency += duration
	if err != nil {
		stats.Failures++
	}
	mc.unitStats[name] = stats
}

// GetSummary returns a summary of collected metrics.
func (mc *MetricsCollector) GetSummary() MetricsSummary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	phases := make(map[string]LatencyPercentiles, len(mc.phaseLatency))
	for p, samples := range mc.phaseLatency {
		phases[p.String()] = percentiles(samples)
	}
	stages := make(map[Stage]int64, len(mc.stageCounts))
	for s, n := range mc.stageCounts {
		stages[s] = n
	}
	units := make(map[string]UnitStats, len(mc.unitStats))
	for n, s := range mc.unitStats {
		units[n] = s
	}

	return MetricsSummary{
		TurnCount:    mc.turnCount,
		StepLimited:  mc.stepLimited,
		Stages:       stages,
		Units:        units,
		TurnLatency:  percentiles(mc.turnLatency),
		PhaseLatency: phases,
	}
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.turnCount = 0
	mc.stepLimited = 0
	mc.stageCounts = make(map[Stage]int64)
	mc.turnLatency = mc.turnLatency[:0]
	mc.phaseLatency = make(map[Phase][]time.Duration)
	mc.unitStats = make(map[string]UnitStats)
}

// MetricsSummary represents a summary of collected metrics.
type MetricsSummary struct {
	TurnCount    int64                         `json:"turn_count"`
	StepLimited  int64                         `json:"step_limited"`
	Stages       map[Stage]int64               `json:"stages"`
	Units        map[string]UnitStats          `json:"units"`
	TurnLatency  LatencyPercentiles            `json:"turn_latency"`
	PhaseLatency map[string]LatencyPercentiles `json:"phase_latency"`
}

// LatencyPercentiles represents latency percentiles.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

func percentiles(latencies []time.Duration) LatencyPercentiles {
	if len(latencies) == 0 {
		return LatencyPercentiles{}
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)
	return LatencyPercentiles{
		P50: sorted[len(sorted)*50/100],
		P95: sorted[len(sorted)*95/100],
		P99: sorted[len(sorted)*99/100],
	}
}

func pushSample(samples []time.Duration, d time.Duration) []time.Duration {
	if len(samples) >= latencyWindow {
		copy(samples, samples[1:])
		samples = samples[:len(samples)-1]
	}
	return append(samples, d)
}
