package rtstats

import (
	"math"
	"slices"
	"time"
)

// JitterStats summarizes tick start deviation from the schedule.
type JitterStats struct {
	P50 time.Duration
	P99 time.Duration
	Max time.Duration
}

// LatencyStats summarizes a duration such as processing time or HID write
// latency.
type LatencyStats struct {
	P50 time.Duration
	P99 time.Duration
	Max time.Duration
}

// Thresholds bound acceptable real-time behavior.
type Thresholds struct {
	MaxJitter                  time.Duration
	MaxProcessingTime          time.Duration
	MaxHIDLatency              time.Duration
	MaxTorqueSaturationPercent float64
	MaxTelemetryLossPercent    float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxJitter:                  250 * time.Microsecond,
		MaxProcessingTime:          200 * time.Microsecond,
		MaxHIDLatency:              300 * time.Microsecond,
		MaxTorqueSaturationPercent: 95,
		MaxTelemetryLossPercent:    5,
	}
}

// percentile returns the nearest-rank p-th percentile of sorted, with p in
// [0, 100]. Empty input yields zero.
func percentile(sorted []uint64, p float64) uint64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(n) / 100))
	rank = min(max(rank, 1), n)
	return sorted[rank-1]
}

// summarize sorts samples in place and returns p50, p99 and max.
func summarize(samples []uint64) (p50, p99, hi time.Duration) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	slices.Sort(samples)
	return time.Duration(percentile(samples, 50)),
		time.Duration(percentile(samples, 99)),
		time.Duration(samples[len(samples)-1])
}

// StreamingStats accumulates count, min, max and mean without keeping
// samples.
type StreamingStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

func (s *StreamingStats) Record(v uint64) {
	if s.count == 0 || v < s.min {
		s.min = v
	}
	s.max = max(s.max, v)
	s.count++
	s.sum += v
}

func (s *StreamingStats) RecordAll(vs []uint64) {
	for _, v := range vs {
		s.Record(v)
	}
}

func (s *StreamingStats) Count() uint64 { return s.count }
func (s *StreamingStats) Min() uint64   { return s.min }
func (s *StreamingStats) Max() uint64   { return s.max }

func (s *StreamingStats) Mean() float64 {
	if s.count == 0 {
		return 0
	}
	return float64(s.sum) / float64(s.count)
}

func (s *StreamingStats) Reset() { *s = StreamingStats{} }

// Snapshot is one collection pass.
type Snapshot struct {
	At             time.Time
	Counters       CounterSnapshot
	Jitter         JitterStats
	ProcessingTime LatencyStats
	HIDLatency     LatencyStats
	// Drained is how many samples of each kind this pass consumed.
	Drained QueueStats
}

// MissedTickRate is missed ticks as a percentage of all ticks.
func (s Snapshot) MissedTickRate() float64 {
	if s.Counters.Ticks == 0 {
		return 0
	}
	return float64(s.Counters.MissedTicks) / float64(s.Counters.Ticks) * 100
}

// HasViolations reports whether any p99 exceeds its threshold.
func (s Snapshot) HasViolations(t Thresholds) bool {
	return s.Jitter.P99 > t.MaxJitter ||
		s.ProcessingTime.P99 > t.MaxProcessingTime ||
		s.HIDLatency.P99 > t.MaxHIDLatency
}

// HasAppViolations checks the saturation and telemetry loss percentages.
func (s Snapshot) HasAppViolations(t Thresholds) bool {
	return s.Counters.TorqueSaturationPercent() > t.MaxTorqueSaturationPercent ||
		s.Counters.TelemetryLossPercent() > t.MaxTelemetryLossPercent
}
