package watchdog

import "sync"

// ExecutionStats summarizes a plugin's calls.
type ExecutionStats struct {
	Executions  uint64
	Crashes     uint64
	TotalTimeUs uint64
	MaxTimeUs   uint64
	LastTimeUs  uint64
}

// AvgTimeUs is the mean call time in microseconds.
func (s ExecutionStats) AvgTimeUs() float64 {
	if s.Executions == 0 {
		return 0
	}
	return float64(s.TotalTimeUs) / float64(s.Executions)
}

// CrashRate is the percentage of failed calls.
func (s ExecutionStats) CrashRate() float64 {
	if s.Executions == 0 {
		return 0
	}
	return float64(s.Crashes) / float64(s.Executions) * 100
}

// FailureTracker accumulates per-plugin execution statistics.
type FailureTracker struct {
	stats map[string]*ExecutionStats
	mu    sync.Mutex
}

func NewFailureTracker() *FailureTracker {
	return &FailureTracker{stats: make(map[string]*ExecutionStats)}
}

// RecordExecution adds one call that took timeUs; ok is false for failed calls.
func (t *FailureTracker) RecordExecution(id string, timeUs uint64, ok bool) {
	t.mu.Lock()
	s, found := t.stats[id]
	if !found {
		s = &ExecutionStats{}
		t.stats[id] = s
	}
	s.Executions++
	s.TotalTimeUs += timeUs
	s.LastTimeUs = timeUs
	if timeUs > s.MaxTimeUs {
		s.MaxTimeUs = timeUs
	}
	if !ok {
		s.Crashes++
	}
	t.mu.Unlock()
}

func (t *FailureTracker) Stats(id string) (ExecutionStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[id]
	if !ok {
		return ExecutionStats{}, false
	}
	return *s, true
}

// Reset drops the statistics for id.
func (t *FailureTracker) Reset(id string) {
	t.mu.Lock()
	delete(t.stats, id)
	t.mu.Unlock()
}
