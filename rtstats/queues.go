package rtstats

import "fmt"

// DefaultQueueCapacity holds ten seconds of samples at 1 kHz.
const DefaultQueueCapacity = 10_000

// QueueFullError is returned by a Push when the queue is full. The sample
// was not stored.
type QueueFullError struct {
	Queue string
	Value uint64
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("rtstats: %s queue full, dropped %d", e.Queue, e.Value)
}

// SampleQueues holds three independent bounded queues of nanosecond
// samples. Each queue has one producer, the tick loop, and one consumer,
// the collector.
type SampleQueues struct {
	jitter     *ring
	processing *ring
	hidLatency *ring
}

// NewSampleQueues returns queues of DefaultQueueCapacity.
func NewSampleQueues() *SampleQueues {
	return WithCapacity(DefaultQueueCapacity)
}

// WithCapacity returns queues holding capacity samples each. Capacities
// below one are raised to one.
func WithCapacity(capacity int) *SampleQueues {
	capacity = max(capacity, 1)
	return &SampleQueues{
		jitter:     newRing(capacity),
		processing: newRing(capacity),
		hidLatency: newRing(capacity),
	}
}

func (q *SampleQueues) PushJitter(ns uint64) error {
	if !q.jitter.push(ns) {
		return &QueueFullError{Queue: "jitter", Value: ns}
	}
	return nil
}

// PushJitterDrop discards ns when the queue is full.
func (q *SampleQueues) PushJitterDrop(ns uint64) { q.jitter.push(ns) }

func (q *SampleQueues) PopJitter() (uint64, bool) { return q.jitter.pop() }
func (q *SampleQueues) JitterLen() int            { return q.jitter.len() }

// DrainJitter appends every queued jitter sample to dst.
func (q *SampleQueues) DrainJitter(dst []uint64) []uint64 { return q.jitter.drain(dst) }

func (q *SampleQueues) PushProcessingTime(ns uint64) error {
	if !q.processing.push(ns) {
		return &QueueFullError{Queue: "processing_time", Value: ns}
	}
	return nil
}

func (q *SampleQueues) PushProcessingTimeDrop(ns uint64)          { q.processing.push(ns) }
func (q *SampleQueues) PopProcessingTime() (uint64, bool)         { return q.processing.pop() }
func (q *SampleQueues) ProcessingTimeLen() int                    { return q.processing.len() }
func (q *SampleQueues) DrainProcessingTime(dst []uint64) []uint64 { return q.processing.drain(dst) }

func (q *SampleQueues) PushHIDLatency(ns uint64) error {
	if !q.hidLatency.push(ns) {
		return &QueueFullError{Queue: "hid_latency", Value: ns}
	}
	return nil
}

func (q *SampleQueues) PushHIDLatencyDrop(ns uint64)          { q.hidLatency.push(ns) }
func (q *SampleQueues) PopHIDLatency() (uint64, bool)         { return q.hidLatency.pop() }
func (q *SampleQueues) HIDLatencyLen() int                    { return q.hidLatency.len() }
func (q *SampleQueues) DrainHIDLatency(dst []uint64) []uint64 { return q.hidLatency.drain(dst) }

// QueueStats is the fill level of each queue.
type QueueStats struct {
	Jitter         int
	ProcessingTime int
	HIDLatency     int
}

func (q *SampleQueues) Stats() QueueStats {
	return QueueStats{
		Jitter:         q.jitter.len(),
		ProcessingTime: q.processing.len(),
		HIDLatency:     q.hidLatency.len(),
	}
}
