package rtstats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Collector drains SampleQueues off the real-time path. It is safe for
// concurrent use, but only one goroutine may call Collect at a time per
// SampleQueues, being the consumer side of every queue.
type Collector struct {
	queues     *SampleQueues
	counters   *Counters
	thresholds Thresholds
	now        func() time.Time

	mu         sync.Mutex
	jitter     []uint64
	processing []uint64
	hid        []uint64
	totals     [3]StreamingStats
	last       Snapshot
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

func WithThresholds(t Thresholds) CollectorOption {
	return func(c *Collector) { c.thresholds = t }
}

func WithCollectorClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

func NewCollector(q *SampleQueues, counters *Counters, opts ...CollectorOption) *Collector {
	c := &Collector{
		queues:     q,
		counters:   counters,
		thresholds: DefaultThresholds(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect drains all queues and returns statistics over the drained
// samples. Counters are cumulative.
func (c *Collector) Collect() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.jitter = c.queues.DrainJitter(c.jitter[:0])
	c.processing = c.queues.DrainProcessingTime(c.processing[:0])
	c.hid = c.queues.DrainHIDLatency(c.hid[:0])
	c.totals[0].RecordAll(c.jitter)
	c.totals[1].RecordAll(c.processing)
	c.totals[2].RecordAll(c.hid)

	s := Snapshot{
		At:       c.now(),
		Counters: c.counters.Snapshot(),
		Drained: QueueStats{
			Jitter:         len(c.jitter),
			ProcessingTime: len(c.processing),
			HIDLatency:     len(c.hid),
		},
	}
	s.Jitter.P50, s.Jitter.P99, s.Jitter.Max = summarize(c.jitter)
	s.ProcessingTime.P50, s.ProcessingTime.P99, s.ProcessingTime.Max = summarize(c.processing)
	s.HIDLatency.P50, s.HIDLatency.P99, s.HIDLatency.Max = summarize(c.hid)

	if s.HasViolations(c.thresholds) {
		Logger().Warn("real-time thresholds exceeded",
			zap.Duration("jitter_p99", s.Jitter.P99),
			zap.Duration("processing_p99", s.ProcessingTime.P99),
			zap.Duration("hid_latency_p99", s.HIDLatency.P99))
	}
	c.last = s
	return s
}

// Last returns the most recent snapshot.
func (c *Collector) Last() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Totals returns running statistics of every sample collected so far, in
// nanoseconds: jitter, processing time and HID latency.
func (c *Collector) Totals() (jitter, processing, hid StreamingStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[0], c.totals[1], c.totals[2]
}

func (c *Collector) Thresholds() Thresholds { return c.thresholds }

// Run collects every interval and passes each snapshot to sink until ctx
// is done.
func (c *Collector) Run(ctx context.Context, interval time.Duration, sink func(Snapshot)) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s := c.Collect()
			if sink != nil {
				sink(s)
			}
		}
	}
}
