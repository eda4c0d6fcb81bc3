// Package rtstats carries timing samples and counters out of the real-time
// loop and turns them into statistics.
//
// The tick loop pushes nanosecond samples into SampleQueues and bumps
// Counters; neither allocates nor blocks. A Collector on another goroutine
// drains the queues, computes percentiles and hands Snapshots to an
// Exporter for Prometheus.
package rtstats
