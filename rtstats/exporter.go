package rtstats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ffb"

// Exporter mirrors collector snapshots into Prometheus metrics.
type Exporter struct {
	jitter     *prometheus.GaugeVec
	processing *prometheus.GaugeVec
	hidLatency *prometheus.GaugeVec
	drained    *prometheus.CounterVec

	ticks            prometheus.Counter
	missedTicks      prometheus.Counter
	safetyEvents     prometheus.Counter
	profileSwitches  prometheus.Counter
	hidWriteErrors   prometheus.Counter
	pipelineFaults   prometheus.Counter
	pluginViolations prometheus.Counter

	missedTickRate  prometheus.Gauge
	saturation      prometheus.Gauge
	telemetryLoss   prometheus.Gauge
	thresholdBreach prometheus.Gauge

	thresholds Thresholds

	mu   sync.Mutex
	last CounterSnapshot
}

// NewExporter registers the metrics with reg.
func NewExporter(reg prometheus.Registerer, thresholds Thresholds) *Exporter {
	f := promauto.With(reg)
	quantiles := []string{"quantile"}
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	return &Exporter{
		jitter: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rt",
			Name:      "jitter_seconds",
			Help:      "Tick jitter over the last collection interval",
		}, quantiles),
		processing: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rt",
			Name:      "processing_seconds",
			Help:      "Per-tick processing time over the last collection interval",
		}, quantiles),
		hidLatency: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hid",
			Name:      "write_latency_seconds",
			Help:      "Device write latency over the last collection interval",
		}, quantiles),
		drained: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rt",
			Name:      "samples_total",
			Help:      "Timing samples collected by queue",
		}, []string{"queue"}),
		ticks:            counter("ticks_total", "Ticks executed"),
		missedTicks:      counter("missed_ticks_total", "Ticks skipped because the loop overran"),
		safetyEvents:     counter("safety_events_total", "Safety interventions"),
		profileSwitches:  counter("profile_switches_total", "Pipeline swaps"),
		hidWriteErrors:   counter("hid_write_errors_total", "Failed device writes"),
		pipelineFaults:   counter("pipeline_faults_total", "Pipeline faults handled by the degrade policy"),
		pluginViolations: counter("plugin_violations_total", "Plugin violations reported to the watchdog"),
		missedTickRate:   gauge("missed_tick_rate_percent", "Missed ticks as a percentage of all ticks"),
		saturation:       gauge("torque_saturation_percent", "Output samples clamped at full scale"),
		telemetryLoss:    gauge("telemetry_loss_percent", "Telemetry packets lost"),
		thresholdBreach:  gauge("rt_threshold_breach", "1 when a p99 exceeded its threshold in the last interval"),
		thresholds:       thresholds,
	}
}

func setQuantiles(g *prometheus.GaugeVec, p50, p99, hi float64) {
	g.WithLabelValues("0.5").Set(p50)
	g.WithLabelValues("0.99").Set(p99)
	g.WithLabelValues("1").Set(hi)
}

// delta is the increase from prev to cur; a counter reset counts from zero.
func delta(prev, cur uint64) float64 {
	if cur < prev {
		return float64(cur)
	}
	return float64(cur - prev)
}

// Observe publishes s. Counter metrics advance by the difference to the
// previously observed snapshot.
func (e *Exporter) Observe(s Snapshot) {
	setQuantiles(e.jitter, s.Jitter.P50.Seconds(), s.Jitter.P99.Seconds(), s.Jitter.Max.Seconds())
	setQuantiles(e.processing, s.ProcessingTime.P50.Seconds(), s.ProcessingTime.P99.Seconds(), s.ProcessingTime.Max.Seconds())
	setQuantiles(e.hidLatency, s.HIDLatency.P50.Seconds(), s.HIDLatency.P99.Seconds(), s.HIDLatency.Max.Seconds())
	e.drained.WithLabelValues("jitter").Add(float64(s.Drained.Jitter))
	e.drained.WithLabelValues("processing_time").Add(float64(s.Drained.ProcessingTime))
	e.drained.WithLabelValues("hid_latency").Add(float64(s.Drained.HIDLatency))

	e.mu.Lock()
	prev, cur := e.last, s.Counters
	e.last = cur
	e.mu.Unlock()

	e.ticks.Add(delta(prev.Ticks, cur.Ticks))
	e.missedTicks.Add(delta(prev.MissedTicks, cur.MissedTicks))
	e.safetyEvents.Add(delta(prev.SafetyEvents, cur.SafetyEvents))
	e.profileSwitches.Add(delta(prev.ProfileSwitches, cur.ProfileSwitches))
	e.hidWriteErrors.Add(delta(prev.HIDWriteErrors, cur.HIDWriteErrors))
	e.pipelineFaults.Add(delta(prev.PipelineFaults, cur.PipelineFaults))
	e.pluginViolations.Add(delta(prev.PluginViolations, cur.PluginViolations))

	e.missedTickRate.Set(s.MissedTickRate())
	e.saturation.Set(cur.TorqueSaturationPercent())
	e.telemetryLoss.Set(cur.TelemetryLossPercent())
	if s.HasViolations(e.thresholds) {
		e.thresholdBreach.Set(1)
	} else {
		e.thresholdBreach.Set(0)
	}
}
