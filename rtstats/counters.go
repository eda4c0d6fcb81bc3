package rtstats

import "sync/atomic"

// Counters are monotonically increasing event counts updated by the tick
// loop. All methods are safe for concurrent use.
type Counters struct {
	ticks             atomic.Uint64
	missedTicks       atomic.Uint64
	safetyEvents      atomic.Uint64
	profileSwitches   atomic.Uint64
	telemetryReceived atomic.Uint64
	telemetryLost     atomic.Uint64
	saturationSamples atomic.Uint64
	saturationCount   atomic.Uint64
	hidWriteErrors    atomic.Uint64
	pipelineFaults    atomic.Uint64
	pluginViolations  atomic.Uint64
}

// CounterSnapshot is a point-in-time copy of Counters.
type CounterSnapshot struct {
	Ticks             uint64
	MissedTicks       uint64
	SafetyEvents      uint64
	ProfileSwitches   uint64
	TelemetryReceived uint64
	TelemetryLost     uint64
	SaturationSamples uint64
	SaturationCount   uint64
	HIDWriteErrors    uint64
	PipelineFaults    uint64
	PluginViolations  uint64
}

func (c *Counters) IncTick()                { c.ticks.Add(1) }
func (c *Counters) IncMissedTicks(n uint64) { c.missedTicks.Add(n) }
func (c *Counters) IncSafetyEvent()         { c.safetyEvents.Add(1) }
func (c *Counters) IncProfileSwitch()       { c.profileSwitches.Add(1) }
func (c *Counters) IncTelemetryReceived()   { c.telemetryReceived.Add(1) }
func (c *Counters) IncTelemetryLost()       { c.telemetryLost.Add(1) }
func (c *Counters) IncHIDWriteError()       { c.hidWriteErrors.Add(1) }
func (c *Counters) IncPipelineFault()       { c.pipelineFaults.Add(1) }
func (c *Counters) IncPluginViolation()     { c.pluginViolations.Add(1) }

// RecordTorqueSaturation counts one output sample and whether it was
// clamped at full scale.
func (c *Counters) RecordTorqueSaturation(saturated bool) {
	c.saturationSamples.Add(1)
	if saturated {
		c.saturationCount.Add(1)
	}
}

func (c *Counters) Ticks() uint64       { return c.ticks.Load() }
func (c *Counters) MissedTicks() uint64 { return c.missedTicks.Load() }

func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Ticks:             c.ticks.Load(),
		MissedTicks:       c.missedTicks.Load(),
		SafetyEvents:      c.safetyEvents.Load(),
		ProfileSwitches:   c.profileSwitches.Load(),
		TelemetryReceived: c.telemetryReceived.Load(),
		TelemetryLost:     c.telemetryLost.Load(),
		SaturationSamples: c.saturationSamples.Load(),
		SaturationCount:   c.saturationCount.Load(),
		HIDWriteErrors:    c.hidWriteErrors.Load(),
		PipelineFaults:    c.pipelineFaults.Load(),
		PluginViolations:  c.pluginViolations.Load(),
	}
}

// SnapshotAndReset returns the counts and zeroes them. Each counter is
// swapped individually, so increments racing with the call land in either
// this snapshot or the next, never in neither.
func (c *Counters) SnapshotAndReset() CounterSnapshot {
	return CounterSnapshot{
		Ticks:             c.ticks.Swap(0),
		MissedTicks:       c.missedTicks.Swap(0),
		SafetyEvents:      c.safetyEvents.Swap(0),
		ProfileSwitches:   c.profileSwitches.Swap(0),
		TelemetryReceived: c.telemetryReceived.Swap(0),
		TelemetryLost:     c.telemetryLost.Swap(0),
		SaturationSamples: c.saturationSamples.Swap(0),
		SaturationCount:   c.saturationCount.Swap(0),
		HIDWriteErrors:    c.hidWriteErrors.Swap(0),
		PipelineFaults:    c.pipelineFaults.Swap(0),
		PluginViolations:  c.pluginViolations.Swap(0),
	}
}

// TorqueSaturationPercent is zero before any sample was recorded.
func (s CounterSnapshot) TorqueSaturationPercent() float64 {
	if s.SaturationSamples == 0 {
		return 0
	}
	return float64(s.SaturationCount) / float64(s.SaturationSamples) * 100
}

// TelemetryLossPercent is lost / (received + lost) in percent.
func (s CounterSnapshot) TelemetryLossPercent() float64 {
	total := s.TelemetryReceived + s.TelemetryLost
	if total == 0 {
		return 0
	}
	return float64(s.TelemetryLost) / float64(total) * 100
}
