package device

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	ffb "github.com/wippyai/ffb-runtime"
	"github.com/wippyai/ffb-runtime/errors"
)

// SimulatorConfig describes the simulated wheel. Zero fields take defaults.
type SimulatorConfig struct {
	Now func() time.Time
	// MaxTorqueNm is the torque at full scale.
	MaxTorqueNm float32
	// Inertia of rim and motor in kg·m².
	Inertia float32
	// Damping in Nm per rad/s.
	Damping float32
	// Centering is the game's self-aligning force per 90 degrees of
	// rotation, in full-scale units.
	Centering float32
	// LockDeg is the mechanical stop on either side.
	LockDeg      float32
	TemperatureC uint8
}

func (c *SimulatorConfig) defaults() {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.MaxTorqueNm <= 0 {
		c.MaxTorqueNm = 8
	}
	if c.Inertia <= 0 {
		c.Inertia = 0.05
	}
	if c.Damping <= 0 {
		c.Damping = 0.02
	}
	if c.Centering == 0 {
		c.Centering = 0.6
	}
	if c.LockDeg <= 0 {
		c.LockDeg = 540
	}
	if c.TemperatureC == 0 {
		c.TemperatureC = 40
	}
}

// Simulator is a wheel base in software. Torque reports written to it
// drive a rigid rim with inertia and damping, and Poll reports the result
// as telemetry with the game's force request derived from the rim angle.
type Simulator struct {
	cfg SimulatorConfig

	mu       sync.Mutex
	angle    float32 // degrees
	speed    float32 // rad/s
	torqueNm float32
	lastSeq  uint16
	handsOff bool
	faults   uint8
	last     time.Time
	start    time.Time
	report   [TelemetryReportSize]byte

	outputs   atomic.Uint64
	features  atomic.Uint64
	failNext  atomic.Int64
	writeFail error
}

var _ ffb.DeviceWriter = (*Simulator)(nil)
var _ ffb.TelemetrySource = (*Simulator)(nil)

func NewSimulator(cfg SimulatorConfig) *Simulator {
	cfg.defaults()
	now := cfg.Now()
	return &Simulator{
		cfg:       cfg,
		last:      now,
		start:     now,
		writeFail: errors.New(errors.PhaseRuntime, errors.KindInvalidData).Detail("simulated write failure").Build(),
	}
}

// WriteOutputReport applies a torque report.
func (s *Simulator) WriteOutputReport(b []byte) (int, error) {
	if s.failNext.Load() > 0 && s.failNext.Add(-1) >= 0 {
		return 0, s.writeFail
	}
	cmd, err := ParseTorque(b)
	if err != nil {
		return 0, err
	}
	lim := s.cfg.MaxTorqueNm
	s.mu.Lock()
	s.torqueNm = max(-lim, min(lim, cmd.TorqueNm))
	s.lastSeq = cmd.Seq
	s.mu.Unlock()
	s.outputs.Add(1)
	return len(b), nil
}

// WriteFeatureReport accepts and counts any feature report.
func (s *Simulator) WriteFeatureReport(b []byte) (int, error) {
	s.features.Add(1)
	return len(b), nil
}

// Poll advances the physics to now and returns the telemetry. It reports
// false when no time has passed since the previous poll.
func (s *Simulator) Poll() (ffb.TelemetrySample, bool) {
	now := s.cfg.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	dt := float32(now.Sub(s.last).Seconds())
	if dt <= 0 {
		return ffb.TelemetrySample{}, false
	}
	s.last = now
	s.step(dt)

	r, _ := ParseTelemetry(PutTelemetry(s.report[:], TelemetryReport{
		WheelAngleDeg: s.angle,
		WheelSpeed:    s.speed,
		TemperatureC:  s.cfg.TemperatureC,
		FaultFlags:    s.faults,
		HandsOn:       !s.handsOff,
	}))
	ffbIn := -s.cfg.Centering * r.WheelAngleDeg / 90
	return ffb.TelemetrySample{
		FfbIn:         max(-1, min(1, ffbIn)),
		WheelAngleDeg: r.WheelAngleDeg,
		WheelSpeed:    r.WheelSpeed,
		TemperatureC:  float32(r.TemperatureC),
		FaultFlags:    uint32(r.FaultFlags),
		HandsOff:      !r.HandsOn,
		TsMonoNs:      uint64(now.Sub(s.start)),
	}, true
}

// step integrates the rim over dt seconds. s.mu is held.
func (s *Simulator) step(dt float32) {
	accel := (s.torqueNm - s.cfg.Damping*s.speed) / s.cfg.Inertia
	s.speed += accel * dt
	s.angle += s.speed * dt * 180 / math.Pi
	if lock := s.cfg.LockDeg; s.angle > lock || s.angle < -lock {
		s.angle = max(-lock, min(lock, s.angle))
		s.speed = 0
	}
}

// SetAngle places the rim at deg, at rest.
func (s *Simulator) SetAngle(deg float32) {
	s.mu.Lock()
	s.angle, s.speed = deg, 0
	s.mu.Unlock()
}

func (s *Simulator) SetHandsOff(off bool) {
	s.mu.Lock()
	s.handsOff = off
	s.mu.Unlock()
}

func (s *Simulator) SetFaults(f uint8) {
	s.mu.Lock()
	s.faults = f
	s.mu.Unlock()
}

// FailWrites makes the next n output writes fail.
func (s *Simulator) FailWrites(n int) { s.failNext.Store(int64(n)) }

// State returns the rim angle in degrees, speed in rad/s, the applied
// torque in Nm and the sequence number of the last torque report.
func (s *Simulator) State() (angle, speed, torqueNm float32, seq uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle, s.speed, s.torqueNm, s.lastSeq
}

// Writes returns how many output and feature reports were accepted.
func (s *Simulator) Writes() (output, feature uint64) {
	return s.outputs.Load(), s.features.Load()
}

func (s *Simulator) MaxTorqueNm() float32 { return s.cfg.MaxTorqueNm }
