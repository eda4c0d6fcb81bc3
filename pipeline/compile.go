package pipeline

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/wippyai/ffb-runtime/config"
	"github.com/wippyai/ffb-runtime/curve"
	"github.com/wippyai/ffb-runtime/errors"
	"github.com/wippyai/ffb-runtime/filter"
)

// Compiler turns profiles into pipelines. It runs off the real-time path.
type Compiler struct {
	logger *zap.Logger
}

func NewCompiler(logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = Logger()
	}
	return &Compiler{logger: logger}
}

// Compile validates p and emits nodes in the fixed order: reconstruction,
// friction, damper, inertia, notches, slew, curve, gain, torque cap,
// bumpstop, hands-off. Settings at their neutral value add no node.
func (c *Compiler) Compile(p *config.Profile) (*Pipeline, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidInput, err, "profile")
	}

	b := NewBuilder().WithHash(HashProfile(p))
	if p.Reconstruction != 0 {
		b.Add(filter.Reconstruction(p.Reconstruction))
	}
	if p.Friction != 0 {
		b.Add(filter.Friction(p.Friction, p.SpeedAdaptive))
	}
	if p.Damper != 0 {
		b.Add(filter.Damper(p.Damper, p.SpeedAdaptive))
	}
	if p.Inertia != 0 {
		b.Add(filter.Inertia(p.Inertia))
	}
	for _, n := range p.NotchFilters {
		b.Add(filter.Notch(n.Frequency, n.Q, n.GainDB))
	}
	if p.SlewRate < 1 && p.SlewRate > 0 {
		b.Add(filter.Slew(p.SlewRate))
	}
	if len(p.CurvePoints) > 0 && !curve.IsIdentityPoints(p.CurvePoints) {
		lut, err := curve.CustomType(p.CurvePoints...).ToLut()
		if err != nil {
			return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidInput, err, "curve_points")
		}
		b.Add(filter.Curve(lut))
	}
	if p.Gain != nil && *p.Gain != 1 {
		b.Add(filter.Gain(*p.Gain))
	}
	if p.TorqueCap < 1 {
		b.Add(filter.TorqueCap(p.TorqueCap))
	}
	if p.Bumpstop.Enabled {
		bs := p.Bumpstop
		b.Add(filter.Bumpstop(bs.StartAngle, bs.MaxAngle, bs.Stiffness, bs.Damping))
	}
	if p.HandsOff.Enabled {
		b.Add(filter.HandsOff(p.HandsOff.Threshold, p.HandsOff.TimeoutSeconds))
	}
	if p.ResponseCurve != nil && !p.ResponseCurve.IsIdentity() {
		lut, err := p.ResponseCurve.ToLut()
		if err != nil {
			return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidInput, err, "response_curve")
		}
		b.WithResponseCurve(lut)
	}

	pl, err := b.Build()
	if err != nil {
		return nil, err
	}
	c.logger.Debug("pipeline compiled",
		zap.String("profile", p.Name),
		zap.Int("nodes", pl.Len()),
		zap.Int("state_slots", pl.StateSize()),
		zap.Uint64("hash", pl.ConfigHash()))
	return pl, nil
}

// Result is delivered by CompileAsync.
type Result struct {
	Pipeline *Pipeline
	Err      error
}

// CompileAsync compiles on a new goroutine. The channel receives exactly one
// result, or is closed without one if ctx ends first.
func (c *Compiler) CompileAsync(ctx context.Context, p *config.Profile) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		pl, err := c.Compile(p)
		select {
		case <-ctx.Done():
		case out <- Result{Pipeline: pl, Err: err}:
		}
	}()
	return out
}

// HashProfile digests every field that affects pipeline behavior.
// The name is excluded so renaming a profile keeps its hash.
func HashProfile(p *config.Profile) uint64 {
	h := hasher{d: xxhash.New()}
	h.i(p.Reconstruction)
	h.f(p.Friction)
	h.f(p.Damper)
	h.f(p.Inertia)
	h.b(p.SpeedAdaptive)
	h.f(p.SlewRate)
	h.i(len(p.CurvePoints))
	for _, pt := range p.CurvePoints {
		h.f(pt.X)
		h.f(pt.Y)
	}
	h.i(len(p.NotchFilters))
	for _, n := range p.NotchFilters {
		h.f(n.Frequency)
		h.f(n.Q)
		h.f(n.GainDB)
	}
	if p.Gain != nil {
		h.b(true)
		h.f(*p.Gain)
	} else {
		h.b(false)
	}
	h.f(p.TorqueCap)
	h.b(p.Bumpstop.Enabled)
	h.f(p.Bumpstop.StartAngle)
	h.f(p.Bumpstop.MaxAngle)
	h.f(p.Bumpstop.Stiffness)
	h.f(p.Bumpstop.Damping)
	h.b(p.HandsOff.Enabled)
	h.f(p.HandsOff.Threshold)
	h.f(p.HandsOff.TimeoutSeconds)
	if rc := p.ResponseCurve; rc != nil {
		h.s(string(rc.Kind))
		h.f(rc.Exponent)
		h.f(rc.Base)
		if rc.Bezier != nil {
			h.f(rc.Bezier.P1.X)
			h.f(rc.Bezier.P1.Y)
			h.f(rc.Bezier.P2.X)
			h.f(rc.Bezier.P2.Y)
		}
		h.i(len(rc.Points))
		for _, pt := range rc.Points {
			h.f(pt.X)
			h.f(pt.Y)
		}
	}
	return h.d.Sum64()
}

type hasher struct {
	d   *xxhash.Digest
	buf [8]byte
}

func (h *hasher) f(v float32) {
	binary.LittleEndian.PutUint32(h.buf[:4], math.Float32bits(v))
	_, _ = h.d.Write(h.buf[:4])
}

func (h *hasher) i(v int) {
	binary.LittleEndian.PutUint64(h.buf[:], uint64(v))
	_, _ = h.d.Write(h.buf[:])
}

func (h *hasher) b(v bool) {
	if v {
		_, _ = h.d.Write([]byte{1})
	} else {
		_, _ = h.d.Write([]byte{0})
	}
}

func (h *hasher) s(v string) {
	h.i(len(v))
	_, _ = h.d.WriteString(v)
}
