package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffb-runtime/curve"
)

func newState(t *testing.T, n Node) []float32 {
	t.Helper()
	require.NoError(t, n.Validate())
	s := make([]float32, StateSize(n.Kind))
	n.Init(s)
	return s
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "notch", KindNotch.String())
	assert.Equal(t, "hands_off", KindHandsOff.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
	assert.False(t, Kind(0).Valid())
	assert.Zero(t, StateSize(Kind(0)))
	assert.Equal(t, curve.LutSize, StateSize(KindCurve))
}

func TestReconstruction(t *testing.T) {
	t.Run("level zero passes through", func(t *testing.T) {
		s := newState(t, Reconstruction(0))
		f := Frame{FfbIn: 0.7}
		Step(KindReconstruction, &f, s)
		assert.Equal(t, float32(0.7), f.TorqueOut)
	})

	t.Run("smoothing converges", func(t *testing.T) {
		s := newState(t, Reconstruction(4))
		f := Frame{FfbIn: 1}
		Step(KindReconstruction, &f, s)
		assert.InDelta(t, 0.1, f.TorqueOut, 1e-6)
		for range 200 {
			Step(KindReconstruction, &f, s)
		}
		assert.InDelta(t, 1, f.TorqueOut, 1e-3)
	})

	t.Run("level clamps", func(t *testing.T) {
		assert.Equal(t, Reconstruction(MaxReconstructionLevel), Reconstruction(42))
		assert.Equal(t, Reconstruction(0), Reconstruction(-1))
	})
}

func TestFriction(t *testing.T) {
	s := newState(t, Friction(0.1, false))

	f := Frame{TorqueOut: 0.5}
	Step(KindFriction, &f, s)
	assert.Equal(t, float32(0.5), f.TorqueOut, "stationary wheel feels no friction")

	f = Frame{TorqueOut: 0.5, WheelSpeed: 2}
	Step(KindFriction, &f, s)
	assert.InDelta(t, 0.4, f.TorqueOut, 1e-6)

	adaptive := newState(t, Friction(0.1, true))
	f = Frame{WheelSpeed: -20}
	Step(KindFriction, &f, adaptive)
	assert.InDelta(t, 0.02, f.TorqueOut, 1e-6)
}

func TestDamperOpposesMotion(t *testing.T) {
	s := newState(t, Damper(0.05, false))
	f := Frame{WheelSpeed: 4}
	Step(KindDamper, &f, s)
	assert.InDelta(t, -0.2, f.TorqueOut, 1e-6)
}

func TestInertia(t *testing.T) {
	s := newState(t, Inertia(0.5))
	f := Frame{WheelSpeed: 1}
	Step(KindInertia, &f, s)
	assert.InDelta(t, -0.5, f.TorqueOut, 1e-6)

	f = Frame{WheelSpeed: 1}
	Step(KindInertia, &f, s)
	assert.InDelta(t, 0, f.TorqueOut, 1e-6, "constant speed has no inertia torque")
}

func TestNotchAttenuatesCenterFrequency(t *testing.T) {
	const freq = 50
	s := newState(t, Notch(freq, 2, 0))

	var peak float32
	for i := range 2000 {
		in := float32(math.Sin(2 * math.Pi * freq * float64(i) / TickRate))
		f := Frame{TorqueOut: in}
		Step(KindNotch, &f, s)
		if i > 1000 {
			peak = max(peak, abs(f.TorqueOut))
		}
	}
	assert.Less(t, peak, float32(0.05))

	dc := newState(t, Notch(freq, 2, 0))
	f := Frame{}
	for range 500 {
		f.TorqueOut = 0.5
		Step(KindNotch, &f, dc)
	}
	assert.InDelta(t, 0.5, f.TorqueOut, 1e-3, "DC passes")
}

func TestSlewLimitsRate(t *testing.T) {
	s := newState(t, Slew(100))
	f := Frame{TorqueOut: 1}
	Step(KindSlew, &f, s)
	assert.InDelta(t, 0.1, f.TorqueOut, 1e-6)

	f.TorqueOut = -1
	Step(KindSlew, &f, s)
	assert.InDelta(t, 0, f.TorqueOut, 1e-6)
}

func TestCurvePreservesSign(t *testing.T) {
	lut, err := curve.ExponentialType(2).ToLut()
	require.NoError(t, err)
	s := newState(t, Curve(lut))

	f := Frame{TorqueOut: 0.5}
	Step(KindCurve, &f, s)
	assert.InDelta(t, 0.25, f.TorqueOut, 1e-3)

	f = Frame{TorqueOut: -0.5}
	Step(KindCurve, &f, s)
	assert.InDelta(t, -0.25, f.TorqueOut, 1e-3)
}

func TestTorqueCap(t *testing.T) {
	s := newState(t, TorqueCap(0.6))
	for _, tc := range []struct{ in, want float32 }{
		{0.9, 0.6}, {-0.9, -0.6}, {0.3, 0.3},
	} {
		f := Frame{TorqueOut: tc.in}
		Step(KindTorqueCap, &f, s)
		assert.Equal(t, tc.want, f.TorqueOut)
	}
}

func TestBumpstopPushesBack(t *testing.T) {
	s := newState(t, Bumpstop(0.01, 0.02, 1, 0))

	f := Frame{WheelSpeed: 5}
	Step(KindBumpstop, &f, s)
	assert.Equal(t, float32(0), f.TorqueOut, "inside the free range")

	f = Frame{WheelSpeed: 10}
	Step(KindBumpstop, &f, s)
	assert.Less(t, f.TorqueOut, float32(0))
}

func TestHandsOffDetection(t *testing.T) {
	s := newState(t, HandsOff(0.05, 0.003))
	f := Frame{}
	for i := range 3 {
		Step(KindHandsOff, &f, s)
		assert.Equal(t, i == 2, f.HandsOff, "tick %d", i)
	}

	f.TorqueOut = 0.5
	Step(KindHandsOff, &f, s)
	assert.False(t, f.HandsOff)
}

func TestGain(t *testing.T) {
	s := newState(t, Gain(0.5))
	f := Frame{TorqueOut: 0.8}
	Step(KindGain, &f, s)
	assert.InDelta(t, 0.4, f.TorqueOut, 1e-6)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		node    Node
		wantErr bool
	}{
		{"gain", Gain(1), false},
		{"unknown kind", Node{Kind: 77}, true},
		{"nan param", Gain(float32(math.NaN())), true},
		{"notch at nyquist", Notch(500, 1, 0), true},
		{"notch q zero", Notch(50, 0, 0), true},
		{"slew zero", Slew(0), true},
		{"curve missing", Node{Kind: KindCurve}, true},
		{"cap above one", TorqueCap(1.5), true},
		{"bumpstop inverted", Bumpstop(2, 1, 1, 0), true},
		{"negative damper", Damper(-1, false), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.node.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStepDoesNotAllocate(t *testing.T) {
	s := newState(t, Notch(60, 1, -6))
	f := Frame{TorqueOut: 0.3}
	allocs := testing.AllocsPerRun(100, func() {
		Step(KindNotch, &f, s)
	})
	assert.Zero(t, allocs)
}
