package pipeline

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffb-runtime/config"
	"github.com/wippyai/ffb-runtime/curve"
	"github.com/wippyai/ffb-runtime/errors"
	"github.com/wippyai/ffb-runtime/filter"
)

func fullProfile() *config.Profile {
	p := config.DefaultProfile()
	gain := float32(0.9)
	p.Name = "full"
	p.Reconstruction = 2
	p.Friction = 0.1
	p.Damper = 0.1
	p.Inertia = 0.1
	p.NotchFilters = []config.Notch{{Frequency: 60, Q: 2, GainDB: -6}}
	p.SlewRate = 0.5
	p.CurvePoints = []curve.Point{{X: 0, Y: 0}, {X: 0.5, Y: 0.6}, {X: 1, Y: 1}}
	p.Gain = &gain
	p.TorqueCap = 0.8
	return &p
}

func TestEmptyPipelineIsIdentity(t *testing.T) {
	p, err := NewBuilder().Build()
	require.NoError(t, err)

	f := Frame{FfbIn: 0.3, TorqueOut: 5}
	require.NoError(t, p.Process(&f))
	assert.Equal(t, Frame{FfbIn: 0.3, TorqueOut: 5}, f)
	assert.Zero(t, p.Len())
}

func TestProcessFaults(t *testing.T) {
	tests := []struct {
		name  string
		nodes []filter.Node
		in    float32
		node  string
	}{
		{"gain overshoot", []filter.Node{filter.Gain(4)}, 0.5, "node[0]"},
		{"second node", []filter.Node{filter.TorqueCap(1), filter.Gain(3)}, 0.5, "node[1]"},
		{"nan", []filter.Node{filter.TorqueCap(0.5)}, float32(math.NaN()), "node[0]"},
		{"inf", []filter.Node{filter.Gain(1)}, float32(math.Inf(-1)), "node[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			for _, n := range tt.nodes {
				b.Add(n)
			}
			p, err := b.Build()
			require.NoError(t, err)

			f := Frame{TorqueOut: tt.in}
			err = p.Process(&f)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrPipelineFault)

			var e *errors.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.node, e.Path[0])
		})
	}
}

func TestExponentialResponseCurve(t *testing.T) {
	p := config.DefaultProfile()
	rc := curve.ExponentialType(2)
	p.ResponseCurve = &rc

	pl, err := NewCompiler(nil).Compile(&p)
	require.NoError(t, err)
	require.NotNil(t, pl.ResponseCurve())

	for _, tc := range []struct{ in, want float32 }{
		{0.5, 0.25},
		{-0.5, -0.25},
		{0, 0},
		{1, 1},
	} {
		f := Frame{FfbIn: tc.in, TorqueOut: tc.in}
		require.NoError(t, pl.Process(&f))
		assert.InDelta(t, tc.want, f.TorqueOut, 1e-3, "input %v", tc.in)
	}
}

func TestCompileNodeOrder(t *testing.T) {
	pl, err := NewCompiler(nil).Compile(fullProfile())
	require.NoError(t, err)

	assert.Equal(t, []filter.Kind{
		filter.KindReconstruction,
		filter.KindFriction,
		filter.KindDamper,
		filter.KindInertia,
		filter.KindNotch,
		filter.KindSlew,
		filter.KindCurve,
		filter.KindGain,
		filter.KindTorqueCap,
		filter.KindBumpstop,
		filter.KindHandsOff,
	}, pl.Kinds())

	def := config.DefaultProfile()
	pl, err = NewCompiler(nil).Compile(&def)
	require.NoError(t, err)
	assert.Equal(t, []filter.Kind{filter.KindBumpstop, filter.KindHandsOff}, pl.Kinds())
}

func TestCompileRejectsInvalidProfile(t *testing.T) {
	p := config.DefaultProfile()
	p.Reconstruction = 12
	_, err := NewCompiler(nil).Compile(&p)
	require.Error(t, err)
	assert.ErrorIs(t, err, &errors.Error{Kind: errors.KindInvalidInput, Phase: errors.PhaseCompile})
}

func TestOutputStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	pl, err := NewCompiler(nil).Compile(fullProfile())
	require.NoError(t, err)

	for i := range 20000 {
		in := rng.Float32()*2 - 1
		f := Frame{
			FfbIn:      in,
			TorqueOut:  in,
			WheelSpeed: rng.Float32()*4 - 2,
			Seq:        uint16(i),
		}
		if err := pl.Process(&f); err != nil {
			assert.ErrorIs(t, err, errors.ErrPipelineFault)
			continue
		}
		require.False(t, math.IsNaN(float64(f.TorqueOut)))
		require.LessOrEqual(t, abs(f.TorqueOut), float32(1))
	}
}

func TestDeterminism(t *testing.T) {
	a, err := NewCompiler(nil).Compile(fullProfile())
	require.NoError(t, err)
	b, err := NewCompiler(nil).Compile(fullProfile())
	require.NoError(t, err)
	require.Equal(t, a.ConfigHash(), b.ConfigHash())

	rng := rand.New(rand.NewPCG(7, 7))
	for range 1000 {
		in := rng.Float32()*2 - 1
		ws := rng.Float32() - 0.5
		fa := Frame{FfbIn: in, TorqueOut: in, WheelSpeed: ws}
		fb := fa
		errA := a.Process(&fa)
		errB := b.Process(&fb)
		require.Equal(t, errA == nil, errB == nil)
		require.Equal(t, fa, fb)
	}
}

func TestHashProfile(t *testing.T) {
	base := fullProfile()
	renamed := fullProfile()
	renamed.Name = "other"
	assert.Equal(t, HashProfile(base), HashProfile(renamed))

	changed := fullProfile()
	changed.Friction = 0.2
	assert.NotEqual(t, HashProfile(base), HashProfile(changed))

	withCurve := fullProfile()
	rc := curve.ExponentialType(2)
	withCurve.ResponseCurve = &rc
	assert.NotEqual(t, HashProfile(base), HashProfile(withCurve))
}

func TestBuilderHashFollowsNodes(t *testing.T) {
	a, err := NewBuilder().Add(filter.Gain(0.5)).Build()
	require.NoError(t, err)
	b, err := NewBuilder().Add(filter.Gain(0.5)).Build()
	require.NoError(t, err)
	c, err := NewBuilder().Add(filter.Gain(0.6)).Build()
	require.NoError(t, err)

	assert.Equal(t, a.ConfigHash(), b.ConfigHash())
	assert.NotEqual(t, a.ConfigHash(), c.ConfigHash())
}

func TestBuilderRejectsInvalidNode(t *testing.T) {
	_, err := NewBuilder().Add(filter.Gain(1)).Add(filter.Slew(0)).Add(filter.Gain(1)).Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "node.1")
}

func TestReset(t *testing.T) {
	p, err := NewBuilder().Add(filter.Reconstruction(4)).Build()
	require.NoError(t, err)

	f := Frame{FfbIn: 1}
	require.NoError(t, p.Process(&f))
	require.NoError(t, p.Process(&f))
	second := f.TorqueOut

	p.Reset()
	f = Frame{FfbIn: 1}
	require.NoError(t, p.Process(&f))
	assert.InDelta(t, 0.1, f.TorqueOut, 1e-6)
	assert.NotEqual(t, second, f.TorqueOut)

	clone := p.Clone()
	f1, f2 := Frame{FfbIn: 1}, Frame{FfbIn: 1}
	require.NoError(t, p.Process(&f1))
	require.NoError(t, clone.Process(&f2))
	assert.Equal(t, f1, f2)
}

func TestExecutorStagedSwap(t *testing.T) {
	first, err := NewBuilder().Add(filter.Gain(0.5)).Build()
	require.NoError(t, err)
	second, err := NewBuilder().Add(filter.Gain(0.25)).Build()
	require.NoError(t, err)

	exec := NewExecutor(first)
	assert.Equal(t, first.ConfigHash(), exec.ConfigHash())

	exec.Stage(second)
	assert.True(t, exec.HasPending())
	assert.Equal(t, first.ConfigHash(), exec.ConfigHash(), "staged pipeline is not active yet")

	f := Frame{TorqueOut: 1}
	require.NoError(t, exec.Process(&f))
	assert.Equal(t, float32(0.25), f.TorqueOut)
	assert.Equal(t, second.ConfigHash(), exec.ConfigHash())
	assert.False(t, exec.HasPending())
	assert.Equal(t, uint64(1), exec.Swaps())

	prev, err := exec.SwapAtTickBoundary(first)
	require.NoError(t, err)
	assert.Same(t, second, prev)
	assert.Equal(t, first.ConfigHash(), exec.ConfigHash())
}

func TestExecutorSwapDiscardsStaged(t *testing.T) {
	half, err := NewBuilder().Add(filter.Gain(0.5)).Build()
	require.NoError(t, err)
	quarter, err := NewBuilder().Add(filter.Gain(0.25)).Build()
	require.NoError(t, err)

	exec := NewExecutor(nil)
	exec.Stage(quarter)
	_, err = exec.SwapAtTickBoundary(half)
	require.NoError(t, err)
	assert.False(t, exec.HasPending())

	f := Frame{TorqueOut: 1}
	require.NoError(t, exec.Process(&f))
	assert.Equal(t, float32(0.5), f.TorqueOut, "the swapped pipeline stays active")
	assert.Same(t, half, exec.Active())
}

func TestExecutorSwapRejectsNil(t *testing.T) {
	pl, err := NewBuilder().Add(filter.Gain(0.5)).Build()
	require.NoError(t, err)
	exec := NewExecutor(pl)

	prev, err := exec.SwapAtTickBoundary(nil)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	assert.Nil(t, prev)
	assert.Same(t, pl, exec.Active())
	assert.Zero(t, exec.Swaps())
}

func TestExecutorNilStartsEmpty(t *testing.T) {
	exec := NewExecutor(nil)
	f := Frame{TorqueOut: 0.7}
	require.NoError(t, exec.Process(&f))
	assert.Equal(t, float32(0.7), f.TorqueOut)
}

func TestCompileAsync(t *testing.T) {
	res := <-NewCompiler(nil).CompileAsync(context.Background(), fullProfile())
	require.NoError(t, res.Err)
	assert.Equal(t, 11, res.Pipeline.Len())
}

func TestProcessDoesNotAllocate(t *testing.T) {
	pl, err := NewCompiler(nil).Compile(fullProfile())
	require.NoError(t, err)
	exec := NewExecutor(pl)

	f := Frame{FfbIn: 0.2, TorqueOut: 0.2, WheelSpeed: 0.1}
	allocs := testing.AllocsPerRun(200, func() {
		f.TorqueOut = f.FfbIn
		_ = exec.Process(&f)
	})
	assert.Zero(t, allocs)
}
