package curve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearLookup(t *testing.T) {
	lut := Linear()

	tests := []struct {
		in, want float32
	}{
		{0, 0},
		{0.25, 0.25},
		{0.5, 0.5},
		{1, 1},
		{-0.5, 0},
		{2, 1},
		{float32(math.NaN()), 0},
		{float32(math.Inf(1)), 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, lut.Lookup(tt.in), 1e-5, "Lookup(%v)", tt.in)
	}
	assert.True(t, lut.IsMonotonic())
	assert.Equal(t, float32(0), lut.Min())
	assert.Equal(t, float32(1), lut.Max())
}

func TestLookupInterpolates(t *testing.T) {
	var table [LutSize]float32
	for i := range table {
		if i%2 == 1 {
			table[i] = 1
		}
	}
	lut := FromTable(table)

	// halfway between entry 0 (0) and entry 1 (1)
	x := float32(0.5) / float32(LutSize-1)
	assert.InDelta(t, 0.5, lut.Lookup(x), 1e-4)
	assert.False(t, lut.IsMonotonic())
}

func TestFromFuncClamps(t *testing.T) {
	lut := FromFunc(func(x float32) float32 { return x*3 - 1 })
	assert.Equal(t, float32(0), lut.Min())
	assert.Equal(t, float32(1), lut.Max())

	nan := FromFunc(func(float32) float32 { return float32(math.NaN()) })
	assert.Equal(t, float32(0), nan.Max())
}

func TestExponentialCurve(t *testing.T) {
	lut, err := ExponentialType(2).ToLut()
	require.NoError(t, err)

	assert.InDelta(t, 0.25, lut.Lookup(0.5), 1e-3)
	assert.InDelta(t, 0, lut.Lookup(0), 1e-6)
	assert.InDelta(t, 1, lut.Lookup(1), 1e-6)
	assert.True(t, lut.IsMonotonic())
}

func TestLogarithmicCurve(t *testing.T) {
	typ := LogarithmicType(10)
	require.NoError(t, typ.Validate())

	assert.InDelta(t, 0, typ.Evaluate(0), 1e-6)
	assert.InDelta(t, 1, typ.Evaluate(1), 1e-6)
	assert.Greater(t, typ.Evaluate(0.5), float32(0.5))
}

func TestTypeValidate(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		wantErr bool
	}{
		{"linear", LinearType(), false},
		{"empty kind", Type{}, false},
		{"exponent ok", ExponentialType(1.5), false},
		{"exponent zero", ExponentialType(0), true},
		{"exponent nan", ExponentialType(float32(math.NaN())), true},
		{"log base ok", LogarithmicType(2), false},
		{"log base one", LogarithmicType(1), true},
		{"log base inf", LogarithmicType(float32(math.Inf(1))), true},
		{"bezier ok", BezierType(BezierEaseIn), false},
		{"bezier missing", Type{Kind: KindBezier}, true},
		{"bezier out of square", BezierType(Bezier{P1: Point{1.5, 0}, P2: Point{1, 1}}), true},
		{"custom ok", CustomType(Point{0, 0}, Point{0.5, 0.7}, Point{1, 1}), false},
		{"custom one point", CustomType(Point{0, 0}), true},
		{"custom unsorted", CustomType(Point{0, 0}, Point{0.6, 0.5}, Point{0.4, 0.7}), true},
		{"unknown", Type{Kind: "spline"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.typ.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBezierPresets(t *testing.T) {
	for name, b := range map[string]Bezier{
		"linear":      BezierLinear,
		"ease-in":     BezierEaseIn,
		"ease-out":    BezierEaseOut,
		"ease-in-out": BezierEaseInOut,
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Validate())
			lut := FromBezier(b)
			assert.InDelta(t, 0, lut.Lookup(0), 1e-6)
			assert.InDelta(t, 1, lut.Lookup(1), 1e-6)
			assert.True(t, lut.IsMonotonic())
		})
	}

	assert.InDelta(t, 0.5, BezierLinear.Evaluate(0.5), 1e-3)
	assert.Less(t, BezierEaseIn.Evaluate(0.3), float32(0.3))
	assert.Greater(t, BezierEaseOut.Evaluate(0.3), float32(0.3))
}

func TestCustomInterpolation(t *testing.T) {
	typ := CustomType(Point{0, 0}, Point{0.5, 0.8}, Point{1, 1})
	assert.InDelta(t, 0.4, typ.Evaluate(0.25), 1e-6)
	assert.InDelta(t, 0.9, typ.Evaluate(0.75), 1e-6)
}

func TestIsIdentity(t *testing.T) {
	assert.True(t, LinearType().IsIdentity())
	assert.True(t, ExponentialType(1).IsIdentity())
	assert.False(t, ExponentialType(2).IsIdentity())
	assert.True(t, CustomType(Point{0, 0}, Point{1, 1}).IsIdentity())
	assert.False(t, CustomType(Point{0, 0}, Point{0.5, 0.6}, Point{1, 1}).IsIdentity())
	assert.True(t, IsIdentityPoints(nil))
}

func TestLookupDoesNotAllocate(t *testing.T) {
	lut := Linear()
	allocs := testing.AllocsPerRun(100, func() {
		_ = lut.Lookup(0.42)
	})
	assert.Zero(t, allocs)
}
