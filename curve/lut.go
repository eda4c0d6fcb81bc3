package curve

import "math"

// LutSize is the number of entries in a response-curve table.
const LutSize = 256

// Lut is a precomputed response curve over [0,1].
// It is built once at configuration time and never mutated afterwards,
// so a value can be shared between the compiler and the real-time thread.
type Lut struct {
	table [LutSize]float32
}

// Linear returns the identity curve.
func Linear() *Lut {
	l := &Lut{}
	for i := range l.table {
		l.table[i] = float32(i) / float32(LutSize-1)
	}
	return l
}

// FromFunc samples f at LutSize evenly spaced points in [0,1].
// Outputs are clamped to [0,1]; NaN outputs become 0.
func FromFunc(f func(float32) float32) *Lut {
	l := &Lut{}
	for i := range l.table {
		x := float32(i) / float32(LutSize-1)
		l.table[i] = clamp01(f(x))
	}
	return l
}

// FromBezier samples a cubic Bezier response curve.
func FromBezier(b Bezier) *Lut {
	return FromFunc(b.Evaluate)
}

// FromType samples t; see Type.ToLut.
func FromType(t Type) (*Lut, error) { return t.ToLut() }

// FromTable builds a curve from an explicit table.
func FromTable(values [LutSize]float32) *Lut {
	l := &Lut{}
	for i, v := range values {
		l.table[i] = clamp01(v)
	}
	return l
}

// Lookup maps x through the curve with linear interpolation between the
// two bracketing entries. x is clamped to [0,1]; NaN is treated as 0.
func (l *Lut) Lookup(x float32) float32 {
	x = clamp01(x)
	scaled := x * float32(LutSize-1)
	lo := int(scaled)
	if lo > LutSize-2 {
		lo = LutSize - 2
	}
	frac := scaled - float32(lo)
	a := l.table[lo]
	b := l.table[lo+1]
	return a + (b-a)*frac
}

// IsMonotonic reports whether the table never decreases.
// It is an authoring diagnostic and is not used on the real-time path.
func (l *Lut) IsMonotonic() bool {
	for i := 1; i < LutSize; i++ {
		if l.table[i] < l.table[i-1] {
			return false
		}
	}
	return true
}

// Min returns the smallest table entry.
func (l *Lut) Min() float32 {
	m := l.table[0]
	for _, v := range l.table[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest table entry.
func (l *Lut) Max() float32 {
	m := l.table[0]
	for _, v := range l.table[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Table returns a copy of the entries.
func (l *Lut) Table() [LutSize]float32 {
	return l.table
}

// CopyTo writes the entries into dst, which must hold at least LutSize values.
func (l *Lut) CopyTo(dst []float32) {
	copy(dst[:LutSize], l.table[:])
}

func clamp01(x float32) float32 {
	switch {
	case math.IsNaN(float64(x)):
		return 0
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

func isFinite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}
