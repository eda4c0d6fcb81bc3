package curve

import (
	"fmt"
	"math"
)

// Kind selects the shape of a response curve.
type Kind string

const (
	KindLinear      Kind = "linear"
	KindExponential Kind = "exponential"
	KindLogarithmic Kind = "logarithmic"
	KindBezier      Kind = "bezier"
	KindCustom      Kind = "custom"
)

// Type is a parametric response curve description as it appears in profiles.
// Only the fields belonging to Kind are read.
type Type struct {
	Bezier   *Bezier `yaml:"bezier,omitempty" json:"bezier,omitempty"`
	Kind     Kind    `yaml:"type" json:"type"`
	Points   []Point `yaml:"points,omitempty" json:"points,omitempty"`
	Exponent float32 `yaml:"exponent,omitempty" json:"exponent,omitempty"`
	Base     float32 `yaml:"base,omitempty" json:"base,omitempty"`
}

func LinearType() Type { return Type{Kind: KindLinear} }

func ExponentialType(exponent float32) Type {
	return Type{Kind: KindExponential, Exponent: exponent}
}

func LogarithmicType(base float32) Type {
	return Type{Kind: KindLogarithmic, Base: base}
}

func BezierType(b Bezier) Type {
	return Type{Kind: KindBezier, Bezier: &b}
}

// CustomType interpolates linearly between points sorted by X.
func CustomType(points ...Point) Type {
	return Type{Kind: KindCustom, Points: points}
}

// Validate checks the parameters required by Kind.
func (t Type) Validate() error {
	switch t.Kind {
	case KindLinear, "":
		return nil
	case KindExponential:
		if !isFinite(t.Exponent) || t.Exponent <= 0 {
			return fmt.Errorf("exponential curve: exponent must be finite and > 0, got %v", t.Exponent)
		}
	case KindLogarithmic:
		if !isFinite(t.Base) || t.Base <= 1 {
			return fmt.Errorf("logarithmic curve: base must be finite and > 1, got %v", t.Base)
		}
	case KindBezier:
		if t.Bezier == nil {
			return fmt.Errorf("bezier curve: control points missing")
		}
		return t.Bezier.Validate()
	case KindCustom:
		return validatePoints(t.Points)
	default:
		return fmt.Errorf("unknown curve type %q", t.Kind)
	}
	return nil
}

// Evaluate computes the curve at x, clamped to [0,1].
// Call Validate first; invalid parameters yield the identity.
func (t Type) Evaluate(x float32) float32 {
	x = clamp01(x)
	switch t.Kind {
	case KindExponential:
		if t.Exponent > 0 {
			return clamp01(float32(math.Pow(float64(x), float64(t.Exponent))))
		}
	case KindLogarithmic:
		if t.Base > 1 {
			b := float64(t.Base)
			return clamp01(float32(math.Log(1+float64(x)*(b-1)) / math.Log(b)))
		}
	case KindBezier:
		if t.Bezier != nil {
			return t.Bezier.Evaluate(x)
		}
	case KindCustom:
		if len(t.Points) >= 2 {
			return clamp01(interpolate(t.Points, x))
		}
	}
	return x
}

// ToLut validates t and samples it into a lookup table.
func (t Type) ToLut() (*Lut, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.Kind == KindLinear || t.Kind == "" {
		return Linear(), nil
	}
	return FromFunc(t.Evaluate), nil
}

// IsIdentity reports whether the curve maps every x to itself.
func (t Type) IsIdentity() bool {
	switch t.Kind {
	case KindLinear, "":
		return true
	case KindExponential:
		return t.Exponent == 1
	case KindCustom:
		return IsIdentityPoints(t.Points)
	}
	return false
}

// IsIdentityPoints reports whether points describe the straight line (0,0)-(1,1).
func IsIdentityPoints(points []Point) bool {
	if len(points) == 0 {
		return true
	}
	for _, p := range points {
		if p.X != p.Y {
			return false
		}
	}
	return points[0].X == 0 && points[len(points)-1].X == 1
}

func validatePoints(points []Point) error {
	if len(points) < 2 {
		return fmt.Errorf("custom curve: need at least 2 points, got %d", len(points))
	}
	for i, p := range points {
		if !isFinite(p.X) || !isFinite(p.Y) || p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return fmt.Errorf("custom curve: point %d (%v, %v) outside unit square", i, p.X, p.Y)
		}
		if i > 0 && p.X <= points[i-1].X {
			return fmt.Errorf("custom curve: point %d x=%v not increasing", i, p.X)
		}
	}
	return nil
}

func interpolate(points []Point, x float32) float32 {
	if x <= points[0].X {
		return points[0].Y
	}
	for i := 1; i < len(points); i++ {
		if x <= points[i].X {
			a, b := points[i-1], points[i]
			return a.Y + (b.Y-a.Y)*(x-a.X)/(b.X-a.X)
		}
	}
	return points[len(points)-1].Y
}
