package curve

import (
	"fmt"
	"math"
)

// Point is a control point in the unit square.
type Point struct {
	X float32 `yaml:"x" json:"x"`
	Y float32 `yaml:"y" json:"y"`
}

// Bezier is a cubic response curve anchored at (0,0) and (1,1).
// P1 and P2 are the free control points.
type Bezier struct {
	P1 Point `yaml:"p1" json:"p1"`
	P2 Point `yaml:"p2" json:"p2"`
}

var (
	BezierLinear    = Bezier{P1: Point{0.25, 0.25}, P2: Point{0.75, 0.75}}
	BezierEaseIn    = Bezier{P1: Point{0.42, 0}, P2: Point{1, 1}}
	BezierEaseOut   = Bezier{P1: Point{0, 0}, P2: Point{0.58, 1}}
	BezierEaseInOut = Bezier{P1: Point{0.42, 0}, P2: Point{0.58, 1}}
)

const (
	newtonIterations = 8
	newtonEpsilon    = 1e-6
)

// Validate checks that both control points are finite and inside the unit square.
func (b Bezier) Validate() error {
	for i, p := range []Point{b.P1, b.P2} {
		if !isFinite(p.X) || !isFinite(p.Y) || p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return fmt.Errorf("control point P%d (%v, %v) outside unit square", i+1, p.X, p.Y)
		}
	}
	return nil
}

// Evaluate returns y for the given x in [0,1].
// t is found with Newton iteration on x(t); bisection takes over when the
// derivative vanishes or Newton fails to converge.
func (b Bezier) Evaluate(x float32) float32 {
	x = clamp01(x)
	if x == 0 || x == 1 {
		return x
	}
	xf := float64(x)
	t := xf
	converged := false
	for i := 0; i < newtonIterations; i++ {
		dx := b.sampleX(t) - xf
		if math.Abs(dx) < newtonEpsilon {
			converged = true
			break
		}
		d := b.derivX(t)
		if math.Abs(d) < newtonEpsilon {
			break
		}
		t -= dx / d
		if t < 0 || t > 1 {
			break
		}
	}
	if !converged {
		t = b.bisect(xf)
	}
	return clamp01(float32(b.sampleY(t)))
}

func (b Bezier) bisect(x float64) float64 {
	lo, hi := 0.0, 1.0
	t := x
	for i := 0; i < 32; i++ {
		t = (lo + hi) / 2
		v := b.sampleX(t)
		if math.Abs(v-x) < newtonEpsilon {
			return t
		}
		if v < x {
			lo = t
		} else {
			hi = t
		}
	}
	return t
}

func cubic(p1, p2, t float64) float64 {
	u := 1 - t
	return 3*u*u*t*p1 + 3*u*t*t*p2 + t*t*t
}

func cubicDeriv(p1, p2, t float64) float64 {
	u := 1 - t
	return 3*u*u*p1 + 6*u*t*(p2-p1) + 3*t*t*(1-p2)
}

func (b Bezier) sampleX(t float64) float64 { return cubic(float64(b.P1.X), float64(b.P2.X), t) }
func (b Bezier) sampleY(t float64) float64 { return cubic(float64(b.P1.Y), float64(b.P2.Y), t) }
func (b Bezier) derivX(t float64) float64  { return cubicDeriv(float64(b.P1.X), float64(b.P2.X), t) }
