package filter

import (
	"fmt"
	"math"

	"github.com/wippyai/ffb-runtime/curve"
)

// Kind tags a node in the chain. Dispatch is a switch on Kind, so the chain
// needs neither interfaces nor closures on the hot path.
type Kind uint8

const (
	KindReconstruction Kind = iota + 1
	KindFriction
	KindDamper
	KindInertia
	KindNotch
	KindSlew
	KindCurve
	KindTorqueCap
	KindBumpstop
	KindHandsOff
	KindGain
)

var kindNames = [...]string{
	KindReconstruction: "reconstruction",
	KindFriction:       "friction",
	KindDamper:         "damper",
	KindInertia:        "inertia",
	KindNotch:          "notch",
	KindSlew:           "slew",
	KindCurve:          "curve",
	KindTorqueCap:      "torque_cap",
	KindBumpstop:       "bumpstop",
	KindHandsOff:       "hands_off",
	KindGain:           "gain",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k names a known node.
func (k Kind) Valid() bool {
	return k >= KindReconstruction && k <= KindGain
}

// TickRate is the nominal node update rate in Hz.
const TickRate = 1000

const dt = 1.0 / TickRate

// state slot counts per kind
var stateSizes = [...]int{
	KindReconstruction: 2, // alpha, prev
	KindFriction:       2, // coeff, adaptive
	KindDamper:         2, // coeff, adaptive
	KindInertia:        2, // coeff, prev speed
	KindNotch:          9, // b0 b1 b2 a1 a2 x1 x2 y1 y2
	KindSlew:           2, // max step, prev
	KindCurve:          curve.LutSize,
	KindTorqueCap:      1, // cap
	KindBumpstop:       5, // start, max, stiffness, damping, angle
	KindHandsOff:       4, // threshold, timeout ticks, counter, last torque
	KindGain:           1, // gain
}

// StateSize returns the number of float32 slots a node of kind k owns.
func StateSize(k Kind) int {
	if !k.Valid() {
		return 0
	}
	return stateSizes[k]
}

// reconstruction smoothing per level 0..8
var reconstructionAlpha = [...]float32{1.0, 0.5, 0.3, 0.2, 0.1, 0.05, 0.03, 0.02, 0.01}

// MaxReconstructionLevel is the strongest smoothing level.
const MaxReconstructionLevel = len(reconstructionAlpha) - 1

// Node is a node definition: its kind and the parameters its state is seeded with.
type Node struct {
	Curve  *curve.Lut
	Params [6]float32
	Kind   Kind
}

func Reconstruction(level int) Node {
	if level < 0 {
		level = 0
	}
	if level > MaxReconstructionLevel {
		level = MaxReconstructionLevel
	}
	return Node{Kind: KindReconstruction, Params: [6]float32{reconstructionAlpha[level]}}
}

func Friction(coefficient float32, speedAdaptive bool) Node {
	return Node{Kind: KindFriction, Params: [6]float32{coefficient, boolSlot(speedAdaptive)}}
}

func Damper(coefficient float32, speedAdaptive bool) Node {
	return Node{Kind: KindDamper, Params: [6]float32{coefficient, boolSlot(speedAdaptive)}}
}

func Inertia(coefficient float32) Node {
	return Node{Kind: KindInertia, Params: [6]float32{coefficient}}
}

// Notch is a biquad centered at frequency Hz. A zero gain gives a full notch;
// a non-zero gain gives a peaking section with that gain in dB.
func Notch(frequency, q, gainDB float32) Node {
	return Node{Kind: KindNotch, Params: [6]float32{frequency, q, gainDB}}
}

// Slew limits the torque rate of change to ratePerSecond full-scale units per second.
func Slew(ratePerSecond float32) Node {
	return Node{Kind: KindSlew, Params: [6]float32{ratePerSecond}}
}

// Curve shapes |torque| through lut inside the chain.
func Curve(lut *curve.Lut) Node {
	return Node{Kind: KindCurve, Curve: lut}
}

func TorqueCap(limit float32) Node {
	return Node{Kind: KindTorqueCap, Params: [6]float32{limit}}
}

// Bumpstop angles are in the unit of wheel speed integrated over seconds.
func Bumpstop(startAngle, maxAngle, stiffness, damping float32) Node {
	return Node{Kind: KindBumpstop, Params: [6]float32{startAngle, maxAngle, stiffness, damping}}
}

func HandsOff(threshold, timeoutSeconds float32) Node {
	return Node{Kind: KindHandsOff, Params: [6]float32{threshold, float32(math.Floor(float64(timeoutSeconds) * TickRate))}}
}

func Gain(gain float32) Node {
	return Node{Kind: KindGain, Params: [6]float32{gain}}
}

// Validate checks parameters before the node is placed in a pipeline.
func (n Node) Validate() error {
	if !n.Kind.Valid() {
		return fmt.Errorf("unknown node kind %d", n.Kind)
	}
	for i, p := range n.Params {
		if math.IsNaN(float64(p)) || math.IsInf(float64(p), 0) {
			return fmt.Errorf("%s: parameter %d is not finite", n.Kind, i)
		}
	}
	p := n.Params
	switch n.Kind {
	case KindNotch:
		if p[0] <= 0 || p[0] >= TickRate/2 {
			return fmt.Errorf("notch: frequency %v Hz outside (0, %d)", p[0], TickRate/2)
		}
		if p[1] <= 0 {
			return fmt.Errorf("notch: q must be > 0, got %v", p[1])
		}
	case KindSlew:
		if p[0] <= 0 {
			return fmt.Errorf("slew: rate must be > 0, got %v", p[0])
		}
	case KindCurve:
		if n.Curve == nil {
			return fmt.Errorf("curve: table missing")
		}
	case KindTorqueCap:
		if p[0] < 0 || p[0] > 1 {
			return fmt.Errorf("torque_cap: limit %v outside [0, 1]", p[0])
		}
	case KindBumpstop:
		if p[1] <= p[0] {
			return fmt.Errorf("bumpstop: max angle %v must exceed start angle %v", p[1], p[0])
		}
	case KindFriction, KindDamper, KindInertia:
		if p[0] < 0 {
			return fmt.Errorf("%s: coefficient must be >= 0, got %v", n.Kind, p[0])
		}
	}
	return nil
}

// Init seeds state, which must hold StateSize(n.Kind) slots.
func (n Node) Init(state []float32) {
	clear(state)
	p := n.Params
	switch n.Kind {
	case KindReconstruction:
		state[0] = p[0]
	case KindFriction, KindDamper:
		state[0], state[1] = p[0], p[1]
	case KindInertia:
		state[0] = p[0]
	case KindNotch:
		initBiquad(state, p[0], p[1], p[2])
	case KindSlew:
		state[0] = p[0] * dt
	case KindCurve:
		n.Curve.CopyTo(state)
	case KindTorqueCap, KindGain:
		state[0] = p[0]
	case KindBumpstop:
		copy(state[:4], p[:4])
	case KindHandsOff:
		state[0], state[1] = p[0], p[1]
	}
}

// initBiquad computes normalized RBJ coefficients at TickRate.
func initBiquad(state []float32, frequency, q, gainDB float32) {
	qc := math.Min(math.Max(float64(q), 0.1), 10)
	w0 := 2 * math.Pi * float64(frequency) / TickRate
	cosw := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * qc)

	var b0, b1, b2, a0, a1, a2 float64
	if gainDB == 0 {
		b0, b1, b2 = 1, -2*cosw, 1
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	} else {
		a := math.Pow(10, float64(gainDB)/40)
		b0, b1, b2 = 1+alpha*a, -2*cosw, 1-alpha*a
		a0, a1, a2 = 1+alpha/a, -2*cosw, 1-alpha/a
	}
	state[0] = float32(b0 / a0)
	state[1] = float32(b1 / a0)
	state[2] = float32(b2 / a0)
	state[3] = float32(a1 / a0)
	state[4] = float32(a2 / a0)
}

func boolSlot(b bool) float32 {
	if b {
		return 1
	}
	return 0
}
