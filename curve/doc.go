// Package curve implements response-curve shaping for torque output.
//
// A curve is described by a Type (linear, exponential, logarithmic, Bezier or
// custom points) and compiled once into a Lut, a 256-entry table with linear
// interpolation. Lookup clamps its input to [0,1] and never allocates, so it is
// safe to call on every tick:
//
//	lut, err := curve.ExponentialType(2).ToLut()
//	if err != nil {
//		return err
//	}
//	y := lut.Lookup(0.5) // ~0.25
package curve
