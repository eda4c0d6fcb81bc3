package filter

// Step advances one node of kind k over f using its state slice.
// It performs no allocation and no validation; the pipeline checks the
// frame after every node.
func Step(k Kind, f *Frame, s []float32) {
	switch k {
	case KindReconstruction:
		out := s[1] + s[0]*(f.FfbIn-s[1])
		s[1] = out
		f.TorqueOut = out

	case KindFriction:
		ws := f.WheelSpeed
		if abs(ws) < 1e-6 {
			return
		}
		coeff := s[0]
		if s[1] != 0 {
			coeff *= 1 - min(abs(ws)*0.1, 0.8)
		}
		f.TorqueOut -= coeff * signum(ws)

	case KindDamper:
		coeff := s[0]
		if s[1] != 0 {
			coeff *= 1 + min(abs(f.WheelSpeed)*0.2, 0.5)
		}
		f.TorqueOut -= coeff * f.WheelSpeed

	case KindInertia:
		f.TorqueOut -= s[0] * (f.WheelSpeed - s[1])
		s[1] = f.WheelSpeed

	case KindNotch:
		in := f.TorqueOut
		out := s[0]*in + s[1]*s[5] + s[2]*s[6] - s[3]*s[7] - s[4]*s[8]
		s[6], s[5] = s[5], in
		s[8], s[7] = s[7], out
		f.TorqueOut = out

	case KindSlew:
		delta := f.TorqueOut - s[1]
		if delta > s[0] {
			delta = s[0]
		} else if delta < -s[0] {
			delta = -s[0]
		}
		s[1] += delta
		f.TorqueOut = s[1]

	case KindCurve:
		t := f.TorqueOut
		y := lookup(s, abs(t))
		if t < 0 {
			y = -y
		}
		f.TorqueOut = y

	case KindTorqueCap:
		limit := s[0]
		if f.TorqueOut > limit {
			f.TorqueOut = limit
		} else if f.TorqueOut < -limit {
			f.TorqueOut = -limit
		}

	case KindBumpstop:
		start, maxAngle := s[0], s[1]
		s[4] += f.WheelSpeed * dt
		angle := abs(s[4])
		if angle > start {
			pen := (angle - start) / (maxAngle - start)
			pen = max(0, min(pen, 1))
			spring := pen * pen * s[2]
			damping := f.WheelSpeed * s[3]
			f.TorqueOut -= (spring + damping) * signum(s[4])
		}

	case KindHandsOff:
		t := f.TorqueOut
		if abs(t-s[3]) > s[0] || abs(t) > s[0] {
			s[2] = 0
			f.HandsOff = false
		} else {
			if s[2] < s[1] {
				s[2]++
			}
			f.HandsOff = s[2] >= s[1]
		}
		s[3] = t

	case KindGain:
		f.TorqueOut *= s[0]
	}
}

// lookup interpolates a LutSize table laid out in state.
func lookup(table []float32, x float32) float32 {
	if !(x > 0) {
		return table[0]
	}
	if x >= 1 {
		return table[len(table)-1]
	}
	scaled := x * float32(len(table)-1)
	lo := int(scaled)
	if lo > len(table)-2 {
		lo = len(table) - 2
	}
	frac := scaled - float32(lo)
	return table[lo] + (table[lo+1]-table[lo])*frac
}

func abs(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func signum(x float32) float32 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
