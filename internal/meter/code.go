package meter

import (
	stderrors "errors"
	"fmt"

	"github.com/wippyai/ffb-runtime/errors"
)

// chargePoint is an offset in a body after which a charge is inserted for
// the cost of region.
type chargePoint struct {
	at     int
	region int
}

func meterCode(p []byte, g uint32, res *Result) ([]byte, error) {
	r := &reader{b: p}
	n, err := r.u32()
	if err != nil {
		return nil, fail("code section", err)
	}
	var w writer
	w.u32(n)
	for i := uint32(0); i < n; i++ {
		size, err := r.u32()
		if err != nil {
			return nil, fail(fmt.Sprintf("function %d size", i), err)
		}
		body, err := r.bytes(int(size))
		if err != nil {
			return nil, fail(fmt.Sprintf("function %d body", i), err)
		}
		out, points, err := meterBody(body, g)
		if err != nil {
			return nil, wrapBody(i, err)
		}
		w.u32(uint32(len(out)))
		w.Write(out)
		res.Functions++
		res.ChargePoints += points
	}
	if r.len() != 0 {
		return nil, fail("trailing bytes in code section", nil)
	}
	return w.Bytes(), nil
}

func wrapBody(i uint32, err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}
	return fail(fmt.Sprintf("function %d", i), err)
}

// meterBody inserts a charge after the locals and after every loop header.
// A region's cost counts the instructions that run once per entry of its
// function or loop iteration; instructions of nested loops belong to the
// nested region, the loop opcode itself to the enclosing one.
func meterBody(body []byte, g uint32) ([]byte, int, error) {
	r := &reader{b: body}
	groups, err := r.u32()
	if err != nil {
		return nil, 0, err
	}
	for i := uint32(0); i < groups; i++ {
		if _, err := r.u32(); err != nil {
			return nil, 0, err
		}
		t, err := r.byte()
		if err != nil {
			return nil, 0, err
		}
		if t == 0x63 || t == 0x64 {
			return nil, 0, errors.Unsupported(errors.PhaseCompile, "typed function references")
		}
	}

	costs := []int64{0}
	open := []int{0}
	points := []chargePoint{{at: r.pos}}
	for r.len() > 0 {
		if len(open) == 0 {
			return nil, 0, fail("instructions after function end", nil)
		}
		op, _ := r.byte()
		cur := open[len(open)-1]
		costs[cur]++
		switch op {
		case 0x02, 0x04: // block, if
			if err := skipBlockType(r); err != nil {
				return nil, 0, err
			}
			open = append(open, cur)
		case 0x03: // loop
			if err := skipBlockType(r); err != nil {
				return nil, 0, err
			}
			costs = append(costs, 0)
			region := len(costs) - 1
			open = append(open, region)
			points = append(points, chargePoint{at: r.pos, region: region})
		case 0x0B:
			open = open[:len(open)-1]
		case 0x23, 0x24: // global.get, global.set
			idx, err := r.u32()
			if err != nil {
				return nil, 0, err
			}
			// g is the appended fuel global; guest code may not name it
			if idx >= g {
				return nil, 0, fail(fmt.Sprintf("global index %d out of range (%d globals)", idx, g), nil)
			}
		default:
			if err := skipImmediates(r, op); err != nil {
				return nil, 0, err
			}
		}
	}
	if len(open) != 0 {
		return nil, 0, fail("unterminated function body", nil)
	}

	var w writer
	prev := 0
	for _, pt := range points {
		w.Write(body[prev:pt.at])
		charge(&w, g, costs[pt.region])
		prev = pt.at
	}
	w.Write(body[prev:])
	return w.Bytes(), len(points), nil
}

// charge emits
//
//	global.get g; i64.const cost; i64.sub; global.set g
//	global.get g; i64.const 0; i64.lt_s; if; unreachable; end
func charge(w *writer, g uint32, cost int64) {
	w.WriteByte(0x23)
	w.u32(g)
	w.WriteByte(0x42)
	w.s64(cost)
	w.WriteByte(0x7D)
	w.WriteByte(0x24)
	w.u32(g)
	w.WriteByte(0x23)
	w.u32(g)
	w.Write([]byte{0x42, 0x00, 0x53, 0x04, 0x40, 0x00, 0x0B})
}

func skipBlockType(r *reader) error {
	bt, err := r.s64()
	if err != nil {
		return err
	}
	// 0x63 and 0x64 as a single signed byte.
	if bt == -29 || bt == -28 {
		return errors.Unsupported(errors.PhaseCompile, "typed reference block types")
	}
	return nil
}

func skipImmediates(r *reader, op byte) error {
	var err error
	switch {
	case op == 0x00, op == 0x01, op == 0x05, op == 0x0F, op == 0x1A, op == 0x1B, op == 0xD1:
	case op >= 0x45 && op <= 0xC4:
	case op == 0x0C, op == 0x0D, op == 0x10, op == 0x12:
		_, err = r.u32()
	case op == 0x0E:
		var n uint32
		if n, err = r.u32(); err == nil {
			for i := uint32(0); i <= n && err == nil; i++ {
				_, err = r.u32()
			}
		}
	case op == 0x11, op == 0x13:
		if _, err = r.u32(); err == nil {
			_, err = r.u32()
		}
	case op == 0x1C:
		var n uint32
		if n, err = r.u32(); err == nil {
			for i := uint32(0); i < n && err == nil; i++ {
				var t byte
				if t, err = r.byte(); err == nil && (t == 0x63 || t == 0x64) {
					return errors.Unsupported(errors.PhaseCompile, "typed select")
				}
			}
		}
	case op >= 0x20 && op <= 0x26:
		_, err = r.u32()
	case op >= 0x28 && op <= 0x3E:
		err = skipMemArg(r)
	case op == 0x3F, op == 0x40:
		_, err = r.u32()
	case op == 0x41, op == 0x42:
		_, err = r.s64()
	case op == 0x43:
		err = r.skip(4)
	case op == 0x44:
		err = r.skip(8)
	case op == 0xD0:
		_, err = r.s64()
	case op == 0xD2:
		_, err = r.u32()
	case op == 0xFC:
		err = skipMisc(r)
	default:
		return errors.Unsupported(errors.PhaseCompile, unsupportedOp(op))
	}
	return err
}

func skipMemArg(r *reader) error {
	align, err := r.u32()
	if err != nil {
		return err
	}
	if align&0x40 != 0 {
		if _, err := r.u32(); err != nil {
			return err
		}
	}
	_, err = r.u64()
	return err
}

func skipMisc(r *reader) error {
	sub, err := r.u32()
	if err != nil {
		return err
	}
	var n int
	switch sub {
	case 0, 1, 2, 3, 4, 5, 6, 7:
	case 9, 11, 13, 15, 16, 17:
		n = 1
	case 8, 10, 12, 14:
		n = 2
	default:
		return errors.Unsupported(errors.PhaseCompile, fmt.Sprintf("instruction 0xfc %d", sub))
	}
	for i := 0; i < n; i++ {
		if _, err := r.u32(); err != nil {
			return err
		}
	}
	return nil
}

func unsupportedOp(op byte) string {
	switch {
	case op >= 0x06 && op <= 0x09, op == 0x18, op == 0x19, op == 0x1F:
		return fmt.Sprintf("exception handling instruction %#x", op)
	case op == 0x14, op == 0x15:
		return "call_ref"
	case op >= 0xD3 && op <= 0xD6, op == 0xFB:
		return fmt.Sprintf("gc instruction %#x", op)
	case op == 0xFD:
		return "simd instructions"
	case op == 0xFE:
		return "atomic instructions"
	}
	return fmt.Sprintf("opcode %#x", op)
}
