package meter

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/wippyai/ffb-runtime/errors"
)

// DefaultFuelGlobal is the export name of the injected fuel counter.
const DefaultFuelGlobal = "__ffb_fuel"

const (
	secCustom    = 0
	secImport    = 2
	secTable     = 4
	secGlobal    = 6
	secExport    = 7
	secCode      = 10
	secDataCount = 12
	secTag       = 13
)

var magic = []byte{0x00, 0x61, 0x73, 0x6d}

// Config controls the rewrite.
type Config struct {
	// FuelGlobal is the export name of the counter; DefaultFuelGlobal if empty.
	FuelGlobal string
	// MaxTableElements caps declared table maxima. Zero leaves tables alone.
	MaxTableElements uint32
}

// Result is an instrumented module.
type Result struct {
	Binary          []byte
	FuelGlobal      string
	FuelGlobalIndex uint32
	Functions       int
	ChargePoints    int
}

type section struct {
	payload []byte
	id      byte
}

// order is the position of a non-custom section id in the binary format.
func order(id byte) int {
	switch id {
	case 1, 2, 3, 4, 5:
		return int(id)
	case secTag:
		return 6
	case secGlobal:
		return 7
	case secExport:
		return 8
	case 8, 9:
		return int(id) + 1
	case secDataCount:
		return 11
	case secCode:
		return 12
	case 11:
		return 13
	}
	return -1
}

// Instrument adds fuel metering to every function body of bin and caps its
// tables. Each function entry and each loop header subtracts the static
// instruction count of the code it guards from an exported mutable i64
// global and traps with unreachable once the counter is negative. The host
// sets the counter before a call and reads it back afterwards.
func Instrument(bin []byte, cfg Config) (*Result, error) {
	if cfg.FuelGlobal == "" {
		cfg.FuelGlobal = DefaultFuelGlobal
	}
	if len(bin) < 8 || !bytes.Equal(bin[:4], magic) {
		return nil, fail("not a wasm module", nil)
	}
	if v := binary.LittleEndian.Uint32(bin[4:8]); v != 1 {
		return nil, errors.Unsupported(errors.PhaseCompile, fmt.Sprintf("wasm binary version %#x", v))
	}

	secs, err := split(bin[8:])
	if err != nil {
		return nil, err
	}

	var imp imports
	var definedGlobals uint32
	for _, s := range secs {
		switch s.id {
		case secImport:
			if imp, err = countImports(s.payload); err != nil {
				return nil, fail("import section", err)
			}
		case secGlobal:
			r := &reader{b: s.payload}
			if definedGlobals, err = r.u32(); err != nil {
				return nil, fail("global section", err)
			}
		case secExport:
			if err := checkExports(s.payload, cfg.FuelGlobal); err != nil {
				return nil, err
			}
		}
	}
	res := &Result{FuelGlobal: cfg.FuelGlobal, FuelGlobalIndex: imp.globals + definedGlobals}

	var out writer
	out.Write(bin[:8])
	var wroteGlobal, wroteExport bool
	for _, s := range secs {
		if s.id != secCustom {
			if !wroteGlobal && order(s.id) > order(secGlobal) {
				out.section(secGlobal, addGlobal(nil))
				wroteGlobal = true
			}
			if !wroteExport && order(s.id) > order(secExport) {
				out.section(secExport, addExport(nil, cfg.FuelGlobal, res.FuelGlobalIndex))
				wroteExport = true
			}
		}

		payload := s.payload
		switch s.id {
		case secTable:
			if cfg.MaxTableElements > 0 {
				if payload, err = capTables(payload, cfg.MaxTableElements); err != nil {
					return nil, err
				}
			}
		case secGlobal:
			payload = addGlobal(payload)
			wroteGlobal = true
		case secExport:
			payload = addExport(payload, cfg.FuelGlobal, res.FuelGlobalIndex)
			wroteExport = true
		case secCode:
			if payload, err = meterCode(payload, res.FuelGlobalIndex, res); err != nil {
				return nil, err
			}
		}
		out.section(s.id, payload)
	}
	if !wroteGlobal {
		out.section(secGlobal, addGlobal(nil))
	}
	if !wroteExport {
		out.section(secExport, addExport(nil, cfg.FuelGlobal, res.FuelGlobalIndex))
	}

	res.Binary = out.Bytes()
	return res, nil
}

func split(b []byte) ([]section, error) {
	r := &reader{b: b}
	var secs []section
	last := 0
	for r.len() > 0 {
		id, err := r.byte()
		if err != nil {
			return nil, fail("section header", err)
		}
		n, err := r.u32()
		if err != nil {
			return nil, fail("section size", err)
		}
		payload, err := r.bytes(int(n))
		if err != nil {
			return nil, fail(fmt.Sprintf("section %d", id), err)
		}
		if id != secCustom {
			o := order(id)
			if o < 0 {
				return nil, errors.Unsupported(errors.PhaseCompile, fmt.Sprintf("section id %d", id))
			}
			if o <= last {
				return nil, fail(fmt.Sprintf("section %d out of order", id), nil)
			}
			last = o
		}
		secs = append(secs, section{id: id, payload: payload})
	}
	return secs, nil
}

type imports struct {
	funcs   uint32
	globals uint32
}

func countImports(p []byte) (imports, error) {
	var imp imports
	r := &reader{b: p}
	n, err := r.u32()
	if err != nil {
		return imp, err
	}
	for i := uint32(0); i < n; i++ {
		if _, err := r.name(); err != nil {
			return imp, err
		}
		if _, err := r.name(); err != nil {
			return imp, err
		}
		kind, err := r.byte()
		if err != nil {
			return imp, err
		}
		switch kind {
		case 0x00:
			imp.funcs++
			_, err = r.u32()
		case 0x01:
			if err = skipRefType(r); err == nil {
				_, _, _, err = readLimits(r)
			}
		case 0x02:
			_, _, _, err = readLimits(r)
		case 0x03:
			imp.globals++
			if err = skipValType(r); err == nil {
				_, err = r.byte()
			}
		case 0x04:
			if _, err = r.byte(); err == nil {
				_, err = r.u32()
			}
		default:
			err = fmt.Errorf("import kind %#x", kind)
		}
		if err != nil {
			return imp, err
		}
	}
	return imp, nil
}

func checkExports(p []byte, fuel string) error {
	r := &reader{b: p}
	n, err := r.u32()
	if err != nil {
		return fail("export section", err)
	}
	for i := uint32(0); i < n; i++ {
		name, err := r.name()
		if err != nil {
			return fail("export section", err)
		}
		if name == fuel {
			return fail(fmt.Sprintf("module already exports %q", fuel), nil)
		}
		if _, err := r.byte(); err != nil {
			return fail("export section", err)
		}
		if _, err := r.u32(); err != nil {
			return fail("export section", err)
		}
	}
	return nil
}

// addGlobal appends (global (mut i64) (i64.const 0)) to a global section
// payload, or builds one when p is nil.
func addGlobal(p []byte) []byte {
	var count uint32
	var rest []byte
	if p != nil {
		r := &reader{b: p}
		count, _ = r.u32()
		rest = p[r.pos:]
	}
	var w writer
	w.u32(count + 1)
	w.Write(rest)
	w.Write([]byte{0x7E, 0x01, 0x42, 0x00, 0x0B})
	return w.Bytes()
}

func addExport(p []byte, name string, idx uint32) []byte {
	var count uint32
	var rest []byte
	if p != nil {
		r := &reader{b: p}
		count, _ = r.u32()
		rest = p[r.pos:]
	}
	var w writer
	w.u32(count + 1)
	w.Write(rest)
	w.name(name)
	w.WriteByte(0x03)
	w.u32(idx)
	return w.Bytes()
}

// capTables lowers declared maxima to limit and rejects tables whose minimum
// already exceeds it.
func capTables(p []byte, limit uint32) ([]byte, error) {
	r := &reader{b: p}
	n, err := r.u32()
	if err != nil {
		return nil, fail("table section", err)
	}
	var w writer
	w.u32(n)
	for i := uint32(0); i < n; i++ {
		ref, err := r.byte()
		if err != nil {
			return nil, fail("table section", err)
		}
		if ref == 0x40 {
			return nil, errors.Unsupported(errors.PhaseCompile, "tables with initializer expressions")
		}
		if ref != 0x70 && ref != 0x6F {
			return nil, errors.Unsupported(errors.PhaseCompile, fmt.Sprintf("table element type %#x", ref))
		}
		flags, lo, hi, err := readLimits(r)
		if err != nil {
			return nil, fail("table limits", err)
		}
		if flags&0x04 != 0 {
			return nil, errors.Unsupported(errors.PhaseCompile, "64-bit tables")
		}
		if lo > uint64(limit) {
			return nil, errors.LimitExceeded(errors.PhaseValidate, "table elements", lo, limit)
		}
		if flags&0x01 == 0 || hi > uint64(limit) {
			hi = uint64(limit)
		}
		w.WriteByte(ref)
		w.WriteByte(0x01)
		w.u32(uint32(lo))
		w.u32(uint32(hi))
	}
	if r.len() != 0 {
		return nil, fail("trailing bytes in table section", nil)
	}
	return w.Bytes(), nil
}

func readLimits(r *reader) (flags byte, lo, hi uint64, err error) {
	if flags, err = r.byte(); err != nil {
		return
	}
	if flags > 0x07 {
		err = fmt.Errorf("limits flags %#x", flags)
		return
	}
	read := func() (uint64, error) {
		if flags&0x04 != 0 {
			return r.u64()
		}
		v, err := r.u32()
		return uint64(v), err
	}
	if lo, err = read(); err != nil {
		return
	}
	if flags&0x01 != 0 {
		hi, err = read()
	}
	return
}

func skipRefType(r *reader) error {
	t, err := r.byte()
	if err != nil {
		return err
	}
	if t == 0x63 || t == 0x64 {
		_, err = r.s64()
	}
	return err
}

func skipValType(r *reader) error { return skipRefType(r) }

func fail(detail string, cause error) error {
	return errors.New(errors.PhaseCompile, errors.KindInstrumentationFailed).
		Detail("%s", detail).
		Cause(cause).
		Build()
}
