// Package wasmtest assembles small WASM modules for tests.
package wasmtest

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Value types.
const (
	I32 byte = 0x7F
	I64 byte = 0x7E
	F32 byte = 0x7D
	F64 byte = 0x7C
)

type funcType struct {
	params, results []byte
}

type importFunc struct {
	module, name string
	typ          uint32
}

type function struct {
	locals []byte
	body   []byte
	typ    uint32
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type global struct {
	init    []byte
	typ     byte
	mutable bool
}

type limits struct {
	min, max uint32
	hasMax   bool
}

type data struct {
	bytes  []byte
	offset uint32
}

// Module builds a core WASM binary. Imported functions must be added
// before defined ones so indices stay stable.
type Module struct {
	types   []funcType
	imports []importFunc
	funcs   []function
	exports []export
	globals []global
	tables  []limits
	data    []data
	memory  *limits
}

func New() *Module { return &Module{} }

func (m *Module) typeIndex(params, results []byte) uint32 {
	for i, t := range m.types {
		if bytes.Equal(t.params, params) && bytes.Equal(t.results, results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// ImportFunc adds a function import and returns its index.
func (m *Module) ImportFunc(module, name string, params, results []byte) uint32 {
	m.imports = append(m.imports, importFunc{module: module, name: name, typ: m.typeIndex(params, results)})
	return uint32(len(m.imports) - 1)
}

// Func adds a function and returns its index. body must end with End.
func (m *Module) Func(params, results, locals []byte, body ...[]byte) uint32 {
	m.funcs = append(m.funcs, function{typ: m.typeIndex(params, results), locals: locals, body: bytes.Join(body, nil)})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// ExportFunc exports function idx under name.
func (m *Module) ExportFunc(name string, idx uint32) *Module {
	m.exports = append(m.exports, export{name: name, kind: 0x00, idx: idx})
	return m
}

// ExportGlobal exports global idx under name.
func (m *Module) ExportGlobal(name string, idx uint32) *Module {
	m.exports = append(m.exports, export{name: name, kind: 0x03, idx: idx})
	return m
}

// Memory declares memory 0 and exports it as "memory".
func (m *Module) Memory(minPages, maxPages uint32) *Module {
	m.memory = &limits{min: minPages, max: maxPages, hasMax: maxPages > 0}
	m.exports = append(m.exports, export{name: "memory", kind: 0x02})
	return m
}

// Table declares a funcref table. max of zero leaves it unbounded.
func (m *Module) Table(minElems, maxElems uint32) *Module {
	m.tables = append(m.tables, limits{min: minElems, max: maxElems, hasMax: maxElems > 0})
	return m
}

// GlobalI32 adds an i32 global and returns its index.
func (m *Module) GlobalI32(mutable bool, v int32) uint32 {
	m.globals = append(m.globals, global{typ: I32, mutable: mutable, init: I32Const(v)})
	return uint32(len(m.globals) - 1)
}

// Data places b at offset in memory 0.
func (m *Module) Data(offset uint32, b []byte) *Module {
	m.data = append(m.data, data{offset: offset, bytes: b})
	return m
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	var out bytes.Buffer
	out.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})

	if len(m.types) > 0 {
		var s bytes.Buffer
		putU32(&s, uint32(len(m.types)))
		for _, t := range m.types {
			s.WriteByte(0x60)
			putVec(&s, t.params)
			putVec(&s, t.results)
		}
		section(&out, 1, s.Bytes())
	}
	if len(m.imports) > 0 {
		var s bytes.Buffer
		putU32(&s, uint32(len(m.imports)))
		for _, im := range m.imports {
			putName(&s, im.module)
			putName(&s, im.name)
			s.WriteByte(0x00)
			putU32(&s, im.typ)
		}
		section(&out, 2, s.Bytes())
	}
	if len(m.funcs) > 0 {
		var s bytes.Buffer
		putU32(&s, uint32(len(m.funcs)))
		for _, f := range m.funcs {
			putU32(&s, f.typ)
		}
		section(&out, 3, s.Bytes())
	}
	if len(m.tables) > 0 {
		var s bytes.Buffer
		putU32(&s, uint32(len(m.tables)))
		for _, t := range m.tables {
			s.WriteByte(0x70)
			putLimits(&s, t)
		}
		section(&out, 4, s.Bytes())
	}
	if m.memory != nil {
		var s bytes.Buffer
		putU32(&s, 1)
		putLimits(&s, *m.memory)
		section(&out, 5, s.Bytes())
	}
	if len(m.globals) > 0 {
		var s bytes.Buffer
		putU32(&s, uint32(len(m.globals)))
		for _, g := range m.globals {
			s.WriteByte(g.typ)
			if g.mutable {
				s.WriteByte(0x01)
			} else {
				s.WriteByte(0x00)
			}
			s.Write(g.init)
			s.WriteByte(0x0B)
		}
		section(&out, 6, s.Bytes())
	}
	if len(m.exports) > 0 {
		var s bytes.Buffer
		putU32(&s, uint32(len(m.exports)))
		for _, e := range m.exports {
			putName(&s, e.name)
			s.WriteByte(e.kind)
			putU32(&s, e.idx)
		}
		section(&out, 7, s.Bytes())
	}
	if len(m.funcs) > 0 {
		var s bytes.Buffer
		putU32(&s, uint32(len(m.funcs)))
		for _, f := range m.funcs {
			var b bytes.Buffer
			putU32(&b, uint32(len(f.locals)))
			for _, l := range f.locals {
				putU32(&b, 1)
				b.WriteByte(l)
			}
			b.Write(f.body)
			putU32(&s, uint32(b.Len()))
			s.Write(b.Bytes())
		}
		section(&out, 10, s.Bytes())
	}
	if len(m.data) > 0 {
		var s bytes.Buffer
		putU32(&s, uint32(len(m.data)))
		for _, d := range m.data {
			s.WriteByte(0x00)
			s.Write(I32Const(int32(d.offset)))
			s.WriteByte(0x0B)
			putU32(&s, uint32(len(d.bytes)))
			s.Write(d.bytes)
		}
		section(&out, 11, s.Bytes())
	}
	return out.Bytes()
}

// Custom appends a custom section to an encoded module.
func Custom(bin []byte, name string, payload []byte) []byte {
	var s bytes.Buffer
	putName(&s, name)
	s.Write(payload)
	out := bytes.NewBuffer(append([]byte(nil), bin...))
	section(out, 0, s.Bytes())
	return out.Bytes()
}

func section(out *bytes.Buffer, id byte, payload []byte) {
	out.WriteByte(id)
	putU32(out, uint32(len(payload)))
	out.Write(payload)
}

func putLimits(b *bytes.Buffer, l limits) {
	if l.hasMax {
		b.WriteByte(0x01)
		putU32(b, l.min)
		putU32(b, l.max)
		return
	}
	b.WriteByte(0x00)
	putU32(b, l.min)
}

func putVec(b *bytes.Buffer, v []byte) {
	putU32(b, uint32(len(v)))
	b.Write(v)
}

func putName(b *bytes.Buffer, s string) {
	putU32(b, uint32(len(s)))
	b.WriteString(s)
}

func putU32(b *bytes.Buffer, v uint32) {
	b.Write(binary.AppendUvarint(nil, uint64(v)))
}

func sleb(v int64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(out, c)
		}
		out = append(out, c|0x80)
	}
}

func uleb(v uint32) []byte { return binary.AppendUvarint(nil, uint64(v)) }

func op(code byte, imm ...[]byte) []byte {
	return append([]byte{code}, bytes.Join(imm, nil)...)
}

// Instructions.
func Unreachable() []byte       { return []byte{0x00} }
func Nop() []byte               { return []byte{0x01} }
func Block() []byte             { return []byte{0x02, 0x40} }
func Loop() []byte              { return []byte{0x03, 0x40} }
func If() []byte                { return []byte{0x04, 0x40} }
func Else() []byte              { return []byte{0x05} }
func End() []byte               { return []byte{0x0B} }
func Br(depth uint32) []byte    { return op(0x0C, uleb(depth)) }
func BrIf(depth uint32) []byte  { return op(0x0D, uleb(depth)) }
func Return() []byte            { return []byte{0x0F} }
func Call(idx uint32) []byte    { return op(0x10, uleb(idx)) }
func Drop() []byte              { return []byte{0x1A} }
func LocalGet(i uint32) []byte  { return op(0x20, uleb(i)) }
func LocalSet(i uint32) []byte  { return op(0x21, uleb(i)) }
func LocalTee(i uint32) []byte  { return op(0x22, uleb(i)) }
func GlobalGet(i uint32) []byte { return op(0x23, uleb(i)) }
func GlobalSet(i uint32) []byte { return op(0x24, uleb(i)) }
func I32Const(v int32) []byte   { return op(0x41, sleb(int64(v))) }
func I64Const(v int64) []byte   { return op(0x42, sleb(v)) }
func I32Eqz() []byte            { return []byte{0x45} }
func I32Add() []byte            { return []byte{0x6A} }
func I32Sub() []byte            { return []byte{0x6B} }
func F32Add() []byte            { return []byte{0x92} }
func F32Mul() []byte            { return []byte{0x94} }

func F32Const(v float32) []byte {
	b := make([]byte, 5)
	b[0] = 0x43
	binary.LittleEndian.PutUint32(b[1:], math.Float32bits(v))
	return b
}

// I32Load loads from the address on the stack at offset.
func I32Load(offset uint32) []byte { return op(0x28, uleb(2), uleb(offset)) }

// F32Load loads from the address on the stack at offset.
func F32Load(offset uint32) []byte { return op(0x2A, uleb(2), uleb(offset)) }

// Raw returns b unchanged; for instructions without a helper.
func Raw(b ...byte) []byte { return b }
