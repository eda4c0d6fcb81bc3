package pipeline

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/wippyai/ffb-runtime/curve"
	"github.com/wippyai/ffb-runtime/errors"
	"github.com/wippyai/ffb-runtime/filter"
)

// Frame is the record a tick pushes through the chain.
type Frame = filter.Frame

// Pipeline is a compiled node chain. All node state lives in one arena;
// node i owns arena[offsets[i]:offsets[i+1]] (the last node runs to the end).
//
// A Pipeline is owned by one goroutine at a time. Process does not allocate.
type Pipeline struct {
	response *curve.Lut
	kinds    []filter.Kind
	offsets  []int
	arena    []float32
	initial  []float32
	hash     uint64
}

// Process runs every node over f in order. After each node the torque must
// be finite and within [-1, 1]; otherwise the pass stops with a
// pipeline_fault naming the node. On success the response curve, if any,
// is applied to |torque| with the sign preserved.
func (p *Pipeline) Process(f *Frame) error {
	if len(p.kinds) == 0 && p.response == nil {
		return nil
	}
	last := len(p.kinds) - 1
	for i, k := range p.kinds {
		end := len(p.arena)
		if i < last {
			end = p.offsets[i+1]
		}
		filter.Step(k, f, p.arena[p.offsets[i]:end])
		if t := f.TorqueOut; !(t >= -1 && t <= 1) {
			return errors.PipelineFault(i, k.String(), t)
		}
	}
	if p.response != nil {
		t := f.TorqueOut
		if !(t >= -1 && t <= 1) {
			return errors.PipelineFault(-1, "response_curve", t)
		}
		y := p.response.Lookup(abs(t))
		if t < 0 {
			y = -y
		}
		f.TorqueOut = y
	}
	return nil
}

// Len returns the number of nodes.
func (p *Pipeline) Len() int { return len(p.kinds) }

// Kinds returns the node kinds in execution order.
func (p *Pipeline) Kinds() []filter.Kind {
	return append([]filter.Kind(nil), p.kinds...)
}

// ConfigHash identifies the configuration the pipeline was built from.
// Equal configurations produce equal hashes.
func (p *Pipeline) ConfigHash() uint64 { return p.hash }

// ResponseCurve returns the curve applied after the chain, or nil.
func (p *Pipeline) ResponseCurve() *curve.Lut { return p.response }

// StateSize returns the arena length in float32 slots.
func (p *Pipeline) StateSize() int { return len(p.arena) }

// Reset restores every node to its freshly built state.
func (p *Pipeline) Reset() {
	copy(p.arena, p.initial)
}

// Clone returns an independent pipeline with a copy of the current state.
func (p *Pipeline) Clone() *Pipeline {
	return &Pipeline{
		response: p.response,
		kinds:    p.kinds,
		offsets:  p.offsets,
		arena:    append([]float32(nil), p.arena...),
		initial:  p.initial,
		hash:     p.hash,
	}
}

// Builder assembles a Pipeline. The arena is sized once in Build.
type Builder struct {
	nodes    []filter.Node
	response *curve.Lut
	err      error
	hash     *uint64
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a node. Invalid nodes make Build fail.
func (b *Builder) Add(n filter.Node) *Builder {
	if b.err != nil {
		return b
	}
	if err := n.Validate(); err != nil {
		b.err = errors.New(errors.PhaseCompile, errors.KindInvalidInput).
			Path("node", strconv.Itoa(len(b.nodes))).
			Cause(err).
			Detail("invalid %s node", n.Kind).
			Build()
		return b
	}
	b.nodes = append(b.nodes, n)
	return b
}

// WithResponseCurve sets the curve applied after the chain. Nil clears it.
func (b *Builder) WithResponseCurve(lut *curve.Lut) *Builder {
	b.response = lut
	return b
}

// WithHash overrides the hash derived from the nodes.
func (b *Builder) WithHash(h uint64) *Builder {
	b.hash = &h
	return b
}

// Build lays out the arena and seeds node state.
func (b *Builder) Build() (*Pipeline, error) {
	if b.err != nil {
		return nil, b.err
	}
	p := &Pipeline{
		response: b.response,
		kinds:    make([]filter.Kind, len(b.nodes)),
		offsets:  make([]int, len(b.nodes)),
	}
	size := 0
	for i, n := range b.nodes {
		p.kinds[i] = n.Kind
		p.offsets[i] = size
		size += filter.StateSize(n.Kind)
	}
	p.arena = make([]float32, size)
	for i, n := range b.nodes {
		n.Init(p.arena[p.offsets[i] : p.offsets[i]+filter.StateSize(n.Kind)])
	}
	p.initial = append([]float32(nil), p.arena...)

	if b.hash != nil {
		p.hash = *b.hash
	} else {
		p.hash = hashNodes(b.nodes, b.response)
	}
	return p, nil
}

// hashNodes digests kinds, parameters and tables in order.
func hashNodes(nodes []filter.Node, response *curve.Lut) uint64 {
	d := xxhash.New()
	var buf [4]byte
	putF := func(v float32) {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		_, _ = d.Write(buf[:])
	}
	putTable := func(l *curve.Lut) {
		t := l.Table()
		for _, v := range t {
			putF(v)
		}
	}
	for _, n := range nodes {
		_, _ = d.Write([]byte{byte(n.Kind)})
		for _, v := range n.Params {
			putF(v)
		}
		if n.Kind == filter.KindCurve {
			putTable(n.Curve)
		}
	}
	if response != nil {
		_, _ = d.Write([]byte{0xFF})
		putTable(response)
	}
	return d.Sum64()
}

func abs(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
