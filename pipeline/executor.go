package pipeline

import (
	"sync/atomic"

	"github.com/wippyai/ffb-runtime/errors"
)

// Executor owns the active pipeline on the real-time goroutine.
//
// Replacement pipelines are compiled elsewhere and handed over with Stage.
// Process picks up a staged pipeline before running, so every tick runs
// entirely on one pipeline and the swap is a single pointer exchange.
type Executor struct {
	active  *Pipeline
	pending atomic.Pointer[Pipeline]
	hash    atomic.Uint64
	swaps   atomic.Uint64
}

// NewExecutor starts with p, or an empty pipeline when p is nil.
func NewExecutor(p *Pipeline) *Executor {
	if p == nil {
		p = &Pipeline{}
	}
	e := &Executor{active: p}
	e.hash.Store(p.hash)
	return e
}

// Process applies any staged pipeline, then runs the active one over f.
func (e *Executor) Process(f *Frame) error {
	if next := e.pending.Swap(nil); next != nil {
		e.install(next)
	}
	return e.active.Process(f)
}

// SwapAtTickBoundary replaces the active pipeline immediately and returns
// the previous one. A pipeline staged earlier is discarded so it cannot
// override p on the next tick. Call it only from the goroutine that calls
// Process.
func (e *Executor) SwapAtTickBoundary(p *Pipeline) (*Pipeline, error) {
	if p == nil {
		return nil, errors.InvalidInput(errors.PhaseProcess, "nil pipeline")
	}
	e.pending.Store(nil)
	prev := e.active
	e.install(p)
	return prev, nil
}

// Stage queues p to become active at the start of the next Process call.
// Safe from any goroutine; a later Stage before that tick wins. A nil p
// withdraws whatever is staged.
func (e *Executor) Stage(p *Pipeline) {
	e.pending.Store(p)
}

// HasPending reports whether a staged pipeline is waiting.
func (e *Executor) HasPending() bool {
	return e.pending.Load() != nil
}

// Active returns the running pipeline. Only the processing goroutine may use it.
func (e *Executor) Active() *Pipeline { return e.active }

// ConfigHash returns the hash of the active pipeline. Safe from any goroutine.
func (e *Executor) ConfigHash() uint64 { return e.hash.Load() }

// Swaps counts completed replacements.
func (e *Executor) Swaps() uint64 { return e.swaps.Load() }

func (e *Executor) install(p *Pipeline) {
	e.active = p
	e.hash.Store(p.hash)
	e.swaps.Add(1)
}
