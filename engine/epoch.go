package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultEpochDeadline is how many increments a call survives when the
// runtime has no explicit deadline. The tick loop increments once per tick.
const DefaultEpochDeadline = 100

// EpochCounter is a coarse clock shared by all plugins of a Runtime.
// Each guarded call registers the epoch at which it must stop; Increment
// cancels the contexts of calls whose deadline has been reached. wazero
// observes the cancellation at function entries and loop back-edges.
type EpochCounter struct {
	waiters map[uint64]epochWaiter
	current atomic.Uint64
	nextID  uint64
	mu      sync.Mutex
}

type epochWaiter struct {
	cancel   context.CancelFunc
	deadline uint64
}

func NewEpochCounter() *EpochCounter {
	return &EpochCounter{waiters: make(map[uint64]epochWaiter)}
}

// Current returns the number of increments so far.
func (e *EpochCounter) Current() uint64 { return e.current.Load() }

// Increment advances the epoch and cancels every call whose deadline is
// now reached. It returns the new epoch.
func (e *EpochCounter) Increment() uint64 {
	now := e.current.Add(1)
	e.mu.Lock()
	for id, w := range e.waiters {
		if w.deadline <= now {
			w.cancel()
			delete(e.waiters, id)
		}
	}
	e.mu.Unlock()
	return now
}

// WithDeadline derives a context that is canceled once the epoch advances
// by ticks. The returned cancel function must be called when the call ends.
func (e *EpochCounter) WithDeadline(parent context.Context, ticks uint64) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	stop := func() { cancel(ErrEpochDeadline) }

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.waiters[id] = epochWaiter{deadline: e.current.Load() + ticks, cancel: stop}
	e.mu.Unlock()

	return ctx, func() {
		e.mu.Lock()
		delete(e.waiters, id)
		e.mu.Unlock()
		cancel(context.Canceled)
	}
}

// Pending returns the number of registered calls.
func (e *EpochCounter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.waiters)
}
