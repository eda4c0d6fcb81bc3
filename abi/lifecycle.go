package abi

import (
	"fmt"

	"github.com/wippyai/ffb-runtime/errors"
)

// InitStatus is a plugin's position in its lifecycle.
type InitStatus uint8

const (
	Uninitialized InitStatus = iota
	Initializing
	Initialized
	Failed
	ShutDown
)

func (s InitStatus) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	case Failed:
		return "failed"
	case ShutDown:
		return "shut_down"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Terminal reports whether no transition leaves s.
func (s InitStatus) Terminal() bool {
	return s == Failed || s == ShutDown
}

// CanTransition reports whether from -> to is an allowed edge:
//
//	Uninitialized -> Initializing -> Initialized -> ShutDown
//	                 Initializing -> Failed
//	                                 Initialized -> Failed
func CanTransition(from, to InitStatus) bool {
	switch from {
	case Uninitialized:
		return to == Initializing
	case Initializing:
		return to == Initialized || to == Failed
	case Initialized:
		return to == Failed || to == ShutDown
	}
	return false
}

// Lifecycle tracks one plugin's status. Not safe for concurrent use; owners
// guard it with their own lock.
type Lifecycle struct {
	status InitStatus
}

func (l *Lifecycle) Status() InitStatus { return l.status }

// Transition moves to the given status or returns invalid_state_change.
func (l *Lifecycle) Transition(to InitStatus) error {
	if !CanTransition(l.status, to) {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidStateChange).
			Detail("%s -> %s", l.status, to).
			Build()
	}
	l.status = to
	return nil
}

// IsReady reports whether the plugin may process frames.
func (l *Lifecycle) IsReady() bool { return l.status == Initialized }

// Reset returns to Uninitialized. Used when a plugin is reloaded from scratch.
func (l *Lifecycle) Reset() { l.status = Uninitialized }
