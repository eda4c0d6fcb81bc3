package abi

import (
	"slices"

	"github.com/wippyai/ffb-runtime/errors"
)

// Capability is a named permission checked at call time.
type Capability string

const (
	ReadTelemetry   Capability = "read_telemetry"
	ModifyTelemetry Capability = "modify_telemetry"
	ControlLEDs     Capability = "control_leds"
	ProcessDSP      Capability = "process_dsp"
)

// AllCapabilities lists every capability the host knows.
var AllCapabilities = []Capability{ReadTelemetry, ModifyTelemetry, ControlLEDs, ProcessDSP}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	return slices.Contains(AllCapabilities, c)
}

// CapabilityChecker answers whether a plugin holds a capability. It is
// immutable after construction and fails closed: anything not granted,
// including unknown names, is denied.
type CapabilityChecker struct {
	granted []Capability
}

func NewCapabilityChecker(granted ...Capability) *CapabilityChecker {
	g := make([]Capability, 0, len(granted))
	for _, c := range granted {
		if !slices.Contains(g, c) {
			g = append(g, c)
		}
	}
	return &CapabilityChecker{granted: g}
}

// ParseGranted builds a checker from capability names, rejecting unknown ones.
func ParseGranted(names []string) (*CapabilityChecker, error) {
	caps := make([]Capability, 0, len(names))
	for _, n := range names {
		c := Capability(n)
		if !c.Valid() {
			return nil, errors.InvalidInput(errors.PhaseLoad, "unknown capability "+n)
		}
		caps = append(caps, c)
	}
	return NewCapabilityChecker(caps...), nil
}

// Has reports whether c was granted.
func (cc *CapabilityChecker) Has(c Capability) bool {
	return cc != nil && slices.Contains(cc.granted, c)
}

// Check returns a CapabilityViolationError when c was not granted.
func (cc *CapabilityChecker) Check(c Capability) error {
	if cc.Has(c) {
		return nil
	}
	return &errors.CapabilityViolationError{Capability: string(c)}
}

func (cc *CapabilityChecker) CheckTelemetryRead() error   { return cc.Check(ReadTelemetry) }
func (cc *CapabilityChecker) CheckTelemetryModify() error { return cc.Check(ModifyTelemetry) }
func (cc *CapabilityChecker) CheckLEDControl() error      { return cc.Check(ControlLEDs) }
func (cc *CapabilityChecker) CheckDSPProcessing() error   { return cc.Check(ProcessDSP) }

// Granted returns a copy of the granted set.
func (cc *CapabilityChecker) Granted() []Capability {
	if cc == nil {
		return nil
	}
	return slices.Clone(cc.granted)
}
