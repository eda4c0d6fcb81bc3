package engine

import (
	"fmt"
	"time"

	"github.com/wippyai/ffb-runtime/errors"
)

// WasmPageSize is the size of one linear memory page.
const WasmPageSize = 64 * 1024

// Validation bounds for ResourceLimits.
const (
	MinMemoryBytes    = WasmPageSize
	MaxMemoryLimit    = 4 << 30
	MinFuel           = 1_000
	MaxFuelLimit      = 10_000_000_000
	MaxInstancesLimit = 1_000
)

// ResourceLimits bounds what a WASM plugin may consume.
type ResourceLimits struct {
	// MaxMemoryBytes caps linear memory, rounded down to whole pages.
	MaxMemoryBytes uint64
	// MaxFuel is the instruction budget of one call.
	MaxFuel uint64
	// MaxExecutionTime bounds one call by wall time. Zero disables it.
	MaxExecutionTime time.Duration
	// MaxTableElements caps every table the module declares.
	MaxTableElements uint32
	// MaxInstances caps how many plugins one Runtime holds.
	MaxInstances uint32
	// EpochInterruption lets EpochCounter.Increment cancel calls.
	EpochInterruption bool
}

func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryBytes:    16 << 20,
		MaxFuel:           10_000_000,
		MaxTableElements:  10_000,
		MaxInstances:      32,
		EpochInterruption: true,
	}
}

// ConservativeLimits suits untrusted plugins.
func ConservativeLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryBytes:    4 << 20,
		MaxFuel:           1_000_000,
		MaxTableElements:  1_000,
		MaxInstances:      8,
		MaxExecutionTime:  time.Second,
		EpochInterruption: true,
	}
}

// GenerousLimits suits trusted, heavier plugins.
func GenerousLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryBytes:    64 << 20,
		MaxFuel:           50_000_000,
		MaxTableElements:  50_000,
		MaxInstances:      128,
		EpochInterruption: true,
	}
}

// LimitsByName resolves a preset name as used in configuration files.
func LimitsByName(name string) (ResourceLimits, error) {
	switch name {
	case "", "default":
		return DefaultLimits(), nil
	case "conservative":
		return ConservativeLimits(), nil
	case "generous":
		return GenerousLimits(), nil
	}
	return ResourceLimits{}, errors.New(errors.PhaseValidate, errors.KindInvalidInput).
		Detail("unknown limits preset %q", name).
		Build()
}

func (l ResourceLimits) WithMemory(bytes uint64) ResourceLimits {
	l.MaxMemoryBytes = bytes
	return l
}

func (l ResourceLimits) WithFuel(fuel uint64) ResourceLimits {
	l.MaxFuel = fuel
	return l
}

func (l ResourceLimits) WithTableElements(n uint32) ResourceLimits {
	l.MaxTableElements = n
	return l
}

func (l ResourceLimits) WithMaxInstances(n uint32) ResourceLimits {
	l.MaxInstances = n
	return l
}

func (l ResourceLimits) WithExecutionTime(d time.Duration) ResourceLimits {
	l.MaxExecutionTime = d
	return l
}

func (l ResourceLimits) WithEpochInterruption(enabled bool) ResourceLimits {
	l.EpochInterruption = enabled
	return l
}

// MemoryPages returns MaxMemoryBytes in whole wasm pages.
func (l ResourceLimits) MemoryPages() uint32 {
	return uint32(l.MaxMemoryBytes / WasmPageSize)
}

// Validate checks every limit against its allowed range.
func (l ResourceLimits) Validate() error {
	switch {
	case l.MaxMemoryBytes < MinMemoryBytes:
		return limitError("max_memory_bytes", fmt.Sprintf("%d is below minimum %d", l.MaxMemoryBytes, MinMemoryBytes))
	case l.MaxMemoryBytes > MaxMemoryLimit:
		return limitError("max_memory_bytes", fmt.Sprintf("%d exceeds maximum %d", l.MaxMemoryBytes, uint64(MaxMemoryLimit)))
	case l.MaxFuel < MinFuel:
		return limitError("max_fuel", fmt.Sprintf("%d is below minimum %d", l.MaxFuel, MinFuel))
	case l.MaxFuel > MaxFuelLimit:
		return limitError("max_fuel", fmt.Sprintf("%d exceeds maximum %d", l.MaxFuel, uint64(MaxFuelLimit)))
	case l.MaxInstances == 0:
		return limitError("max_instances", "must be at least 1")
	case l.MaxInstances > MaxInstancesLimit:
		return limitError("max_instances", fmt.Sprintf("%d exceeds limit %d", l.MaxInstances, MaxInstancesLimit))
	case l.MaxExecutionTime < 0:
		return limitError("max_execution_time", "must not be negative")
	}
	return nil
}

func (l ResourceLimits) String() string {
	timeout := "none"
	if l.MaxExecutionTime > 0 {
		timeout = l.MaxExecutionTime.String()
	}
	return fmt.Sprintf("memory=%dKiB fuel=%d tables=%d instances=%d timeout=%s epoch=%t",
		l.MaxMemoryBytes/1024, l.MaxFuel, l.MaxTableElements, l.MaxInstances, timeout, l.EpochInterruption)
}

func limitError(field, detail string) error {
	return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
		Path("limits", field).
		Detail("%s", detail).
		Build()
}
