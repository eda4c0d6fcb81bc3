package watchdog

import (
	"fmt"
	"math"
	"time"

	"github.com/wippyai/ffb-runtime/errors"
)

// Policy decides when repeated violations put a plugin into quarantine.
// A threshold of zero disables that trigger.
type Policy struct {
	ViolationWindow         time.Duration
	BaseDuration            time.Duration
	MaxCrashes              int
	MaxBudgetViolations     int
	MaxTimeoutViolations    int
	MaxCapabilityViolations int
	MaxEscalationLevel      int
}

// DefaultPolicy returns the thresholds used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxCrashes:              3,
		MaxBudgetViolations:     10,
		MaxTimeoutViolations:    5,
		MaxCapabilityViolations: 20,
		ViolationWindow:         60 * time.Minute,
		BaseDuration:            5 * time.Minute,
		MaxEscalationLevel:      5,
	}
}

// Validate rejects policies that could never quarantine or never expire.
func (p Policy) Validate() error {
	switch {
	case p.ViolationWindow <= 0:
		return invalidPolicy("violation window must be positive")
	case p.BaseDuration <= 0:
		return invalidPolicy("base duration must be positive")
	case p.MaxEscalationLevel < 0 || p.MaxEscalationLevel > 30:
		return invalidPolicy(fmt.Sprintf("max escalation level %d outside [0, 30]", p.MaxEscalationLevel))
	case p.MaxCrashes < 0 || p.MaxBudgetViolations < 0 || p.MaxTimeoutViolations < 0 || p.MaxCapabilityViolations < 0:
		return invalidPolicy("thresholds must not be negative")
	case p.MaxCrashes == 0 && p.MaxBudgetViolations == 0 && p.MaxTimeoutViolations == 0 && p.MaxCapabilityViolations == 0:
		return invalidPolicy("at least one threshold must be set")
	}
	return nil
}

// DurationFor returns the quarantine length at escalation level, which is
// counted from 1 for the first quarantine. The length is
// BaseDuration * 2^min(level, MaxEscalationLevel) and saturates instead of
// overflowing.
func (p Policy) DurationFor(level int) time.Duration {
	shift := min(max(level, 0), p.MaxEscalationLevel)
	if shift >= 63 || p.BaseDuration > maxDuration>>uint(shift) {
		return maxDuration
	}
	return p.BaseDuration << uint(shift)
}

const maxDuration = time.Duration(math.MaxInt64)

func (p Policy) threshold(k ViolationKind) int {
	switch k {
	case Crash:
		return p.MaxCrashes
	case BudgetViolation:
		return p.MaxBudgetViolations
	case TimeoutViolation:
		return p.MaxTimeoutViolations
	case CapabilityViolation:
		return p.MaxCapabilityViolations
	}
	return 0
}

func invalidPolicy(detail string) error {
	return errors.New(errors.PhaseWatchdog, errors.KindInvalidInput).Path("policy").Detail("%s", detail).Build()
}
