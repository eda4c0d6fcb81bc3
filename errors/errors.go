package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCompile  Phase = "compile"  // pipeline or module compilation
	PhaseLoad     Phase = "load"     // plugin loading
	PhaseVerify   Phase = "verify"   // signature verification
	PhaseValidate Phase = "validate" // limit and config validation
	PhaseRuntime  Phase = "runtime"  // plugin calls
	PhaseProcess  Phase = "process"  // real-time pipeline
	PhaseChannel  Phase = "channel"  // shared memory transport
	PhaseWatchdog Phase = "watchdog" // quarantine policy
	PhaseConfig   Phase = "config"   // configuration files
)

// Kind categorizes the error
type Kind string

const (
	KindPipelineFault         Kind = "pipeline_fault"
	KindAbiMismatch           Kind = "abi_mismatch"
	KindUnsignedPlugin        Kind = "unsigned_plugin"
	KindUntrustedSigner       Kind = "untrusted_signer"
	KindDistrustedSigner      Kind = "distrusted_signer"
	KindSignatureInvalid      Kind = "signature_verification_failed"
	KindCapabilityViolation   Kind = "capability_violation"
	KindRingFull              Kind = "ring_full"
	KindNoData                Kind = "no_data"
	KindSizeMismatch          Kind = "size_mismatch"
	KindNotQuarantined        Kind = "not_quarantined"
	KindBudgetViolation       Kind = "budget_violation"
	KindCrashed               Kind = "crashed"
	KindPluginDisabled        Kind = "plugin_disabled"
	KindInitializationFailed  Kind = "initialization_failed"
	KindLoadingFailed         Kind = "loading_failed"
	KindNotFound              Kind = "not_found"
	KindInvalidInput          Kind = "invalid_input"
	KindInvalidData           Kind = "invalid_data"
	KindNotInitialized        Kind = "not_initialized"
	KindLimitExceeded         Kind = "limit_exceeded"
	KindUnsupported           Kind = "unsupported"
	KindShutdown              Kind = "shutdown"
	KindInvalidStateChange    Kind = "invalid_state_change"
	KindAlreadyExists         Kind = "already_exists"
	KindPermissionDenied      Kind = "permission_denied"
	KindInstrumentationFailed Kind = "instrumentation_failed"
)

// Sentinels for errors.Is. They match any phase.
var (
	ErrPipelineFault        = &Error{Kind: KindPipelineFault}
	ErrAbiMismatch          = &Error{Kind: KindAbiMismatch}
	ErrUnsignedPlugin       = &Error{Kind: KindUnsignedPlugin}
	ErrUntrustedSigner      = &Error{Kind: KindUntrustedSigner}
	ErrDistrustedSigner     = &Error{Kind: KindDistrustedSigner}
	ErrSignatureInvalid     = &Error{Kind: KindSignatureInvalid}
	ErrCapabilityViolation  = &Error{Kind: KindCapabilityViolation}
	ErrRingFull             = &Error{Kind: KindRingFull}
	ErrNoData               = &Error{Kind: KindNoData}
	ErrSizeMismatch         = &Error{Kind: KindSizeMismatch}
	ErrNotQuarantined       = &Error{Kind: KindNotQuarantined}
	ErrBudgetViolation      = &Error{Kind: KindBudgetViolation}
	ErrCrashed              = &Error{Kind: KindCrashed}
	ErrPluginDisabled       = &Error{Kind: KindPluginDisabled}
	ErrInitializationFailed = &Error{Kind: KindInitializationFailed}
	ErrLoadingFailed        = &Error{Kind: KindLoadingFailed}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrInvalidData          = &Error{Kind: KindInvalidData}
	ErrNotInitialized       = &Error{Kind: KindNotInitialized}
	ErrLimitExceeded        = &Error{Kind: KindLimitExceeded}
	ErrUnsupported          = &Error{Kind: KindUnsupported}
	ErrShutdown             = &Error{Kind: KindShutdown}
	ErrInvalidStateChange   = &Error{Kind: KindInvalidStateChange}
	ErrAlreadyExists        = &Error{Kind: KindAlreadyExists}
	ErrPermissionDenied     = &Error{Kind: KindPermissionDenied}

	ErrInstrumentationFailed = &Error{Kind: KindInstrumentationFailed}
)

// Error is the structured error type used throughout the engine
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Plugin string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Plugin != "" {
		b.WriteString(": plugin ")
		b.WriteString(e.Plugin)
	}

	if e.Detail != "" {
		if e.Plugin != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// Kinds must be equal; the phase is compared only when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Phase == "" || e.Phase == t.Phase
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Plugin sets the plugin identifier
func (b *Builder) Plugin(id string) *Builder {
	b.err.Plugin = id
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// PipelineFault reports an out-of-range torque after the given node.
func PipelineFault(node int, kind string, value float32) *Error {
	return &Error{
		Phase:  PhaseProcess,
		Kind:   KindPipelineFault,
		Path:   []string{fmt.Sprintf("node[%d]", node), kind},
		Detail: fmt.Sprintf("torque_out %v outside [-1, 1]", value),
		Value:  value,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// NotInitialized creates a not-initialized error for a plugin or component
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// LimitExceeded reports a resource limit breach.
func LimitExceeded(phase Phase, limit string, value, max any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindLimitExceeded,
		Detail: fmt.Sprintf("%s %v exceeds limit %v", limit, value, max),
		Value:  value,
	}
}

// Load creates a plugin loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindLoadingFailed,
		Detail: detail,
		Cause:  cause,
	}
}

// Channel creates a shared memory channel error
func Channel(kind Kind, detail string) *Error {
	return &Error{
		Phase:  PhaseChannel,
		Kind:   kind,
		Detail: detail,
	}
}

// AbiMismatchError is returned when a plugin reports an ABI version other than the host's.
type AbiMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *AbiMismatchError) Error() string {
	return fmt.Sprintf("[load] abi_mismatch: expected 0x%08X, got 0x%08X", e.Expected, e.Actual)
}

// Is matches the abi_mismatch sentinel and other AbiMismatchError values.
func (e *AbiMismatchError) Is(target error) bool {
	switch t := target.(type) {
	case *AbiMismatchError:
		return true
	case *Error:
		return t.Kind == KindAbiMismatch && (t.Phase == "" || t.Phase == PhaseLoad)
	}
	return false
}

// CapabilityViolationError is returned when a plugin uses a capability it was not granted.
type CapabilityViolationError struct {
	Capability string
}

func (e *CapabilityViolationError) Error() string {
	return fmt.Sprintf("[runtime] capability_violation: %s not granted", e.Capability)
}

// Is matches the capability_violation sentinel and other CapabilityViolationError values.
func (e *CapabilityViolationError) Is(target error) bool {
	switch t := target.(type) {
	case *CapabilityViolationError:
		return true
	case *Error:
		return t.Kind == KindCapabilityViolation && (t.Phase == "" || t.Phase == PhaseRuntime)
	}
	return false
}
