// Package errors provides structured error types for the force-feedback engine.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the plugin id, a field path, a detail message and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLoad, errors.KindInitializationFailed).
//		Plugin(id).
//		Detail("init returned %d", rc).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.PipelineFault(2, "damper", float32(math.NaN()))
//	err := errors.Channel(errors.KindRingFull, "producer 8 frames ahead")
//
// Every Kind has an exported sentinel. Matching ignores the phase unless the
// target sets one:
//
//	if errors.Is(err, errors.ErrRingFull) { ... }
//
// Errors that carry structured data have their own types, AbiMismatchError and
// CapabilityViolationError, which also match their Kind sentinel.
package errors
