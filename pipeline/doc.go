// Package pipeline compiles filter profiles into node chains and runs them.
//
// A Pipeline keeps every node's state in one []float32 arena addressed by
// offsets, and dispatches on the node kind, so Process is a straight loop
// with no allocation. Each node's output is checked before the next runs:
// a NaN, infinity or torque outside [-1, 1] stops the pass with a
// pipeline_fault error.
//
// Profiles are compiled off the real-time goroutine and handed to an
// Executor, which installs them between ticks:
//
//	pl, err := pipeline.NewCompiler(nil).Compile(&profile)
//	if err != nil {
//		return err
//	}
//	exec.Stage(pl) // active from the next Process call
package pipeline
