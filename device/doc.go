// Package device encodes torque and telemetry reports and provides
// in-process stand-ins for a wheel base: a physics Simulator, a Recorder
// that keeps what was written and a Null writer.
package device
