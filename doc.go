// Package ffb is a real-time force-feedback engine for racing wheels.
//
// Game force-feedback samples and wheel telemetry enter once per tick, pass
// through a compiled filter pipeline and optional third-party plugins, and
// leave as a torque report for the device. Plugins run either as signed
// native libraries or inside a metered WebAssembly sandbox; a watchdog
// quarantines the ones that crash or overrun their budget.
//
// # Architecture Overview
//
//	ffb/                 Collaborator interfaces: DeviceWriter, TelemetrySource
//	├── runtime/         The tick loop tying everything together
//	├── pipeline/        Compiled node chains and the tick-boundary swap
//	├── filter/          Per-node state layouts and step functions
//	├── curve/           256-entry response curve lookup tables
//	├── config/          YAML engine and profile configuration, hot reload
//	├── abi/             Plugin header, capabilities, lifecycle, telemetry frame
//	├── signature/       Detached signatures and the trust store
//	├── native/          Shared-library plugin loader and host
//	├── engine/          WASM sandbox on wazero with fuel and epochs
//	├── shm/             SPSC frame channel in shared memory
//	├── watchdog/        Violation history, quarantine and health checks
//	├── rtstats/         Sample queues, counters, percentiles, Prometheus
//	├── device/          Torque report encoding and a simulated wheel
//	└── errors/          Structured error types
//
// # Quick Start
//
// Run a profile against the simulated wheel:
//
//	sim := device.NewSimulator(device.SimulatorConfig{})
//	profile := config.DefaultProfile()
//	rt, err := runtime.New(runtime.Config{
//	    Profile:   &profile,
//	    Device:    sim,
//	    Telemetry: sim,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	if err := rt.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Real-Time Rules
//
// Nothing on the tick path blocks or allocates. Telemetry is polled and
// sample queues drop on overflow. Plugin calls carry a hard budget. A
// faulting pipeline degrades the tick's output; the report is written
// either way. Anything that may block, such as compiling a new profile,
// happens on other goroutines and is handed over at a tick boundary.
//
// # Thread Safety
//
// runtime.Runtime.Tick and Run must be driven by one goroutine. Its other
// methods, the watchdog, stats and plugin hosts are safe for concurrent use.
package ffb
