// Package runtime drives the force-feedback tick.
//
// A Runtime owns one compiled pipeline and optionally a WASM plugin engine
// and a native plugin host. Each tick it polls telemetry, lets plugins
// shape the game's force request, runs the filter pipeline and writes the
// resulting torque to the device as an output report.
//
// # Tick order
//
//	telemetry poll (non-blocking, last sample held on a miss)
//	WASM plugins, sorted by id, quarantined or disabled ones skipped
//	native plugins, in load order
//	pipeline (a staged profile is swapped in first)
//	torque report write
//	timing samples and counters
//
// A pipeline fault never reaches the device: the tick degrades to the
// previous torque or to zero, as configured.
//
// # Threads
//
// Tick and Run belong to one goroutine. SwapProfile, Maintain, Status,
// Plugins and the load methods are safe from any goroutine. Maintain does
// the work that must not happen on the tick: re-instantiating disabled
// plugins, expiring quarantines and checking component heartbeats.
//
//	rt, err := runtime.New(runtime.Config{
//	    Profile:   &profile,
//	    Device:    sim,
//	    Telemetry: sim,
//	})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close(ctx)
//	go rt.RunMaintenance(ctx, time.Second)
//	return rt.Run(ctx)
package runtime
