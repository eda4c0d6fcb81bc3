// Package engine runs WASM force-feedback plugins in a wazero sandbox.
//
// Every plugin gets a private wazero runtime, which is what makes the
// per-plugin memory cap and context-driven termination possible:
//
//	ResourceLimits  - memory, fuel, table, instance and wall-time bounds
//	EpochCounter    - coarse clock whose increments interrupt long calls
//	PluginState     - lifecycle, key/value data, telemetry and counters
//	Runtime         - load, call, reload and unload plugins by id
//
// # Plugin ABI
//
// A plugin exports memory and process(f32 input, f32 dt) -> f32. It may
// export init() -> i32, shutdown() and get_info(i32, i32) -> i32, and may
// import from the "env" module:
//
//	check_capability(ptr, len) -> i32   1 granted, 0 denied, -1 bad string
//	plugin_log(level, ptr, len)
//	log_debug/log_info/log_warn/log_error(ptr, len)
//	get_telemetry(ptr, len) -> i32      needs read_telemetry
//	get_timestamp_us() -> i64           microseconds since load
//
// # Fuel
//
// Modules are rewritten before compilation so that each function entry
// and loop header charges an exported counter (see internal/meter). The
// runtime sets the counter to MaxFuel before every call. A trap with a
// negative balance is a budget violation rather than a crash.
//
// # Thread Safety
//
// Runtime is safe for concurrent use. Calls into the same plugin are
// serialized.
package engine
