// Package abi defines the contract between the host and plugins.
//
// It covers the 16-byte handshake Header and its capability bits, the named
// capabilities enforced at call time by CapabilityChecker, the plugin
// lifecycle, the exports a WASM plugin must provide, the host functions it
// may import from the "env" module, and the 32-byte TelemetryFrame those
// functions hand out.
package abi
