// Package meter rewrites core WASM binaries so the host can bound how much
// guest code a call may run.
//
// The rewrite appends one mutable i64 global, exported under the configured
// name, and prepends a charge to every function body and to every loop body.
// A charge subtracts the number of instructions the guarded straight-line
// region contains and traps through unreachable once the balance goes
// negative. Calls are charged by the callee, so the balance bounds the total
// work of one host call regardless of recursion.
//
// Instruction sets that the walker cannot decode (SIMD, threads, exception
// handling, GC, typed function references, memory64) reject the module.
package meter
