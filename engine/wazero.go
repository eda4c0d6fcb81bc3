package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/ffb-runtime/abi"
	"github.com/wippyai/ffb-runtime/errors"
	"github.com/wippyai/ffb-runtime/internal/meter"
)

// instance is one plugin module running in its own wazero runtime, so that
// memory limits and context-driven closing apply to it alone.
type instance struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	module   api.Module
	process  api.Function
	init     api.Function
	shutdown api.Function
	fuel     api.MutableGlobal
	fuelName string
	exports  abi.ExportValidation
	stackBuf []uint64
}

// compile instruments bin, sets up the env module for h and compiles the
// result. The module is not instantiated yet.
func compile(ctx context.Context, bin []byte, limits ResourceLimits, h *hostEnv) (*instance, error) {
	res, err := meter.Instrument(bin, meter.Config{MaxTableElements: limits.MaxTableElements})
	if err != nil {
		return nil, err
	}

	cfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(limits.MemoryPages()).
		WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	if err := h.instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, errors.Load("instantiate host module", err)
	}
	compiled, err := rt.CompileModule(ctx, res.Binary)
	if err != nil {
		rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindLoadingFailed, err, "compile failed")
	}

	return &instance{
		runtime:  rt,
		compiled: compiled,
		fuelName: res.FuelGlobal,
		exports:  validateExports(compiled),
		stackBuf: make([]uint64, 2),
	}, nil
}

func signature(def api.FunctionDefinition, params, results []api.ValueType) bool {
	if def == nil {
		return false
	}
	return equalTypes(def.ParamTypes(), params) && equalTypes(def.ResultTypes(), results)
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func validateExports(c wazero.CompiledModule) abi.ExportValidation {
	fns := c.ExportedFunctions()
	f32 := api.ValueTypeF32
	_, hasMemory := c.ExportedMemories()[abi.ExportMemory]
	return abi.ExportValidation{
		HasProcess:  signature(fns[abi.ExportProcess], []api.ValueType{f32, f32}, []api.ValueType{f32}),
		HasMemory:   hasMemory,
		HasInit:     signature(fns[abi.ExportInit], nil, []api.ValueType{i32}),
		HasShutdown: signature(fns[abi.ExportShutdown], nil, nil),
		HasGetInfo:  signature(fns[abi.ExportGetInfo], []api.ValueType{i32, i32}, []api.ValueType{i32}),
	}
}

// start instantiates the compiled module. It may be called again after the
// module was closed by a canceled call.
func (i *instance) start(ctx context.Context) error {
	mod, err := i.runtime.InstantiateModule(ctx, i.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return errors.Load("instantiate failed", err)
	}
	fuel, ok := mod.ExportedGlobal(i.fuelName).(api.MutableGlobal)
	if !ok {
		mod.Close(ctx)
		return errors.Load("fuel counter missing after instrumentation", nil)
	}
	i.module = mod
	i.fuel = fuel
	i.process = mod.ExportedFunction(abi.ExportProcess)
	if i.exports.HasInit {
		i.init = mod.ExportedFunction(abi.ExportInit)
	}
	if i.exports.HasShutdown {
		i.shutdown = mod.ExportedFunction(abi.ExportShutdown)
	}
	return nil
}

func (i *instance) closed() bool {
	return i.module == nil || i.module.IsClosed()
}

// callProcess runs process(input, dt) with a fresh fuel balance.
func (i *instance) callProcess(ctx context.Context, input, dt float32, fuel uint64) (float32, error) {
	i.fuel.Set(fuel)
	i.stackBuf[0] = api.EncodeF32(input)
	i.stackBuf[1] = api.EncodeF32(dt)
	if err := i.process.CallWithStack(ctx, i.stackBuf); err != nil {
		return 0, err
	}
	return api.DecodeF32(i.stackBuf[0]), nil
}

// callInit runs init() and returns its status code.
func (i *instance) callInit(ctx context.Context, fuel uint64) (int32, error) {
	i.fuel.Set(fuel)
	if err := i.init.CallWithStack(ctx, i.stackBuf); err != nil {
		return 0, err
	}
	return api.DecodeI32(i.stackBuf[0]), nil
}

// callShutdown runs shutdown() when exported. Errors are ignored by callers.
func (i *instance) callShutdown(ctx context.Context, fuel uint64) error {
	if i.shutdown == nil || i.closed() {
		return nil
	}
	i.fuel.Set(fuel)
	return i.shutdown.CallWithStack(ctx, i.stackBuf)
}

// fuelLeft is the balance after the last call; negative once exhausted.
func (i *instance) fuelLeft() int64 {
	if i.fuel == nil {
		return 0
	}
	return int64(i.fuel.Get())
}

func (i *instance) close(ctx context.Context) error {
	return i.runtime.Close(ctx)
}
