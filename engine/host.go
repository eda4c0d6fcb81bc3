package engine

import (
	"context"
	"unicode/utf8"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/ffb-runtime/abi"
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// hostEnv backs the env module of one plugin instance.
type hostEnv struct {
	state  *PluginState
	caps   *abi.CapabilityChecker
	logger *zap.Logger
	denied func(abi.Capability)
}

func (h *hostEnv) instantiate(ctx context.Context, rt wazero.Runtime) error {
	b := rt.NewHostModuleBuilder(abi.HostModule)
	define := func(name string, fn api.GoModuleFunc, params, results []api.ValueType) {
		b.NewFunctionBuilder().WithGoModuleFunction(fn, params, results).Export(name)
	}
	define(abi.HostCheckCapability, h.checkCapability, []api.ValueType{i32, i32}, []api.ValueType{i32})
	define(abi.HostPluginLog, h.pluginLog, []api.ValueType{i32, i32, i32}, nil)
	define(abi.HostLogDebug, h.levelLog(abi.LogDebug), []api.ValueType{i32, i32}, nil)
	define(abi.HostLogInfo, h.levelLog(abi.LogInfo), []api.ValueType{i32, i32}, nil)
	define(abi.HostLogWarn, h.levelLog(abi.LogWarn), []api.ValueType{i32, i32}, nil)
	define(abi.HostLogError, h.levelLog(abi.LogError), []api.ValueType{i32, i32}, nil)
	define(abi.HostGetTelemetry, h.getTelemetry, []api.ValueType{i32, i32}, []api.ValueType{i32})
	define(abi.HostGetTimestampUs, h.getTimestampUs, nil, []api.ValueType{i64})
	_, err := b.Instantiate(ctx)
	return err
}

// guestString reads len bytes at ptr as UTF-8.
func guestString(mod api.Module, ptr, n uint64) (string, bool) {
	mem := mod.Memory()
	if mem == nil {
		return "", false
	}
	b, ok := mem.Read(api.DecodeU32(ptr), api.DecodeU32(n))
	if !ok || !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}

// check_capability(ptr, len) -> 1 granted, 0 denied or unknown, -1 bad string
func (h *hostEnv) checkCapability(_ context.Context, mod api.Module, stack []uint64) {
	name, ok := guestString(mod, stack[0], stack[1])
	switch {
	case !ok:
		stack[0] = api.EncodeI32(abi.RCError)
	case h.caps.Has(abi.Capability(name)):
		stack[0] = api.EncodeI32(1)
	default:
		stack[0] = api.EncodeI32(0)
	}
}

func (h *hostEnv) pluginLog(_ context.Context, mod api.Module, stack []uint64) {
	msg, ok := guestString(mod, stack[1], stack[2])
	if !ok {
		return
	}
	h.log(abi.LogLevel(api.DecodeI32(stack[0])), msg)
}

func (h *hostEnv) levelLog(level abi.LogLevel) api.GoModuleFunc {
	return func(_ context.Context, mod api.Module, stack []uint64) {
		if msg, ok := guestString(mod, stack[0], stack[1]); ok {
			h.log(level, msg)
		}
	}
}

func (h *hostEnv) log(level abi.LogLevel, msg string) {
	switch level {
	case abi.LogError:
		h.logger.Error(msg)
	case abi.LogWarn:
		h.logger.Warn(msg)
	case abi.LogInfo:
		h.logger.Info(msg)
	default:
		h.logger.Debug(msg, zap.Int32("level", int32(level)))
	}
}

// get_telemetry(ptr, len) -> rc; writes one abi.TelemetryFrame at ptr.
func (h *hostEnv) getTelemetry(_ context.Context, mod api.Module, stack []uint64) {
	stack[0] = api.EncodeI32(h.writeTelemetry(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1])))
}

func (h *hostEnv) writeTelemetry(mod api.Module, ptr, n uint32) int32 {
	if err := h.caps.CheckTelemetryRead(); err != nil {
		h.state.recordDenial()
		if h.denied != nil {
			h.denied(abi.ReadTelemetry)
		}
		h.logger.Warn("capability denied", zap.Error(err))
		return abi.RCPermissionDenied
	}
	if n < abi.TelemetryFrameSize {
		return abi.RCBufferTooSmall
	}
	mem := mod.Memory()
	if mem == nil {
		return abi.RCNotInitialized
	}
	var buf [abi.TelemetryFrameSize]byte
	h.state.Telemetry().Put(buf[:])
	if !mem.Write(ptr, buf[:]) {
		return abi.RCInvalidArg
	}
	return abi.RCSuccess
}

func (h *hostEnv) getTimestampUs(_ context.Context, _ api.Module, stack []uint64) {
	stack[0] = h.state.TimestampUs()
}
