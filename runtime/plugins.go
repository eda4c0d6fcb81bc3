package runtime

import (
	"context"
	stderrors "errors"
	"math"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/ffb-runtime/abi"
	"github.com/wippyai/ffb-runtime/engine"
	"github.com/wippyai/ffb-runtime/errors"
	"github.com/wippyai/ffb-runtime/native"
	"github.com/wippyai/ffb-runtime/pipeline"
	"github.com/wippyai/ffb-runtime/watchdog"
)

// wasmSlot tracks a WASM plugin on the tick. disabled is set by the tick
// when a call traps and cleared by Maintain after re-instantiation.
type wasmSlot struct {
	id       string
	disabled atomic.Bool
}

// PluginInfo describes a hosted plugin for status displays.
type PluginInfo struct {
	ID          string
	Name        string
	Kind        string
	Calls       uint64
	AvgTime     time.Duration
	Quarantined bool
	Disabled    bool
}

func (r *Runtime) runWasm(ctx context.Context, f *pipeline.Frame) {
	slots := *r.slots.Load()
	if len(slots) == 0 {
		return
	}
	t := &r.telemetry
	tf := abi.TelemetryFrame{
		TimestampUs:    t.TsMonoNs / 1000,
		WheelAngleDeg:  t.WheelAngleDeg,
		WheelSpeedRadS: t.WheelSpeed,
		TemperatureC:   t.TemperatureC,
		FaultFlags:     t.FaultFlags,
	}
	for _, slot := range slots {
		if slot.disabled.Load() || r.wd.IsQuarantined(slot.id) {
			continue
		}
		_ = r.wasm.UpdateTelemetry(slot.id, tf)
		out, err := r.wasm.Process(ctx, slot.id, f.TorqueOut, r.dt)
		if err != nil {
			r.pluginFailed(slot, err)
			continue
		}
		// a non-finite result is dropped; the pipeline sees the input
		if v := float64(out); !math.IsNaN(v) && !math.IsInf(v, 0) {
			f.TorqueOut = out
		}
	}
	r.health.Heartbeat(watchdog.PluginHost)
}

func (r *Runtime) runNative(f *pipeline.Frame) {
	if r.native == nil || r.native.Len() == 0 {
		return
	}
	nf := &r.nframe
	*nf = native.PluginFrame{
		FfbIn:       f.FfbIn,
		TorqueOut:   f.TorqueOut,
		WheelSpeed:  f.WheelSpeed,
		TimestampNs: f.TsMonoNs,
		BudgetUs:    r.budgetUs,
		Sequence:    uint32(f.Seq),
	}
	if r.native.ProcessAll(nf) > 0 {
		f.TorqueOut = nf.TorqueOut
	}
	r.health.Heartbeat(watchdog.PluginHost)
}

// violationKind maps an engine call error to a watchdog violation.
func violationKind(err error) (watchdog.ViolationKind, bool) {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return 0, false
	}
	switch e.Kind {
	case errors.KindCrashed:
		return watchdog.Crash, true
	case errors.KindBudgetViolation:
		if stderrors.Is(err, engine.ErrFuelExhausted) {
			return watchdog.BudgetViolation, true
		}
		return watchdog.TimeoutViolation, true
	}
	return 0, false
}

func (r *Runtime) pluginFailed(slot *wasmSlot, err error) {
	if stderrors.Is(err, errors.ErrPluginDisabled) || stderrors.Is(err, errors.ErrCrashed) || stderrors.Is(err, errors.ErrBudgetViolation) {
		slot.disabled.Store(true)
	}
	kind, ok := violationKind(err)
	if !ok {
		if r.faultLog.Allow() {
			r.logger.Warn("wasm plugin call failed", zap.String("plugin", slot.id), zap.Error(err))
		}
		return
	}
	r.counters.IncPluginViolation()
	if _, werr := r.wd.RecordViolation(slot.id, kind, err.Error()); werr != nil {
		r.logger.Error("record violation", zap.String("plugin", slot.id), zap.Error(werr))
	}
}

// capabilityDenied is the engine's hook for calls to ungranted capabilities.
func (r *Runtime) capabilityDenied(id string, c abi.Capability) {
	r.counters.IncPluginViolation()
	if _, err := r.wd.RecordViolation(id, watchdog.CapabilityViolation, "capability "+string(c)+" not granted"); err != nil {
		r.logger.Error("record violation", zap.String("plugin", id), zap.Error(err))
	}
}

func (r *Runtime) wasmEngine(phase errors.Phase) error {
	if r.wasm == nil {
		return errors.NotInitialized(phase, "wasm engine")
	}
	return nil
}

// LoadWasm loads a WASM plugin and adds it to the tick.
func (r *Runtime) LoadWasm(ctx context.Context, id string, wasm []byte, caps []string) error {
	if err := r.wasmEngine(errors.PhaseLoad); err != nil {
		return err
	}
	if err := r.wasm.LoadPlugin(ctx, id, wasm, caps); err != nil {
		return err
	}
	r.syncSlots()
	return nil
}

// LoadWasmFile reads path and loads it as id.
func (r *Runtime) LoadWasmFile(ctx context.Context, id, path string, caps []string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindNotFound, err, "read "+path)
	}
	return r.LoadWasm(ctx, id, data, caps)
}

// ReloadWasm hot-swaps the module behind id. The plugin keeps its data and
// starts enabled.
func (r *Runtime) ReloadWasm(ctx context.Context, id string, wasm []byte, caps []string) error {
	if err := r.wasmEngine(errors.PhaseLoad); err != nil {
		return err
	}
	if err := r.wasm.ReloadPlugin(ctx, id, wasm, caps); err != nil {
		return err
	}
	r.slotsMu.Lock()
	for _, s := range *r.slots.Load() {
		if s.id == id {
			s.disabled.Store(false)
		}
	}
	r.slotsMu.Unlock()
	return nil
}

// UnloadWasm removes id from the tick and the engine.
func (r *Runtime) UnloadWasm(ctx context.Context, id string) error {
	if err := r.wasmEngine(errors.PhaseRuntime); err != nil {
		return err
	}
	err := r.wasm.UnloadPlugin(ctx, id)
	r.syncSlots()
	if err == nil {
		r.wd.Forget(id)
	}
	return err
}

// syncSlots rebuilds the tick's plugin list from the engine, keeping the
// disabled flag of plugins that stay.
func (r *Runtime) syncSlots() {
	r.slotsMu.Lock()
	defer r.slotsMu.Unlock()
	prev := *r.slots.Load()
	ids := r.wasm.PluginIDs()
	next := make([]*wasmSlot, 0, len(ids))
	for _, id := range ids {
		i := slices.IndexFunc(prev, func(s *wasmSlot) bool { return s.id == id })
		if i >= 0 {
			next = append(next, prev[i])
			continue
		}
		next = append(next, &wasmSlot{id: id})
	}
	r.slots.Store(&next)
}

// LoadNative loads a native plugin and returns its host id.
func (r *Runtime) LoadNative(ctx context.Context, name, path string, config []byte) (string, error) {
	if r.native == nil {
		return "", errors.NotInitialized(errors.PhaseLoad, "native plugin host")
	}
	return r.native.Load(ctx, name, path, config)
}

// Plugins lists WASM plugins by id, then native plugins in load order.
func (r *Runtime) Plugins() []PluginInfo {
	var out []PluginInfo
	for _, s := range *r.slots.Load() {
		info := PluginInfo{
			ID:          s.id,
			Name:        s.id,
			Kind:        "wasm",
			Quarantined: r.wd.IsQuarantined(s.id),
			Disabled:    s.disabled.Load(),
		}
		if n, avg, err := r.wasm.PluginStats(s.id); err == nil {
			info.Calls, info.AvgTime = n, avg
		}
		out = append(out, info)
	}
	if r.native != nil {
		for _, n := range r.native.List() {
			info := PluginInfo{
				ID:          n.ID,
				Name:        n.Name,
				Kind:        "native",
				Quarantined: r.wd.IsQuarantined(n.ID),
			}
			if st, ok := r.native.Stats(n.ID); ok {
				info.Calls = st.Executions
				info.AvgTime = time.Duration(st.AvgTimeUs() * float64(time.Microsecond))
			}
			out = append(out, info)
		}
	}
	return out
}

// MaintenanceReport is what one Maintain pass did.
type MaintenanceReport struct {
	Released  []string
	ReEnabled []string
	Stale     []watchdog.SystemComponent
}

// Maintain expires quarantines, re-instantiates disabled WASM plugins that
// are not quarantined and checks component heartbeats. It must not run on
// the tick goroutine.
func (r *Runtime) Maintain(ctx context.Context) MaintenanceReport {
	var rep MaintenanceReport
	rep.Released = r.wd.CleanupExpired()
	for _, id := range rep.Released {
		r.logger.Info("plugin quarantine expired", zap.String("plugin", id))
	}
	if r.wasm != nil {
		for _, s := range *r.slots.Load() {
			if !s.disabled.Load() || r.wd.IsQuarantined(s.id) {
				continue
			}
			if _, err := r.wasm.ReEnable(ctx, s.id); err != nil {
				r.logger.Warn("re-enable wasm plugin", zap.String("plugin", s.id), zap.Error(err))
				continue
			}
			s.disabled.Store(false)
			rep.ReEnabled = append(rep.ReEnabled, s.id)
		}
	}
	rep.Stale = r.health.Check()
	for _, c := range rep.Stale {
		r.logger.Warn("component heartbeat stale", zap.Stringer("component", c))
	}
	return rep
}
