package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/ffb-runtime/abi"
	"github.com/wippyai/ffb-runtime/errors"
)

// Budget causes. A budget_violation from Process wraps exactly one of them.
var (
	// ErrEpochDeadline is the cancellation cause of a call stopped by the
	// epoch counter.
	ErrEpochDeadline = stderrors.New("epoch deadline reached")
	// ErrExecutionTimeout marks a call stopped by MaxExecutionTime.
	ErrExecutionTimeout = stderrors.New("execution time exceeded")
	// ErrFuelExhausted marks a call that ran out of fuel.
	ErrFuelExhausted = stderrors.New("fuel exhausted")
)

// DisabledInfo records why a plugin stopped running.
type DisabledInfo struct {
	At     time.Time
	Reason string
}

type plugin struct {
	inst     *instance
	state    *PluginState
	caps     *abi.CapabilityChecker
	disabled *DisabledInfo
	id       string
	limits   ResourceLimits
	mu       sync.Mutex
}

// Runtime hosts sandboxed WASM plugins. Each plugin gets its own wazero
// runtime; calls into one plugin are serialized, different plugins may run
// concurrently.
type Runtime struct {
	plugins  map[string]*plugin
	epoch    *EpochCounter
	now      func() time.Time
	logger   *zap.Logger
	onDenied func(id string, c abi.Capability)
	limits   ResourceLimits
	deadline atomic.Uint64
	mu       sync.RWMutex
}

type RuntimeOption func(*Runtime)

func WithClock(now func() time.Time) RuntimeOption {
	return func(r *Runtime) { r.now = now }
}

func WithLogger(l *zap.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = l }
}

// WithEpochCounter shares an epoch counter between runtimes.
func WithEpochCounter(e *EpochCounter) RuntimeOption {
	return func(r *Runtime) { r.epoch = e }
}

// WithCapabilityHook is called when a plugin touches a capability it was
// not granted. It runs on the calling goroutine inside the plugin call.
func WithCapabilityHook(fn func(id string, c abi.Capability)) RuntimeOption {
	return func(r *Runtime) { r.onDenied = fn }
}

// NewRuntime creates a runtime whose plugins default to limits.
func NewRuntime(limits ResourceLimits, opts ...RuntimeOption) (*Runtime, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	r := &Runtime{
		plugins: make(map[string]*plugin),
		now:     time.Now,
		logger:  Logger(),
		limits:  limits,
	}
	for _, o := range opts {
		o(r)
	}
	if r.epoch == nil {
		r.epoch = NewEpochCounter()
	}
	r.deadline.Store(DefaultEpochDeadline)
	return r, nil
}

func (r *Runtime) Limits() ResourceLimits { return r.limits }

// Epoch returns the counter that interrupts long calls.
func (r *Runtime) Epoch() *EpochCounter { return r.epoch }

// SetEpochDeadline sets how many epoch increments later calls may span.
// Zero disables epoch interruption for later calls.
func (r *Runtime) SetEpochDeadline(ticks uint64) { r.deadline.Store(ticks) }

// LoadPlugin loads wasm under id with the runtime's default limits.
func (r *Runtime) LoadPlugin(ctx context.Context, id string, wasm []byte, caps []string) error {
	return r.LoadPluginWithLimits(ctx, id, wasm, caps, r.limits)
}

// LoadPluginWithLimits instruments, compiles and instantiates wasm, checks
// its exports and runs init when exported.
func (r *Runtime) LoadPluginWithLimits(ctx context.Context, id string, wasm []byte, caps []string, limits ResourceLimits) error {
	if id == "" {
		return errors.InvalidInput(errors.PhaseLoad, "empty plugin id")
	}
	if err := limits.Validate(); err != nil {
		return err
	}
	checker, err := abi.ParseGranted(caps)
	if err != nil {
		return err
	}

	r.mu.RLock()
	_, exists := r.plugins[id]
	n := len(r.plugins)
	r.mu.RUnlock()
	if exists {
		return errors.New(errors.PhaseLoad, errors.KindAlreadyExists).Plugin(id).Build()
	}
	if n >= int(r.limits.MaxInstances) {
		return errors.LimitExceeded(errors.PhaseLoad, "plugin instances", n+1, r.limits.MaxInstances)
	}

	p, err := r.build(ctx, id, wasm, checker, limits)
	if err != nil {
		return err
	}

	// checked again: other loads may have finished while this one compiled
	r.mu.Lock()
	if _, exists := r.plugins[id]; exists {
		r.mu.Unlock()
		p.inst.close(ctx)
		return errors.New(errors.PhaseLoad, errors.KindAlreadyExists).Plugin(id).Build()
	}
	if n := len(r.plugins); n >= int(r.limits.MaxInstances) {
		r.mu.Unlock()
		p.inst.close(ctx)
		return errors.LimitExceeded(errors.PhaseLoad, "plugin instances", n+1, r.limits.MaxInstances)
	}
	r.plugins[id] = p
	r.mu.Unlock()

	r.logger.Info("wasm plugin loaded",
		zap.String("plugin", id),
		zap.Strings("capabilities", caps),
		zap.Stringer("limits", limits))
	return nil
}

func (r *Runtime) build(ctx context.Context, id string, wasm []byte, caps *abi.CapabilityChecker, limits ResourceLimits) (*plugin, error) {
	state := NewPluginState(r.now)
	env := &hostEnv{
		state:  state,
		caps:   caps,
		logger: r.logger.With(zap.String("plugin", id)),
	}
	if r.onDenied != nil {
		env.denied = func(c abi.Capability) { r.onDenied(id, c) }
	}

	inst, err := compile(ctx, wasm, limits, env)
	if err != nil {
		return nil, err
	}
	if !inst.exports.IsValid() {
		inst.close(ctx)
		return nil, errors.New(errors.PhaseLoad, errors.KindLoadingFailed).
			Plugin(id).
			Detail("missing required exports: %s", strings.Join(inst.exports.MissingRequired(), ", ")).
			Build()
	}
	if err := inst.start(ctx); err != nil {
		inst.close(ctx)
		return nil, err
	}

	p := &plugin{id: id, inst: inst, state: state, caps: caps, limits: limits}
	if err := r.initialize(ctx, p); err != nil {
		inst.close(ctx)
		return nil, err
	}
	return p, nil
}

func (r *Runtime) initialize(ctx context.Context, p *plugin) error {
	if err := p.state.transition(abi.Initializing); err != nil {
		return err
	}
	if p.inst.init == nil {
		return p.state.transition(abi.Initialized)
	}

	callCtx, cancel := r.callContext(ctx, p.limits)
	defer cancel()
	rc, err := p.inst.callInit(callCtx, p.limits.MaxFuel)
	if err != nil {
		p.state.markFailed("init trapped: " + err.Error())
		return errors.New(errors.PhaseLoad, errors.KindInitializationFailed).
			Plugin(p.id).
			Detail("init trapped").
			Cause(err).
			Build()
	}
	if rc != abi.RCSuccess {
		p.state.markFailed("init returned error code")
		return errors.New(errors.PhaseLoad, errors.KindInitializationFailed).
			Plugin(p.id).
			Value(rc).
			Detail("init returned %d", rc).
			Build()
	}
	return p.state.transition(abi.Initialized)
}

// callContext applies the wall-clock and epoch bounds of limits.
func (r *Runtime) callContext(ctx context.Context, limits ResourceLimits) (context.Context, context.CancelFunc) {
	cancels := make([]context.CancelFunc, 0, 2)
	if limits.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.MaxExecutionTime)
		cancels = append(cancels, cancel)
	}
	if ticks := r.deadline.Load(); limits.EpochInterruption && ticks > 0 {
		var cancel context.CancelFunc
		ctx, cancel = r.epoch.WithDeadline(ctx, ticks)
		cancels = append(cancels, cancel)
	}
	return ctx, func() {
		for _, c := range slices.Backward(cancels) {
			c()
		}
	}
}

func (r *Runtime) lookup(id string) (*plugin, error) {
	r.mu.RLock()
	p, ok := r.plugins[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "plugin", id)
	}
	return p, nil
}

// Process calls the plugin's process(input, dt). A trap disables the
// plugin; exhausting fuel or being interrupted reports a budget violation,
// any other trap a crash.
func (r *Runtime) Process(ctx context.Context, id string, input, dt float32) (float32, error) {
	p, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disabled != nil {
		return 0, errors.New(errors.PhaseRuntime, errors.KindPluginDisabled).
			Plugin(id).
			Detail("disabled at %s: %s", p.disabled.At.Format(time.RFC3339), p.disabled.Reason).
			Build()
	}
	if !p.state.IsInitialized() {
		return 0, errors.NotInitialized(errors.PhaseRuntime, "plugin "+id)
	}

	callCtx, cancel := r.callContext(ctx, p.limits)
	defer cancel()
	start := r.now()
	out, err := p.inst.callProcess(callCtx, input, dt, p.limits.MaxFuel)
	elapsed := r.now().Sub(start)
	if err != nil {
		return 0, r.trapped(ctx, callCtx, p, err)
	}
	p.state.recordCall(elapsed, p.limits.MaxFuel-uint64(p.inst.fuelLeft()))
	return out, nil
}

// trapped classifies a failed call and disables the plugin. p.mu is held.
func (r *Runtime) trapped(parent, callCtx context.Context, p *plugin, err error) error {
	kind, reason := errors.KindCrashed, "trap"
	var budget error
	switch {
	case parent.Err() != nil:
		kind, reason = errors.KindShutdown, "call canceled"
	case callCtx.Err() != nil:
		budget = ErrExecutionTimeout
		if stderrors.Is(context.Cause(callCtx), ErrEpochDeadline) {
			budget = ErrEpochDeadline
		}
	case p.inst.fuelLeft() < 0:
		budget = ErrFuelExhausted
	}
	if budget != nil {
		kind, reason = errors.KindBudgetViolation, budget.Error()
		err = fmt.Errorf("%w: %w", budget, err)
	}

	p.disabled = &DisabledInfo{At: r.now(), Reason: reason + ": " + err.Error()}
	p.state.recordError(p.disabled.Reason)
	r.logger.Error("wasm plugin trapped, disabling",
		zap.String("plugin", p.id),
		zap.String("reason", reason),
		zap.Error(err))

	return errors.New(errors.PhaseRuntime, kind).
		Plugin(p.id).
		Detail("%s", reason).
		Cause(err).
		Build()
}

// UpdateTelemetry sets the frame get_telemetry returns to the plugin.
func (r *Runtime) UpdateTelemetry(id string, f abi.TelemetryFrame) error {
	p, err := r.lookup(id)
	if err != nil {
		return err
	}
	p.state.UpdateTelemetry(f)
	return nil
}

// PluginState exposes a plugin's host-side state.
func (r *Runtime) PluginState(id string) (*PluginState, error) {
	p, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return p.state, nil
}

// PluginStats returns the process count and average process time.
func (r *Runtime) PluginStats(id string) (uint64, time.Duration, error) {
	p, err := r.lookup(id)
	if err != nil {
		return 0, 0, err
	}
	s := p.state.Stats()
	return s.ProcessCount, s.AvgProcessTime(), nil
}

func (r *Runtime) IsInitialized(id string) (bool, error) {
	p, err := r.lookup(id)
	if err != nil {
		return false, err
	}
	return p.state.IsInitialized(), nil
}

func (r *Runtime) IsDisabled(id string) (bool, error) {
	p, err := r.lookup(id)
	if err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disabled != nil, nil
}

// DisabledInfo returns why the plugin was disabled, or nil.
func (r *Runtime) DisabledInfo(id string) (*DisabledInfo, error) {
	p, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disabled == nil {
		return nil, nil
	}
	d := *p.disabled
	return &d, nil
}

// ReEnable clears a disabled plugin. A module closed by an interrupted call
// is instantiated again, which resets its linear memory. It reports false
// when the plugin was not disabled.
func (r *Runtime) ReEnable(ctx context.Context, id string) (bool, error) {
	p, err := r.lookup(id)
	if err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disabled == nil {
		return false, nil
	}
	if p.inst.closed() {
		if err := p.inst.start(ctx); err != nil {
			return false, err
		}
	}
	p.disabled = nil
	r.logger.Info("re-enabled wasm plugin", zap.String("plugin", id))
	return true, nil
}

// ReloadPlugin swaps in a new module for id, keeping plugin data and call
// counters. On any failure the old instance stays active.
func (r *Runtime) ReloadPlugin(ctx context.Context, id string, wasm []byte, caps []string) error {
	old, err := r.lookup(id)
	if err != nil {
		return err
	}
	checker, err := abi.ParseGranted(caps)
	if err != nil {
		return err
	}
	p, err := r.build(ctx, id, wasm, checker, old.limits)
	if err != nil {
		r.logger.Warn("reload failed, keeping old plugin", zap.String("plugin", id), zap.Error(err))
		return err
	}
	p.state.inherit(old.state)

	r.mu.Lock()
	r.plugins[id] = p
	r.mu.Unlock()

	old.mu.Lock()
	r.shutdown(ctx, old)
	old.mu.Unlock()

	r.logger.Info("hot-reloaded wasm plugin", zap.String("plugin", id))
	return nil
}

// UnloadPlugin runs shutdown when exported and releases the plugin.
func (r *Runtime) UnloadPlugin(ctx context.Context, id string) error {
	r.mu.Lock()
	p, ok := r.plugins[id]
	delete(r.plugins, id)
	r.mu.Unlock()
	if !ok {
		return errors.NotFound(errors.PhaseRuntime, "plugin", id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r.shutdown(ctx, p)
	r.logger.Info("wasm plugin unloaded", zap.String("plugin", id))
	return nil
}

func (r *Runtime) shutdown(ctx context.Context, p *plugin) {
	callCtx, cancel := r.callContext(ctx, p.limits)
	if err := p.inst.callShutdown(callCtx, p.limits.MaxFuel); err != nil {
		r.logger.Debug("plugin shutdown failed", zap.String("plugin", p.id), zap.Error(err))
	}
	cancel()
	p.state.markShutdown()
	p.inst.close(ctx)
}

// PluginIDs lists loaded plugins in sorted order.
func (r *Runtime) PluginIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (r *Runtime) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Close unloads every plugin.
func (r *Runtime) Close(ctx context.Context) error {
	for _, id := range r.PluginIDs() {
		if err := r.UnloadPlugin(ctx, id); err != nil && !stderrors.Is(err, errors.ErrNotFound) {
			return err
		}
	}
	return nil
}
