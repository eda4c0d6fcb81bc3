package runtime

import (
	"context"

	"go.uber.org/zap"

	ffb "github.com/wippyai/ffb-runtime"
	"github.com/wippyai/ffb-runtime/config"
	"github.com/wippyai/ffb-runtime/engine"
	"github.com/wippyai/ffb-runtime/native"
	"github.com/wippyai/ffb-runtime/signature"
	"github.com/wippyai/ffb-runtime/watchdog"
)

// WasmLimits resolves the preset in c and applies its non-zero overrides.
func WasmLimits(c config.Wasm) (engine.ResourceLimits, error) {
	l, err := engine.LimitsByName(c.Preset)
	if err != nil {
		return l, err
	}
	if c.MaxMemoryBytes > 0 {
		l = l.WithMemory(c.MaxMemoryBytes)
	}
	if c.MaxFuel > 0 {
		l = l.WithFuel(c.MaxFuel)
	}
	if c.MaxExecutionTime > 0 {
		l = l.WithExecutionTime(c.MaxExecutionTime)
	}
	if c.MaxTableElements > 0 {
		l = l.WithTableElements(c.MaxTableElements)
	}
	if c.MaxInstances > 0 {
		l = l.WithMaxInstances(c.MaxInstances)
	}
	return l, l.Validate()
}

// Policy converts the watchdog section of an engine file.
func Policy(c config.Watchdog) watchdog.Policy {
	return watchdog.Policy{
		ViolationWindow:         c.ViolationWindow,
		BaseDuration:            c.BaseDuration,
		MaxCrashes:              c.MaxCrashes,
		MaxBudgetViolations:     c.MaxBudgetViolations,
		MaxTimeoutViolations:    c.MaxTimeoutViolations,
		MaxCapabilityViolations: c.MaxCapabilityViolations,
		MaxEscalationLevel:      c.MaxEscalationLevel,
	}
}

// FromEngine builds a Runtime for an engine configuration and loads the
// plugins it lists. On any failure the partly built runtime is closed.
func FromEngine(ctx context.Context, cfg *config.Engine, dev ffb.DeviceWriter, tel ffb.TelemetrySource, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = Logger()
	}
	degrade, err := ParseDegrade(cfg.Degrade)
	if err != nil {
		return nil, err
	}
	limits, err := WasmLimits(cfg.Wasm)
	if err != nil {
		return nil, err
	}
	wd, err := watchdog.NewManager(Policy(cfg.Watchdog), watchdog.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	loaderCfg, err := native.PolicyByName(cfg.Native.Policy)
	if err != nil {
		return nil, err
	}
	store := signature.NewTrustStore()
	if cfg.Native.TrustStore != "" {
		if store, err = signature.OpenTrustStore(cfg.Native.TrustStore); err != nil {
			return nil, err
		}
	}
	loader := native.NewLoader(store, loaderCfg.WithBudget(cfg.Native.Budget), native.WithLogger(logger))

	var provider ffb.ConfigProvider
	if cfg.ProfilePath != "" {
		provider = config.File(cfg.ProfilePath)
	} else {
		provider = config.Static{P: cfg.Profile}
	}

	rt, err := New(Config{
		Provider:     provider,
		Device:       dev,
		Telemetry:    tel,
		WasmLimits:   &limits,
		NativeLoader: loader,
		Watchdog:     wd,
		Degrade:      degrade,
		TickRate:     cfg.TickRateHz,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	for _, p := range cfg.Wasm.Plugins {
		if err := rt.LoadWasmFile(ctx, p.ID, p.Path, p.Capabilities); err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
	}
	for _, p := range cfg.Native.Plugins {
		id, err := rt.LoadNative(ctx, p.ID, p.Path, []byte(p.Config))
		if err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
		logger.Info("native plugin loaded", zap.String("name", p.ID), zap.String("id", id))
	}
	return rt, nil
}
