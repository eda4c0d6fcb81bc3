package runtime

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	ffb "github.com/wippyai/ffb-runtime"
	"github.com/wippyai/ffb-runtime/config"
	"github.com/wippyai/ffb-runtime/device"
	"github.com/wippyai/ffb-runtime/engine"
	"github.com/wippyai/ffb-runtime/errors"
	"github.com/wippyai/ffb-runtime/native"
	"github.com/wippyai/ffb-runtime/pipeline"
	"github.com/wippyai/ffb-runtime/rtstats"
	"github.com/wippyai/ffb-runtime/watchdog"
)

const (
	DefaultTickRate    = 1000
	DefaultMaxTorqueNm = 8

	// saturationLevel is the normalized torque counted as saturated.
	saturationLevel = 0.99
)

// Degrade selects the torque written on a tick whose pipeline faulted.
type Degrade uint8

const (
	// DegradeHold repeats the last good torque.
	DegradeHold Degrade = iota
	// DegradeZero writes zero torque.
	DegradeZero
)

func (d Degrade) String() string {
	if d == DegradeZero {
		return "zero"
	}
	return "hold"
}

// ParseDegrade accepts "hold", "zero" and "" (hold).
func ParseDegrade(s string) (Degrade, error) {
	switch s {
	case "", "hold":
		return DegradeHold, nil
	case "zero":
		return DegradeZero, nil
	}
	return 0, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path("degrade").
		Detail("unknown degrade policy %q", s).
		Build()
}

// Config assembles a Runtime. Device and Telemetry are required, as is one
// of Profile and Provider. Other zero fields take defaults.
type Config struct {
	Profile   *config.Profile
	Provider  ffb.ConfigProvider
	Device    ffb.DeviceWriter
	Telemetry ffb.TelemetrySource

	// WasmLimits enables the WASM plugin engine with these default limits.
	WasmLimits *engine.ResourceLimits
	// EpochDeadline is how many ticks one WASM call may span; zero keeps
	// the engine default.
	EpochDeadline uint64
	// NativeLoader enables native plugins.
	NativeLoader *native.Loader

	Watchdog *watchdog.Manager
	Health   *watchdog.Health
	Queues   *rtstats.SampleQueues
	Counters *rtstats.Counters

	Degrade     Degrade
	TickRate    int
	MaxTorqueNm float32

	Now    func() time.Time
	Logger *zap.Logger
}

// Status is the most recent tick as seen from outside the tick goroutine.
type Status struct {
	At         time.Time
	Telemetry  ffb.TelemetrySample
	TorqueOut  float32
	TorqueNm   float32
	ConfigHash uint64
	Ticks      uint64
	Seq        uint16
	Degraded   bool
}

// Runtime runs the tick. See the package documentation for threading.
type Runtime struct {
	dev      ffb.DeviceWriter
	tel      ffb.TelemetrySource
	provider ffb.ConfigProvider
	exec     *pipeline.Executor
	compiler *pipeline.Compiler
	wasm     *engine.Runtime
	native   *native.Host
	wd       *watchdog.Manager
	health   *watchdog.Health
	queues   *rtstats.SampleQueues
	counters *rtstats.Counters
	logger   *zap.Logger
	faultLog *rate.Limiter
	now      func() time.Time

	slots   atomic.Pointer[[]*wasmSlot]
	slotsMu sync.Mutex

	degrade  Degrade
	period   time.Duration
	dt       float32
	maxNm    float32
	budgetUs uint32

	// owned by the tick goroutine
	tickMu    sync.Mutex
	frame     pipeline.Frame
	nframe    native.PluginFrame
	telemetry ffb.TelemetrySample
	torque    float32
	seq       uint16
	report    [device.TorqueReportSize]byte

	statusMu sync.Mutex
	status   Status

	closed atomic.Bool
}

// New compiles the initial profile and builds the optional plugin hosts.
func New(cfg Config) (*Runtime, error) {
	if cfg.Device == nil || cfg.Telemetry == nil {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "device and telemetry source are required")
	}
	if cfg.TickRate == 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.TickRate < 1 || cfg.TickRate > int(time.Second/time.Microsecond) {
		return nil, errors.LimitExceeded(errors.PhaseRuntime, "tick rate", cfg.TickRate, int(time.Second/time.Microsecond))
	}
	if cfg.MaxTorqueNm <= 0 {
		cfg.MaxTorqueNm = DefaultMaxTorqueNm
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = Logger()
	}

	r := &Runtime{
		dev:      cfg.Device,
		tel:      cfg.Telemetry,
		provider: cfg.Provider,
		compiler: pipeline.NewCompiler(cfg.Logger),
		wd:       cfg.Watchdog,
		health:   cfg.Health,
		queues:   cfg.Queues,
		counters: cfg.Counters,
		logger:   cfg.Logger,
		faultLog: rate.NewLimiter(rate.Every(time.Second), 1),
		now:      cfg.Now,
		degrade:  cfg.Degrade,
		period:   time.Second / time.Duration(cfg.TickRate),
		maxNm:    cfg.MaxTorqueNm,
	}
	r.dt = float32(r.period.Seconds())
	if r.wd == nil {
		wd, err := watchdog.NewManager(watchdog.DefaultPolicy(), watchdog.WithClock(cfg.Now), watchdog.WithLogger(cfg.Logger))
		if err != nil {
			return nil, err
		}
		r.wd = wd
	}
	if r.health == nil {
		r.health = watchdog.NewHealth(nil, cfg.Now)
	}
	if r.queues == nil {
		r.queues = rtstats.NewSampleQueues()
	}
	if r.counters == nil {
		r.counters = new(rtstats.Counters)
	}
	r.slots.Store(&[]*wasmSlot{})

	profile, err := r.initialProfile(cfg)
	if err != nil {
		return nil, err
	}
	pl, err := r.compiler.Compile(profile)
	if err != nil {
		return nil, err
	}
	r.exec = pipeline.NewExecutor(pl)

	if cfg.WasmLimits != nil {
		wasm, err := engine.NewRuntime(*cfg.WasmLimits,
			engine.WithClock(cfg.Now),
			engine.WithLogger(cfg.Logger),
			engine.WithCapabilityHook(r.capabilityDenied))
		if err != nil {
			return nil, err
		}
		if cfg.EpochDeadline > 0 {
			wasm.SetEpochDeadline(cfg.EpochDeadline)
		}
		r.wasm = wasm
	}
	if cfg.NativeLoader != nil {
		r.native = native.NewHost(cfg.NativeLoader, r.wd)
		r.budgetUs = uint32(cfg.NativeLoader.Config().Budget / time.Microsecond)
	}

	r.status.ConfigHash = r.exec.ConfigHash()
	r.logger.Info("runtime ready",
		zap.String("profile", profile.Name),
		zap.Int("tick_rate_hz", cfg.TickRate),
		zap.Stringer("degrade", r.degrade),
		zap.Bool("wasm", r.wasm != nil),
		zap.Bool("native", r.native != nil))
	return r, nil
}

func (r *Runtime) initialProfile(cfg Config) (*config.Profile, error) {
	if cfg.Profile != nil {
		return cfg.Profile, nil
	}
	if cfg.Provider != nil {
		return cfg.Provider.Profile()
	}
	return nil, errors.InvalidInput(errors.PhaseRuntime, "profile or provider is required")
}

// Tick runs one cycle at now. A pipeline fault or device write failure is
// handled inside the tick and also returned; the next tick proceeds
// normally. After Close it returns a shutdown error.
func (r *Runtime) Tick(ctx context.Context, now time.Time) error {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	if r.closed.Load() {
		return errors.New(errors.PhaseRuntime, errors.KindShutdown).Detail("runtime closed").Build()
	}

	start := r.now()
	r.counters.IncTick()
	r.health.Heartbeat(watchdog.RTThread)

	if s, ok := r.tel.Poll(); ok {
		r.telemetry = s
		r.counters.IncTelemetryReceived()
		r.health.Heartbeat(watchdog.Telemetry)
	} else {
		r.counters.IncTelemetryLost()
	}
	s := &r.telemetry

	r.seq++
	f := &r.frame
	*f = pipeline.Frame{
		FfbIn:      s.FfbIn,
		TorqueOut:  s.FfbIn,
		WheelSpeed: s.WheelSpeed,
		HandsOff:   s.HandsOff,
		TsMonoNs:   s.TsMonoNs,
		Seq:        r.seq,
	}

	r.runWasm(ctx, f)
	r.runNative(f)

	swaps := r.exec.Swaps()
	var tickErr error
	degraded := false
	if err := r.exec.Process(f); err != nil {
		degraded = true
		tickErr = err
		r.counters.IncPipelineFault()
		r.counters.IncSafetyEvent()
		if r.degrade == DegradeZero {
			f.TorqueOut = 0
		} else {
			f.TorqueOut = r.torque
		}
		if r.faultLog.Allow() {
			r.logger.Warn("pipeline fault, degrading",
				zap.Stringer("policy", r.degrade),
				zap.Float32("torque_out", f.TorqueOut),
				zap.Error(err))
		}
	}
	// an empty pipeline does not range-check
	if math.IsNaN(float64(f.TorqueOut)) {
		f.TorqueOut = 0
	}
	f.TorqueOut = max(-1, min(1, f.TorqueOut))
	if r.exec.Swaps() != swaps {
		r.counters.IncProfileSwitch()
	}
	r.torque = f.TorqueOut

	sat := f.TorqueOut >= saturationLevel || f.TorqueOut <= -saturationLevel
	r.counters.RecordTorqueSaturation(sat)
	var flags uint8
	if !f.HandsOff {
		flags |= device.FlagHandsOn
	}
	if sat {
		flags |= device.FlagSaturation
	}
	nm := f.TorqueOut * r.maxNm
	report := device.PutTorque(r.report[:], nm, r.seq, flags)

	writeStart := r.now()
	r.queues.PushProcessingTimeDrop(durationNs(writeStart.Sub(start)))
	_, werr := r.dev.WriteOutputReport(report)
	r.queues.PushHIDLatencyDrop(durationNs(r.now().Sub(writeStart)))
	if werr != nil {
		r.counters.IncHIDWriteError()
		if r.faultLog.Allow() {
			r.logger.Warn("torque report write failed", zap.Uint16("seq", r.seq), zap.Error(werr))
		}
		if tickErr == nil {
			tickErr = errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, werr, "write torque report")
		}
	} else {
		r.health.Heartbeat(watchdog.HIDDevice)
	}

	r.statusMu.Lock()
	r.status = Status{
		At:         now,
		Telemetry:  *s,
		TorqueOut:  f.TorqueOut,
		TorqueNm:   nm,
		ConfigHash: r.exec.ConfigHash(),
		Ticks:      r.counters.Ticks(),
		Seq:        r.seq,
		Degraded:   degraded,
	}
	r.statusMu.Unlock()
	return tickErr
}

func durationNs(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d)
}

// Status returns the last completed tick.
func (r *Runtime) Status() Status {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.status
}

func (r *Runtime) Period() time.Duration                { return r.period }
func (r *Runtime) Counters() *rtstats.Counters          { return r.counters }
func (r *Runtime) Queues() *rtstats.SampleQueues        { return r.queues }
func (r *Runtime) Watchdog() *watchdog.Manager          { return r.wd }
func (r *Runtime) Health() *watchdog.Health             { return r.health }
func (r *Runtime) Executor() *pipeline.Executor         { return r.exec }
func (r *Runtime) Wasm() *engine.Runtime                { return r.wasm }
func (r *Runtime) Native() *native.Host                 { return r.native }
func (r *Runtime) Degrade() Degrade                     { return r.degrade }
func (r *Runtime) TelemetrySource() ffb.TelemetrySource { return r.tel }

// Close stops further ticks, writes a zero-torque report and releases the
// plugin hosts. It returns the first error.
func (r *Runtime) Close(ctx context.Context) error {
	r.tickMu.Lock()
	if r.closed.Swap(true) {
		r.tickMu.Unlock()
		return nil
	}
	r.seq++
	_, first := r.dev.WriteOutputReport(device.PutTorque(r.report[:], 0, r.seq, 0))
	r.tickMu.Unlock()

	if r.wasm != nil {
		if err := r.wasm.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	if r.native != nil {
		if err := r.native.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.logger.Info("runtime closed", zap.Uint64("ticks", r.counters.Ticks()))
	return first
}
