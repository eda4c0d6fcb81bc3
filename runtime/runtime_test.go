package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ffb "github.com/wippyai/ffb-runtime"
	"github.com/wippyai/ffb-runtime/abi"
	"github.com/wippyai/ffb-runtime/config"
	"github.com/wippyai/ffb-runtime/device"
	"github.com/wippyai/ffb-runtime/engine"
	"github.com/wippyai/ffb-runtime/errors"
	wt "github.com/wippyai/ffb-runtime/internal/wasmtest"
	"github.com/wippyai/ffb-runtime/watchdog"
)

var (
	f32x2 = []byte{wt.F32, wt.F32}
	f32x1 = []byte{wt.F32}
)

func gainPlugin(k float32) []byte {
	m := wt.New()
	fn := m.Func(f32x2, f32x1, nil, wt.LocalGet(0), wt.F32Const(k), wt.F32Mul(), wt.End())
	m.ExportFunc(abi.ExportProcess, fn)
	m.Memory(1, 1)
	return m.Bytes()
}

func crashOnNegative() []byte {
	m := wt.New()
	fn := m.Func(f32x2, f32x1, nil,
		wt.LocalGet(0), wt.F32Const(0), wt.Raw(0x5D), // f32.lt
		wt.If(), wt.Unreachable(), wt.End(),
		wt.LocalGet(0), wt.End())
	m.ExportFunc(abi.ExportProcess, fn)
	m.Memory(1, 1)
	return m.Bytes()
}

// speedPlugin outputs the wheel speed it reads through get_telemetry.
func speedPlugin() []byte {
	m := wt.New()
	get := m.ImportFunc(abi.HostModule, abi.HostGetTelemetry, []byte{wt.I32, wt.I32}, []byte{wt.I32})
	fn := m.Func(f32x2, f32x1, nil,
		wt.I32Const(0), wt.I32Const(abi.TelemetryFrameSize), wt.Call(get), wt.Drop(),
		wt.I32Const(0), wt.F32Load(12), wt.End())
	m.ExportFunc(abi.ExportProcess, fn)
	m.Memory(1, 1)
	return m.Bytes()
}

func spinPlugin() []byte {
	m := wt.New()
	fn := m.Func(f32x2, f32x1, nil, wt.Loop(), wt.Br(0), wt.End(), wt.F32Const(0), wt.End())
	m.ExportFunc(abi.ExportProcess, fn)
	m.Memory(1, 1)
	return m.Bytes()
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Unix(1000, 0)} }

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func plainProfile() *config.Profile {
	return &config.Profile{Name: "plain", SlewRate: 1, TorqueCap: 1}
}

func gainProfile(g float32) *config.Profile {
	p := plainProfile()
	p.Name = "gain"
	p.Gain = &g
	return p
}

func samples(ffbIn ...float32) []ffb.TelemetrySample {
	out := make([]ffb.TelemetrySample, len(ffbIn))
	for i, v := range ffbIn {
		out[i] = ffb.TelemetrySample{FfbIn: v, TsMonoNs: uint64(i+1) * 1_000_000}
	}
	return out
}

type fixture struct {
	rt  *Runtime
	rec *device.Recorder
	clk *clock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	fx := &fixture{rec: device.NewRecorder(0), clk: newClock()}
	if cfg.Device == nil {
		cfg.Device = fx.rec
	}
	if cfg.Profile == nil && cfg.Provider == nil {
		cfg.Profile = plainProfile()
	}
	if cfg.Now == nil {
		cfg.Now = fx.clk.now
	}
	rt, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close(context.Background()) })
	fx.rt = rt
	return fx
}

func (fx *fixture) tick(t *testing.T) error {
	t.Helper()
	fx.clk.advance(time.Millisecond)
	return fx.rt.Tick(context.Background(), fx.clk.now())
}

func (fx *fixture) lastTorque(t *testing.T) device.TorqueCommand {
	t.Helper()
	cmd, err := device.ParseTorque(fx.rec.Last())
	require.NoError(t, err)
	return cmd
}

func TestNew_Validation(t *testing.T) {
	replay := device.NewReplay(nil, false)
	bad := plainProfile()
	bad.Friction = 2

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"no device", Config{Telemetry: replay, Profile: plainProfile()}, errors.ErrInvalidInput},
		{"no telemetry", Config{Device: device.Null{}, Profile: plainProfile()}, errors.ErrInvalidInput},
		{"no profile", Config{Device: device.Null{}, Telemetry: replay}, errors.ErrInvalidInput},
		{"tick rate", Config{Device: device.Null{}, Telemetry: replay, Profile: plainProfile(), TickRate: 2_000_000}, errors.ErrLimitExceeded},
		{"invalid profile", Config{Device: device.Null{}, Telemetry: replay, Profile: bad}, errors.ErrInvalidInput},
		{"invalid provider profile", Config{Device: device.Null{}, Telemetry: replay, Provider: config.Static{P: *bad}}, errors.ErrInvalidData},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseDegrade(t *testing.T) {
	tests := []struct {
		in   string
		want Degrade
		err  bool
	}{
		{"", DegradeHold, false},
		{"hold", DegradeHold, false},
		{"zero", DegradeZero, false},
		{"ramp", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			d, err := ParseDegrade(tc.in)
			if tc.err {
				assert.ErrorIs(t, err, errors.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, d)
			assert.NotEmpty(t, d.String())
		})
	}
}

func TestTick_Passthrough(t *testing.T) {
	fx := newFixture(t, Config{Telemetry: device.NewReplay(samples(0.5), true)})

	require.NoError(t, fx.tick(t))
	cmd := fx.lastTorque(t)
	assert.InDelta(t, 4.0, cmd.TorqueNm, 1.0/256)
	assert.Equal(t, uint16(1), cmd.Seq)
	assert.Equal(t, uint8(device.FlagHandsOn), cmd.Flags)

	c := fx.rt.Counters().Snapshot()
	assert.Equal(t, uint64(1), c.Ticks)
	assert.Equal(t, uint64(1), c.TelemetryReceived)
	assert.Equal(t, uint64(1), c.SaturationSamples)
	assert.Zero(t, c.SaturationCount)
	assert.Equal(t, 1, fx.rt.Queues().ProcessingTimeLen())
	assert.Equal(t, 1, fx.rt.Queues().HIDLatencyLen())

	st := fx.rt.Status()
	assert.Equal(t, fx.clk.now(), st.At)
	assert.Equal(t, float32(0.5), st.TorqueOut)
	assert.Equal(t, float32(4), st.TorqueNm)
	assert.Equal(t, uint16(1), st.Seq)
	assert.False(t, st.Degraded)
	assert.Equal(t, fx.rt.Executor().ConfigHash(), st.ConfigHash)

	require.NoError(t, fx.tick(t))
	assert.Equal(t, uint16(2), fx.lastTorque(t).Seq)
	assert.Equal(t, watchdog.StatusHealthy, fx.rt.Health().Status(watchdog.HIDDevice).Status)
}

func TestTick_TelemetryLostHoldsSample(t *testing.T) {
	fx := newFixture(t, Config{Telemetry: device.NewReplay(samples(0.25), false)})

	require.NoError(t, fx.tick(t))
	require.NoError(t, fx.tick(t))
	assert.InDelta(t, 2.0, fx.lastTorque(t).TorqueNm, 1.0/256)

	c := fx.rt.Counters().Snapshot()
	assert.Equal(t, uint64(1), c.TelemetryReceived)
	assert.Equal(t, uint64(1), c.TelemetryLost)
}

func TestTick_Degrade(t *testing.T) {
	tests := []struct {
		name    string
		degrade Degrade
		want    float32
	}{
		{"hold", DegradeHold, 3.2},
		{"zero", DegradeZero, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, Config{
				Profile:   gainProfile(0.5),
				Telemetry: device.NewReplay(samples(0.8, 3), false),
				Degrade:   tc.degrade,
			})

			require.NoError(t, fx.tick(t))
			assert.InDelta(t, 3.2, fx.lastTorque(t).TorqueNm, 1.0/256)

			err := fx.tick(t)
			assert.ErrorIs(t, err, errors.ErrPipelineFault)
			assert.InDelta(t, tc.want, fx.lastTorque(t).TorqueNm, 1.0/256)
			assert.True(t, fx.rt.Status().Degraded)

			c := fx.rt.Counters().Snapshot()
			assert.Equal(t, uint64(1), c.PipelineFaults)
			assert.Equal(t, uint64(1), c.SafetyEvents)
			assert.Len(t, fx.rec.Outputs(), 2, "a faulted tick still writes")
		})
	}
}

func TestTick_Saturation(t *testing.T) {
	fx := newFixture(t, Config{Telemetry: device.NewReplay(samples(1, -1, 0.2), false)})
	for range 3 {
		require.NoError(t, fx.tick(t))
	}
	out := fx.rec.Outputs()
	require.Len(t, out, 3)
	for i, want := range []uint8{device.FlagSaturation, device.FlagSaturation, 0} {
		cmd, err := device.ParseTorque(out[i])
		require.NoError(t, err)
		assert.Equal(t, want, cmd.Flags&device.FlagSaturation)
	}
	c := fx.rt.Counters().Snapshot()
	assert.Equal(t, uint64(2), c.SaturationCount)
	assert.Equal(t, uint64(3), c.SaturationSamples)
}

func TestTick_ClampsEmptyPipeline(t *testing.T) {
	fx := newFixture(t, Config{Telemetry: device.NewReplay(samples(5), false)})
	require.NoError(t, fx.tick(t))
	assert.Equal(t, float32(1), fx.rt.Status().TorqueOut)
}

func TestTick_HandsOffFlag(t *testing.T) {
	s := samples(0.1)
	s[0].HandsOff = true
	fx := newFixture(t, Config{Telemetry: device.NewReplay(s, false)})
	require.NoError(t, fx.tick(t))
	assert.Zero(t, fx.lastTorque(t).Flags&device.FlagHandsOn)
}

func TestTick_WriteError(t *testing.T) {
	fx := newFixture(t, Config{Telemetry: device.NewReplay(samples(0.1), true)})
	fx.rec.SetError(errors.InvalidInput(errors.PhaseRuntime, "unplugged"))

	err := fx.tick(t)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
	assert.Equal(t, uint64(1), fx.rt.Counters().Snapshot().HIDWriteErrors)
	assert.Equal(t, 1, fx.rt.Queues().HIDLatencyLen())

	fx.rec.SetError(nil)
	require.NoError(t, fx.tick(t))
	assert.Equal(t, uint64(1), fx.rt.Counters().Snapshot().HIDWriteErrors)
}

func TestSwapProfile(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, Config{Telemetry: device.NewReplay(samples(0.8), true)})
	before := fx.rt.Executor().ConfigHash()

	require.NoError(t, fx.rt.SwapProfile(ctx, gainProfile(0.5)))
	assert.True(t, fx.rt.Executor().HasPending())
	assert.Equal(t, before, fx.rt.Executor().ConfigHash(), "swap waits for the tick")

	require.NoError(t, fx.tick(t))
	assert.InDelta(t, 3.2, fx.lastTorque(t).TorqueNm, 1.0/256)
	assert.NotEqual(t, before, fx.rt.Status().ConfigHash)
	assert.Equal(t, uint64(1), fx.rt.Counters().Snapshot().ProfileSwitches)

	require.NoError(t, fx.rt.SwapProfile(ctx, gainProfile(0.5)))
	assert.False(t, fx.rt.Executor().HasPending(), "identical profile is not staged")

	bad := gainProfile(0.5)
	bad.Damper = -1
	assert.Error(t, fx.rt.SwapProfile(ctx, bad))
	assert.False(t, fx.rt.Executor().HasPending())

	require.NoError(t, fx.tick(t))
	assert.InDelta(t, 3.2, fx.lastTorque(t).TorqueNm, 1.0/256)
	assert.Equal(t, uint64(1), fx.rt.Counters().Snapshot().ProfileSwitches)
}

func TestReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: file\nslew_rate: 1\ntorque_cap: 1\n"), 0o600))

	fx := newFixture(t, Config{
		Provider:  config.File(path),
		Telemetry: device.NewReplay(samples(0.8), true),
	})
	require.NoError(t, fx.tick(t))
	assert.InDelta(t, 6.4, fx.lastTorque(t).TorqueNm, 1.0/256)

	require.NoError(t, os.WriteFile(path, []byte("name: file\nslew_rate: 1\ntorque_cap: 1\ngain: 0.25\n"), 0o600))
	require.NoError(t, fx.rt.Reload(ctx))
	require.NoError(t, fx.tick(t))
	assert.InDelta(t, 1.6, fx.lastTorque(t).TorqueNm, 1.0/256)

	static := newFixture(t, Config{Telemetry: device.NewReplay(nil, false)})
	assert.ErrorIs(t, static.rt.Reload(ctx), errors.ErrNotInitialized)
}

func wasmConfig(t *testing.T, tel ffb.TelemetrySource) Config {
	t.Helper()
	limits := engine.DefaultLimits()
	return Config{Telemetry: tel, WasmLimits: &limits}
}

func TestWasmPlugins(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, wasmConfig(t, device.NewReplay(samples(0.8), true)))

	require.NoError(t, fx.rt.LoadWasm(ctx, "a", gainPlugin(0.5), nil))
	require.NoError(t, fx.tick(t))
	assert.InDelta(t, 3.2, fx.lastTorque(t).TorqueNm, 1.0/256)

	require.NoError(t, fx.rt.LoadWasm(ctx, "b", gainPlugin(0.5), nil))
	require.NoError(t, fx.tick(t))
	assert.InDelta(t, 1.6, fx.lastTorque(t).TorqueNm, 1.0/256)

	plugins := fx.rt.Plugins()
	require.Len(t, plugins, 2)
	assert.Equal(t, "a", plugins[0].ID)
	assert.Equal(t, "wasm", plugins[0].Kind)
	assert.Equal(t, uint64(2), plugins[0].Calls)
	assert.Equal(t, uint64(1), plugins[1].Calls)

	require.NoError(t, fx.rt.ReloadWasm(ctx, "b", gainPlugin(1), nil))
	require.NoError(t, fx.tick(t))
	assert.InDelta(t, 3.2, fx.lastTorque(t).TorqueNm, 1.0/256)

	require.NoError(t, fx.rt.UnloadWasm(ctx, "a"))
	require.NoError(t, fx.tick(t))
	assert.InDelta(t, 6.4, fx.lastTorque(t).TorqueNm, 1.0/256)
	assert.Len(t, fx.rt.Plugins(), 1)
	assert.ErrorIs(t, fx.rt.UnloadWasm(ctx, "a"), errors.ErrNotFound)
}

func TestWasmPlugins_Unavailable(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, Config{Telemetry: device.NewReplay(nil, false)})

	assert.ErrorIs(t, fx.rt.LoadWasm(ctx, "a", gainPlugin(1), nil), errors.ErrNotInitialized)
	assert.ErrorIs(t, fx.rt.UnloadWasm(ctx, "a"), errors.ErrNotInitialized)
	_, err := fx.rt.LoadNative(ctx, "n", "/nowhere.so", nil)
	assert.ErrorIs(t, err, errors.ErrNotInitialized)
	assert.Empty(t, fx.rt.Plugins())
}

func TestWasmCrash_DisableAndQuarantine(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	policy := watchdog.DefaultPolicy()
	policy.MaxCrashes = 2
	wd, err := watchdog.NewManager(policy, watchdog.WithClock(clk.now))
	require.NoError(t, err)

	cfg := wasmConfig(t, device.NewReplay(samples(-0.5), true))
	cfg.Watchdog = wd
	cfg.Now = clk.now
	fx := newFixture(t, cfg)
	fx.clk = clk
	require.NoError(t, fx.rt.LoadWasm(ctx, "p", crashOnNegative(), nil))

	require.NoError(t, fx.tick(t))
	assert.InDelta(t, -4.0, fx.lastTorque(t).TorqueNm, 1.0/256, "a trapped plugin is bypassed")
	info := fx.rt.Plugins()[0]
	assert.True(t, info.Disabled)
	assert.False(t, info.Quarantined)

	require.NoError(t, fx.tick(t))
	assert.Len(t, wd.History("p"), 1, "disabled plugins are not called")

	rep := fx.rt.Maintain(ctx)
	assert.Equal(t, []string{"p"}, rep.ReEnabled)
	assert.False(t, fx.rt.Plugins()[0].Disabled)

	require.NoError(t, fx.tick(t))
	assert.True(t, wd.IsQuarantined("p"))
	assert.Equal(t, uint64(2), fx.rt.Counters().Snapshot().PluginViolations)

	rep = fx.rt.Maintain(ctx)
	assert.Empty(t, rep.ReEnabled, "quarantined plugins stay disabled")

	clk.advance(policy.DurationFor(1) + time.Second)
	rep = fx.rt.Maintain(ctx)
	assert.Equal(t, []string{"p"}, rep.Released)
	assert.Equal(t, []string{"p"}, rep.ReEnabled)

	state, ok := wd.State("p")
	require.True(t, ok)
	assert.Equal(t, 2, state.Total(watchdog.Crash))
}

func TestWasmCapabilityViolation(t *testing.T) {
	ctx := context.Background()
	s := samples(0)
	s[0].WheelSpeed = 0.25

	t.Run("granted", func(t *testing.T) {
		fx := newFixture(t, wasmConfig(t, device.NewReplay(s, true)))
		require.NoError(t, fx.rt.LoadWasm(ctx, "p", speedPlugin(), []string{"read_telemetry"}))
		require.NoError(t, fx.tick(t))
		assert.InDelta(t, 2.0, fx.lastTorque(t).TorqueNm, 1.0/256)
		assert.Empty(t, fx.rt.Watchdog().History("p"))
	})

	t.Run("denied", func(t *testing.T) {
		fx := newFixture(t, wasmConfig(t, device.NewReplay(s, true)))
		require.NoError(t, fx.rt.LoadWasm(ctx, "p", speedPlugin(), nil))
		require.NoError(t, fx.tick(t))
		assert.Zero(t, fx.lastTorque(t).TorqueNm)

		h := fx.rt.Watchdog().History("p")
		require.Len(t, h, 1)
		assert.Equal(t, watchdog.CapabilityViolation, h[0].Kind)
		assert.Equal(t, uint64(1), fx.rt.Counters().Snapshot().PluginViolations)
		assert.False(t, fx.rt.Plugins()[0].Disabled, "a denied capability does not trap")
	})
}

func budgetErr(cause error) error {
	return errors.New(errors.PhaseRuntime, errors.KindBudgetViolation).Cause(fmt.Errorf("%w: trap", cause)).Build()
}

func TestViolationKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want watchdog.ViolationKind
		ok   bool
	}{
		{"crash", errors.New(errors.PhaseRuntime, errors.KindCrashed).Build(), watchdog.Crash, true},
		{"fuel", budgetErr(engine.ErrFuelExhausted), watchdog.BudgetViolation, true},
		{"time", budgetErr(engine.ErrExecutionTimeout), watchdog.TimeoutViolation, true},
		{"epoch", budgetErr(engine.ErrEpochDeadline), watchdog.TimeoutViolation, true},
		{"detail text is not a cause", errors.New(errors.PhaseRuntime, errors.KindBudgetViolation).Detail("fuel exhausted").Build(), watchdog.TimeoutViolation, true},
		{"shutdown", errors.New(errors.PhaseRuntime, errors.KindShutdown).Build(), 0, false},
		{"plain", context.Canceled, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			k, ok := violationKind(tc.err)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, k)
		})
	}
}

func TestMaintain_StaleHeartbeat(t *testing.T) {
	fx := newFixture(t, Config{Telemetry: device.NewReplay(samples(0), true)})
	require.NoError(t, fx.tick(t))
	assert.Empty(t, fx.rt.Maintain(context.Background()).Stale)

	fx.clk.advance(100 * time.Millisecond)
	stale := fx.rt.Maintain(context.Background()).Stale
	assert.Contains(t, stale, watchdog.RTThread)
	assert.Contains(t, stale, watchdog.HIDDevice)
	assert.NotContains(t, stale, watchdog.Telemetry)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, Config{Telemetry: device.NewReplay(samples(0.5), true)})
	require.NoError(t, fx.tick(t))

	require.NoError(t, fx.rt.Close(ctx))
	cmd := fx.lastTorque(t)
	assert.Zero(t, cmd.TorqueNm, "close leaves the wheel without torque")
	assert.Equal(t, uint16(2), cmd.Seq)

	assert.ErrorIs(t, fx.tick(t), errors.ErrShutdown)
	assert.ErrorIs(t, fx.rt.Run(ctx), errors.ErrShutdown)
	assert.NoError(t, fx.rt.Close(ctx))
	assert.Len(t, fx.rec.Outputs(), 2)
}

func TestRun(t *testing.T) {
	rt, err := New(Config{
		Profile:   plainProfile(),
		Device:    device.Null{},
		Telemetry: device.NewReplay(samples(0.1), true),
	})
	require.NoError(t, err)
	defer rt.Close(context.Background())
	assert.Equal(t, time.Millisecond, rt.Period())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	require.Eventually(t, func() bool { return rt.Counters().Ticks() >= 20 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Positive(t, rt.Queues().JitterLen())
	assert.Equal(t, float32(0.1), rt.Status().TorqueOut)
}

func TestRun_EpochInterruptsStuckPlugin(t *testing.T) {
	limits := engine.DefaultLimits().WithFuel(engine.MaxFuelLimit)
	rt, err := New(Config{
		Profile:       plainProfile(),
		Device:        device.Null{},
		Telemetry:     device.NewReplay(samples(0.1), true),
		WasmLimits:    &limits,
		EpochDeadline: 2,
	})
	require.NoError(t, err)
	defer rt.Close(context.Background())
	require.NoError(t, rt.LoadWasm(context.Background(), "s", spinPlugin(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	require.Eventually(t, func() bool { return len(rt.Watchdog().History("s")) > 0 }, 10*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return rt.Counters().Ticks() >= 5 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	h := rt.Watchdog().History("s")
	assert.Equal(t, watchdog.TimeoutViolation, h[0].Kind)
	assert.True(t, rt.Plugins()[0].Disabled)
}

func TestRunMaintenance(t *testing.T) {
	fx := newFixture(t, Config{Telemetry: device.NewReplay(nil, false)})
	assert.ErrorIs(t, fx.rt.RunMaintenance(context.Background(), 0), errors.ErrInvalidInput)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, fx.rt.RunMaintenance(ctx, time.Millisecond))
}
