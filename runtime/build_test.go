package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffb-runtime/config"
	"github.com/wippyai/ffb-runtime/device"
	"github.com/wippyai/ffb-runtime/engine"
	"github.com/wippyai/ffb-runtime/errors"
)

func TestWasmLimits(t *testing.T) {
	tests := []struct {
		name string
		in   config.Wasm
		want engine.ResourceLimits
		err  error
	}{
		{"default", config.Wasm{}, engine.DefaultLimits(), nil},
		{"generous", config.Wasm{Preset: "generous"}, engine.GenerousLimits(), nil},
		{
			"overrides",
			config.Wasm{Preset: "conservative", MaxFuel: 5_000, MaxExecutionTime: time.Millisecond},
			engine.ConservativeLimits().WithFuel(5_000).WithExecutionTime(time.Millisecond),
			nil,
		},
		{"unknown preset", config.Wasm{Preset: "huge"}, engine.ResourceLimits{}, errors.ErrInvalidInput},
		{"fuel over max", config.Wasm{MaxFuel: engine.MaxFuelLimit + 1}, engine.ResourceLimits{}, errors.ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := WasmLimits(tc.in)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPolicy(t *testing.T) {
	p := Policy(config.Default().Watchdog)
	require.NoError(t, p.Validate())
	assert.Equal(t, 3, p.MaxCrashes)
	assert.Equal(t, 5*time.Minute, p.BaseDuration)
	assert.Equal(t, 60*time.Minute, p.ViolationWindow)
	assert.Equal(t, 5, p.MaxEscalationLevel)
}

func TestFromEngine(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	wasmPath := filepath.Join(dir, "half.wasm")
	require.NoError(t, os.WriteFile(wasmPath, gainPlugin(0.5), 0o600))

	t.Run("loads plugins", func(t *testing.T) {
		cfg := config.Default()
		cfg.Degrade = "zero"
		cfg.Wasm.Plugins = []config.WasmPlugin{{ID: "half", Path: wasmPath}}
		rec := device.NewRecorder(0)

		rt, err := FromEngine(ctx, &cfg, rec, device.NewReplay(samples(0.5), true), nil)
		require.NoError(t, err)
		defer rt.Close(ctx)

		assert.Equal(t, DegradeZero, rt.Degrade())
		assert.NotNil(t, rt.Native())
		require.Len(t, rt.Plugins(), 1)

		require.NoError(t, rt.Tick(ctx, time.Now()))
		cmd, err := device.ParseTorque(rec.Last())
		require.NoError(t, err)
		assert.InDelta(t, 2.0, cmd.TorqueNm, 1.0/256)
	})

	t.Run("profile file is the reload source", func(t *testing.T) {
		path := filepath.Join(dir, "p.yaml")
		require.NoError(t, os.WriteFile(path, []byte("name: p\ngain: 0.5\n"), 0o600))
		cfg := config.Default()
		cfg.ProfilePath = path

		rt, err := FromEngine(ctx, &cfg, device.Null{}, device.NewReplay(nil, false), nil)
		require.NoError(t, err)
		defer rt.Close(ctx)
		assert.NoError(t, rt.Reload(ctx))
	})

	t.Run("missing wasm file", func(t *testing.T) {
		cfg := config.Default()
		cfg.Wasm.Plugins = []config.WasmPlugin{{ID: "x", Path: filepath.Join(dir, "nope.wasm")}}
		_, err := FromEngine(ctx, &cfg, device.Null{}, device.NewReplay(nil, false), nil)
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("unsigned native plugin", func(t *testing.T) {
		cfg := config.Default()
		cfg.Native.Plugins = []config.NativePlugin{{ID: "n", Path: filepath.Join(dir, "nope.so")}}
		_, err := FromEngine(ctx, &cfg, device.Null{}, device.NewReplay(nil, false), nil)
		assert.Error(t, err)
	})

	t.Run("bad degrade", func(t *testing.T) {
		cfg := config.Default()
		cfg.Degrade = "ramp"
		_, err := FromEngine(ctx, &cfg, device.Null{}, device.NewReplay(nil, false), nil)
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})
}
