package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ffb "github.com/wippyai/ffb-runtime"
	"github.com/wippyai/ffb-runtime/abi"
	"github.com/wippyai/ffb-runtime/errors"
	wt "github.com/wippyai/ffb-runtime/internal/wasmtest"
	"github.com/wippyai/ffb-runtime/rtstats"
	"github.com/wippyai/ffb-runtime/runtime"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSigningWorkflow(t *testing.T) {
	dir := t.TempDir()
	key := filepath.Join(dir, "dev.key")
	store := filepath.Join(dir, "trust.json")
	plugin := filepath.Join(dir, "plugin.so")
	require.NoError(t, os.WriteFile(plugin, []byte("not really a shared object"), 0o600))

	out, err := execute(t, "keygen", "--out", key, "--identity", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "fingerprint:")

	out, err = execute(t, "sign", "--key", key, "--type", "plugin", plugin)
	require.NoError(t, err)
	assert.Contains(t, out, "signed "+plugin+" by alice")
	assert.FileExists(t, plugin+".sig")

	_, err = execute(t, "verify", "--trust", store, "--policy", "strict", plugin)
	assert.ErrorIs(t, err, errors.ErrUntrustedSigner)

	out, err = execute(t, "verify", "--trust", store, "--policy", "permissive", plugin)
	require.NoError(t, err)
	assert.Contains(t, out, "warning:  key not in trust store")

	out, err = execute(t, "trust", "add", "--trust", store, "--key", key, "--level", "trusted", "--reason", "test")
	require.NoError(t, err)
	assert.Contains(t, out, "as trusted")

	out, err = execute(t, "trust", "list", "--trust", store)
	require.NoError(t, err)
	assert.Contains(t, out, "alice")

	out, err = execute(t, "verify", "--trust", store, "--policy", "strict", plugin)
	require.NoError(t, err)
	assert.Contains(t, out, "verified: true")
	assert.Contains(t, out, "signer:   alice")

	require.NoError(t, os.WriteFile(plugin, []byte("tampered"), 0o600))
	_, err = execute(t, "verify", "--trust", store, "--policy", "strict", plugin)
	assert.ErrorIs(t, err, errors.ErrSignatureInvalid)

	_, err = execute(t, "trust", "remove", "--trust", store, "nope")
	assert.Error(t, err)
}

func TestLimits(t *testing.T) {
	out, err := execute(t, "limits")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)

	out, err = execute(t, "limits", "conservative")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "conservative"))

	_, err = execute(t, "limits", "huge")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()

	t.Run("header", func(t *testing.T) {
		b, err := abi.NewHeader(abi.CapTelemetry).MarshalBinary()
		require.NoError(t, err)
		path := filepath.Join(dir, "ok.bin")
		require.NoError(t, os.WriteFile(path, b, 0o600))

		out, err := execute(t, "inspect", path)
		require.NoError(t, err)
		assert.Contains(t, out, "abi version:  1.0")
		assert.Contains(t, out, "status:       ok")
	})

	t.Run("bad magic", func(t *testing.T) {
		h := abi.NewHeader(0)
		h.Magic = 1
		b, err := h.MarshalBinary()
		require.NoError(t, err)
		path := filepath.Join(dir, "bad.bin")
		require.NoError(t, os.WriteFile(path, b, 0o600))

		_, err = execute(t, "inspect", path)
		assert.ErrorIs(t, err, errors.ErrInvalidData)
	})

	t.Run("wasm", func(t *testing.T) {
		m := wt.New()
		fn := m.Func([]byte{wt.F32, wt.F32}, []byte{wt.F32}, nil, wt.LocalGet(0), wt.F32Const(0.5), wt.F32Mul(), wt.End())
		m.ExportFunc(abi.ExportProcess, fn)
		m.Memory(1, 1)
		path := filepath.Join(dir, "half.wasm")
		require.NoError(t, os.WriteFile(path, m.Bytes(), 0o600))

		out, err := execute(t, "inspect", path)
		require.NoError(t, err)
		assert.Contains(t, out, "process(0.5) = 0.25")
	})
}

func TestWantTUI(t *testing.T) {
	assert.True(t, wantTUI("on"))
	assert.False(t, wantTUI("off"))
	assert.False(t, wantTUI("false"))
}

type fakeEngine struct {
	status  runtime.Status
	plugins []runtime.PluginInfo
	reloads int
}

func (f *fakeEngine) Status() runtime.Status           { return f.status }
func (f *fakeEngine) Plugins() []runtime.PluginInfo    { return f.plugins }
func (f *fakeEngine) Degrade() runtime.Degrade         { return runtime.DegradeZero }
func (f *fakeEngine) Reload(ctx context.Context) error { f.reloads++; return nil }

func TestDashboard(t *testing.T) {
	eng := &fakeEngine{
		status: runtime.Status{
			Telemetry: ffb.TelemetrySample{FfbIn: 0.5, HandsOff: true},
			TorqueOut: 0.5,
			TorqueNm:  4,
			Ticks:     42,
			Degraded:  true,
		},
		plugins: []runtime.PluginInfo{{ID: "p", Name: "damper-plus", Kind: "wasm", Calls: 7, Quarantined: true}},
	}
	snaps := make(chan rtstats.Snapshot, 1)
	snaps <- rtstats.Snapshot{Counters: rtstats.CounterSnapshot{Ticks: 42, PipelineFaults: 3}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newDashboardModel(ctx, eng, snaps)
	require.NotNil(t, m.Init())

	_, cmd := m.Update(refreshMsg(time.Now()))
	require.NotNil(t, cmd)
	view := m.View()
	assert.Contains(t, view, "tick 42")
	assert.Contains(t, view, "degraded (zero)")
	assert.Contains(t, view, "hands off")
	assert.Contains(t, view, "damper-plus")
	assert.Contains(t, view, "quarantined")
	assert.Contains(t, view, "faults 3")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, 1, eng.reloads)
	m.Update(msg)
	assert.Contains(t, m.View(), "profile reloaded")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	cancel()
	_, cmd = m.Update(refreshMsg(time.Now()))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
