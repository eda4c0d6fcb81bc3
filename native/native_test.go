package native

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffb-runtime/abi"
	"github.com/wippyai/ffb-runtime/errors"
	"github.com/wippyai/ffb-runtime/signature"
	"github.com/wippyai/ffb-runtime/watchdog"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

type fakeLib struct {
	clk       *fakeClock
	config    []byte
	cost      time.Duration
	gain      float32
	version   uint32
	rc        int32
	calls     int
	destroyed int
	closed    int
	nullState bool
}

func newFakeLib() *fakeLib {
	return &fakeLib{version: abi.CurrentABIVersion, gain: 1}
}

func (l *fakeLib) Lookup(symbol string) (VTable, error) {
	if symbol != VTableSymbol {
		return VTable{}, errors.Load("missing symbol "+symbol, nil)
	}
	return VTable{
		ABIVersion: l.version,
		Create: func(cfg []byte) uintptr {
			l.config = append([]byte(nil), cfg...)
			if l.nullState {
				return 0
			}
			return 0xC0FFEE
		},
		Process: func(state uintptr, f *PluginFrame) int32 {
			l.calls++
			if l.clk != nil {
				l.clk.t = l.clk.t.Add(l.cost)
			}
			f.TorqueOut = f.TorqueOut * l.gain
			return l.rc
		},
		Destroy: func(uintptr) { l.destroyed++ },
	}, nil
}

func (l *fakeLib) Close() error {
	l.closed++
	return nil
}

type env struct {
	clk    *fakeClock
	libs   map[string]*fakeLib
	opened int
}

func newEnv() *env {
	return &env{clk: &fakeClock{t: time.Unix(0, 0)}, libs: make(map[string]*fakeLib)}
}

func (e *env) lib(path string) *fakeLib {
	l, ok := e.libs[path]
	if !ok {
		l = newFakeLib()
		l.clk = e.clk
		e.libs[path] = l
	}
	return l
}

func (e *env) open(path string) (Library, error) {
	e.opened++
	return e.lib(path), nil
}

func (e *env) loader(store *signature.TrustStore, cfg LoaderConfig) *Loader {
	return NewLoader(store, cfg, WithOpener(e.open), WithClock(e.clk.now))
}

func TestPolicies(t *testing.T) {
	tests := []struct {
		name          string
		want          string
		require       bool
		allowUnsigned bool
	}{
		{"", "strict", true, false},
		{"default", "strict", true, false},
		{"strict", "strict", true, false},
		{"permissive", "permissive", true, true},
		{"development", "development", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.name, func(t *testing.T) {
			cfg, err := PolicyByName(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.require, cfg.RequireSignatures)
			assert.Equal(t, tt.allowUnsigned, cfg.AllowUnsigned)
			assert.Equal(t, DefaultBudget, cfg.Budget)
			assert.Equal(t, tt.want, cfg.String())
		})
	}
	_, err := PolicyByName("yolo")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	assert.Equal(t, Strict(), DefaultLoaderConfig())
}

func TestLoadRequiresExactABIVersion(t *testing.T) {
	versions := []uint32{
		0,
		1,
		abi.CurrentABIVersion - 1,
		abi.CurrentABIVersion + 1,
		0x00020000,
		0xFFFFFFFF,
		abi.CurrentABIVersion,
	}
	for _, v := range versions {
		t.Run(abi.VersionString(v), func(t *testing.T) {
			e := newEnv()
			e.lib("p.so").version = v
			p, err := e.loader(nil, Development()).Load(context.Background(), "p.so", nil)

			if v == abi.CurrentABIVersion {
				require.NoError(t, err)
				assert.Equal(t, v, p.ABIVersion())
				require.NoError(t, p.Close())
				return
			}
			require.Error(t, err)
			var mm *errors.AbiMismatchError
			require.True(t, stderrors.As(err, &mm))
			assert.Equal(t, abi.CurrentABIVersion, mm.Expected)
			assert.Equal(t, v, mm.Actual)
			assert.ErrorIs(t, err, errors.ErrAbiMismatch)
			assert.Equal(t, 1, e.lib("p.so").closed)
		})
	}
}

func TestLoadNullStateFails(t *testing.T) {
	e := newEnv()
	e.lib("p.so").nullState = true
	_, err := e.loader(nil, Development()).Load(context.Background(), "p.so", []byte(`{"gain":2}`))
	assert.ErrorIs(t, err, errors.ErrInitializationFailed)
	assert.Equal(t, `{"gain":2}`, string(e.lib("p.so").config))
	assert.Equal(t, 1, e.lib("p.so").closed)
}

func TestLoadSendsNullConfig(t *testing.T) {
	e := newEnv()
	p, err := e.loader(nil, Development()).Load(context.Background(), "p.so", nil)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "null", string(e.lib("p.so").config))
	assert.False(t, p.Signature().Signed)
}

func TestLoadSignaturePolicy(t *testing.T) {
	dir := t.TempDir()
	signed := filepath.Join(dir, "signed.so")
	unsigned := filepath.Join(dir, "unsigned.so")
	require.NoError(t, os.WriteFile(signed, []byte("elf"), 0o644))
	require.NoError(t, os.WriteFile(unsigned, []byte("elf"), 0o644))

	signer, err := signature.GenerateKey("vendor")
	require.NoError(t, err)
	defer signer.Destroy()
	_, err = signer.SignFile(signed, signature.ContentPlugin, "")
	require.NoError(t, err)

	store := signature.NewTrustStore()
	_, err = store.Add(signer.PublicKey(), "vendor", signature.Trusted, "")
	require.NoError(t, err)

	t.Run("strict rejects unsigned before opening", func(t *testing.T) {
		e := newEnv()
		_, err := e.loader(store, Strict()).Load(context.Background(), unsigned, nil)
		assert.ErrorIs(t, err, errors.ErrUnsignedPlugin)
		assert.Zero(t, e.opened)
	})
	t.Run("strict loads trusted", func(t *testing.T) {
		e := newEnv()
		p, err := e.loader(store, Strict()).Load(context.Background(), signed, nil)
		require.NoError(t, err)
		defer p.Close()
		assert.True(t, p.Signature().Verified)
	})
	t.Run("strict rejects unknown signer", func(t *testing.T) {
		e := newEnv()
		_, err := e.loader(signature.NewTrustStore(), Strict()).Load(context.Background(), signed, nil)
		assert.ErrorIs(t, err, errors.ErrUntrustedSigner)
	})
	t.Run("permissive loads unsigned", func(t *testing.T) {
		e := newEnv()
		p, err := e.loader(store, Permissive()).Load(context.Background(), unsigned, nil)
		require.NoError(t, err)
		defer p.Close()
		assert.NotEmpty(t, p.Signature().Warnings)
	})
}

func TestLoadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newEnv()
	_, err := e.loader(nil, Development()).Load(ctx, "p.so", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, e.opened)
}

func TestProcessFrame(t *testing.T) {
	e := newEnv()
	lib := e.lib("p.so")
	lib.gain = 0.5
	p, err := e.loader(nil, Development()).Load(context.Background(), "p.so", nil)
	require.NoError(t, err)
	defer p.Close()

	t.Run("ok", func(t *testing.T) {
		f := &PluginFrame{TorqueOut: 0.8}
		require.NoError(t, p.ProcessFrame(f))
		assert.InDelta(t, 0.4, f.TorqueOut, 1e-6)
		assert.Equal(t, uint32(100), f.BudgetUs)
	})
	t.Run("non-zero rc crashes", func(t *testing.T) {
		lib.rc = -1
		defer func() { lib.rc = 0 }()
		assert.ErrorIs(t, p.ProcessFrame(&PluginFrame{}), errors.ErrCrashed)
	})
	t.Run("over budget keeps result", func(t *testing.T) {
		lib.cost = 150 * time.Microsecond
		defer func() { lib.cost = 0 }()
		f := &PluginFrame{TorqueOut: 1}
		assert.ErrorIs(t, p.ProcessFrame(f), errors.ErrBudgetViolation)
		assert.InDelta(t, 0.5, f.TorqueOut, 1e-6)
	})
	t.Run("frame budget overrides default", func(t *testing.T) {
		lib.cost = 150 * time.Microsecond
		defer func() { lib.cost = 0 }()
		assert.NoError(t, p.ProcessFrame(&PluginFrame{BudgetUs: 200}))
	})
}

func TestCloseAndReinitialize(t *testing.T) {
	e := newEnv()
	p, err := e.loader(nil, Development()).Load(context.Background(), "p.so", nil)
	require.NoError(t, err)

	require.NoError(t, p.Reinitialize([]byte(`{"x":1}`)))
	assert.Equal(t, 1, e.lib("p.so").destroyed)
	assert.Equal(t, `{"x":1}`, string(e.lib("p.so").config))

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 2, e.lib("p.so").destroyed)
	assert.Equal(t, 1, e.lib("p.so").closed)
	assert.ErrorIs(t, p.ProcessFrame(&PluginFrame{}), errors.ErrNotInitialized)
}

func TestHostQuarantinesCrashingPlugin(t *testing.T) {
	e := newEnv()
	wd, err := watchdog.NewManager(watchdog.DefaultPolicy(), watchdog.WithClock(e.clk.now))
	require.NoError(t, err)
	host := NewHost(e.loader(nil, Development()), wd)
	defer host.Close()

	goodID, err := host.Load(context.Background(), "good", "good.so", nil)
	require.NoError(t, err)
	badID, err := host.Load(context.Background(), "bad", "bad.so", nil)
	require.NoError(t, err)
	e.lib("good.so").gain = 0.5
	bad := e.lib("bad.so")
	bad.gain = 100
	bad.rc = 3

	for i := 0; i < 3; i++ {
		f := &PluginFrame{TorqueOut: 0.8}
		assert.Equal(t, 1, host.ProcessAll(f))
		assert.InDelta(t, 0.4, f.TorqueOut, 1e-6, "crashing plugin output discarded")
	}
	assert.True(t, wd.IsQuarantined(badID))
	assert.Equal(t, 3, bad.calls)

	err = host.Process(badID, &PluginFrame{})
	assert.ErrorIs(t, err, errors.ErrPluginDisabled)
	assert.Equal(t, 3, bad.calls, "quarantined plugin is not called")

	st, ok := host.Stats(badID)
	require.True(t, ok)
	assert.Equal(t, uint64(3), st.Crashes)

	list := host.List()
	require.Len(t, list, 2)
	assert.Equal(t, "good", list[0].Name)
	assert.Equal(t, goodID, list[0].ID)

	require.NoError(t, host.Unload(badID))
	assert.Equal(t, 1, host.Len())
	assert.Equal(t, 1, bad.closed)
	_, ok = wd.State(badID)
	assert.False(t, ok)
	assert.ErrorIs(t, host.Unload(badID), errors.ErrNotFound)
}

func TestHostBudgetViolations(t *testing.T) {
	e := newEnv()
	wd, err := watchdog.NewManager(watchdog.DefaultPolicy(), watchdog.WithClock(e.clk.now))
	require.NoError(t, err)
	host := NewHost(e.loader(nil, Development()), wd)
	defer host.Close()

	id, err := host.Load(context.Background(), "slow", "slow.so", nil)
	require.NoError(t, err)
	e.lib("slow.so").cost = time.Millisecond

	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, host.Process(id, &PluginFrame{}), errors.ErrBudgetViolation)
	}
	st, _ := wd.State(id)
	assert.True(t, st.Quarantined)
	assert.Equal(t, 10, st.Total(watchdog.BudgetViolation))
}
