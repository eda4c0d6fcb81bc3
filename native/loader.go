package native

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/ffb-runtime/abi"
	"github.com/wippyai/ffb-runtime/errors"
	"github.com/wippyai/ffb-runtime/signature"
)

// Loader verifies and opens native plugins.
type Loader struct {
	verifier *signature.Verifier
	open     Opener
	now      func() time.Time
	logger   *zap.Logger
	cfg      LoaderConfig
}

// Option configures a Loader.
type Option func(*Loader)

// WithOpener replaces dlopen, mainly for tests.
func WithOpener(o Opener) Option {
	return func(l *Loader) { l.open = o }
}

// WithClock replaces the clock used to time plugin calls.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

func WithLogger(lg *zap.Logger) Option {
	return func(l *Loader) { l.logger = lg }
}

// NewLoader creates a loader that checks signatures against store.
func NewLoader(store *signature.TrustStore, cfg LoaderConfig, opts ...Option) *Loader {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	l := &Loader{
		open:   OpenDynamic,
		now:    time.Now,
		logger: Logger(),
		cfg:    cfg,
	}
	for _, o := range opts {
		o(l)
	}
	l.verifier = signature.NewVerifier(store, cfg.RequireSignatures, cfg.AllowUnsigned).WithLogger(l.logger)
	return l
}

func (l *Loader) Config() LoaderConfig { return l.cfg }

// TrustStore returns the store used for verification.
func (l *Loader) TrustStore() *signature.TrustStore { return l.verifier.Store() }

// Load verifies the signature of path, opens it, checks the ABI version and
// creates the plugin state from config. A nil config is sent as JSON null.
func (l *Loader) Load(ctx context.Context, path string, config []byte) (*Plugin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig, err := l.verifier.Verify(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lib, err := l.open(path)
	if err != nil {
		return nil, err
	}
	vt, err := lib.Lookup(VTableSymbol)
	if err != nil {
		lib.Close()
		return nil, err
	}
	if vt.ABIVersion != abi.CurrentABIVersion {
		lib.Close()
		return nil, &errors.AbiMismatchError{Expected: abi.CurrentABIVersion, Actual: vt.ABIVersion}
	}
	if !vt.complete() {
		lib.Close()
		return nil, errors.Load("incomplete vtable in "+path, nil)
	}

	if config == nil {
		config = []byte("null")
	}
	state := vt.Create(config)
	if state == 0 {
		lib.Close()
		return nil, errors.New(errors.PhaseLoad, errors.KindInitializationFailed).
			Path(path).
			Detail("create returned null").
			Build()
	}

	l.logger.Info("native plugin loaded",
		zap.String("path", path),
		zap.String("abi", abi.VersionString(vt.ABIVersion)),
		zap.Bool("signed", sig.Signed),
		zap.Bool("verified", sig.Verified))

	return &Plugin{
		path:      path,
		lib:       lib,
		vt:        vt,
		state:     state,
		signature: sig,
		budget:    l.cfg.Budget,
		now:       l.now,
	}, nil
}

// Plugin is a loaded native plugin instance. ProcessFrame must not be
// called concurrently with itself or Close.
type Plugin struct {
	lib       Library
	signature *signature.Result
	now       func() time.Time
	path      string
	vt        VTable
	state     uintptr
	budget    time.Duration
	closeOnce sync.Once
}

func (p *Plugin) Path() string          { return p.path }
func (p *Plugin) ABIVersion() uint32    { return p.vt.ABIVersion }
func (p *Plugin) Budget() time.Duration { return p.budget }

// Signature returns the verification result; Signed is false for plugins
// loaded without a sidecar.
func (p *Plugin) Signature() *signature.Result { return p.signature }

// ProcessFrame runs the plugin on f. A non-zero return code is a crash.
// A call that outlasts the budget is a budget violation even though its
// result stays in f; callers decide whether to use it.
func (p *Plugin) ProcessFrame(f *PluginFrame) error {
	if p.state == 0 {
		return errors.NotInitialized(errors.PhaseRuntime, "native plugin "+p.path)
	}
	budget := p.budget
	if f.BudgetUs == 0 {
		f.BudgetUs = uint32(budget.Microseconds())
	} else {
		budget = time.Duration(f.BudgetUs) * time.Microsecond
	}

	start := p.now()
	rc := p.vt.Process(p.state, f)
	elapsed := p.now().Sub(start)

	if elapsed > budget {
		return errors.New(errors.PhaseRuntime, errors.KindBudgetViolation).
			Plugin(p.path).
			Value(elapsed).
			Detail("took %s, budget %s", elapsed, budget).
			Build()
	}
	if rc != 0 {
		return errors.New(errors.PhaseRuntime, errors.KindCrashed).
			Plugin(p.path).
			Value(rc).
			Detail("process returned %d", rc).
			Build()
	}
	return nil
}

// Reinitialize destroys the current state and creates a new one from config.
func (p *Plugin) Reinitialize(config []byte) error {
	if p.state != 0 {
		p.vt.Destroy(p.state)
		p.state = 0
	}
	if config == nil {
		config = []byte("null")
	}
	p.state = p.vt.Create(config)
	if p.state == 0 {
		return errors.New(errors.PhaseLoad, errors.KindInitializationFailed).
			Path(p.path).
			Detail("create returned null during reinitialization").
			Build()
	}
	return nil
}

// Close destroys the plugin state and releases the library. It is safe to
// call more than once.
func (p *Plugin) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.state != 0 {
			p.vt.Destroy(p.state)
			p.state = 0
		}
		err = p.lib.Close()
	})
	return err
}
