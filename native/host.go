package native

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/ffb-runtime/errors"
	"github.com/wippyai/ffb-runtime/watchdog"
)

// Info describes a hosted plugin.
type Info struct {
	ID       string
	Name     string
	Path     string
	Signed   bool
	Verified bool
}

type hosted struct {
	plugin *Plugin
	info   Info
}

// Host owns loaded plugins and reports their failures to a watchdog.
type Host struct {
	loader   *Loader
	watchdog *watchdog.Manager
	tracker  *watchdog.FailureTracker
	plugins  map[string]*hosted
	order    []string
	mu       sync.RWMutex
}

// NewHost creates a host. wd may be nil, in which case failures are only
// returned to the caller.
func NewHost(loader *Loader, wd *watchdog.Manager) *Host {
	return &Host{
		loader:   loader,
		watchdog: wd,
		tracker:  watchdog.NewFailureTracker(),
		plugins:  make(map[string]*hosted),
	}
}

func (h *Host) Loader() *Loader { return h.loader }

// Load loads path and assigns it a fresh id.
func (h *Host) Load(ctx context.Context, name, path string, config []byte) (string, error) {
	p, err := h.loader.Load(ctx, path, config)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	sig := p.Signature()
	hp := &hosted{plugin: p, info: Info{
		ID:       id,
		Name:     name,
		Path:     path,
		Signed:   sig != nil && sig.Signed,
		Verified: sig != nil && sig.Verified,
	}}

	h.mu.Lock()
	h.plugins[id] = hp
	h.order = append(h.order, id)
	h.mu.Unlock()
	return id, nil
}

// Unload closes and removes id.
func (h *Host) Unload(id string) error {
	h.mu.Lock()
	hp, ok := h.plugins[id]
	if ok {
		delete(h.plugins, id)
		// ProcessAll may hold the old slice
		order := make([]string, 0, len(h.order))
		for _, o := range h.order {
			if o != id {
				order = append(order, o)
			}
		}
		h.order = order
	}
	h.mu.Unlock()
	if !ok {
		return errors.NotFound(errors.PhaseRuntime, "native plugin", id)
	}
	h.tracker.Reset(id)
	if h.watchdog != nil {
		h.watchdog.Forget(id)
	}
	return hp.plugin.Close()
}

// Process runs plugin id on f. Quarantined plugins are not called and
// return plugin_disabled. Crashes and budget overruns are recorded with the
// watchdog before the error is returned.
func (h *Host) Process(id string, f *PluginFrame) error {
	h.mu.RLock()
	hp, ok := h.plugins[id]
	h.mu.RUnlock()
	if !ok {
		return errors.NotFound(errors.PhaseRuntime, "native plugin", id)
	}
	if h.watchdog != nil && h.watchdog.IsQuarantined(id) {
		return errors.New(errors.PhaseRuntime, errors.KindPluginDisabled).Plugin(id).Detail("quarantined").Build()
	}

	start := hp.plugin.now()
	err := hp.plugin.ProcessFrame(f)
	h.tracker.RecordExecution(id, uint64(hp.plugin.now().Sub(start)/time.Microsecond), err == nil)
	if err != nil {
		h.report(id, err)
	}
	return err
}

// ProcessAll runs every plugin that is not quarantined, in load order, on a
// copy of f and feeds each successful result into the next. A failing
// plugin's output is discarded. It returns the number of plugins whose
// output was applied.
func (h *Host) ProcessAll(f *PluginFrame) int {
	h.mu.RLock()
	ids := h.order
	h.mu.RUnlock()

	applied := 0
	for _, id := range ids {
		work := *f
		if err := h.Process(id, &work); err != nil {
			continue
		}
		*f = work
		applied++
	}
	return applied
}

func (h *Host) report(id string, err error) {
	if h.watchdog == nil {
		return
	}
	var kind watchdog.ViolationKind
	switch {
	case stderrors.Is(err, errors.ErrBudgetViolation):
		kind = watchdog.BudgetViolation
	case stderrors.Is(err, errors.ErrCrashed):
		kind = watchdog.Crash
	default:
		return
	}
	if _, werr := h.watchdog.RecordViolation(id, kind, err.Error()); werr != nil {
		h.loader.logger.Error("record violation", zap.String("plugin", id), zap.Error(werr))
	}
}

// Stats returns call statistics for id.
func (h *Host) Stats(id string) (watchdog.ExecutionStats, bool) {
	return h.tracker.Stats(id)
}

// List returns hosted plugins in load order.
func (h *Host) List() []Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Info, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.plugins[id].info)
	}
	return out
}

func (h *Host) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.plugins)
}

// Close unloads every plugin and returns the first error.
func (h *Host) Close() error {
	h.mu.Lock()
	plugins := h.plugins
	h.plugins = make(map[string]*hosted)
	h.order = nil
	h.mu.Unlock()

	var first error
	for _, hp := range plugins {
		if err := hp.plugin.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
