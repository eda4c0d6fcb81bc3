package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ProfileHandler receives each successfully reloaded profile.
type ProfileHandler func(*Profile)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads a profile file when it changes on disk.
//
// The parent directory is watched rather than the file, so editors that
// save through rename-and-replace are picked up. Invalid profiles are logged
// and skipped; the handler only ever sees validated profiles.
type Watcher struct {
	watcher  *fsnotify.Watcher
	handler  ProfileHandler
	logger   *zap.Logger
	path     string
	debounce time.Duration
	stopOnce sync.Once
}

// NewWatcher prepares a watcher for path. Call Run to start it.
func NewWatcher(path string, handler ProfileHandler, logger *zap.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		watcher:  fw,
		handler:  handler,
		logger:   logger,
		path:     abs,
		debounce: DefaultDebounce,
	}, nil
}

// SetDebounce changes the settle window. Must be called before Run.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run processes events until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("profile watcher error", zap.Error(err))
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	p, err := LoadProfile(w.path)
	if err != nil {
		w.logger.Warn("profile reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("profile reloaded", zap.String("path", w.path), zap.String("name", p.Name))
	w.handler(p)
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		err = w.watcher.Close()
	})
	return err
}
