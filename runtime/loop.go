package runtime

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/ffb-runtime/config"
	"github.com/wippyai/ffb-runtime/errors"
)

// Run ticks at the configured rate until ctx is done or the runtime is
// closed. A tick that starts late is recorded as jitter; slots that pass
// entirely while a tick runs are skipped and counted as missed.
//
// While Run is active the WASM epoch advances once per period on its own
// goroutine, so a plugin call stuck inside a tick is still interrupted.
func (r *Runtime) Run(ctx context.Context) error {
	if r.wasm != nil {
		stop := r.startEpochClock(ctx)
		defer stop()
	}

	timer := time.NewTimer(r.period)
	defer timer.Stop()
	next := r.now().Add(r.period)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		now := r.now()
		jitter := now.Sub(next)
		if jitter < 0 {
			jitter = -jitter
		}
		r.queues.PushJitterDrop(uint64(jitter))

		if err := r.Tick(ctx, now); err != nil && stderrors.Is(err, errors.ErrShutdown) {
			return err
		}

		next = next.Add(r.period)
		if behind := r.now().Sub(next); behind >= 0 {
			missed := uint64(behind/r.period) + 1
			r.counters.IncMissedTicks(missed)
			next = next.Add(time.Duration(missed) * r.period)
		}
		timer.Reset(next.Sub(r.now()))
	}
}

func (r *Runtime) startEpochClock(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(r.period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.wasm.Epoch().Increment()
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// RunMaintenance calls Maintain every interval until ctx is done.
func (r *Runtime) RunMaintenance(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.InvalidInput(errors.PhaseRuntime, "maintenance interval must be positive")
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.Maintain(ctx)
		}
	}
}

// SwapProfile compiles p off the tick and stages the result; the next tick
// runs on it. An invalid profile leaves the active pipeline in place. A
// profile that compiles to the active configuration is not staged.
func (r *Runtime) SwapProfile(ctx context.Context, p *config.Profile) error {
	res, ok := <-r.compiler.CompileAsync(ctx, p)
	if !ok {
		return ctx.Err()
	}
	if res.Err != nil {
		r.logger.Warn("profile rejected, keeping active pipeline",
			zap.String("profile", p.Name),
			zap.Error(res.Err))
		return res.Err
	}
	if res.Pipeline.ConfigHash() == r.exec.ConfigHash() && !r.exec.HasPending() {
		r.logger.Debug("profile unchanged", zap.String("profile", p.Name))
		return nil
	}
	r.exec.Stage(res.Pipeline)
	r.logger.Info("profile staged",
		zap.String("profile", p.Name),
		zap.Int("nodes", res.Pipeline.Len()),
		zap.Uint64("hash", res.Pipeline.ConfigHash()))
	return nil
}

// Reload asks the configured provider for the current profile and swaps
// it in.
func (r *Runtime) Reload(ctx context.Context) error {
	if r.provider == nil {
		return errors.NotInitialized(errors.PhaseConfig, "profile provider")
	}
	p, err := r.provider.Profile()
	if err != nil {
		return err
	}
	return r.SwapProfile(ctx, p)
}
