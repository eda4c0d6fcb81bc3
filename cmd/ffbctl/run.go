package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/wippyai/ffb-runtime/config"
	"github.com/wippyai/ffb-runtime/device"
	"github.com/wippyai/ffb-runtime/rtstats"
	"github.com/wippyai/ffb-runtime/runtime"
)

const (
	collectInterval  = time.Second
	maintainInterval = time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine against the simulated wheel",
	Long: `Run builds the runtime from an engine file, loads its plugins and ticks
against a simulated wheel base until interrupted.

A profile_path in the engine file is watched and swapped in on change.

Example:
  ffbctl run --config engine.yaml
  ffbctl run --config engine.yaml --tui=off --metrics-addr :9090
`,
	RunE: runEngine,
}

func init() {
	runCmd.Flags().StringP("config", "c", "", "Engine configuration file")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	runCmd.Flags().String("tui", "auto", "Dashboard: auto, on or off")
	_ = viper.BindPFlag("config", runCmd.Flags().Lookup("config"))
	_ = viper.BindPFlag("metrics_addr", runCmd.Flags().Lookup("metrics-addr"))
	_ = viper.BindPFlag("tui", runCmd.Flags().Lookup("tui"))
}

func loadEngine(path string) (*config.Engine, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(path)
}

// wantTUI resolves the --tui setting; auto means stdout is a terminal.
func wantTUI(mode string) bool {
	switch mode {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func runEngine(cmd *cobra.Command, _ []string) error {
	cfg, err := loadEngine(viper.GetString("config"))
	if err != nil {
		return err
	}
	tui := wantTUI(viper.GetString("tui"))
	logger, err := newLogger(tui)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := device.NewSimulator(device.SimulatorConfig{})
	rt, err := runtime.FromEngine(ctx, cfg, sim, sim, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			logger.Warn("close runtime", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	exporter := rtstats.NewExporter(reg, rtstats.DefaultThresholds())
	collector := rtstats.NewCollector(rt.Queues(), rt.Counters())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Run(gctx) })
	g.Go(func() error { return rt.RunMaintenance(gctx, maintainInterval) })

	var snaps chan rtstats.Snapshot
	if tui {
		snaps = make(chan rtstats.Snapshot, 1)
	}
	g.Go(func() error {
		return collector.Run(gctx, collectInterval, func(s rtstats.Snapshot) {
			exporter.Observe(s)
			logSnapshot(logger, s, collector.Thresholds())
			if snaps != nil {
				select {
				case snaps <- s:
				default:
				}
			}
		})
	})

	if cfg.ProfilePath != "" {
		w, err := config.NewWatcher(cfg.ProfilePath, func(p *config.Profile) {
			if err := rt.SwapProfile(gctx, p); err != nil {
				logger.Warn("profile reload rejected", zap.Error(err))
			}
		}, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	addr := viper.GetString("metrics_addr")
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		serveMetrics(gctx, g, addr, reg, logger)
	}

	if tui {
		g.Go(func() error {
			defer stop()
			return runDashboard(gctx, rt, snaps)
		})
	}

	logger.Info("engine running", zap.Duration("period", rt.Period()), zap.String("metrics", addr))
	return g.Wait()
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func logSnapshot(logger *zap.Logger, s rtstats.Snapshot, t rtstats.Thresholds) {
	fields := []zap.Field{
		zap.Uint64("ticks", s.Counters.Ticks),
		zap.Float64("missed_pct", s.MissedTickRate()),
		zap.Duration("jitter_p99", s.Jitter.P99),
		zap.Duration("processing_p99", s.ProcessingTime.P99),
		zap.Duration("hid_p99", s.HIDLatency.P99),
		zap.Float64("saturation_pct", s.Counters.TorqueSaturationPercent()),
	}
	if s.HasViolations(t) || s.HasAppViolations(t) {
		logger.Warn("real-time thresholds exceeded", fields...)
		return
	}
	logger.Debug("rt stats", fields...)
}
