package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ljm625/decky-sbox/internal/config"
	"github.com/ljm625/decky-sbox/internal/logging"
	"github.com/ljm625/decky-sbox/internal/schedule"
	"github.com/ljm625/decky-sbox/internal/server"
	"github.com/ljm625/decky-sbox/internal/watch"
	"github.com/ljm625/decky-sbox/pkg/sbox"
)

var (
	serveNoResume bool
	serveDebug    bool
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the decky-sbox daemon",
	Long: `Runs the daemon: opens the profile store, resumes sing-box if it was on,
and serves the RPC API on the configured listen address until interrupted.

When enabled in the config it also re-validates profile files edited on
disk, refreshes remote profiles on the auto_refresh schedule and exposes
Prometheus metrics at /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if daemonAddr != "" {
			cfg.Listen = daemonAddr
		}

		logger, closer, err := logging.New(cfg.Log, os.Stderr, serveDebug)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoResume, "no-resume", false, "do not restart sing-box even if it was on")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "log at debug level")
	rootCmd.AddCommand(serveCmd)
}

// serve runs the daemon until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	opts := sbox.Options{Config: cfg, Logger: logger, NoResume: serveNoResume}
	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts.Registerer = reg
		gatherer = reg
	}

	svc, err := sbox.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Close(shutCtx); err != nil {
			logger.Error("closing service", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if cfg.WatchEnabled() {
		w, err := watch.New(watch.Options{
			Dir:     svc.ProfilesDir(),
			NameFor: svc.ProfileName,
			Handle: func(ctx context.Context, name string) {
				if res := svc.Revalidate(ctx, name); !res.OK {
					logger.Warn("profile changed on disk", "config", name, "kind", res.Kind, "error", res.Message)
				}
			},
			Logger: logger.With("component", "watch"),
		})
		if err != nil {
			return fmt.Errorf("watching profiles: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				logger.Error("profile watcher stopped", "error", err)
			}
		}()
	}

	if cfg.AutoRefresh != "" {
		sched, err := schedule.New(cfg.AutoRefresh, func(ctx context.Context) {
			report, err := svc.RefreshRemote(ctx)
			logger.Info("scheduled refresh", "refreshed", report.Refreshed, "failed", len(report.Failed))
			if err != nil {
				logger.Warn("scheduled refresh failures", "error", err)
			}
		}, logger.With("component", "schedule"))
		if err != nil {
			return fmt.Errorf("auto_refresh: %w", err)
		}
		sched.Start()
		logger.Info("auto refresh scheduled", "schedule", cfg.AutoRefresh, "next", sched.Next())
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				logger.Warn("stopping schedule", "error", err)
			}
		}()
	}

	srv := server.New(svc, server.Options{Logger: logger, Gatherer: gatherer, Version: version})
	logger.Info("decky-sbox starting", "addr", cfg.Listen, "home", cfg.Home, "version", version)
	err = srv.ListenAndServe(ctx, cfg.Listen)
	cancel()
	wg.Wait()
	return err
}

// commandContext returns the command's context, which is nil when RunE is
// called directly.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
