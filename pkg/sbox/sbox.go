// Package sbox is the public API of decky-sbox: one Service that owns the
// sing-box profile store and the sing-box process.
//
// A Service is created with Open and must be released with Close. Open
// reconciles the store with the files on disk, checks the sing-box binary
// and, if sing-box was switched on when the daemon last ran, starts it
// again. Close stops sing-box and closes the store.
//
// # Basic Usage
//
//	cfg, err := config.Load("decky-sbox.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := sbox.Open(ctx, sbox.Options{Config: cfg})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(context.Background())
//
//	res := svc.DownloadConfig(ctx, "home", "https://example.com/sub.json")
//	if !res.OK {
//	    log.Printf("%s: %s", res.Kind, res.Message)
//	}
//	res = svc.ToggleSingbox(ctx, true)
//
// Queries (Info, ListConfigs) never wait on a command. Commands are applied
// one at a time and either complete or change nothing.
package sbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ljm625/decky-sbox/internal/config"
	"github.com/ljm625/decky-sbox/internal/engine"
	"github.com/ljm625/decky-sbox/internal/metrics"
	"github.com/ljm625/decky-sbox/internal/profile"
	"github.com/ljm625/decky-sbox/internal/runner"
	"github.com/ljm625/decky-sbox/internal/source"
	"github.com/ljm625/decky-sbox/internal/transform"
	"github.com/ljm625/decky-sbox/internal/validate"
)

// Options configures Open.
type Options struct {
	// Config is the resolved daemon configuration. Required.
	Config *config.Config

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registerer receives the Prometheus collectors. Nil disables metrics.
	Registerer prometheus.Registerer

	// HTTPClient is used for profile downloads. Defaults to
	// http.DefaultClient.
	HTTPClient source.HTTPClient

	// NoResume skips restarting sing-box on Open.
	NoResume bool
}

// Service is the profile lifecycle authority.
type Service struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *profile.Store
	runner  engine.Runner
	engine  *engine.Engine
	metrics *metrics.Metrics

	closeOnce sync.Once
	closeErr  error
}

// Open initialises a Service from opts.Config.
func Open(ctx context.Context, opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("sbox: Options.Config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var m *metrics.Metrics
	if opts.Registerer != nil {
		m = metrics.New(opts.Registerer)
	}

	store, err := profile.Open(ctx, cfg.StatePath(), cfg.ProfilesDir())
	if err != nil {
		return nil, fmt.Errorf("opening profile store: %w", err)
	}

	svc := &Service{cfg: cfg, logger: logger, store: store, metrics: m}
	svc.engine = &engine.Engine{
		Store: store,
		Sources: source.DefaultRegistry(source.Options{
			Client:    opts.HTTPClient,
			MaxSize:   cfg.Fetch.MaxSize,
			Timeout:   cfg.Fetch.Timeout,
			UserAgent: cfg.Fetch.UserAgent,
		}),
		Metrics:    m,
		Logger:     logger.With("component", "engine"),
		AutoSelect: cfg.AutoSelectEnabled(),
		WebUI:      WebUIURL(cfg),
	}
	ctrl := runner.New(runner.Options{
		Binary:         cfg.Binary,
		Home:           cfg.Home,
		LogPath:        cfg.CoreLogPath(),
		LivenessWindow: cfg.Run.LivenessWindow,
		StopTimeout:    cfg.Run.StopTimeout,
		MinVersion:     cfg.Run.MinVersion,
		Overrides: transform.Overrides{
			LogLevel: cfg.Run.LogLevel,
			ClashAPI: cfg.Run.ClashAPI,
			WebDir:   cfg.WebDir(),
			Tun:      cfg.Run.Tun,
		},
		Logger: logger,
		OnExit: svc.engine.HandleExit,
	})
	svc.runner = ctrl
	svc.engine.Runner = ctrl

	if err := svc.init(ctx, !opts.NoResume); err != nil {
		store.Close()
		return nil, err
	}
	return svc, nil
}

// init loads the store state and checks the binary. Only a store failure
// is fatal; a missing binary or a failed resume is logged.
func (s *Service) init(ctx context.Context, resume bool) error {
	report, err := s.store.Reconcile(ctx, func(content []byte) (bool, string) {
		res := validate.Validate(content)
		return res.Valid, res.Reason
	})
	if err != nil {
		return fmt.Errorf("reconciling profiles: %w", err)
	}
	if len(report.Adopted)+len(report.Updated)+len(report.Unreadable) > 0 {
		s.logger.Info("profiles reconciled",
			"adopted", report.Adopted, "updated", report.Updated, "unreadable", report.Unreadable)
	}

	if version, err := s.runner.RefreshVersion(ctx); err != nil {
		s.logger.Warn("sing-box binary unavailable", "binary", s.cfg.Binary, "error", err)
	} else {
		s.logger.Info("sing-box binary found", "binary", s.cfg.Binary, "version", version)
	}

	if resume {
		if started, err := s.engine.Resume(ctx); err != nil {
			s.logger.Warn("could not resume sing-box", "error", err)
		} else if started {
			s.logger.Info("sing-box resumed")
		}
	}
	return nil
}

// Close stops sing-box and closes the store. Further calls return the
// first result.
func (s *Service) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if err := s.runner.Stop(ctx); err != nil {
			s.logger.Warn("stopping sing-box", "error", err)
		}
		s.closeErr = s.store.Close()
	})
	return s.closeErr
}

// Config returns the configuration the service was opened with.
func (s *Service) Config() *config.Config { return s.cfg }

// ProfilesDir is where profile files live; the watcher observes it.
func (s *Service) ProfilesDir() string { return s.store.Dir() }

// ProfileName maps a file in ProfilesDir back to its profile name.
func (s *Service) ProfileName(path string) (string, bool) { return s.store.NameForPath(path) }

// WebUIURL is the dashboard address served through sing-box's clash API.
func WebUIURL(cfg *config.Config) string {
	return "http://" + cfg.Run.ClashAPI + cfg.Run.WebUIPath
}

// Info reports the sing-box status.
func (s *Service) Info(ctx context.Context) (Info, error) {
	return s.engine.Info(ctx)
}

// ListConfigs returns every profile in creation order.
func (s *Service) ListConfigs(ctx context.Context) ([]Profile, error) {
	return s.engine.List(ctx)
}

// DownloadConfig fetches src (a URL, a file path or the document itself)
// into profile name.
func (s *Service) DownloadConfig(ctx context.Context, name, src string) Result {
	_, err := s.engine.Download(ctx, name, src)
	return ResultOf(err)
}

// RefreshConfig re-acquires and re-validates profile name, restarting
// sing-box when it runs on it.
func (s *Service) RefreshConfig(ctx context.Context, name string) Result {
	_, err := s.engine.Refresh(ctx, name)
	return ResultOf(err)
}

// UpdateConfig changes one field of profile name.
func (s *Service) UpdateConfig(ctx context.Context, name string, field Field) Result {
	return ResultOf(s.engine.Update(ctx, name, field))
}

// DeleteConfig removes profile name.
func (s *Service) DeleteConfig(ctx context.Context, name string) Result {
	_, err := s.engine.Delete(ctx, name)
	return ResultOf(err)
}

// ToggleSingbox switches sing-box on with the selected profile, or off.
func (s *Service) ToggleSingbox(ctx context.Context, on bool) Result {
	return ResultOf(s.engine.Toggle(ctx, on))
}

// Revalidate re-checks the stored file of profile name.
func (s *Service) Revalidate(ctx context.Context, name string) Result {
	_, err := s.engine.Revalidate(ctx, name)
	return ResultOf(err)
}

// RefreshRemote refreshes every profile with a remote origin.
func (s *Service) RefreshRemote(ctx context.Context) (RefreshReport, error) {
	return s.engine.RefreshRemote(ctx)
}
