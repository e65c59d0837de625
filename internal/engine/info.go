package engine

import (
	"context"

	"github.com/ljm625/decky-sbox/internal/profile"
	"github.com/ljm625/decky-sbox/internal/runner"
)

// Info reports the runner status. It takes no engine lock and never waits
// on the process.
func (e *Engine) Info(ctx context.Context) (info Info, err error) {
	defer func() { e.Metrics.Operation("info", err, KindLabel) }()

	info.Status = e.Runner.Status()
	sel, ok, err := e.Store.Selected(ctx)
	if err != nil {
		return Info{}, wrap("info", err)
	}
	if ok {
		info.Selected = sel.Name
	}
	if info.Online {
		info.WebUI = e.WebUI
	}
	e.Metrics.SetOnline(info.Online)
	return info, nil
}

// List returns every profile in creation order.
func (e *Engine) List(ctx context.Context) (profiles []profile.Profile, err error) {
	defer func() { e.Metrics.Operation("list_configs", err, KindLabel) }()

	profiles, err = e.Store.List(ctx)
	if err != nil {
		return nil, wrap("list_configs", err)
	}
	return profiles, nil
}

// HandleExit records a sing-box exit the runner did not ask for. It is
// meant to be the runner's OnExit hook.
func (e *Engine) HandleExit(ev runner.ExitEvent) {
	e.logger().Warn("sing-box exited",
		"config", ev.Config, "run_id", ev.RunID, "exit_code", ev.ExitCode,
		"reason", ev.Reason, "uptime", ev.Uptime)
	e.Metrics.ProcessExited()
	e.Metrics.SetOnline(false)
}

// recordProfiles refreshes the profile gauges. Failures only cost a stale
// gauge.
func (e *Engine) recordProfiles(ctx context.Context) {
	if e.Metrics == nil {
		return
	}
	profiles, err := e.Store.List(ctx)
	if err != nil {
		return
	}
	valid := 0
	for _, p := range profiles {
		if p.Valid {
			valid++
		}
	}
	e.Metrics.SetProfiles(valid, len(profiles)-valid)
}
