package engine

import (
	"context"
	"strconv"
)

// Toggle switches sing-box on with the selected profile, or off. The
// choice is persisted so Resume can restore it after a daemon restart.
// Switching on with nothing selected fails with ErrNoSelection and leaves
// sing-box as it was.
func (e *Engine) Toggle(ctx context.Context, on bool) (err error) {
	defer func() { e.Metrics.Operation("toggle_singbox", err, KindLabel) }()

	ctx = context.WithoutCancel(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !on {
		if err := e.Runner.Stop(ctx); err != nil {
			return wrap("toggle_singbox", err)
		}
		e.Metrics.SetOnline(false)
		e.logger().Info("sing-box switched off")
		return wrap("toggle_singbox", e.Store.SetSetting(ctx, settingEnable, "false"))
	}

	if err := e.startSelectedLocked(ctx); err != nil {
		return wrap("toggle_singbox", err)
	}
	return wrap("toggle_singbox", e.Store.SetSetting(ctx, settingEnable, "true"))
}

// Resume starts sing-box if it was switched on when the daemon last ran.
// It reports whether a start was attempted.
func (e *Engine) Resume(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	value, ok, err := e.Store.Setting(ctx, settingEnable)
	if err != nil || !ok {
		return false, wrap("resume", err)
	}
	if on, _ := strconv.ParseBool(value); !on {
		return false, nil
	}
	return true, wrap("resume", e.startSelectedLocked(ctx))
}

func (e *Engine) startSelectedLocked(ctx context.Context) error {
	p, ok, err := e.Store.Selected(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return &Error{Kind: KindNoSelection, Op: "toggle_singbox", Err: ErrNoSelection}
	}

	content, err := e.Store.Content(ctx, p.Name)
	if err != nil {
		// Unreadable content makes the profile invalid, not the store.
		if _, serr := e.Store.SetValidity(ctx, p.Name, false, err.Error(), ""); serr != nil {
			return serr
		}
		return &Error{Kind: KindInvalidConfig, Op: "toggle_singbox", Err: err}
	}
	if err := e.Runner.Start(ctx, p, content); err != nil {
		e.Metrics.SetOnline(false)
		return err
	}
	e.Metrics.SetOnline(true)
	e.logger().Info("sing-box switched on", "config", p.Name)
	return nil
}
