package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ljm625/decky-sbox/internal/profile"
	"github.com/ljm625/decky-sbox/internal/source"
	"github.com/ljm625/decky-sbox/internal/validate"
)

// Refresh downloads name again from its origin, or re-reads the stored
// content when it has no remote origin, and re-validates it. When the
// profile is selected and sing-box is online, sing-box is restarted on the
// new content.
func (e *Engine) Refresh(ctx context.Context, name string) (p profile.Profile, err error) {
	defer func() { e.Metrics.Operation("refresh_config", err, KindLabel) }()

	current, err := e.Store.Get(ctx, name)
	if err != nil {
		return profile.Profile{}, wrap("refresh_config", err)
	}

	var fetched *source.Fetched
	if source.IsRemote(current.URL) {
		if fetched, err = e.fetch(ctx, name, current.URL); err != nil {
			return current, err
		}
	}

	ctx = context.WithoutCancel(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.recordProfiles(ctx)

	// Deleted while we were fetching.
	if current, err = e.Store.Get(ctx, name); err != nil {
		return profile.Profile{}, wrap("refresh_config", err)
	}

	var content []byte
	if fetched != nil {
		content = fetched.Content
		res := validate.Validate(content)
		p, err = e.Store.Upsert(ctx, profile.Profile{
			Name:      name,
			URL:       current.URL,
			Valid:     res.Valid,
			LastError: res.Reason,
		}, content)
	} else {
		content, p, err = e.revalidateLocked(ctx, name)
	}
	if err != nil {
		return p, wrap("refresh_config", err)
	}

	e.logger().Info("profile refreshed", "name", name, "remote", fetched != nil, "valid", p.Valid)

	if !p.Valid {
		return p, &Error{Kind: KindInvalidConfig, Op: "refresh_config", Err: fmt.Errorf("%s: %s", name, p.LastError)}
	}

	if p.Selected && e.Runner.Status().Online {
		e.logger().Info("restarting sing-box on refreshed profile", "name", name)
		if err := e.Runner.Start(ctx, p, content); err != nil {
			e.Metrics.SetOnline(false)
			return p, wrap("refresh_config", err)
		}
	}
	return p, nil
}

// Revalidate re-reads the stored content of name and records its
// validity. It never restarts sing-box.
func (e *Engine) Revalidate(ctx context.Context, name string) (p profile.Profile, err error) {
	defer func() { e.Metrics.Operation("revalidate", err, KindLabel) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.recordProfiles(ctx)

	_, p, err = e.revalidateLocked(ctx, name)
	return p, wrap("revalidate", err)
}

// revalidateLocked re-checks name's stored file. Unreadable content marks
// the profile invalid instead of failing.
func (e *Engine) revalidateLocked(ctx context.Context, name string) ([]byte, profile.Profile, error) {
	content, err := e.Store.Content(ctx, name)
	if profile.IsNotFound(err) {
		return nil, profile.Profile{}, err
	}
	if err != nil {
		p, serr := e.Store.SetValidity(ctx, name, false, err.Error(), "")
		return nil, p, serr
	}

	res := validate.Validate(content)
	p, err := e.Store.SetValidity(ctx, name, res.Valid, res.Reason, profile.Checksum(content))
	return content, p, err
}

// RefreshRemote refreshes every profile that has a remote origin. One
// failure does not stop the others.
func (e *Engine) RefreshRemote(ctx context.Context) (RefreshReport, error) {
	report := RefreshReport{Failed: map[string]error{}}

	profiles, err := e.Store.List(ctx)
	if err != nil {
		return report, wrap("refresh_remote", err)
	}

	var errs []error
	for _, p := range profiles {
		if !source.IsRemote(p.URL) {
			continue
		}
		if _, err := e.Refresh(ctx, p.Name); err != nil {
			report.Failed[p.Name] = err
			errs = append(errs, err)
			continue
		}
		report.Refreshed = append(report.Refreshed, p.Name)
	}
	e.logger().Info("remote profiles refreshed", "refreshed", len(report.Refreshed), "failed", len(report.Failed))
	return report, errors.Join(errs...)
}
