package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ljm625/decky-sbox/internal/profile"
	"github.com/ljm625/decky-sbox/internal/source"
	"github.com/ljm625/decky-sbox/internal/validate"
)

// Download fetches src and stores it as profile name. A failed fetch
// leaves the store untouched. Content that fails validation is still
// stored, marked invalid, and Download reports a parse error for it.
func (e *Engine) Download(ctx context.Context, name, src string) (p profile.Profile, err error) {
	defer func() { e.Metrics.Operation("download_config", err, KindLabel) }()

	if err := profile.ValidateName(name); err != nil {
		return profile.Profile{}, &Error{Kind: KindInvalidRequest, Op: "download_config", Err: err}
	}

	fetched, err := e.fetch(ctx, name, src)
	if err != nil {
		return profile.Profile{}, err
	}

	// Past this point the command runs to completion.
	ctx = context.WithoutCancel(ctx)
	res := validate.Validate(fetched.Content)

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err = e.Store.Upsert(ctx, profile.Profile{
		Name:      name,
		URL:       fetched.Origin,
		Valid:     res.Valid,
		LastError: res.Reason,
	}, fetched.Content)
	if err != nil {
		return profile.Profile{}, wrap("download_config", err)
	}
	defer e.recordProfiles(ctx)

	e.logger().Info("profile downloaded", "name", name, "kind", fetched.Kind, "valid", res.Valid)

	if !res.Valid {
		return p, &Error{Kind: KindParse, Op: "download_config", Err: fmt.Errorf("%s: %s", name, res.Reason)}
	}

	if e.AutoSelect {
		if _, ok, err := e.Store.Selected(ctx); err == nil && !ok {
			if err := e.Store.Select(ctx, name); err != nil {
				return p, wrap("download_config", err)
			}
			p.Selected = true
			e.logger().Info("profile auto-selected", "name", name)
		}
	}
	return p, nil
}

func (e *Engine) fetch(ctx context.Context, name, src string) (*source.Fetched, error) {
	start := time.Now()
	fetched, err := e.Sources.Fetch(ctx, name, src)
	if source.Classify(src) == source.KindURL {
		e.Metrics.ObserveFetch(start)
	}
	if err != nil {
		e.logger().Warn("fetch failed", "name", name, "error", err)
		return nil, &Error{Kind: KindFetch, Op: "fetch", Err: err}
	}
	return fetched, nil
}
