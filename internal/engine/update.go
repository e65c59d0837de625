package engine

import (
	"context"
	"fmt"

	"github.com/ljm625/decky-sbox/internal/profile"
)

// Update changes one field of profile name. Selecting an invalid profile
// fails with KindInvalidConfig and changes nothing. The running process is
// not touched; it picks up a new selection on the next toggle.
func (e *Engine) Update(ctx context.Context, name string, field Field) (err error) {
	defer func() { e.Metrics.Operation("update_config", err, KindLabel) }()

	ctx = context.WithoutCancel(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	switch f := field.(type) {
	case SelectedField:
		if f.Value {
			err = e.Store.Select(ctx, name)
		} else {
			err = e.Store.Deselect(ctx, name)
		}
	default:
		return &Error{Kind: KindInvalidRequest, Op: "update_config", Err: fmt.Errorf("unsupported field %T", field)}
	}
	if err != nil {
		return wrap("update_config", err)
	}
	e.logger().Info("profile updated", "name", name, "field", field.fieldName(), "value", field)
	return nil
}

// Delete removes profile name. If sing-box runs on it, it keeps running
// until the next toggle or refresh; Info shows the stale binding.
func (e *Engine) Delete(ctx context.Context, name string) (p profile.Profile, err error) {
	defer func() { e.Metrics.Operation("delete_config", err, KindLabel) }()

	ctx = context.WithoutCancel(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err = e.Store.Delete(ctx, name)
	if err != nil {
		return profile.Profile{}, wrap("delete_config", err)
	}
	e.recordProfiles(ctx)

	st := e.Runner.Status()
	e.logger().Info("profile deleted", "name", name, "was_selected", p.Selected,
		"still_running", st.Online && st.Config == name)
	return p, nil
}
