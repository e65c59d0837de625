// Package engine applies profile commands against the store and the
// sing-box runner. Queries read straight from the store and the runner;
// every command that mutates the store runs under one writer lock so a
// download, a select and a delete never interleave.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ljm625/decky-sbox/internal/metrics"
	"github.com/ljm625/decky-sbox/internal/profile"
	"github.com/ljm625/decky-sbox/internal/runner"
	"github.com/ljm625/decky-sbox/internal/source"
)

// Runner is the part of runner.Controller the engine drives.
type Runner interface {
	Start(ctx context.Context, p profile.Profile, content []byte) error
	Stop(ctx context.Context) error
	Status() runner.Status
	RefreshVersion(ctx context.Context) (string, error)
}

// Fetcher retrieves profile documents. *source.Registry implements it.
type Fetcher interface {
	Fetch(ctx context.Context, name, src string) (*source.Fetched, error)
}

// Engine orchestrates profile commands.
type Engine struct {
	Store   *profile.Store
	Sources Fetcher
	Runner  Runner
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// AutoSelect selects a freshly downloaded valid profile when nothing
	// is selected yet.
	AutoSelect bool

	// WebUI is the dashboard address reported while sing-box is online.
	WebUI string

	mu sync.Mutex
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Info is what a polling client shows: the runner status plus the
// selected profile and the dashboard link.
type Info struct {
	runner.Status
	Selected string `json:"selected"`
	WebUI    string `json:"webui,omitempty"`
}

// Field is a profile attribute Update can change. SelectedField is the
// only one today.
type Field interface {
	fieldName() string
}

// SelectedField selects (Value true) or deselects a profile.
type SelectedField struct {
	Value bool
}

func (SelectedField) fieldName() string { return "selected" }

// ParseField builds a Field from a wire name and value.
func ParseField(name string, value any) (Field, error) {
	switch name {
	case "selected":
		b, ok := value.(bool)
		if !ok {
			return nil, &Error{Kind: KindInvalidRequest, Op: "update_config", Err: fmt.Errorf("field selected wants a boolean, got %T", value)}
		}
		return SelectedField{Value: b}, nil
	default:
		return nil, &Error{Kind: KindInvalidRequest, Op: "update_config", Err: fmt.Errorf("unknown field %q", name)}
	}
}

// RefreshReport lists the outcome of RefreshRemote.
type RefreshReport struct {
	Refreshed []string
	Failed    map[string]error
}

// settingEnable persists the last toggle so the daemon can resume it.
const settingEnable = "enable"
