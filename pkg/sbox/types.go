package sbox

import (
	"errors"

	"github.com/ljm625/decky-sbox/internal/engine"
	"github.com/ljm625/decky-sbox/internal/profile"
	"github.com/ljm625/decky-sbox/internal/runner"
)

// Type aliases re-export the engine and store types as the public API.

type Profile = profile.Profile
type Info = engine.Info
type RunStatus = runner.Status
type RunState = runner.State
type Field = engine.Field
type SelectedField = engine.SelectedField
type Kind = engine.Kind
type RefreshReport = engine.RefreshReport

// Failure kinds reported in Result.Kind.
const (
	KindNotFound       = engine.KindNotFound
	KindFetch          = engine.KindFetch
	KindParse          = engine.KindParse
	KindInvalidConfig  = engine.KindInvalidConfig
	KindStart          = engine.KindStart
	KindNoSelection    = engine.KindNoSelection
	KindInvalidRequest = engine.KindInvalidRequest
	KindInternal       = engine.KindInternal
)

// ParseField builds a Field from its wire name and value.
func ParseField(name string, value any) (Field, error) {
	return engine.ParseField(name, value)
}

// Result is the outcome of a command: a success flag and, on failure, a
// kind and a human-readable message.
type Result struct {
	OK      bool   `json:"ok"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// Err turns a failed Result back into an error.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &engine.Error{Kind: r.Kind, Err: errors.New(r.Message)}
}

// ResultOf converts an error into a Result.
func ResultOf(err error) Result {
	if err == nil {
		return Result{OK: true}
	}
	return Result{Kind: engine.KindOf(err), Message: err.Error()}
}
