package engine

import (
	"errors"

	"github.com/ljm625/decky-sbox/internal/profile"
	"github.com/ljm625/decky-sbox/internal/runner"
	"github.com/ljm625/decky-sbox/internal/source"
)

// Kind classifies a failed operation for callers that only get a flag and
// a message back.
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindFetch          Kind = "fetch_error"
	KindParse          Kind = "parse_error"
	KindInvalidConfig  Kind = "invalid_config"
	KindStart          Kind = "start_error"
	KindNoSelection    Kind = "no_selection"
	KindInvalidRequest Kind = "invalid_request"
	KindInternal       Kind = "internal"
)

// ErrNoSelection is returned when sing-box is switched on with no profile
// selected.
var ErrNoSelection = errors.New("no profile selected")

// Error is an operation failure with its kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the kind of err. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	var se *runner.StartError
	var fe *source.SourceError
	switch {
	case errors.Is(err, ErrNoSelection):
		return KindNoSelection
	case errors.As(err, &se):
		return KindStart
	case profile.IsNotFound(err):
		return KindNotFound
	case errors.Is(err, profile.ErrInvalid):
		return KindInvalidConfig
	case errors.Is(err, profile.ErrBadName):
		return KindInvalidRequest
	case errors.As(err, &fe):
		return KindFetch
	}
	return KindInternal
}

// KindLabel is KindOf as a metrics label.
func KindLabel(err error) string { return string(KindOf(err)) }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}
