package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ljm625/decky-sbox/internal/profile"
	"github.com/ljm625/decky-sbox/internal/runner"
	"github.com/ljm625/decky-sbox/internal/source"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"typed", &Error{Kind: KindParse, Err: errors.New("x")}, KindParse},
		{"wrapped typed", fmt.Errorf("outer: %w", &Error{Kind: KindFetch, Err: errors.New("x")}), KindFetch},
		{"not found", profile.NotFoundError{Entity: "profile", Key: "a"}, KindNotFound},
		{"invalid", fmt.Errorf("%w: a", profile.ErrInvalid), KindInvalidConfig},
		{"bad name", fmt.Errorf("%w 'x/y'", profile.ErrBadName), KindInvalidRequest},
		{"source", &source.SourceError{Source: "a", Operation: "fetch", Err: errors.New("boom")}, KindFetch},
		{"start", &runner.StartError{Config: "a", Err: runner.ErrProfileInvalid}, KindStart},
		{"no selection", ErrNoSelection, KindNoSelection},
		{"other", errors.New("disk on fire"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := &Error{Kind: KindNoSelection, Op: "toggle_singbox", Err: ErrNoSelection}
	if got := wrap("resume", inner); got != inner {
		t.Errorf("wrap replaced a typed error: %v", got)
	}
	if wrap("x", nil) != nil {
		t.Error("wrap(nil) should be nil")
	}

	got := wrap("delete_config", profile.NotFoundError{Entity: "profile", Key: "a"})
	if KindOf(got) != KindNotFound || got.Error() != "delete_config: profile a not found" {
		t.Errorf("wrap = %v (%s)", got, KindOf(got))
	}
}
