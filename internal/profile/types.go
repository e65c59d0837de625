package profile

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Profile is one named sing-box configuration known to the daemon. The
// content itself lives in a file next to the index and is read through
// Store.Content.
type Profile struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Valid     bool      `json:"valid"`
	Selected  bool      `json:"selected"`
	SHA256    string    `json:"sha256,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotFoundError indicates a requested record does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// ErrInvalid is returned when selecting a profile whose content failed
// validation.
var ErrInvalid = errors.New("profile is not valid")

// ErrBadName is returned for names that cannot be used as a file name.
var ErrBadName = errors.New("invalid profile name")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.-]{0,63}$`)

// ValidateName checks that name is usable as a profile key and file name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) || name[len(name)-1] == '.' || name[len(name)-1] == ' ' {
		return fmt.Errorf("%w '%s': use 1-64 letters, digits, spaces, '.', '_' or '-', starting with a letter or digit", ErrBadName, name)
	}
	return nil
}

// fileName maps a profile name to its content file.
func fileName(name string) string { return name + ".json" }
