package runner

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle position of the supervised process.
// StoppingOnError is held while a process that failed to come up is torn
// down; an unexpected exit goes straight to Stopped.
type State string

const (
	Stopped         State = "stopped"
	Starting        State = "starting"
	Online          State = "online"
	StoppingOnError State = "stopping_on_error"
)

// Status is a point-in-time view of the controller.
type Status struct {
	BinaryVersion string     `json:"binary_version"`
	Online        bool       `json:"online"`
	Config        string     `json:"config"`
	State         State      `json:"state"`
	PID           int        `json:"pid,omitempty"`
	RunID         string     `json:"run_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// ErrProfileInvalid is returned by Start for a profile that failed
// validation.
var ErrProfileInvalid = errors.New("profile is not valid")

// ErrBinaryMissing is returned when no sing-box binary can be found or
// extracted.
var ErrBinaryMissing = errors.New("sing-box binary not found")

// StartError reports why a profile could not be brought online.
type StartError struct {
	Config string
	Err    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("starting %s: %v", e.Config, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// ExitEvent describes a process exit the controller did not ask for.
type ExitEvent struct {
	Config   string
	RunID    string
	ExitCode int
	Reason   string
	Uptime   time.Duration
}
