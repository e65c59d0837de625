package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ljm625/decky-sbox/internal/client"
	"github.com/ljm625/decky-sbox/internal/config"
	"github.com/ljm625/decky-sbox/pkg/sbox"
)

// loadLayered merges the system, user and --config files over the defaults.
func loadLayered() (*config.LayeredResult, error) {
	res, err := config.LoadLayered(config.LayeredOptions{
		DiscoverOptions: config.DiscoverOptions{ExplicitPath: configPath},
		NoInherit:       noInherit,
	})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return res, nil
}

// loadConfig returns the effective configuration.
func loadConfig() (*config.Config, error) {
	res, err := loadLayered()
	if err != nil {
		return nil, err
	}
	return res.Config, nil
}

// newClient returns a client for the daemon named by --addr or the
// config's listen address.
func newClient() (*client.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	addr := daemonAddr
	if addr == "" {
		addr = cfg.Listen
	}
	return client.New(addr), cfg, nil
}

// checkResult turns a failed operation into a command error.
func checkResult(res sbox.Result, err error) error {
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("%s (%s)", res.Message, res.Kind)
	}
	return nil
}

// stdout is where command output goes; tests replace it.
var stdout io.Writer = os.Stdout

// info prints a line unless quiet mode is active.
func info(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(stdout, format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(format string, args ...any) {
	if verbose {
		fmt.Fprintf(stdout, "  "+format+"\n", args...)
	}
}

// errorf prints an error message to stderr.
func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}

// humanAge renders how long ago t was, coarsely.
func humanAge(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
