// Package runner supervises the sing-box process. It starts the selected
// profile, confirms the process survives a short liveness window, stops it
// on request and notices when it dies on its own. It never restarts a
// process by itself.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ljm625/decky-sbox/internal/profile"
	"github.com/ljm625/decky-sbox/internal/transform"
)

// Options configures a Controller.
type Options struct {
	Binary         string
	Home           string // working directory and location of the running config
	LogPath        string // sing-box output; empty discards it
	LivenessWindow time.Duration
	StopTimeout    time.Duration
	MinVersion     string
	Overrides      transform.Overrides
	Logger         *slog.Logger

	// OnExit is called after a process exits without being asked to.
	OnExit func(ExitEvent)
}

type process struct {
	cmd       *exec.Cmd
	log       io.WriteCloser
	exited    chan struct{}
	exitErr   error
	config    string
	runID     string
	startedAt time.Time
	stopping  bool
}

// Controller owns at most one sing-box process.
type Controller struct {
	opts   Options
	logger *slog.Logger

	// opMu serialises Start and Stop. mu guards the fields below and is
	// never held while waiting on the process, so Status never blocks.
	opMu sync.Mutex
	mu   sync.Mutex

	state   State
	proc    *process
	version string
	lastErr string
}

// New returns a stopped controller.
func New(opts Options) *Controller {
	if opts.LivenessWindow <= 0 {
		opts.LivenessWindow = 2 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{opts: opts, logger: logger.With("component", "runner"), state: Stopped}
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		BinaryVersion: c.version,
		Online:        c.state == Online,
		State:         c.state,
		LastError:     c.lastErr,
	}
	if p := c.proc; p != nil {
		st.Config = p.config
		if p.cmd.Process != nil {
			st.PID = p.cmd.Process.Pid
		}
		st.RunID = p.runID
		started := p.startedAt
		st.StartedAt = &started
	}
	return st
}

// RefreshVersion locates (or unpacks) the binary and reads its version.
// The result is cached for Status; an absent binary yields "".
func (c *Controller) RefreshVersion(ctx context.Context) (string, error) {
	extracted, err := EnsureBinary(c.opts.Binary)
	if extracted {
		c.logger.Info("extracted bundled sing-box", "binary", c.opts.Binary)
	}
	version := ""
	if err == nil {
		version, err = ProbeVersion(ctx, c.opts.Binary)
	}

	c.mu.Lock()
	c.version = version
	c.mu.Unlock()
	return version, err
}

// Start launches p. A running process is stopped first, so Start doubles
// as restart. Start returns once the process has stayed up for the
// liveness window, or with a *StartError.
func (c *Controller) Start(ctx context.Context, p profile.Profile, content []byte) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !p.Valid {
		return &StartError{Config: p.Name, Err: ErrProfileInvalid}
	}

	c.stopLocked()

	version, err := c.RefreshVersion(ctx)
	if err != nil {
		return c.failStart(p.Name, err)
	}
	if err := CheckMinVersion(version, c.opts.MinVersion); err != nil {
		return c.failStart(p.Name, err)
	}

	rel, err := transform.WriteRunning(c.opts.Home, content, c.opts.Overrides)
	if err != nil {
		return c.failStart(p.Name, err)
	}

	proc, err := c.launch(p.Name, rel)
	if err != nil {
		return c.failStart(p.Name, err)
	}

	timer := time.NewTimer(c.opts.LivenessWindow)
	defer timer.Stop()

	select {
	case <-proc.exited:
		reason := exitReason(proc.exitErr)
		return &StartError{Config: p.Name, Err: fmt.Errorf("process exited during startup: %s", reason)}
	case <-ctx.Done():
		c.mu.Lock()
		c.state = StoppingOnError
		c.mu.Unlock()
		c.terminate(proc)
		return c.failStart(p.Name, ctx.Err())
	case <-timer.C:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc != proc {
		// Exited right at the end of the window.
		return &StartError{Config: p.Name, Err: errors.New("process exited during startup")}
	}
	c.state = Online
	c.logger.Info("sing-box online", "config", p.Name, "pid", proc.cmd.Process.Pid, "run_id", proc.runID)
	return nil
}

func (c *Controller) launch(name, runningConfig string) (*process, error) {
	cmd := exec.Command(c.opts.Binary, "run", "-D", c.opts.Home, "-c", runningConfig)
	cmd.Dir = c.opts.Home
	cmd.WaitDelay = c.opts.StopTimeout
	applyProcessAttributes(cmd)

	var logw io.WriteCloser = nopCloser{io.Discard}
	if c.opts.LogPath != "" {
		logw = &lumberjack.Logger{Filename: c.opts.LogPath, MaxSize: 10, MaxBackups: 3}
	}
	cmd.Stdout = logw
	cmd.Stderr = logw

	proc := &process{
		cmd:    cmd,
		log:    logw,
		exited: make(chan struct{}),
		config: name,
		runID:  uuid.NewString(),
	}

	c.mu.Lock()
	c.state = Starting
	c.lastErr = ""
	c.mu.Unlock()

	c.logger.Debug("launching sing-box", "binary", c.opts.Binary, "config", name, "args", strings.Join(cmd.Args[1:], " "))
	if err := cmd.Start(); err != nil {
		logw.Close()
		return nil, err
	}
	proc.startedAt = time.Now()

	c.mu.Lock()
	c.proc = proc
	c.mu.Unlock()

	go func() {
		err := cmd.Wait()
		proc.log.Close()
		c.finish(proc, err)
	}()
	return proc, nil
}

// finish runs on the wait goroutine once the process is gone.
func (c *Controller) finish(p *process, err error) {
	p.exitErr = err
	reason := exitReason(err)
	uptime := time.Since(p.startedAt)

	c.mu.Lock()
	current := c.proc == p
	// Start reports exits inside the liveness window as a StartError.
	startup := current && c.state == Starting
	unexpected := !p.stopping && current
	if current {
		c.proc = nil
		c.state = Stopped
	}
	if unexpected {
		c.lastErr = reason
	}
	c.mu.Unlock()
	close(p.exited)

	if !unexpected || startup {
		return
	}
	c.logger.Warn("sing-box exited", "config", p.config, "run_id", p.runID, "reason", reason, "uptime", uptime.Round(time.Millisecond))
	if c.opts.OnExit != nil {
		c.opts.OnExit(ExitEvent{Config: p.config, RunID: p.runID, ExitCode: exitCode(err), Reason: reason, Uptime: uptime})
	}
}

// Stop terminates the process if there is one. It is safe to call in any
// state and always leaves the controller Stopped.
func (c *Controller) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.stopLocked()
	return nil
}

func (c *Controller) stopLocked() {
	c.mu.Lock()
	p := c.proc
	c.mu.Unlock()

	if p != nil {
		c.terminate(p)
		c.logger.Info("sing-box stopped", "config", p.config, "run_id", p.runID)
	}

	c.mu.Lock()
	c.proc = nil
	c.state = Stopped
	c.mu.Unlock()
}

// terminate interrupts p and kills it after the stop timeout.
func (c *Controller) terminate(p *process) {
	c.mu.Lock()
	p.stopping = true
	c.mu.Unlock()

	if err := sendInterrupt(p.cmd); err != nil {
		c.logger.Debug("interrupt failed", "error", err)
	}
	timer := time.NewTimer(c.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-p.exited:
		return
	case <-timer.C:
	}
	c.logger.Warn("sing-box did not stop in time, killing", "pid", p.cmd.Process.Pid)
	if err := forceKill(p.cmd); err != nil {
		c.logger.Error("kill failed", "error", err)
	}
	<-p.exited
}

func (c *Controller) failStart(name string, err error) error {
	c.mu.Lock()
	c.state = Stopped
	c.proc = nil
	c.lastErr = err.Error()
	c.mu.Unlock()
	return &StartError{Config: name, Err: err}
}

func exitReason(err error) string {
	if err == nil {
		return "exited with status 0"
	}
	return err.Error()
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err == nil {
		return 0
	}
	return -1
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
