package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ljm625/decky-sbox/internal/profile"
	"github.com/ljm625/decky-sbox/internal/transform"
)

const validContent = `{"outbounds":[{"type":"direct"}]}`

// fakeBinary writes a shell script standing in for sing-box. runBody is
// executed for `run`; `version` prints version.
func fakeBinary(t *testing.T, dir, version, runBody string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binaries are shell scripts")
	}
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"version\" ]; then\n" +
		"  echo \"sing-box version " + version + "\"\n" +
		"  echo\n" +
		"  echo \"Environment: go1.23.4 linux/amd64\"\n" +
		"  exit 0\n" +
		"fi\n" +
		"echo \"$@\" > \"" + filepath.Join(dir, "args.txt") + "\"\n" +
		runBody + "\n"
	path := filepath.Join(dir, "bin", "sing-box")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newController(t *testing.T, binary, home string, onExit func(ExitEvent)) *Controller {
	t.Helper()
	c := New(Options{
		Binary:         binary,
		Home:           home,
		LogPath:        filepath.Join(home, "logs", "sing-box.log"),
		LivenessWindow: 200 * time.Millisecond,
		StopTimeout:    2 * time.Second,
		MinVersion:     "1.10.0",
		Overrides:      transform.Overrides{LogLevel: "warn", ClashAPI: "127.0.0.1:9090", WebDir: filepath.Join(home, "web")},
		OnExit:         onExit,
	})
	t.Cleanup(func() { c.Stop(context.Background()) })
	return c
}

func validProfile(name string) profile.Profile {
	return profile.Profile{Name: name, Valid: true}
}

func TestStartStop(t *testing.T) {
	home := t.TempDir()
	bin := fakeBinary(t, home, "1.11.4", "exec sleep 30")
	c := newController(t, bin, home, nil)

	if st := c.Status(); st.State != Stopped || st.Online {
		t.Fatalf("initial status = %+v", st)
	}

	if err := c.Start(context.Background(), validProfile("home"), []byte(validContent)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := c.Status()
	if !st.Online || st.State != Online {
		t.Fatalf("status after start = %+v", st)
	}
	if st.Config != "home" || st.BinaryVersion != "1.11.4" || st.PID == 0 || st.RunID == "" || st.StartedAt == nil {
		t.Errorf("status = %+v", st)
	}

	args, err := os.ReadFile(filepath.Join(home, "args.txt"))
	if err != nil {
		t.Fatalf("reading args: %v", err)
	}
	want := "run -D " + home + " -c " + transform.RunningConfigName
	if strings.TrimSpace(string(args)) != want {
		t.Errorf("args = %q, want %q", strings.TrimSpace(string(args)), want)
	}
	if _, err := os.Stat(filepath.Join(home, transform.RunningConfigName)); err != nil {
		t.Errorf("running config not written: %v", err)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st = c.Status()
	if st.Online || st.State != Stopped || st.Config != "" {
		t.Errorf("status after stop = %+v", st)
	}
	if st.LastError != "" {
		t.Errorf("requested stop should not record an error: %q", st.LastError)
	}

	// Stop is idempotent.
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStartRefusesInvalidProfile(t *testing.T) {
	home := t.TempDir()
	bin := fakeBinary(t, home, "1.11.4", "exec sleep 30")
	c := newController(t, bin, home, nil)

	err := c.Start(context.Background(), profile.Profile{Name: "bad"}, []byte(validContent))
	if !errors.Is(err, ErrProfileInvalid) {
		t.Fatalf("Start error = %v, want ErrProfileInvalid", err)
	}
	if _, statErr := os.Stat(filepath.Join(home, "args.txt")); statErr == nil {
		t.Error("process must not be launched for an invalid profile")
	}
	if c.Status().Online {
		t.Error("should stay offline")
	}
}

func TestStartImmediateExit(t *testing.T) {
	home := t.TempDir()
	bin := fakeBinary(t, home, "1.11.4", "echo 'FATAL decode config' >&2; exit 1")
	var mu sync.Mutex
	var events []ExitEvent
	c := newController(t, bin, home, func(e ExitEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	err := c.Start(context.Background(), validProfile("home"), []byte(validContent))
	var serr *StartError
	if !errors.As(err, &serr) {
		t.Fatalf("Start error = %v, want StartError", err)
	}
	st := c.Status()
	if st.Online || st.State != Stopped {
		t.Errorf("status = %+v", st)
	}
	if !strings.Contains(st.LastError, "exit status 1") {
		t.Errorf("LastError = %q", st.LastError)
	}

	logData, _ := os.ReadFile(filepath.Join(home, "logs", "sing-box.log"))
	if !strings.Contains(string(logData), "FATAL decode config") {
		t.Errorf("process output not logged: %q", logData)
	}

	// The failed start is reported once, by Start, not again as a crash.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 0 {
		t.Errorf("exit callback fired for a startup failure: %+v", events)
	}
}

func TestAsyncCrashDetected(t *testing.T) {
	home := t.TempDir()
	bin := fakeBinary(t, home, "1.11.4", "sleep 0.6; exit 3")

	var mu sync.Mutex
	var events []ExitEvent
	c := newController(t, bin, home, func(e ExitEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	if err := c.Start(context.Background(), validProfile("home"), []byte(validContent)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Status().Online {
		t.Fatal("expected online after liveness window")
	}

	deadline := time.Now().Add(5 * time.Second)
	for c.Status().Online && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	st := c.Status()
	if st.Online || st.State != Stopped {
		t.Fatalf("crash not observed: %+v", st)
	}
	if !strings.Contains(st.LastError, "exit status 3") {
		t.Errorf("LastError = %q", st.LastError)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].ExitCode != 3 || events[0].Config != "home" {
		t.Errorf("exit events = %+v", events)
	}

	// No automatic restart.
	time.Sleep(300 * time.Millisecond)
	if c.Status().Online {
		t.Error("controller must not restart on its own")
	}
}

func TestStartWhileOnlineRestarts(t *testing.T) {
	home := t.TempDir()
	bin := fakeBinary(t, home, "1.11.4", "exec sleep 30")
	c := newController(t, bin, home, nil)
	ctx := context.Background()

	if err := c.Start(ctx, validProfile("a"), []byte(validContent)); err != nil {
		t.Fatalf("Start(a): %v", err)
	}
	first := c.Status()

	if err := c.Start(ctx, validProfile("b"), []byte(validContent)); err != nil {
		t.Fatalf("Start(b): %v", err)
	}
	second := c.Status()

	if second.Config != "b" || !second.Online {
		t.Errorf("status = %+v", second)
	}
	if first.PID == second.PID || first.RunID == second.RunID {
		t.Error("restart should launch a new process")
	}
}

func TestStartRefusesOldBinary(t *testing.T) {
	home := t.TempDir()
	bin := fakeBinary(t, home, "1.8.0", "exec sleep 30")
	c := newController(t, bin, home, nil)

	err := c.Start(context.Background(), validProfile("home"), []byte(validContent))
	if err == nil || !strings.Contains(err.Error(), "older than") {
		t.Fatalf("Start error = %v, want version error", err)
	}
	if c.Status().BinaryVersion != "1.8.0" {
		t.Errorf("version should still be reported")
	}
}

func TestStartMissingBinary(t *testing.T) {
	home := t.TempDir()
	c := newController(t, filepath.Join(home, "bin", "sing-box"), home, nil)

	err := c.Start(context.Background(), validProfile("home"), []byte(validContent))
	if !errors.Is(err, ErrBinaryMissing) {
		t.Fatalf("Start error = %v, want ErrBinaryMissing", err)
	}
	if c.Status().BinaryVersion != "" {
		t.Error("version should be empty without a binary")
	}
}

func TestStartUnparseableContent(t *testing.T) {
	home := t.TempDir()
	bin := fakeBinary(t, home, "1.11.4", "exec sleep 30")
	c := newController(t, bin, home, nil)

	var serr *StartError
	if err := c.Start(context.Background(), validProfile("home"), []byte("garbage")); !errors.As(err, &serr) {
		t.Fatalf("Start error = %v, want StartError", err)
	}
}

func TestStatusDoesNotBlockDuringStart(t *testing.T) {
	home := t.TempDir()
	bin := fakeBinary(t, home, "1.11.4", "exec sleep 30")
	c := New(Options{Binary: bin, Home: home, LivenessWindow: time.Second, StopTimeout: time.Second})
	t.Cleanup(func() { c.Stop(context.Background()) })

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background(), validProfile("home"), []byte(validContent)) }()

	sawStarting := false
	deadline := time.Now().Add(900 * time.Millisecond)
	for time.Now().Before(deadline) {
		start := time.Now()
		st := c.Status()
		if time.Since(start) > 100*time.Millisecond {
			t.Fatal("Status blocked")
		}
		if st.State == Starting {
			sawStarting = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sawStarting {
		t.Error("never observed Starting state")
	}
}

func TestStartCancelled(t *testing.T) {
	home := t.TempDir()
	bin := fakeBinary(t, home, "1.11.4", "exec sleep 30")
	c := New(Options{Binary: bin, Home: home, LivenessWindow: 5 * time.Second, StopTimeout: time.Second})
	t.Cleanup(func() { c.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := c.Start(ctx, validProfile("home"), []byte(validContent))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Start error = %v, want deadline exceeded", err)
	}
	if st := c.Status(); st.State != Stopped || st.PID != 0 {
		t.Errorf("status = %+v", st)
	}
}
