// Package watch re-validates profiles whose files are edited on disk.
// Events are debounced per profile so an editor's burst of writes turns
// into one check.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// Dir is the profiles directory.
	Dir string

	// NameFor maps a changed path to a profile name, reporting false for
	// files that are not profiles.
	NameFor func(path string) (string, bool)

	// Handle is called once per settled burst of changes to a profile.
	Handle func(ctx context.Context, name string)

	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher observes one profiles directory.
type Watcher struct {
	opts    Options
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	closed   bool
	timers   map[string]*time.Timer
	inflight sync.WaitGroup
}

// New starts watching opts.Dir. Events are delivered once Run is called.
func New(opts Options) (*Watcher, error) {
	if opts.NameFor == nil || opts.Handle == nil {
		return nil, errors.New("watch: NameFor and Handle are required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := fw.Add(opts.Dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", opts.Dir, err)
	}
	return &Watcher{
		opts:    opts,
		logger:  logger.With("component", "watch"),
		watcher: fw,
		timers:  make(map[string]*time.Timer),
	}, nil
}

// Run delivers events until ctx is done, then waits for running handlers
// and closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name, ok := w.opts.NameFor(event.Name)
			if !ok {
				continue
			}
			w.schedule(ctx, name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("profile watch error", "error", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		delete(w.timers, name)
		w.inflight.Add(1)
		w.mu.Unlock()
		defer w.inflight.Done()

		if ctx.Err() != nil {
			return
		}
		w.logger.Debug("profile file changed", "name", name)
		w.opts.Handle(ctx, name)
	})
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.closed = true
	for name, t := range w.timers {
		t.Stop()
		delete(w.timers, name)
	}
	w.mu.Unlock()

	w.inflight.Wait()
	w.watcher.Close()
}
