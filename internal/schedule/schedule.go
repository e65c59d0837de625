// Package schedule runs the periodic refresh of remote profiles.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Validate checks that spec is a cron expression or descriptor
// ("@every 6h", "@daily", "0 */4 * * *").
func Validate(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return fmt.Errorf("schedule is required")
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// Scheduler invokes a job on a cron schedule. A run that is still going
// when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron   *cron.Cron
	entry  cron.EntryID
	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec and registers job. The job's context is cancelled by Stop.
func New(spec string, job func(ctx context.Context), logger *slog.Logger) (*Scheduler, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, ctx: ctx, cancel: cancel}

	id, err := c.AddFunc(spec, func() { job(s.ctx) })
	if err != nil {
		cancel()
		return nil, fmt.Errorf("adding job: %w", err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing the job in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Next returns the next time the job fires, or the zero time when the
// scheduler is not running.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Stop halts the schedule and waits for a running job to return, or for
// ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
