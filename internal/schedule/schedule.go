// Package schedule sets the burner goal at cron-specified times.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrBadEntry is returned for entries that are not "<cron spec>=<goal>".
var ErrBadEntry = errors.New("schedule: bad entry")

// Entry sets Goal whenever Spec fires.
type Entry struct {
	Spec string
	Goal float64
}

func (e Entry) String() string {
	return e.Spec + "=" + strconv.FormatFloat(e.Goal, 'f', -1, 64)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseEntry parses "0 6 * * *=60". The goal follows the last '='.
func ParseEntry(s string) (Entry, error) {
	i := strings.LastIndex(s, "=")
	if i <= 0 || i == len(s)-1 {
		return Entry{}, fmt.Errorf("%w: %q", ErrBadEntry, s)
	}
	spec := strings.TrimSpace(s[:i])
	goal, err := strconv.ParseFloat(strings.TrimSpace(s[i+1:]), 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %q: goal: %v", ErrBadEntry, s, err)
	}
	if _, err := parser.Parse(spec); err != nil {
		return Entry{}, fmt.Errorf("%w: %q: %v", ErrBadEntry, s, err)
	}
	return Entry{Spec: spec, Goal: goal}, nil
}

// ParseEntries parses every entry, stopping at the first error.
func ParseEntries(raw []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(raw))
	for _, s := range raw {
		e, err := ParseEntry(s)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Scheduler submits goals on a cron timetable.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New registers entries. submit is called from the cron goroutine; it must
// not block and reports a full goal queue as an error.
func New(entries []Entry, submit func(goal float64) error, logger *slog.Logger, loc *time.Location) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		logger: logger,
	}

	for _, e := range entries {
		e := e
		_, err := s.cron.AddFunc(e.Spec, func() {
			if err := submit(e.Goal); err != nil {
				logger.Warn("schedule: goal not submitted", "entry", e.String(), "err", err)
				return
			}
			logger.Info("schedule: goal submitted", "entry", e.String(), "goal", e.Goal)
		})
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", e, err)
		}
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("schedule: stop timed out")
	}
}

// Next returns the next firing time of each entry, in registration order.
func (s *Scheduler) Next(now time.Time) []time.Time {
	entries := s.cron.Entries()
	next := make([]time.Time, len(entries))
	for i, e := range entries {
		next[i] = e.Schedule.Next(now)
	}
	return next
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
