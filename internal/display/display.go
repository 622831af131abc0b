// Package display pushes the burner level to output devices on its own
// schedule, decoupled from the control tick.
package display

import (
	"context"
	"log/slog"
	"time"
)

// Display receives level pushes. It is output only.
type Display interface {
	SetLevel(level float64) error
}

// Func adapts a function to Display.
type Func func(level float64) error

// SetLevel calls f.
func (f Func) SetLevel(level float64) error { return f(level) }

// LevelSource supplies the most recent level. status.Tracker implements it.
type LevelSource interface {
	Level() float64
}

// Refresher copies the level from a source to every display.
type Refresher struct {
	source   LevelSource
	displays []Display
	failing  []bool
	logger   *slog.Logger
}

// NewRefresher creates a Refresher. A nil logger uses slog.Default().
func NewRefresher(source LevelSource, logger *slog.Logger, displays ...Display) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		source:   source,
		displays: displays,
		failing:  make([]bool, len(displays)),
		logger:   logger,
	}
}

// Refresh pushes the current level once. A failing display is logged on
// its first failure and again when it recovers; it never blocks the others.
func (r *Refresher) Refresh() {
	level := r.source.Level()
	for i, d := range r.displays {
		err := d.SetLevel(level)
		switch {
		case err != nil && !r.failing[i]:
			r.logger.Warn("display update failed", "display", i, "err", err)
			r.failing[i] = true
		case err == nil && r.failing[i]:
			r.logger.Info("display recovered", "display", i)
			r.failing[i] = false
		}
	}
}

// Run refreshes on every tick until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			r.Refresh()
		}
	}
}
