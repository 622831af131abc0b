// Package speech delivers announcements to a text-to-speech backend.
// The control loop never calls a backend directly: utterances go through a
// Voice, whose worker goroutine owns all speech I/O.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sweeney/burner-sim/internal/logic"
)

// Speaker speaks a line of text. With interrupt set, anything still being
// spoken is cut off first.
type Speaker interface {
	Speak(text string, interrupt bool) error
}

// ErrQueueFull is returned by Voice.Say when the worker has fallen behind.
var ErrQueueFull = errors.New("speech queue full")

// DefaultQueueDepth is the Voice queue size used when none is configured.
const DefaultQueueDepth = 16

// Hooks are optional callbacks invoked from the worker goroutine.
type Hooks struct {
	Spoken func(u logic.Utterance)
	Failed func(u logic.Utterance, err error)
}

// Voice queues utterances for a Speaker. Say never blocks.
type Voice struct {
	speaker Speaker
	queue   chan logic.Utterance
	hooks   Hooks
	logger  *slog.Logger
}

// NewVoice creates a Voice with a queue of the given depth.
func NewVoice(speaker Speaker, depth int, hooks Hooks, logger *slog.Logger) *Voice {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Voice{
		speaker: speaker,
		queue:   make(chan logic.Utterance, depth),
		hooks:   hooks,
		logger:  logger,
	}
}

// Say enqueues u. A full queue drops u and returns ErrQueueFull.
func (v *Voice) Say(u logic.Utterance) error {
	select {
	case v.queue <- u:
		return nil
	default:
		return fmt.Errorf("%w: dropped %q", ErrQueueFull, u.Text)
	}
}

// Run speaks queued utterances until ctx is cancelled. Failures are logged
// and reported through Hooks.Failed; they never stop the worker.
func (v *Voice) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-v.queue:
			v.speak(u)
		}
	}
}

func (v *Voice) speak(u logic.Utterance) {
	err := v.safeSpeak(u)
	if err != nil {
		v.logger.Warn("speech failed", "kind", u.Kind, "text", u.Text, "err", err)
		if v.hooks.Failed != nil {
			v.hooks.Failed(u, err)
		}
		return
	}
	v.logger.Debug("spoke", "kind", u.Kind, "text", u.Text)
	if v.hooks.Spoken != nil {
		v.hooks.Spoken(u)
	}
}

func (v *Voice) safeSpeak(u logic.Utterance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("speaker panic: %v", r)
		}
	}()
	return v.speaker.Speak(u.Text, u.Interrupt)
}

// Log is a Speaker that writes utterances to a logger.
type Log struct {
	Logger *slog.Logger
}

// Speak logs the utterance.
func (l Log) Speak(text string, interrupt bool) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("announce", "text", text, "interrupt", interrupt)
	return nil
}

// Discard is a Speaker that drops everything.
type Discard struct{}

// Speak does nothing.
func (Discard) Speak(string, bool) error { return nil }
