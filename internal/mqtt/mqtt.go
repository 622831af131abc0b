// Package mqtt connects the burner to an MQTT broker, with an abstraction for testing.
// The broker is the burner's remote input (goal commands) and one of its
// outputs (status transitions, level display, spoken announcements, lifecycle).
package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/burner-sim/internal/logic"
	"github.com/sweeney/burner-sim/internal/status"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "home/burner"

// Topics holds the fully-qualified topic names under a prefix.
type Topics struct {
	GoalSet string // inbound goal commands
	Status  string // status transitions
	Level   string // level display
	Speech  string // spoken announcements
	System  string // lifecycle events (retained)
}

// NewTopics builds the topic set under prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{
		GoalSet: prefix + "/goal/set",
		Status:  prefix + "/status",
		Level:   prefix + "/level",
		Speech:  prefix + "/speech",
		System:  prefix + "/system",
	}
}

// Publisher publishes burner events to MQTT.
type Publisher interface {
	// PublishTransition sends a status transition to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishTransition(t Transition) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Transition is a change of burner status at the end of a tick.
type Transition struct {
	Timestamp time.Time
	From      logic.Status
	To        logic.Status
	Level     float64
	Goal      float64
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// TransitionPayload represents the MQTT message payload for a status transition.
type TransitionPayload struct {
	Burner BurnerPayload `json:"burner"`
}

// BurnerPayload contains the transition details.
type BurnerPayload struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Level     float64 `json:"level"`
	Goal      float64 `json:"goal"`
}

// FormatTransitionPayload creates the JSON payload for a status transition.
func FormatTransitionPayload(t Transition) ([]byte, error) {
	return json.Marshal(TransitionPayload{
		Burner: BurnerPayload{
			Timestamp: t.Timestamp.UTC().Format(time.RFC3339),
			Event:     "STATUS",
			From:      string(t.From),
			To:        string(t.To),
			Level:     t.Level,
			Goal:      t.Goal,
		},
	})
}

// LevelPayload is the display message for the current level.
type LevelPayload struct {
	Level float64 `json:"level"`
}

// FormatLevelPayload creates the JSON payload for a level update, rounded
// the same way as transitions and the web page.
func FormatLevelPayload(level float64) ([]byte, error) {
	return json.Marshal(LevelPayload{Level: status.RoundLevel(level)})
}

// levelFilter passes a level through only when its rounded value differs
// from the last one passed.
type levelFilter struct {
	last *float64
}

func (f *levelFilter) next(level float64) (float64, bool) {
	r := status.RoundLevel(level)
	if f.last != nil && *f.last == r {
		return r, false
	}
	return r, true
}

func (f *levelFilter) commit(rounded float64) {
	f.last = &rounded
}

// SpeechPayload is an utterance for a remote speech backend.
type SpeechPayload struct {
	Text      string `json:"text"`
	Interrupt bool   `json:"interrupt"`
}

// FormatSpeechPayload creates the JSON payload for an utterance.
func FormatSpeechPayload(text string, interrupt bool) ([]byte, error) {
	return json.Marshal(SpeechPayload{Text: text, Interrupt: interrupt})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

// ErrBadGoalPayload is returned by ParseGoal for payloads it cannot read.
var ErrBadGoalPayload = errors.New("bad goal payload")

type goalCommand struct {
	Goal *float64 `json:"goal"`
}

// ParseGoal reads a goal command: a bare number ("65.5") or {"goal": 65.5}.
func ParseGoal(payload []byte) (float64, error) {
	p := bytes.TrimSpace(payload)
	if len(p) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrBadGoalPayload)
	}

	if p[0] == '{' {
		var cmd goalCommand
		if err := json.Unmarshal(p, &cmd); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadGoalPayload, err)
		}
		if cmd.Goal == nil {
			return 0, fmt.Errorf("%w: missing goal", ErrBadGoalPayload)
		}
		return *cmd.Goal, nil
	}

	g, err := strconv.ParseFloat(string(p), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadGoalPayload, err)
	}
	return g, nil
}

// goalHandler turns raw goal messages into calls to onGoal, logging rejects.
func goalHandler(onGoal func(float64), logger *slog.Logger) func(topic string, payload []byte) {
	return func(topic string, payload []byte) {
		g, err := ParseGoal(payload)
		if err != nil {
			logger.Warn("mqtt: ignoring goal command", "topic", topic, "err", err)
			return
		}
		if onGoal != nil {
			onGoal(g)
		}
	}
}
