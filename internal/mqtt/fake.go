package mqtt

import (
	"io"
	"log/slog"
	"sync"
)

// FakeClient records published messages for test assertions and lets tests
// inject inbound goal commands. Safe for concurrent use.
type FakeClient struct {
	mu sync.Mutex

	// Transitions contains all status transitions that were published.
	Transitions []Transition

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// Levels contains every level pushed through SetLevel.
	Levels []float64

	// Utterances contains every text passed to Speak.
	Utterances []SpeechPayload

	// PublishError, if set, will be returned by PublishTransition.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// SpeakError, if set, will be returned by Speak.
	SpeakError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	onGoal func(float64)
}

// NewFakeClient creates a FakeClient that forwards injected goals to onGoal.
func NewFakeClient(onGoal func(float64)) *FakeClient {
	return &FakeClient{onGoal: onGoal}
}

// PublishTransition records the transition.
func (f *FakeClient) PublishTransition(t Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Transitions = append(f.Transitions, t)
	return nil
}

// PublishSystem records the system event.
func (f *FakeClient) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// SetLevel records the level.
func (f *FakeClient) SetLevel(level float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Levels = append(f.Levels, level)
	return nil
}

// Speak records the utterance.
func (f *FakeClient) Speak(text string, interrupt bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SpeakError != nil {
		return f.SpeakError
	}
	f.Utterances = append(f.Utterances, SpeechPayload{Text: text, Interrupt: interrupt})
	return nil
}

// Deliver simulates an inbound message on the goal topic.
func (f *FakeClient) Deliver(payload []byte) {
	goalHandler(f.onGoal, slog.New(slog.NewTextHandler(io.Discard, nil)))(NewTopics("").GoalSet, payload)
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Snapshot returns copies of the recorded transitions and system events.
func (f *FakeClient) Snapshot() ([]Transition, []SystemEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Transition(nil), f.Transitions...), append([]SystemEvent(nil), f.SystemEvents...)
}

// Reset clears recorded messages.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Transitions = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Levels = nil
	f.Utterances = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.SpeakError = nil
	f.Connected = false
}
