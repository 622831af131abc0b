// Package status provides a thread-safe status tracker for the burner daemon.
// The control loop writes it once per tick; HTTP handlers, the display
// refresher and MQTT heartbeats read point-in-time snapshots.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/burner-sim/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	TickMs      int64
	DisplayMs   int64
	HeartbeatMs int64
	Rate        float64
	MaxGoal     float64
	Broker      string
	HTTPAddr    string
	Speech      string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	logic.State
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	RelayOn       bool
	SpeechErrors  int
	LastUtterance string
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			State:     logic.State{Status: logic.StatusOff, Activity: logic.ActivityPending},
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update records the controller state after a tick.
// Called from runLoop on every tick.
func (t *Tracker) Update(state logic.State) {
	t.mu.Lock()
	t.snap.State = state
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetRelay records whether the burner relay is energised.
func (t *Tracker) SetRelay(on bool) {
	t.mu.Lock()
	t.snap.RelayOn = on
	t.mu.Unlock()
}

// RecordUtterance records the last utterance handed to the voice.
func (t *Tracker) RecordUtterance(text string) {
	t.mu.Lock()
	t.snap.LastUtterance = text
	t.mu.Unlock()
}

// RecordSpeechError counts a failed announcement.
func (t *Tracker) RecordSpeechError() {
	t.mu.Lock()
	t.snap.SpeechErrors++
	t.mu.Unlock()
}

// Level returns the most recent level without copying the whole snapshot.
func (t *Tracker) Level() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Level
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
