package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Goal          float64    `json:"goal"`
	Level         float64    `json:"level"`
	State         string     `json:"state"`
	Activity      string     `json:"activity"`
	Heating       bool       `json:"heating"`
	Relay         bool       `json:"relay"`
	Ticks         uint64     `json:"ticks"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Speech        SpeechJSON `json:"speech"`
	Counts        CountsJSON `json:"announcement_counts"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// SpeechJSON reports speech backend activity.
type SpeechJSON struct {
	Backend       string `json:"backend"`
	Errors        int    `json:"errors"`
	LastUtterance string `json:"last_utterance,omitempty"`
}

// CountsJSON is the JSON representation of announcement counts.
type CountsJSON struct {
	TemperatureReached int `json:"temperature_reached"`
	CooledDown         int `json:"cooled_down"`
	GoalSet            int `json:"goal_set"`
	BurnerOff          int `json:"burner_off"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs      int64   `json:"tick_ms"`
	DisplayMs   int64   `json:"display_ms"`
	HeartbeatMs int64   `json:"heartbeat_ms"`
	Rate        float64 `json:"rate"`
	MaxGoal     float64 `json:"max_goal"`
	Broker      string  `json:"broker"`
	HTTPAddr    string  `json:"http_addr"`
}

// RoundLevel rounds v to one decimal place for presentation.
func RoundLevel(v float64) float64 {
	return math.Round(v*10) / 10
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.Status)
	if state == "" {
		state = "UNKNOWN"
	}

	return StatusInner{
		Goal:          snap.Goal,
		Level:         RoundLevel(snap.Level),
		State:         state,
		Activity:      string(snap.Activity),
		Heating:       snap.Status.Heating(),
		Relay:         snap.RelayOn,
		Ticks:         snap.Ticks,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Speech: SpeechJSON{
			Backend:       snap.Config.Speech,
			Errors:        snap.SpeechErrors,
			LastUtterance: snap.LastUtterance,
		},
		Counts: CountsJSON{
			TemperatureReached: snap.Counts.TemperatureReached,
			CooledDown:         snap.Counts.CooledDown,
			GoalSet:            snap.Counts.GoalSet,
			BurnerOff:          snap.Counts.BurnerOff,
		},
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			DisplayMs:   snap.Config.DisplayMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Rate:        snap.Config.Rate,
			MaxGoal:     snap.Config.MaxGoal,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
