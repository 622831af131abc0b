// Package logic contains pure business logic for the burner control state machine.
// This package has NO external dependencies (no MQTT, GPIO, speech, OS, or time.Sleep).
// Time is always injectable via time.Time parameters and ticks are driven by the caller.
package logic

import (
	"errors"
	"time"
)

// Status is the discrete classification of the level/goal relationship.
// It also selects the integration rule applied on each tick.
type Status string

const (
	StatusOff                Status = "OFF"
	StatusUnderGoal          Status = "UNDER_GOAL"
	StatusOverGoal           Status = "OVER_GOAL"
	StatusAtGoal             Status = "AT_GOAL"
	StatusAnnounced          Status = "ANNOUNCED"
	StatusCoolingOff         Status = "COOLING_OFF"
	StatusCooledOff          Status = "COOLED_OFF"
	StatusCooledOffAnnounced Status = "COOLED_OFF_ANNOUNCED"
)

// Statuses lists every status in declaration order.
var Statuses = []Status{
	StatusOff,
	StatusUnderGoal,
	StatusOverGoal,
	StatusAtGoal,
	StatusAnnounced,
	StatusCoolingOff,
	StatusCooledOff,
	StatusCooledOffAnnounced,
}

// Heating reports whether the burner is actively adding heat in this status.
func (s Status) Heating() bool {
	return s == StatusUnderGoal
}

// ActivityKind tracks user-initiated events awaiting announcement.
type ActivityKind string

const (
	ActivityPending            ActivityKind = "PENDING"
	ActivityGoalSet            ActivityKind = "GOAL_SET"
	ActivityGoalAnnounced      ActivityKind = "GOAL_ANNOUNCED"
	ActivityBurnerTurnOff      ActivityKind = "BURNER_TURN_OFF"
	ActivityBurnerOffAnnounced ActivityKind = "BURNER_OFF_ANNOUNCED"
)

// Activity is a user-facing event together with the goal it was raised for.
type Activity struct {
	Kind ActivityKind
	Goal float64
}

// AnnouncementKind identifies which announcement an utterance belongs to.
type AnnouncementKind string

const (
	AnnounceTemperatureReached AnnouncementKind = "TEMPERATURE_REACHED"
	AnnounceCooledDown         AnnouncementKind = "COOLED_DOWN"
	AnnounceGoalSet            AnnouncementKind = "GOAL_SET"
	AnnounceBurnerOff          AnnouncementKind = "BURNER_OFF"
)

// Utterance is a single announcement to hand to the speech collaborator.
type Utterance struct {
	Kind      AnnouncementKind
	Text      string
	Interrupt bool // preempt anything still being spoken
}

// AnnouncementCounts tracks the number of each announcement since startup.
type AnnouncementCounts struct {
	TemperatureReached int
	CooledDown         int
	GoalSet            int
	BurnerOff          int
}

// Total returns the sum of all announcement counts.
func (c AnnouncementCounts) Total() int {
	return c.TemperatureReached + c.CooledDown + c.GoalSet + c.BurnerOff
}

// State is a point-in-time copy of the controller.
type State struct {
	Goal     float64
	Level    float64
	Status   Status
	Activity ActivityKind
	Ticks    uint64
	Counts   AnnouncementCounts
}

// Tick is the outcome of one classify → integrate → announce cycle.
type Tick struct {
	From       Status // status the previous tick ended in
	State      State  // state after announcement
	Utterances []Utterance
}

// Transitioned reports whether the tick ended in a different status than the one before it.
func (t Tick) Transitioned() bool {
	return t.From != t.State.Status
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	State     State
}

// ErrInvalidGoal is returned by SetGoal for goals outside [0, MaxGoal] or not finite.
var ErrInvalidGoal = errors.New("invalid goal")
