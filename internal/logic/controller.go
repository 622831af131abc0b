package logic

import (
	"fmt"
	"math"
)

const (
	// DefaultRate is the level change per tick in degrees.
	DefaultRate = 0.1

	// DefaultMaxGoal is the highest goal SetGoal accepts when Config.MaxGoal is zero.
	DefaultMaxGoal = 500.0

	// cooledOffThreshold is the level below which a cooling burner counts as cold.
	cooledOffThreshold = 1.0

	// snapEpsilon absorbs float accumulation error so repeated RATE steps land exactly on the goal.
	snapEpsilon = 1e-9
)

// Config holds the tunables of a Controller.
type Config struct {
	Rate    float64 // degrees per tick; DefaultRate if zero
	MaxGoal float64 // highest accepted goal; DefaultMaxGoal if zero
}

// Controller is the burner state machine. It is not safe for concurrent use:
// a single goroutine owns it and drives Update once per tick.
type Controller struct {
	rate    float64
	maxGoal float64

	goal     float64
	level    float64
	status   Status
	reported Status // status the last tick ended in
	activity Activity
	queued   []Activity

	ticks  uint64
	counts AnnouncementCounts
}

// NewController creates a controller at goal 0, level 0, status Off, activity Pending.
func NewController(cfg Config) *Controller {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.MaxGoal <= 0 {
		cfg.MaxGoal = DefaultMaxGoal
	}
	return &Controller{
		rate:     cfg.Rate,
		maxGoal:  cfg.MaxGoal,
		status:   StatusOff,
		reported: StatusOff,
		activity: Activity{Kind: ActivityPending},
	}
}

// ValidateGoal reports whether goal could be accepted by a controller with the given maximum.
func ValidateGoal(goal, maxGoal float64) error {
	if maxGoal <= 0 {
		maxGoal = DefaultMaxGoal
	}
	if math.IsNaN(goal) || math.IsInf(goal, 0) || goal < 0 || goal > maxGoal {
		return fmt.Errorf("%w: %v (want 0..%v)", ErrInvalidGoal, goal, maxGoal)
	}
	return nil
}

// SetGoal records a new target. It returns false without touching any state when
// the goal is unchanged. A goal of 0 turns the burner off and forces CoolingOff.
// Nothing is spoken here; the activity is announced on a later tick.
func (c *Controller) SetGoal(goal float64) (bool, error) {
	if err := ValidateGoal(goal, c.maxGoal); err != nil {
		return false, err
	}
	if goal == c.goal {
		return false, nil
	}

	c.goal = goal
	if goal == 0 {
		c.status = StatusCoolingOff
		c.raise(Activity{Kind: ActivityBurnerTurnOff})
	} else {
		c.raise(Activity{Kind: ActivityGoalSet, Goal: goal})
	}
	return true, nil
}

// raise makes a the current activity, or queues it behind one not yet announced.
// Adjacent queued goal changes collapse into the latest.
func (c *Controller) raise(a Activity) {
	if c.activity.Kind == ActivityPending && len(c.queued) == 0 {
		c.activity = a
		return
	}
	if n := len(c.queued); n > 0 && a.Kind == ActivityGoalSet && c.queued[n-1].Kind == ActivityGoalSet {
		c.queued[n-1] = a
		return
	}
	c.queued = append(c.queued, a)
}

// Update runs one tick: classify, integrate, announce, in that order.
// Tick.From is the status the previous tick ended in, so a status forced by
// SetGoal between ticks still shows up as a transition.
func (c *Controller) Update() Tick {
	from := c.reported

	c.classify()
	c.integrate()
	utterances := c.announce()

	c.ticks++
	c.reported = c.status
	return Tick{
		From:       from,
		State:      c.State(),
		Utterances: utterances,
	}
}

// classify re-derives status from level, goal and the previous status.
// Later rules override earlier ones; the order is load-bearing.
func (c *Controller) classify() {
	s := c.status
	if c.level == c.goal && c.status != StatusAnnounced {
		s = StatusAtGoal
	}
	if c.level > c.goal {
		s = StatusOverGoal
	}
	if c.level < c.goal {
		s = StatusUnderGoal
	}
	if c.goal == 0 {
		s = StatusCoolingOff
	}
	if c.level < cooledOffThreshold && c.goal == 0 {
		s = StatusCooledOff
	}
	if c.level == 0 && c.goal == 0 {
		s = StatusOff
	}
	c.status = s
}

// integrate advances level by one step according to the current status.
func (c *Controller) integrate() {
	switch c.status {
	case StatusOff, StatusAtGoal, StatusAnnounced, StatusCooledOffAnnounced:
		// hold
	case StatusUnderGoal:
		c.level = math.Min(math.Max(c.level+c.rate, 0), c.goal)
		c.snap()
	case StatusOverGoal, StatusCoolingOff:
		c.level = math.Max(c.level-c.rate, 0)
		c.snap()
	case StatusCooledOff:
		c.level = 0
	}
}

func (c *Controller) snap() {
	if math.Abs(c.level-c.goal) < snapEpsilon {
		c.level = c.goal
	}
	if c.level < snapEpsilon {
		c.level = 0
	}
}

// announce fires the status channel, then the activity channel.
// Each entry speaks once and moves into its announced variant.
func (c *Controller) announce() []Utterance {
	var out []Utterance

	switch c.status {
	case StatusAtGoal:
		out = append(out, c.say(AnnounceTemperatureReached,
			fmt.Sprintf("temperature reached: %d degrees", roundDegrees(c.level))))
		c.status = StatusAnnounced
	case StatusCooledOff:
		out = append(out, c.say(AnnounceCooledDown, "burner cooled down"))
		c.status = StatusCooledOffAnnounced
	case StatusCooledOffAnnounced:
		c.status = StatusOff
	case StatusOff, StatusUnderGoal, StatusOverGoal, StatusAnnounced, StatusCoolingOff:
	}

	switch c.activity.Kind {
	case ActivityGoalSet:
		out = append(out, c.say(AnnounceGoalSet,
			fmt.Sprintf("goal set: %d degrees", roundDegrees(c.activity.Goal))))
		c.activity.Kind = ActivityGoalAnnounced
	case ActivityBurnerTurnOff:
		out = append(out, c.say(AnnounceBurnerOff, "burner off, cooling down"))
		c.activity.Kind = ActivityBurnerOffAnnounced
	case ActivityGoalAnnounced, ActivityBurnerOffAnnounced:
		c.activity = Activity{Kind: ActivityPending}
		if len(c.queued) > 0 {
			c.activity = c.queued[0]
			c.queued = c.queued[1:]
		}
	case ActivityPending:
	}

	return out
}

func (c *Controller) say(kind AnnouncementKind, text string) Utterance {
	switch kind {
	case AnnounceTemperatureReached:
		c.counts.TemperatureReached++
	case AnnounceCooledDown:
		c.counts.CooledDown++
	case AnnounceGoalSet:
		c.counts.GoalSet++
	case AnnounceBurnerOff:
		c.counts.BurnerOff++
	}
	return Utterance{Kind: kind, Text: text, Interrupt: true}
}

func roundDegrees(v float64) int64 {
	return int64(math.Round(v))
}

// State returns a copy of the controller state.
func (c *Controller) State() State {
	return State{
		Goal:     c.goal,
		Level:    c.level,
		Status:   c.status,
		Activity: c.activity.Kind,
		Ticks:    c.ticks,
		Counts:   c.counts,
	}
}

// Goal returns the current target.
func (c *Controller) Goal() float64 { return c.goal }

// Level returns the current measured value.
func (c *Controller) Level() float64 { return c.level }

// Status returns the current status.
func (c *Controller) Status() Status { return c.status }

// Activity returns the current activity.
func (c *Controller) Activity() Activity { return c.activity }

// Pending returns the number of activities queued behind the current one.
func (c *Controller) Pending() int { return len(c.queued) }
