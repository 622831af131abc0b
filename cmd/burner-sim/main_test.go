package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/burner-sim/internal/gpio"
	"github.com/sweeney/burner-sim/internal/logic"
	"github.com/sweeney/burner-sim/internal/metrics"
	"github.com/sweeney/burner-sim/internal/mqtt"
	"github.com/sweeney/burner-sim/internal/speech"
	"github.com/sweeney/burner-sim/internal/status"
)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// recordingVoice collects utterances instead of speaking them.
type recordingVoice struct {
	mu   sync.Mutex
	said []logic.Utterance
	err  error
}

func (v *recordingVoice) Say(u logic.Utterance) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return v.err
	}
	v.said = append(v.said, u)
	return nil
}

func (v *recordingVoice) texts() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.said))
	for i, u := range v.said {
		out[i] = u.Text
	}
	return out
}

// step is one input to runLoop: a tick, or a goal command when goal is set.
type step struct {
	goal   *float64
	source string
}

func tickStep() step { return step{} }

func goalStep(g float64) step { return step{goal: &g, source: metrics.SourceMQTT} }

func ticks(n int) []step {
	out := make([]step, n)
	for i := range out {
		out[i] = tickStep()
	}
	return out
}

func steps(groups ...[]step) []step {
	var out []step
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

type harness struct {
	pub     *mqtt.FakeClient
	voice   *recordingVoice
	relay   *gpio.FakeRelay
	tracker *status.Tracker
	metrics *metrics.Metrics
	deps    loopDeps
	clock   func() time.Time
}

func newHarness(clockStep time.Duration, heartbeat time.Duration) *harness {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	relay := gpio.NewFakeRelay()
	h := &harness{
		pub:     mqtt.NewFakeClient(nil),
		voice:   &recordingVoice{},
		relay:   relay,
		tracker: status.NewTracker(start, status.Config{}),
		metrics: metrics.New(),
		clock:   fakeClock(start, clockStep),
	}
	h.deps = loopDeps{
		ctl:        logic.NewController(logic.Config{Rate: 0.1, MaxGoal: 500}),
		publisher:  h.pub,
		mqttStatus: h.pub,
		tracker:    h.tracker,
		voice:      h.voice,
		relay:      gpio.NewSwitch(relay),
		metrics:    h.metrics,
		heartbeat:  heartbeat,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return h
}

// run drives runLoop through the steps and then delivers signal.
func (h *harness) run(t *testing.T, in []step, signal os.Signal) {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	goals := make(chan goalCommand)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(h.deps, h.clock, tick, sig, goals)
	}()

	for _, s := range in {
		if s.goal != nil {
			goals <- goalCommand{goal: *s.goal, source: s.source}
			continue
		}
		tick <- time.Time{}
	}
	sig <- signal

	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func (h *harness) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestRunLoopIdleShutdown(t *testing.T) {
	h := newHarness(10*time.Millisecond, 0)
	h.run(t, ticks(5), syscall.SIGTERM)

	if len(h.voice.texts()) != 0 {
		t.Errorf("expected no announcements while off, got %v", h.voice.texts())
	}
	trs, sys := h.pub.Snapshot()
	if len(trs) != 0 {
		t.Errorf("expected 0 transitions, got %d", len(trs))
	}
	if len(sys) != 1 || sys[0].Event != "SHUTDOWN" {
		t.Fatalf("expected a single SHUTDOWN event, got %+v", sys)
	}
	if writes := h.relay.Writes(); len(writes) != 1 || writes[0] {
		t.Errorf("relay writes: got %v, want [false]", writes)
	}
}

func TestRunLoopShutdownSignals(t *testing.T) {
	for _, tc := range []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
	} {
		t.Run(tc.want, func(t *testing.T) {
			h := newHarness(10*time.Millisecond, 0)
			h.run(t, nil, tc.sig)

			_, sys := h.pub.Snapshot()
			if len(sys) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(sys))
			}
			se := sys[0]
			if se.Event != "SHUTDOWN" {
				t.Errorf("expected SHUTDOWN, got %q", se.Event)
			}
			if se.Reason != tc.want {
				t.Errorf("expected reason %s, got %q", tc.want, se.Reason)
			}
			if !se.Retained {
				t.Error("expected Retained=true for SHUTDOWN")
			}
			if !strings.Contains(string(h.pub.SystemPayloads[0]), `"event":"SHUTDOWN"`) {
				t.Errorf("payload missing event: %s", h.pub.SystemPayloads[0])
			}
		})
	}
}

func TestRunLoopReachesGoal(t *testing.T) {
	h := newHarness(10*time.Millisecond, 0)
	h.pub.Connected = true

	// 20 ticks to climb to 2.0, one more to announce it, one more to settle
	h.run(t, steps([]step{goalStep(2)}, ticks(22)), syscall.SIGTERM)

	want := []string{"goal set: 2 degrees", "temperature reached: 2 degrees"}
	if got := h.voice.texts(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("announcements: got %q, want %q", got, want)
	}

	trs, _ := h.pub.Snapshot()
	if len(trs) != 2 {
		t.Fatalf("expected 2 transitions, got %d: %+v", len(trs), trs)
	}
	if trs[0].From != logic.StatusOff || trs[0].To != logic.StatusUnderGoal {
		t.Errorf("first transition: got %s->%s", trs[0].From, trs[0].To)
	}
	if trs[1].From != logic.StatusUnderGoal || trs[1].To != logic.StatusAnnounced {
		t.Errorf("second transition: got %s->%s", trs[1].From, trs[1].To)
	}
	if trs[1].Level != 2 || trs[1].Goal != 2 {
		t.Errorf("second transition level/goal: got %v/%v, want 2/2", trs[1].Level, trs[1].Goal)
	}

	if writes := h.relay.Writes(); fmt.Sprint(writes) != "[true false]" {
		t.Errorf("relay writes: got %v, want [true false]", writes)
	}

	snap := h.tracker.Snapshot()
	if snap.Status != logic.StatusAnnounced {
		t.Errorf("tracker status: got %s, want ANNOUNCED", snap.Status)
	}
	if snap.Level != 2 {
		t.Errorf("tracker level: got %v, want 2", snap.Level)
	}
	if snap.Ticks != 22 {
		t.Errorf("tracker ticks: got %d, want 22", snap.Ticks)
	}
	if snap.LastUtterance != "temperature reached: 2 degrees" {
		t.Errorf("last utterance: got %q", snap.LastUtterance)
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTT connected in snapshot")
	}

	body := h.scrape(t)
	for _, want := range []string{
		"burner_ticks_total 22",
		`burner_goal_changes_total{source="mqtt"} 1`,
		`burner_announcements_total{kind="TEMPERATURE_REACHED"} 1`,
		`burner_status{status="ANNOUNCED"} 1`,
		`burner_status{status="UNDER_GOAL"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestRunLoopGoalThenOff(t *testing.T) {
	h := newHarness(10*time.Millisecond, 0)
	h.run(t, steps(
		[]step{goalStep(50)}, ticks(1),
		[]step{goalStep(0)}, ticks(3),
	), syscall.SIGTERM)

	want := []string{"goal set: 50 degrees", "burner cooled down", "burner off, cooling down"}
	if got := h.voice.texts(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("announcements: got %q, want %q", got, want)
	}
	if writes := h.relay.Writes(); fmt.Sprint(writes) != "[true false]" {
		t.Errorf("relay writes: got %v, want [true false]", writes)
	}
	snap := h.tracker.Snapshot()
	if snap.Status != logic.StatusOff || snap.Level != 0 {
		t.Errorf("final state: got %s at %v, want OFF at 0", snap.Status, snap.Level)
	}
}

func TestRunLoopRejectsInvalidGoal(t *testing.T) {
	h := newHarness(10*time.Millisecond, 0)
	h.run(t, steps([]step{goalStep(-5), goalStep(501)}, ticks(3)), syscall.SIGTERM)

	if len(h.voice.texts()) != 0 {
		t.Errorf("expected no announcements, got %v", h.voice.texts())
	}
	if snap := h.tracker.Snapshot(); snap.Goal != 0 || snap.Status != logic.StatusOff {
		t.Errorf("state changed by invalid goal: %+v", snap.State)
	}
	if body := h.scrape(t); !strings.Contains(body, `burner_goal_rejects_total{source="mqtt"} 2`) {
		t.Error("expected 2 rejected goals in metrics")
	}
}

func TestRunLoopDuplicateGoalIsNoop(t *testing.T) {
	h := newHarness(10*time.Millisecond, 0)
	h.run(t, steps(
		[]step{goalStep(0)}, ticks(1),
		[]step{goalStep(10)}, ticks(2),
		[]step{goalStep(10)}, ticks(2),
	), syscall.SIGTERM)

	want := []string{"goal set: 10 degrees"}
	if got := h.voice.texts(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("announcements: got %q, want %q", got, want)
	}
	if body := h.scrape(t); !strings.Contains(body, `burner_goal_changes_total{source="mqtt"} 1`) {
		t.Error("expected unchanged goals to be left out of burner_goal_changes_total")
	}
}

func TestRunLoopOffWhileHotPublishesCoolingOff(t *testing.T) {
	h := newHarness(10*time.Millisecond, 0)
	h.pub.Connected = true
	h.run(t, steps(
		[]step{goalStep(5)}, ticks(60),
		[]step{goalStep(0)}, ticks(3),
	), syscall.SIGTERM)

	trs, _ := h.pub.Snapshot()
	got := make([]string, len(trs))
	for i, tr := range trs {
		got[i] = string(tr.From) + "->" + string(tr.To)
	}
	want := []string{"OFF->UNDER_GOAL", "UNDER_GOAL->ANNOUNCED", "ANNOUNCED->COOLING_OFF"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("transitions: got %v, want %v", got, want)
	}
	if trs[2].Goal != 0 || trs[2].Level != 4.9 {
		t.Errorf("cooling transition level/goal: got %v/%v, want 4.9/0", trs[2].Level, trs[2].Goal)
	}

	snap := h.tracker.Snapshot()
	if snap.Status != logic.StatusCoolingOff || snap.Level < 1 {
		t.Errorf("tracker: got %s at %v, want COOLING_OFF above 1", snap.Status, snap.Level)
	}

	body := h.scrape(t)
	for _, want := range []string{
		`burner_status{status="COOLING_OFF"} 1`,
		`burner_status{status="ANNOUNCED"} 0`,
		`burner_status{status="UNDER_GOAL"} 0`,
		`burner_goal_changes_total{source="mqtt"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// Clock calls: t0 = start, then one per tick, then one for SHUTDOWN.
	// With a 5-minute step the third tick lands on the 15-minute interval.
	h := newHarness(5*time.Minute, 15*time.Minute)
	h.run(t, ticks(4), syscall.SIGTERM)

	_, sys := h.pub.Snapshot()
	var heartbeats, shutdowns int
	for i, se := range sys {
		switch se.Event {
		case "HEARTBEAT":
			heartbeats++
			if se.Retained {
				t.Error("HEARTBEAT should not be retained")
			}
			if !strings.Contains(string(h.pub.SystemPayloads[i]), `"event":"HEARTBEAT"`) {
				t.Errorf("heartbeat payload: %s", h.pub.SystemPayloads[i])
			}
		case "SHUTDOWN":
			shutdowns++
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT event, got %d", heartbeats)
	}
	if shutdowns != 1 {
		t.Errorf("expected 1 SHUTDOWN event, got %d", shutdowns)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	h := newHarness(10*time.Millisecond, 0)
	h.pub.PublishError = errors.New("broker unavailable")

	h.run(t, steps([]step{goalStep(1)}, ticks(12)), syscall.SIGTERM)

	trs, sys := h.pub.Snapshot()
	if len(trs) != 0 {
		t.Errorf("expected 0 recorded transitions (publish failed), got %d", len(trs))
	}
	if len(sys) != 1 || sys[0].Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN despite publish errors, got %+v", sys)
	}
	if got := len(h.voice.texts()); got != 2 {
		t.Errorf("announcements: got %d, want 2", got)
	}
}

func TestRunLoopSpeechQueueFull(t *testing.T) {
	h := newHarness(10*time.Millisecond, 0)
	h.voice.err = speech.ErrQueueFull

	h.run(t, steps([]step{goalStep(5)}, ticks(2)), syscall.SIGTERM)

	snap := h.tracker.Snapshot()
	if snap.SpeechErrors != 1 {
		t.Errorf("speech errors: got %d, want 1", snap.SpeechErrors)
	}
	if snap.LastUtterance != "" {
		t.Errorf("dropped utterance recorded as spoken: %q", snap.LastUtterance)
	}
	if snap.Counts.GoalSet != 1 {
		t.Errorf("goal set count: got %d, want 1", snap.Counts.GoalSet)
	}
	if body := h.scrape(t); !strings.Contains(body, "burner_speech_errors_total 1") {
		t.Error("expected speech error in metrics")
	}
}

func TestRunLoopRelayErrorDoesNotStopLoop(t *testing.T) {
	h := newHarness(10*time.Millisecond, 0)
	h.relay.SetError = errors.New("line busy")

	h.run(t, steps([]step{goalStep(1)}, ticks(12)), syscall.SIGTERM)

	if got := len(h.voice.texts()); got != 2 {
		t.Errorf("announcements: got %d, want 2", got)
	}
	if h.tracker.Snapshot().RelayOn {
		t.Error("relay reported on after failed writes")
	}
}

func TestRunLoopRecoversTickPanic(t *testing.T) {
	h := newHarness(10*time.Millisecond, 0)
	h.deps.ctl = nil // Update on a nil controller panics

	h.run(t, ticks(3), syscall.SIGTERM)

	if body := h.scrape(t); !strings.Contains(body, "burner_tick_panics_total 3") {
		t.Error("expected 3 recovered tick panics")
	}
	_, sys := h.pub.Snapshot()
	if len(sys) != 1 || sys[0].Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN after panics, got %+v", sys)
	}
}

func TestRunLoopWithoutOptionalDeps(t *testing.T) {
	h := newHarness(10*time.Millisecond, time.Millisecond)
	h.deps.publisher = nil
	h.deps.mqttStatus = nil
	h.deps.relay = nil
	h.deps.metrics = nil

	h.run(t, steps([]step{goalStep(1)}, ticks(12)), syscall.SIGINT)

	if got := len(h.voice.texts()); got != 2 {
		t.Errorf("announcements: got %d, want 2", got)
	}
}

func TestGoalSubmitterDoesNotBlock(t *testing.T) {
	goals := make(chan goalCommand, 1)
	submit := goalSubmitter(goals, metrics.SourceHTTP)

	if err := submit(10); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := submit(20); !errors.Is(err, ErrGoalQueueFull) {
		t.Errorf("second submit: got %v, want ErrGoalQueueFull", err)
	}
	if g := <-goals; g.goal != 10 || g.source != "http" {
		t.Errorf("queued command: got %+v", g)
	}
}

func TestSignalName(t *testing.T) {
	if got := signalName(syscall.SIGINT); got != "SIGINT" {
		t.Errorf("SIGINT: got %q", got)
	}
	if got := signalName(syscall.SIGTERM); got != "SIGTERM" {
		t.Errorf("SIGTERM: got %q", got)
	}
	if got := signalName(syscall.SIGHUP); got != "UNKNOWN" {
		t.Errorf("SIGHUP: got %q", got)
	}
}
