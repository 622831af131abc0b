package main

import (
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/burner-sim/internal/gpio"
	"github.com/sweeney/burner-sim/internal/logic"
	"github.com/sweeney/burner-sim/internal/metrics"
	"github.com/sweeney/burner-sim/internal/mqtt"
	"github.com/sweeney/burner-sim/internal/status"
)

// announcer accepts utterances without blocking. speech.Voice implements it.
type announcer interface {
	Say(u logic.Utterance) error
}

// loopDeps are the collaborators of runLoop. publisher, mqttStatus, relay
// and metrics may be nil.
type loopDeps struct {
	ctl        *logic.Controller
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	voice      announcer
	relay      *gpio.Switch
	metrics    *metrics.Metrics
	heartbeat  time.Duration
	logger     *slog.Logger
}

// runLoop owns the controller. Every tick runs one control step; goal
// commands are applied between ticks. It returns after publishing SHUTDOWN
// when a signal arrives.
func runLoop(d loopDeps, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, goals <-chan goalCommand) error {
	if d.logger == nil {
		d.logger = slog.Default()
	}
	hb := logic.NewHeartbeat(now())

	for {
		select {
		case s := <-sig:
			d.logger.Info("shutting down", "signal", s.String())
			d.releaseRelay()
			d.publishSystem(now(), "SHUTDOWN", signalName(s))
			return nil

		case g := <-goals:
			d.applyGoal(g)

		case <-tick:
			t := now()
			tk, ok := d.step()
			if !ok {
				continue
			}
			d.afterTick(t, tk)

			if hbData := hb.Check(t, d.heartbeat, tk.State); hbData != nil {
				d.logger.Info("heartbeat",
					"uptime", hbData.Uptime, "status", hbData.State.Status,
					"level", status.RoundLevel(hbData.State.Level), "goal", hbData.State.Goal)
				d.publishSystem(hbData.Timestamp, "HEARTBEAT", "")
			}
		}
	}
}

// step runs one control tick. A panic is logged and counted, and the loop
// carries on with the next tick.
func (d loopDeps) step() (tk logic.Tick, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tick panicked", "panic", r)
			if d.metrics != nil {
				d.metrics.TickPanicked()
			}
			ok = false
		}
	}()
	return d.ctl.Update(), true
}

func (d loopDeps) afterTick(t time.Time, tk logic.Tick) {
	d.tracker.Update(tk.State)
	if d.metrics != nil {
		d.metrics.ObserveTick(tk)
	}

	for _, u := range tk.Utterances {
		d.logger.Info("announcement", "kind", u.Kind, "text", u.Text)
		if err := d.voice.Say(u); err != nil {
			d.logger.Warn("announcement dropped", "text", u.Text, "err", err)
			d.tracker.RecordSpeechError()
			if d.metrics != nil {
				d.metrics.SpeechFailed()
			}
			continue
		}
		d.tracker.RecordUtterance(u.Text)
	}

	if tk.Transitioned() {
		d.logger.Debug("status", "from", tk.From, "to", tk.State.Status,
			"level", status.RoundLevel(tk.State.Level), "goal", tk.State.Goal)
		if d.publisher != nil {
			err := d.publisher.PublishTransition(mqtt.Transition{
				Timestamp: t,
				From:      tk.From,
				To:        tk.State.Status,
				Level:     status.RoundLevel(tk.State.Level),
				Goal:      tk.State.Goal,
			})
			if err != nil {
				// Don't crash on publish failure
				d.logger.Warn("publish transition failed", "err", err)
			}
		}
	}

	if d.relay != nil {
		if _, err := d.relay.Apply(tk.State.Status.Heating()); err != nil {
			d.logger.Error("relay write failed", "err", err)
		}
		d.tracker.SetRelay(d.relay.On())
		if d.metrics != nil {
			d.metrics.SetRelay(d.relay.On())
		}
	}

	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func (d loopDeps) applyGoal(g goalCommand) {
	changed, err := d.ctl.SetGoal(g.goal)
	if err != nil {
		d.logger.Warn("goal rejected", "goal", g.goal, "source", g.source, "err", err)
		if d.metrics != nil {
			d.metrics.GoalRejected(g.source)
		}
		return
	}
	if !changed {
		d.logger.Debug("goal unchanged", "goal", g.goal, "source", g.source)
		return
	}
	d.logger.Info("goal changed", "goal", g.goal, "source", g.source)
	d.tracker.Update(d.ctl.State())
	if d.metrics != nil {
		d.metrics.GoalChange(g.source)
	}
}

func (d loopDeps) releaseRelay() {
	if d.relay == nil {
		return
	}
	if _, err := d.relay.Apply(false); err != nil {
		d.logger.Error("relay release failed", "err", err)
	}
	d.tracker.SetRelay(d.relay.On())
}

func (d loopDeps) publishSystem(t time.Time, event, reason string) {
	if d.publisher == nil {
		return
	}
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	snap := d.tracker.Snapshot()
	err := d.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  t,
		Event:      event,
		Reason:     reason,
		Retained:   event != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		d.logger.Warn("publish system event failed", "event", event, "err", err)
		return
	}
	d.logger.Debug("published system event", "event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
