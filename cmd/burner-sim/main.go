// Command burner-sim simulates a burner heating toward a goal temperature,
// announcing milestones by voice and publishing its state over MQTT and HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/sweeney/burner-sim/internal/config"
	"github.com/sweeney/burner-sim/internal/display"
	"github.com/sweeney/burner-sim/internal/gpio"
	"github.com/sweeney/burner-sim/internal/logging"
	"github.com/sweeney/burner-sim/internal/logic"
	"github.com/sweeney/burner-sim/internal/metrics"
	"github.com/sweeney/burner-sim/internal/mqtt"
	"github.com/sweeney/burner-sim/internal/schedule"
	"github.com/sweeney/burner-sim/internal/speech"
	"github.com/sweeney/burner-sim/internal/status"
	"github.com/sweeney/burner-sim/internal/web"
)

// goalQueueDepth bounds goal commands waiting for the control loop.
const goalQueueDepth = 8

// ErrGoalQueueFull is returned when the control loop is not keeping up
// with goal commands.
var ErrGoalQueueFull = errors.New("goal queue full")

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "burner-sim: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "burner-sim: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// goalCommand is a goal request and where it came from.
type goalCommand struct {
	goal   float64
	source string
}

// goalSubmitter returns a non-blocking sender for one source.
func goalSubmitter(goals chan<- goalCommand, source string) func(float64) error {
	return func(goal float64) error {
		select {
		case goals <- goalCommand{goal: goal, source: source}:
			return nil
		default:
			return ErrGoalQueueFull
		}
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	m := metrics.New()
	goals := make(chan goalCommand, goalQueueDepth)

	tracker := status.NewTracker(start, status.Config{
		TickMs:      cfg.Tick.Milliseconds(),
		DisplayMs:   cfg.DisplayInterval.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Rate:        cfg.Rate,
		MaxGoal:     cfg.MaxGoal,
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTPAddr,
		Speech:      cfg.Speech.Backend,
	})

	// MQTT is optional; without a broker nothing is published
	var client *mqtt.RealClient
	if cfg.MQTT.Broker != "" {
		client = mqtt.NewRealClient(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Prefix:   cfg.MQTT.Prefix,
			OnGoal: func(goal float64) {
				if err := goalSubmitter(goals, metrics.SourceMQTT)(goal); err != nil {
					logger.Warn("mqtt: goal not queued", "goal", goal, "err", err)
				}
			},
			Logger: logger,
		})
		defer client.Close()
		logger.Info("mqtt enabled", "broker", cfg.MQTT.Broker, "client_id", cfg.MQTT.ClientID, "prefix", cfg.MQTT.Prefix)
	}

	var relay *gpio.Switch
	if cfg.Relay.Enabled() {
		r, err := gpio.NewRealRelay(cfg.Relay.Chip, cfg.Relay.Pin)
		if err != nil {
			return fmt.Errorf("init relay: %w", err)
		}
		defer r.Close()
		relay = gpio.NewSwitch(r)
	}

	speaker, closeSpeaker, err := newSpeaker(cfg, client, logger)
	if err != nil {
		return err
	}
	defer closeSpeaker()
	voice := speech.NewVoice(speaker, cfg.Speech.Queue, speech.Hooks{
		Failed: func(logic.Utterance, error) {
			tracker.RecordSpeechError()
			m.SpeechFailed()
		},
	}, logger)
	go voice.Run(ctx)

	displays := []display.Display{m}
	if client != nil {
		displays = append(displays, client)
	}

	if cfg.HTTPAddr != "" {
		hub := web.NewHub(tracker, logger)
		displays = append(displays, hub)
		srv := web.New(web.Options{
			Addr:       cfg.HTTPAddr,
			Tracker:    tracker,
			Submit:     goalSubmitter(goals, metrics.SourceHTTP),
			MaxGoal:    cfg.MaxGoal,
			Hub:        hub,
			Metrics:    m.Handler(),
			OnRejected: func() { m.GoalRejected(metrics.SourceHTTP) },
			Logger:     logger,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("http status server listening", "addr", cfg.HTTPAddr)
	}

	refresher := display.NewRefresher(tracker, logger, displays...)
	displayTicker := time.NewTicker(cfg.DisplayInterval)
	defer displayTicker.Stop()
	go refresher.Run(ctx, displayTicker.C)

	if len(cfg.Schedule) > 0 {
		sched, err := schedule.New(cfg.Schedule, goalSubmitter(goals, metrics.SourceSchedule), logger, nil)
		if err != nil {
			return fmt.Errorf("init schedule: %w", err)
		}
		sched.Start()
		defer func() {
			stopCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			sched.Stop(stopCtx)
		}()
		logger.Info("schedule enabled", "entries", len(cfg.Schedule))
	}

	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if client != nil {
		publisher, mqttStatus = client, client
	}

	// Publish startup event with full status snapshot
	if publisher != nil {
		snap := tracker.Snapshot()
		startup := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := publisher.PublishSystem(startup); err != nil {
			logger.Warn("failed to publish startup event", "err", err)
		}
	}

	logger.Info("started",
		"tick", cfg.Tick, "rate", cfg.Rate, "max_goal", cfg.MaxGoal,
		"speech", cfg.Speech.Backend, "heartbeat", cfg.Heartbeat)

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	deps := loopDeps{
		ctl:        logic.NewController(logic.Config{Rate: cfg.Rate, MaxGoal: cfg.MaxGoal}),
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		voice:      voice,
		relay:      relay,
		metrics:    m,
		heartbeat:  cfg.Heartbeat,
		logger:     logger,
	}
	return runLoop(deps, time.Now, ticker.C, sigCh, goals)
}

// newSpeaker builds the configured speech backend and its cleanup.
func newSpeaker(cfg config.Config, client *mqtt.RealClient, logger *slog.Logger) (speech.Speaker, func(), error) {
	nop := func() {}
	switch cfg.Speech.Backend {
	case config.SpeechLog:
		return speech.Log{Logger: logger}, nop, nil
	case config.SpeechCommand:
		cmd := speech.NewCommand(cfg.Speech.Command[0], cfg.Speech.Command[1:]...)
		return cmd, func() { cmd.Close() }, nil
	case config.SpeechMQTT:
		if client == nil {
			return nil, nil, errors.New("mqtt speech backend needs a broker")
		}
		return client, nop, nil
	case config.SpeechNone:
		return speech.Discard{}, nop, nil
	}
	return nil, nil, fmt.Errorf("unknown speech backend %q", cfg.Speech.Backend)
}
