// Package metrics exposes burner state as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/burner-sim/internal/logic"
)

const namespace = "burner"

// Goal change sources.
const (
	SourceMQTT     = "mqtt"
	SourceHTTP     = "http"
	SourceSchedule = "schedule"
)

// Metrics holds the burner collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	level         prometheus.Gauge
	goal          prometheus.Gauge
	status        *prometheus.GaugeVec
	relay         prometheus.Gauge
	ticks         prometheus.Counter
	tickPanics    prometheus.Counter
	announcements *prometheus.CounterVec
	speechErrors  prometheus.Counter
	goalChanges   *prometheus.CounterVec
	goalRejects   *prometheus.CounterVec
}

// New registers all collectors, plus Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		level: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "level_degrees",
			Help: "Current simulated burner temperature.",
		}),
		goal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "goal_degrees",
			Help: "Requested burner temperature; 0 is off.",
		}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "status",
			Help: "Current controller status (1 for the active status).",
		}, []string{"status"}),
		relay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "relay_on",
			Help: "Whether the burner relay is energised.",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Control ticks completed.",
		}),
		tickPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tick_panics_total",
			Help: "Control ticks that panicked and were recovered.",
		}),
		announcements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "announcements_total",
			Help: "Announcements produced by the controller.",
		}, []string{"kind"}),
		speechErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "speech_errors_total",
			Help: "Announcements the speech backend failed to deliver.",
		}),
		goalChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "goal_changes_total",
			Help: "Goal commands that changed the target, by source.",
		}, []string{"source"}),
		goalRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "goal_rejects_total",
			Help: "Goal commands rejected as invalid, by source.",
		}, []string{"source"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.level, m.goal, m.status, m.relay, m.ticks, m.tickPanics,
		m.announcements, m.speechErrors, m.goalChanges, m.goalRejects,
	)
	for _, s := range logic.Statuses {
		m.status.WithLabelValues(string(s)).Set(0)
	}
	m.status.WithLabelValues(string(logic.StatusOff)).Set(1)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTick records the outcome of one control tick.
func (m *Metrics) ObserveTick(tk logic.Tick) {
	m.ticks.Inc()
	m.goal.Set(tk.State.Goal)
	if tk.Transitioned() {
		m.status.WithLabelValues(string(tk.From)).Set(0)
		m.status.WithLabelValues(string(tk.State.Status)).Set(1)
	}
	for _, u := range tk.Utterances {
		m.announcements.WithLabelValues(string(u.Kind)).Inc()
	}
}

// SetLevel makes Metrics a display.
func (m *Metrics) SetLevel(level float64) error {
	m.level.Set(level)
	return nil
}

// SetRelay records the relay state.
func (m *Metrics) SetRelay(on bool) {
	if on {
		m.relay.Set(1)
	} else {
		m.relay.Set(0)
	}
}

// TickPanicked counts a recovered tick panic.
func (m *Metrics) TickPanicked() { m.tickPanics.Inc() }

// SpeechFailed counts a failed announcement.
func (m *Metrics) SpeechFailed() { m.speechErrors.Inc() }

// GoalChange counts a goal command from source that changed the target.
func (m *Metrics) GoalChange(source string) { m.goalChanges.WithLabelValues(source).Inc() }

// GoalRejected counts an invalid goal command from source.
func (m *Metrics) GoalRejected(source string) { m.goalRejects.WithLabelValues(source).Inc() }
