// Package config loads runtime settings from flags, BURNER_* environment
// variables, an optional .env file and an optional burner.yaml.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sweeney/burner-sim/internal/gpio"
	"github.com/sweeney/burner-sim/internal/logic"
	"github.com/sweeney/burner-sim/internal/mqtt"
	"github.com/sweeney/burner-sim/internal/schedule"
	"github.com/sweeney/burner-sim/internal/speech"
)

// EnvPrefix is prepended to every environment key, e.g. BURNER_MQTT_BROKER.
const EnvPrefix = "BURNER"

// Speech backends.
const (
	SpeechLog     = "log"
	SpeechCommand = "command"
	SpeechMQTT    = "mqtt"
	SpeechNone    = "none"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the fully resolved runtime configuration.
type Config struct {
	Tick            time.Duration
	DisplayInterval time.Duration
	Heartbeat       time.Duration
	Rate            float64
	MaxGoal         float64
	HTTPAddr        string

	MQTT     MQTT
	Speech   Speech
	Relay    Relay
	Schedule []schedule.Entry
	Log      Log

	// ConfigFile is the config file that was read, if any.
	ConfigFile string
}

type MQTT struct {
	Broker   string
	ClientID string
	Prefix   string
}

type Speech struct {
	Backend string
	Command []string
	Queue   int
}

type Relay struct {
	Chip string
	Pin  int
}

type Log struct {
	Level string
	JSON  bool
}

// Enabled reports whether a relay pin is configured.
func (r Relay) Enabled() bool { return r.Pin >= 0 }

func newFlagSet(out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("burner-sim", pflag.ContinueOnError)
	fs.SetOutput(out)

	fs.Duration("tick", 10*time.Millisecond, "Control tick interval")
	fs.Duration("display-interval", 10*time.Millisecond, "Display refresh interval")
	fs.Float64("rate", logic.DefaultRate, "Degrees gained or lost per tick")
	fs.Float64("max-goal", logic.DefaultMaxGoal, "Highest goal accepted")
	fs.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	fs.String("broker", "", "MQTT broker address (empty to disable MQTT)")
	fs.String("client-id", "", "MQTT client ID (default burner-sim-<random>)")
	fs.String("prefix", mqtt.DefaultPrefix, "MQTT topic prefix")
	fs.String("http", ":8080", "HTTP status address (empty to disable)")
	fs.String("speech", SpeechLog, "Speech backend: log, command, mqtt or none")
	fs.String("speech-command", "espeak", "Text-to-speech command for --speech=command")
	fs.Int("speech-queue", speech.DefaultQueueDepth, "Announcements held while the voice is busy")
	fs.String("relay-chip", gpio.DefaultChip, "GPIO chip for the burner relay")
	fs.Int("relay-pin", -1, "BCM pin for the burner relay (-1 to disable)")
	fs.StringArray("schedule", nil, `Scheduled goal, "<cron spec>=<goal>" (repeatable)`)
	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.Bool("log-json", false, "Log as JSON")
	fs.String("config", "", "Config file (default burner.yaml in ., ./config, /etc/burner-sim)")
	fs.String("env-file", ".env", "Dotenv file loaded into the environment if present")
	return fs
}

// viper key -> flag name
var bindings = map[string]string{
	"tick":             "tick",
	"display_interval": "display-interval",
	"rate":             "rate",
	"max_goal":         "max-goal",
	"heartbeat":        "heartbeat",
	"mqtt.broker":      "broker",
	"mqtt.client_id":   "client-id",
	"mqtt.prefix":      "prefix",
	"http":             "http",
	"speech.backend":   "speech",
	"speech.command":   "speech-command",
	"speech.queue":     "speech-queue",
	"relay.chip":       "relay-chip",
	"relay.pin":        "relay-pin",
	"log.level":        "log-level",
	"log.json":         "log-json",
}

// Load parses args (without the program name) and resolves the
// configuration. Precedence is flag, environment, config file, default.
// pflag.ErrHelp is returned unwrapped for --help.
func Load(args []string) (Config, error) {
	return load(args, os.Stderr)
}

func load(args []string, out io.Writer) (Config, error) {
	fs := newFlagSet(out)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	envFile, _ := fs.GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, name := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", name, err)
		}
	}
	// lists are not bound through the flag; see scheduleEntries
	v.SetDefault("schedule", []string{})

	configFile, _ := fs.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("burner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
		v.AddConfigPath("/etc/burner-sim")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	rawSchedule, err := scheduleEntries(fs, v)
	if err != nil {
		return Config{}, err
	}
	entries, err := schedule.ParseEntries(rawSchedule)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg := Config{
		Tick:            v.GetDuration("tick"),
		DisplayInterval: v.GetDuration("display_interval"),
		Heartbeat:       v.GetDuration("heartbeat"),
		Rate:            v.GetFloat64("rate"),
		MaxGoal:         v.GetFloat64("max_goal"),
		HTTPAddr:        v.GetString("http"),
		MQTT: MQTT{
			Broker:   v.GetString("mqtt.broker"),
			ClientID: v.GetString("mqtt.client_id"),
			Prefix:   v.GetString("mqtt.prefix"),
		},
		Speech: Speech{
			Backend: strings.ToLower(v.GetString("speech.backend")),
			Command: strings.Fields(v.GetString("speech.command")),
			Queue:   v.GetInt("speech.queue"),
		},
		Relay: Relay{
			Chip: v.GetString("relay.chip"),
			Pin:  v.GetInt("relay.pin"),
		},
		Schedule: entries,
		Log: Log{
			Level: v.GetString("log.level"),
			JSON:  v.GetBool("log.json"),
		},
		ConfigFile: v.ConfigFileUsed(),
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = DefaultClientID()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// scheduleEntries prefers repeated --schedule flags, then BURNER_SCHEDULE
// (entries separated by ';'), then the config file list.
func scheduleEntries(fs *pflag.FlagSet, v *viper.Viper) ([]string, error) {
	if fs.Changed("schedule") {
		return fs.GetStringArray("schedule")
	}
	switch raw := v.Get("schedule").(type) {
	case nil:
		return nil, nil
	case string:
		var out []string
		for _, s := range strings.Split(raw, ";") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case []string:
		return raw, nil
	case []interface{}:
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: schedule: unexpected %T", ErrInvalid, raw)
	}
}

// DefaultClientID returns a random MQTT client ID.
func DefaultClientID() string {
	return "burner-sim-" + uuid.NewString()[:8]
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %v", c.Tick))
	}
	if c.DisplayInterval <= 0 {
		errs = append(errs, fmt.Errorf("display_interval must be positive, got %v", c.DisplayInterval))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative, got %v", c.Heartbeat))
	}
	if !(c.Rate > 0) || math.IsInf(c.Rate, 0) {
		errs = append(errs, fmt.Errorf("rate must be positive, got %v", c.Rate))
	}
	if !(c.MaxGoal > 0) || math.IsInf(c.MaxGoal, 0) {
		errs = append(errs, fmt.Errorf("max_goal must be positive, got %v", c.MaxGoal))
	}
	switch c.Speech.Backend {
	case SpeechLog, SpeechNone:
	case SpeechCommand:
		if len(c.Speech.Command) == 0 {
			errs = append(errs, errors.New("speech.command is required for the command backend"))
		}
	case SpeechMQTT:
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt speech backend needs mqtt.broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown speech backend %q", c.Speech.Backend))
	}
	if c.Speech.Queue < 1 {
		errs = append(errs, fmt.Errorf("speech.queue must be at least 1, got %d", c.Speech.Queue))
	}
	for _, e := range c.Schedule {
		if err := logic.ValidateGoal(e.Goal, c.MaxGoal); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %v", e, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
