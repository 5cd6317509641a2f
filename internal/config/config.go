package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Config is the full controller configuration. It is loaded once at startup
// and passed explicitly into every component; there are no package globals.
type Config struct {
	ConfigFile string        `json:"-"`
	DataDir    string        `json:"-"`
	LogLevel   zerolog.Level `json:"-"`
	Simulate   bool          `json:"-"`

	// Control parameters
	DefaultHysteresis float64 `json:"default_hysteresis"`
	MinTemp           float64 `json:"min_temp"`
	MaxTemp           float64 `json:"max_temp"`
	RadiatorOverhead  float64 `json:"radiator_overhead"`
	FloorOverhead     float64 `json:"floor_overhead"`
	ValveIdleSetpoint float64 `json:"valve_idle_setpoint"`

	// Cadences, in seconds unless noted
	ControlIntervalSeconds  int `json:"control_interval_seconds"`
	ScheduleIntervalSeconds int `json:"schedule_interval_seconds"`
	HistoryIntervalSeconds  int `json:"history_interval_seconds"`
	VacationIntervalMinutes int `json:"vacation_interval_minutes"`

	// Manual override detection
	DebounceSeconds    int `json:"debounce_seconds"`
	AttributionSeconds int `json:"attribution_seconds"`

	// Learning model
	LearningMinSamples int `json:"learning_min_samples"`
	LearningMaxSamples int `json:"learning_max_samples"`
	LearningMaxAgeDays int `json:"learning_max_age_days"`

	// Global preset table; zones may override per name
	Presets map[string]float64 `json:"presets"`

	// Hazard sensors: sensor id -> alert threshold
	SafetySensors map[string]float64 `json:"safety_sensors"`

	// Sensor id reporting outdoor temperature, used by the learning model
	OutdoorSensorID string `json:"outdoor_sensor_id"`

	// Transport and surfaces
	MQTTBroker   string `json:"mqtt_broker"`
	MQTTClientID string `json:"mqtt_client_id"`
	APIPort      int    `json:"api_port"`

	// Metrics
	EnableStatsd    bool     `json:"enable_statsd"`
	StatsdAgentAddr string   `json:"statsd_agent_addr"`
	StatsdNamespace string   `json:"statsd_namespace"`
	StatsdTags      []string `json:"statsd_tags"`
}

// Load parses flags, reads the config file, applies defaults and validates.
func Load() (*Config, error) {
	var cfg Config
	var logLevel string

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to controller config file")
	flag.StringVar(&cfg.DataDir, "data-dir", "data", "Directory for persisted state")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&cfg.Simulate, "simulate", false, "Run against an in-memory device transport instead of the MQTT broker")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)

	file, err := os.Open(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.DefaultHysteresis == 0 {
		cfg.DefaultHysteresis = 0.5
	}
	if cfg.MinTemp == 0 {
		cfg.MinTemp = 5
	}
	if cfg.MaxTemp == 0 {
		cfg.MaxTemp = 30
	}
	if cfg.RadiatorOverhead == 0 {
		cfg.RadiatorOverhead = 20
	}
	if cfg.FloorOverhead == 0 {
		cfg.FloorOverhead = 10
	}
	if cfg.ValveIdleSetpoint == 0 {
		cfg.ValveIdleSetpoint = cfg.MinTemp
	}
	if cfg.ControlIntervalSeconds == 0 {
		cfg.ControlIntervalSeconds = 30
	}
	if cfg.ScheduleIntervalSeconds == 0 {
		cfg.ScheduleIntervalSeconds = 60
	}
	if cfg.HistoryIntervalSeconds == 0 {
		cfg.HistoryIntervalSeconds = 300
	}
	if cfg.VacationIntervalMinutes == 0 {
		cfg.VacationIntervalMinutes = 60
	}
	if cfg.DebounceSeconds == 0 {
		cfg.DebounceSeconds = 2
	}
	if cfg.AttributionSeconds == 0 {
		cfg.AttributionSeconds = 2
	}
	if cfg.LearningMinSamples == 0 {
		cfg.LearningMinSamples = 5
	}
	if cfg.LearningMaxSamples == 0 {
		cfg.LearningMaxSamples = 200
	}
	if cfg.LearningMaxAgeDays == 0 {
		cfg.LearningMaxAgeDays = 90
	}
	if cfg.Presets == nil {
		cfg.Presets = map[string]float64{
			"home":  21,
			"away":  16,
			"sleep": 18,
		}
	}
	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = "heatctl"
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 8080
	}
	if cfg.StatsdNamespace == "" {
		cfg.StatsdNamespace = "heatctl."
	}
}

func (cfg *Config) validate() error {
	if cfg.MinTemp >= cfg.MaxTemp {
		return fmt.Errorf("min_temp %.1f must be below max_temp %.1f", cfg.MinTemp, cfg.MaxTemp)
	}
	if cfg.DefaultHysteresis <= 0 {
		return fmt.Errorf("default_hysteresis must be positive, got %.2f", cfg.DefaultHysteresis)
	}
	intervals := map[string]int{
		"control_interval_seconds":  cfg.ControlIntervalSeconds,
		"schedule_interval_seconds": cfg.ScheduleIntervalSeconds,
		"history_interval_seconds":  cfg.HistoryIntervalSeconds,
		"vacation_interval_minutes": cfg.VacationIntervalMinutes,
		"debounce_seconds":          cfg.DebounceSeconds,
		"attribution_seconds":       cfg.AttributionSeconds,
	}
	for name, value := range intervals {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}
	for name, temp := range cfg.Presets {
		if temp < cfg.MinTemp || temp > cfg.MaxTemp {
			return fmt.Errorf("preset %q temperature %.1f outside [%.1f, %.1f]", name, temp, cfg.MinTemp, cfg.MaxTemp)
		}
	}
	if cfg.MQTTBroker == "" && !cfg.Simulate {
		return fmt.Errorf("mqtt_broker is required")
	}
	return nil
}
