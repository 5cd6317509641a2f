package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{MQTTBroker: "tcp://localhost:1883"}
	cfg.applyDefaults()
	return cfg
}

func TestDefaultsApplied(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, 0.5, cfg.DefaultHysteresis)
	assert.Equal(t, 5.0, cfg.MinTemp)
	assert.Equal(t, 30.0, cfg.MaxTemp)
	assert.Equal(t, 20.0, cfg.RadiatorOverhead)
	assert.Equal(t, 10.0, cfg.FloorOverhead)
	assert.Equal(t, 30, cfg.ControlIntervalSeconds)
	assert.Equal(t, 60, cfg.ScheduleIntervalSeconds)
	assert.Equal(t, 300, cfg.HistoryIntervalSeconds)
	assert.Equal(t, 60, cfg.VacationIntervalMinutes)
	assert.Equal(t, 21.0, cfg.Presets["home"])
	require.NoError(t, cfg.validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "min above max",
			mutate: func(c *Config) { c.MinTemp = 30; c.MaxTemp = 5 },
		},
		{
			name:   "negative hysteresis",
			mutate: func(c *Config) { c.DefaultHysteresis = -0.5 },
		},
		{
			name:   "preset outside clamp range",
			mutate: func(c *Config) { c.Presets["sauna"] = 60 },
		},
		{
			name:   "negative control interval",
			mutate: func(c *Config) { c.ControlIntervalSeconds = -30 },
		},
		{
			name:   "negative schedule interval",
			mutate: func(c *Config) { c.ScheduleIntervalSeconds = -1 },
		},
		{
			name:   "negative history interval",
			mutate: func(c *Config) { c.HistoryIntervalSeconds = -300 },
		},
		{
			name:   "negative vacation interval",
			mutate: func(c *Config) { c.VacationIntervalMinutes = -60 },
		},
		{
			name:   "negative debounce",
			mutate: func(c *Config) { c.DebounceSeconds = -2 },
		},
		{
			name:   "missing broker without simulate",
			mutate: func(c *Config) { c.MQTTBroker = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestSimulateModeNeedsNoBroker(t *testing.T) {
	cfg := &Config{Simulate: true}
	cfg.applyDefaults()
	assert.NoError(t, cfg.validate())
}
