package model

import "time"

type ZoneState string

const (
	StateOff     ZoneState = "off"
	StateIdle    ZoneState = "idle"
	StateHeating ZoneState = "heating"
	StateManual  ZoneState = "manual"
)

type HeatingType string

const (
	HeatingRadiator HeatingType = "radiator"
	HeatingFloor    HeatingType = "floor"
)

type DeviceKind string

const (
	KindThermostat DeviceKind = "thermostat"
	KindTempSensor DeviceKind = "temperature_sensor"
	KindSwitch     DeviceKind = "switch"
	KindValve      DeviceKind = "valve"
	KindHeatSource DeviceKind = "heat_source"
)

type WindowAction string

const (
	WindowTurnOff    WindowAction = "turn_off"
	WindowReduceTemp WindowAction = "reduce_temperature"
)

type Zone struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Enabled          bool               `json:"enabled"`
	Hidden           bool               `json:"hidden"`
	BaseTarget       float64            `json:"base_target"`
	CurrentTemp      *float64           `json:"current_temp,omitempty"`
	CurrentStale     bool               `json:"current_stale,omitempty"`
	Hysteresis       *float64           `json:"hysteresis,omitempty"` // nil falls back to the global default
	HeatingType      HeatingType        `json:"heating_type"`
	ManualOverride   bool               `json:"manual_override"`
	ActivePreset     *string            `json:"active_preset,omitempty"`
	Boost            *Boost             `json:"boost,omitempty"`
	NightBoost       NightBoost         `json:"night_boost"`
	WindowSensor     *WindowSensor      `json:"window_sensor,omitempty"`
	Presets          map[string]float64 `json:"presets,omitempty"` // per-zone overrides of the global table
	Devices          []Device           `json:"devices"`
	Schedules        []Schedule         `json:"schedules"`
	ShutdownWhenIdle bool               `json:"shutdown_when_idle"`

	State          ZoneState `json:"state"`
	LastScheduleID string    `json:"last_schedule_id,omitempty"`
}

type Boost struct {
	Target float64   `json:"target"`
	Expiry time.Time `json:"expiry"`
}

// NightBoost raises the target during the night window when no schedule is
// active. With Smart set, the fixed offset is replaced by a learned pre-heat
// toward the first morning schedule.
type NightBoost struct {
	Enabled bool    `json:"enabled"`
	Offset  float64 `json:"offset"`
	Start   string  `json:"start"` // "HH:MM"
	End     string  `json:"end"`
	Smart   bool    `json:"smart"`
}

type WindowSensor struct {
	DeviceID string       `json:"device_id"`
	Action   WindowAction `json:"action"`
	Delta    float64      `json:"delta,omitempty"` // subtracted for reduce_temperature
}

type Capabilities struct {
	SupportsPosition    bool    `json:"supports_position"`
	SupportsTemperature bool    `json:"supports_temperature"`
	MinPosition         float64 `json:"min_position"`
	MaxPosition         float64 `json:"max_position"`
}

type Device struct {
	ID            string       `json:"id"`
	Kind          DeviceKind   `json:"kind"`
	Capabilities  Capabilities `json:"capabilities"`
	LastCommanded *float64     `json:"last_commanded,omitempty"`
	ZoneID        string       `json:"zone_id,omitempty"` // empty for the shared heat source
}

// Schedule is a recurring or date-specific target window. Exactly one of
// Days or Date is set, and exactly one of Temperature or Preset. End earlier
// than Start means the window crosses midnight.
type Schedule struct {
	ID          string   `json:"id"`
	Start       string   `json:"start"` // "HH:MM"
	End         string   `json:"end"`
	Days        []int    `json:"days,omitempty"` // time.Weekday values, 0=Sunday
	Date        string   `json:"date,omitempty"` // "2006-01-02"
	Temperature *float64 `json:"temperature,omitempty"`
	Preset      *string  `json:"preset,omitempty"`
	Enabled     bool     `json:"enabled"`
}

type LearningSample struct {
	StartTemp   float64       `json:"start_temp"`
	TargetTemp  float64       `json:"target_temp"`
	OutdoorTemp float64       `json:"outdoor_temp"`
	Duration    time.Duration `json:"duration"`
	RecordedAt  time.Time     `json:"recorded_at"`
}

type SafetyState struct {
	Active   bool      `json:"active"`
	SensorID string    `json:"sensor_id,omitempty"`
	Since    time.Time `json:"since,omitempty"`
}

type VacationState struct {
	Start                time.Time       `json:"start"`
	End                  time.Time       `json:"end"`
	Preset               string          `json:"preset"`
	FrostFloor           float64         `json:"frost_floor,omitempty"`
	AutoDisableOnArrival bool            `json:"auto_disable_on_arrival"`
	EnabledSnapshot      map[string]bool `json:"enabled_snapshot,omitempty"`
}

// Covers reports whether now falls inside the vacation window.
func (v *VacationState) Covers(now time.Time) bool {
	if v == nil {
		return false
	}
	return !now.Before(v.Start) && now.Before(v.End)
}

// EffectiveHysteresis returns the zone override or the given default.
func (z *Zone) EffectiveHysteresis(def float64) float64 {
	if z.Hysteresis != nil {
		return *z.Hysteresis
	}
	return def
}

// PresetTemp resolves a preset name against the zone table first, then the
// global table. The second return is false when the name is unknown to both.
func (z *Zone) PresetTemp(name string, global map[string]float64) (float64, bool) {
	if t, ok := z.Presets[name]; ok {
		return t, true
	}
	t, ok := global[name]
	return t, ok
}

// DeviceByID returns the bound device with the given id, or nil.
func (z *Zone) DeviceByID(id string) *Device {
	for i := range z.Devices {
		if z.Devices[i].ID == id {
			return &z.Devices[i]
		}
	}
	return nil
}
