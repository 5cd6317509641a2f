package model

import (
	"fmt"
	"time"
)

// ValidationError describes a rejected configuration field. Malformed input
// is never silently coerced.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ParseClock parses "HH:MM" into minutes since midnight. Parsing is strict:
// exactly two digits, a colon, two digits.
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' || !allDigits(s[:2]) || !allDigits(s[3:]) {
		return 0, fmt.Errorf("bad clock time %q, want HH:MM", s)
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("clock time %q out of range", s)
	}
	return h*60 + m, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Validate checks the schedule's structural invariants.
func (s *Schedule) Validate() error {
	if _, err := ParseClock(s.Start); err != nil {
		return &ValidationError{Field: "start", Reason: err.Error()}
	}
	if _, err := ParseClock(s.End); err != nil {
		return &ValidationError{Field: "end", Reason: err.Error()}
	}
	hasDays := len(s.Days) > 0
	hasDate := s.Date != ""
	if hasDays == hasDate {
		return &ValidationError{Field: "days", Reason: "exactly one of days or date must be set"}
	}
	for _, d := range s.Days {
		if d < 0 || d > 6 {
			return &ValidationError{Field: "days", Reason: fmt.Sprintf("weekday index %d out of range 0..6", d)}
		}
	}
	if hasDate {
		if _, err := time.Parse("2006-01-02", s.Date); err != nil {
			return &ValidationError{Field: "date", Reason: err.Error()}
		}
		start, _ := ParseClock(s.Start)
		end, _ := ParseClock(s.End)
		if end <= start {
			return &ValidationError{Field: "end", Reason: "date-specific schedules may not cross midnight"}
		}
	}
	if (s.Temperature == nil) == (s.Preset == nil) {
		return &ValidationError{Field: "payload", Reason: "exactly one of temperature or preset must be set"}
	}
	return nil
}

// Validate checks device fields on creation.
func (d *Device) Validate() error {
	switch d.Kind {
	case KindThermostat, KindTempSensor, KindSwitch, KindValve, KindHeatSource:
	default:
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown device kind %q", d.Kind)}
	}
	if d.Capabilities.SupportsPosition && d.Capabilities.MaxPosition <= d.Capabilities.MinPosition {
		return &ValidationError{Field: "capabilities", Reason: "max_position must exceed min_position"}
	}
	return nil
}

// Validate checks the vacation window and night boost clock strings on a zone
// update. Device and schedule entries are validated separately on their own
// create paths.
func (z *Zone) Validate() error {
	if z.NightBoost.Enabled {
		if _, err := ParseClock(z.NightBoost.Start); err != nil {
			return &ValidationError{Field: "night_boost.start", Reason: err.Error()}
		}
		if _, err := ParseClock(z.NightBoost.End); err != nil {
			return &ValidationError{Field: "night_boost.end", Reason: err.Error()}
		}
	}
	switch z.HeatingType {
	case HeatingRadiator, HeatingFloor, "":
	default:
		return &ValidationError{Field: "heating_type", Reason: fmt.Sprintf("unknown heating type %q", z.HeatingType)}
	}
	if z.WindowSensor != nil {
		switch z.WindowSensor.Action {
		case WindowTurnOff, WindowReduceTemp:
		default:
			return &ValidationError{Field: "window_sensor.action", Reason: fmt.Sprintf("unknown action %q", z.WindowSensor.Action)}
		}
	}
	return nil
}
