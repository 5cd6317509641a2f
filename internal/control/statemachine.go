package control

import "github.com/heatctl/heatctl/internal/model"

// NextState evaluates the per-zone heating state machine for one control
// cycle. The dead-band between target-h and target retains the previous
// HEATING/IDLE verdict so the output never chatters inside the band. A nil
// current reading skips the comparison entirely rather than forcing OFF.
func NextState(prev model.ZoneState, enabled, manual bool, current *float64, target, hysteresis float64) model.ZoneState {
	if !enabled {
		return model.StateOff
	}
	if manual {
		return model.StateManual
	}

	// Re-entering automatic control from OFF/MANUAL starts at IDLE.
	held := prev
	if held != model.StateHeating {
		held = model.StateIdle
	}

	if current == nil {
		return held
	}

	switch {
	case *current < target-hysteresis:
		return model.StateHeating
	case *current >= target:
		return model.StateIdle
	default:
		return held
	}
}
