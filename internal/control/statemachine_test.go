package control

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heatctl/heatctl/internal/model"
)

func f(v float64) *float64 { return &v }

func TestNextState(t *testing.T) {
	tests := []struct {
		name    string
		prev    model.ZoneState
		enabled bool
		manual  bool
		current *float64
		target  float64
		hyst    float64
		want    model.ZoneState
	}{
		{
			name:    "disabled zone is off",
			prev:    model.StateHeating,
			enabled: false,
			current: f(15),
			target:  21,
			hyst:    0.5,
			want:    model.StateOff,
		},
		{
			name:    "manual override wins over readings",
			prev:    model.StateIdle,
			enabled: true,
			manual:  true,
			current: f(15),
			target:  21,
			hyst:    0.5,
			want:    model.StateManual,
		},
		{
			name:    "cold starts heating",
			prev:    model.StateIdle,
			enabled: true,
			current: f(19.0),
			target:  21,
			hyst:    0.5,
			want:    model.StateHeating,
		},
		{
			name:    "at target goes idle",
			prev:    model.StateHeating,
			enabled: true,
			current: f(21.0),
			target:  21,
			hyst:    0.5,
			want:    model.StateIdle,
		},
		{
			name:    "dead-band keeps heating",
			prev:    model.StateHeating,
			enabled: true,
			current: f(20.7),
			target:  21,
			hyst:    0.5,
			want:    model.StateHeating,
		},
		{
			name:    "dead-band keeps idle",
			prev:    model.StateIdle,
			enabled: true,
			current: f(20.7),
			target:  21,
			hyst:    0.5,
			want:    model.StateIdle,
		},
		{
			name:    "missing reading retains heating",
			prev:    model.StateHeating,
			enabled: true,
			current: nil,
			target:  21,
			hyst:    0.5,
			want:    model.StateHeating,
		},
		{
			name:    "missing reading after re-enable settles idle",
			prev:    model.StateOff,
			enabled: true,
			current: nil,
			target:  21,
			hyst:    0.5,
			want:    model.StateIdle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextState(tt.prev, tt.enabled, tt.manual, tt.current, tt.target, tt.hyst)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Readings rising 19.0, 20.0, 20.6, 21.0 against target 21.0/h=0.5 must
// produce HEATING, HEATING, HEATING, IDLE: the off threshold is current >=
// target, not target-h.
func TestNextStateHysteresisScenario(t *testing.T) {
	state := model.ZoneState(model.StateIdle)
	readings := []float64{19.0, 20.0, 20.6, 21.0}
	want := []model.ZoneState{model.StateHeating, model.StateHeating, model.StateHeating, model.StateIdle}

	for i, reading := range readings {
		state = NextState(state, true, false, f(reading), 21.0, 0.5)
		assert.Equalf(t, want[i], state, "reading %.1f", reading)
	}
}

// Once heating, the state holds anywhere inside the band and only drops at
// the target; once idle it holds until current falls below target-h.
func TestNextStateNoOscillationInsideBand(t *testing.T) {
	state := NextState(model.StateIdle, true, false, f(20.0), 21.0, 0.5)
	assert.Equal(t, model.StateHeating, state)

	for _, reading := range []float64{20.6, 20.9, 20.5, 20.99} {
		state = NextState(state, true, false, f(reading), 21.0, 0.5)
		assert.Equal(t, model.StateHeating, state)
	}

	state = NextState(state, true, false, f(21.0), 21.0, 0.5)
	assert.Equal(t, model.StateIdle, state)

	for _, reading := range []float64{20.9, 20.51, 20.5} {
		state = NextState(state, true, false, f(reading), 21.0, 0.5)
		assert.Equal(t, model.StateIdle, state)
	}

	state = NextState(state, true, false, f(20.49), 21.0, 0.5)
	assert.Equal(t, model.StateHeating, state)
}
