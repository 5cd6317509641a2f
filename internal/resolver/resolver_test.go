package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatctl/heatctl/internal/config"
	"github.com/heatctl/heatctl/internal/learning"
	"github.com/heatctl/heatctl/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		MinTemp: 5,
		MaxTemp: 30,
		Presets: map[string]float64{
			"home":  21,
			"away":  16,
			"sleep": 18,
		},
	}
}

func newResolver() *Resolver {
	return New(testConfig(), learning.New(5, 200, 90*24*time.Hour))
}

func temp(v float64) *float64 { return &v }

func strptr(s string) *string { return &s }

// Wednesday
var wedNoon = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func TestResolvePrecedence(t *testing.T) {
	home := "home"
	vacation := &model.VacationState{
		Start:      time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
		Preset:     "away",
		FrostFloor: 7,
	}

	tests := []struct {
		name       string
		zone       model.Zone
		in         Inputs
		wantTarget float64
		wantSource Source
	}{
		{
			name:       "safety wins over everything",
			zone:       model.Zone{BaseTarget: 21, Boost: &model.Boost{Target: 25, Expiry: wedNoon.Add(time.Hour)}},
			in:         Inputs{Safety: model.SafetyState{Active: true}, Vacation: vacation},
			wantTarget: 5,
			wantSource: SourceSafety,
		},
		{
			name:       "vacation resolves its preset",
			zone:       model.Zone{BaseTarget: 21, ActivePreset: &home},
			in:         Inputs{Vacation: vacation},
			wantTarget: 16,
			wantSource: SourceVacation,
		},
		{
			name: "vacation frost floor raises a low preset",
			zone: model.Zone{BaseTarget: 21},
			in: Inputs{Vacation: &model.VacationState{
				Start:      vacation.Start,
				End:        vacation.End,
				Preset:     "unknown",
				FrostFloor: 7,
			}},
			wantTarget: 7,
			wantSource: SourceVacation,
		},
		{
			name:       "boost wins over schedule",
			zone:       scheduledZone(&model.Boost{Target: 25, Expiry: wedNoon.Add(30 * time.Minute)}),
			in:         Inputs{},
			wantTarget: 25,
			wantSource: SourceBoost,
		},
		{
			name:       "expired boost falls through to schedule",
			zone:       scheduledZone(&model.Boost{Target: 25, Expiry: wedNoon.Add(-time.Minute)}),
			in:         Inputs{},
			wantTarget: 17,
			wantSource: SourceSchedule,
		},
		{
			name: "schedule wins over preset",
			zone: model.Zone{
				BaseTarget:   21,
				ActivePreset: &home,
				Schedules: []model.Schedule{
					{ID: "s1", Start: "09:00", End: "17:00", Days: []int{3}, Temperature: temp(17), Enabled: true},
				},
			},
			in:         Inputs{},
			wantTarget: 17,
			wantSource: SourceSchedule,
		},
		{
			name:       "preset wins over base",
			zone:       model.Zone{BaseTarget: 19, ActivePreset: &home},
			in:         Inputs{},
			wantTarget: 21,
			wantSource: SourcePreset,
		},
		{
			name: "zone preset table overrides the global one",
			zone: model.Zone{
				BaseTarget:   19,
				ActivePreset: &home,
				Presets:      map[string]float64{"home": 22.5},
			},
			in:         Inputs{},
			wantTarget: 22.5,
			wantSource: SourcePreset,
		},
		{
			name:       "unknown preset falls back to base with a warning",
			zone:       model.Zone{BaseTarget: 19, ActivePreset: strptr("party")},
			in:         Inputs{},
			wantTarget: 19,
			wantSource: SourceBase,
		},
		{
			name:       "base target when nothing else applies",
			zone:       model.Zone{BaseTarget: 20.5},
			in:         Inputs{},
			wantTarget: 20.5,
			wantSource: SourceBase,
		},
	}

	r := newResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, source := r.Resolve(&tt.zone, wedNoon, tt.in)
			assert.Equal(t, tt.wantTarget, got)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func scheduledZone(boost *model.Boost) model.Zone {
	return model.Zone{
		BaseTarget: 21,
		Boost:      boost,
		Schedules: []model.Schedule{
			{ID: "s1", Start: "09:00", End: "17:00", Days: []int{3}, Temperature: temp(17), Enabled: true},
		},
	}
}

func TestSchedulePresetPayload(t *testing.T) {
	r := newResolver()
	zone := model.Zone{
		BaseTarget: 19,
		Schedules: []model.Schedule{
			{ID: "s1", Start: "09:00", End: "17:00", Days: []int{3}, Preset: strptr("sleep"), Enabled: true},
		},
	}

	got, source := r.Resolve(&zone, wedNoon, Inputs{})
	assert.Equal(t, 18.0, got)
	assert.Equal(t, SourceSchedule, source)

	// A schedule pointing at an unknown preset contributes nothing.
	zone.Schedules[0].Preset = strptr("party")
	got, source = r.Resolve(&zone, wedNoon, Inputs{})
	assert.Equal(t, 19.0, got)
	assert.Equal(t, SourceBase, source)
}

func TestFixedNightBoost(t *testing.T) {
	r := newResolver()
	zone := model.Zone{
		BaseTarget: 18,
		NightBoost: model.NightBoost{Enabled: true, Offset: 2, Start: "22:00", End: "06:00"},
	}

	// Inside the cross-midnight window.
	at := time.Date(2025, 1, 15, 23, 30, 0, 0, time.UTC)
	got, source := r.Resolve(&zone, at, Inputs{})
	assert.Equal(t, 20.0, got)
	assert.Equal(t, SourceNightBoost, source)

	// Early morning side of the window.
	at = time.Date(2025, 1, 15, 5, 0, 0, 0, time.UTC)
	got, source = r.Resolve(&zone, at, Inputs{})
	assert.Equal(t, 20.0, got)
	assert.Equal(t, SourceNightBoost, source)

	// Outside the window.
	got, source = r.Resolve(&zone, wedNoon, Inputs{})
	assert.Equal(t, 18.0, got)
	assert.Equal(t, SourceBase, source)
}

func TestNightBoostSuppressedByActiveSchedule(t *testing.T) {
	r := newResolver()
	zone := model.Zone{
		BaseTarget: 18,
		NightBoost: model.NightBoost{Enabled: true, Offset: 2, Start: "22:00", End: "06:00"},
		Schedules: []model.Schedule{
			// Tuesday 22:00 to Wednesday 07:00 covers the whole boost window.
			{ID: "night", Start: "22:00", End: "07:00", Days: []int{2}, Temperature: temp(16), Enabled: true},
		},
	}

	at := time.Date(2025, 1, 14, 23, 30, 0, 0, time.UTC) // Tuesday night
	got, source := r.Resolve(&zone, at, Inputs{})
	assert.Equal(t, 16.0, got)
	assert.Equal(t, SourceSchedule, source)
}

func TestSmartNightBoost(t *testing.T) {
	learner := learning.New(5, 200, 90*24*time.Hour)
	r := New(testConfig(), learner)

	// Roughly 30 minutes per degree of deficit, constant outdoor conditions.
	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		learner.Record("z1", model.LearningSample{
			StartTemp:   21 - float64(i),
			TargetTemp:  21,
			OutdoorTemp: 0,
			Duration:    time.Duration(i) * 30 * time.Minute,
			RecordedAt:  base.AddDate(0, 0, i),
		})
	}

	outdoor := 0.0
	zone := model.Zone{
		ID:          "z1",
		BaseTarget:  17,
		CurrentTemp: temp(17),
		NightBoost:  model.NightBoost{Enabled: true, Smart: true, Start: "22:00", End: "06:00"},
		Schedules: []model.Schedule{
			{ID: "morning", Start: "06:00", End: "08:00", Days: []int{3}, Temperature: temp(21), Enabled: true},
		},
	}
	in := Inputs{Outdoor: &outdoor}

	// Deficit 4 predicts about 120 minutes. At 05:00 only 60 remain, so the
	// pre-heat has begun and the schedule temperature substitutes.
	at := time.Date(2025, 1, 15, 5, 0, 0, 0, time.UTC)
	got, source := r.Resolve(&zone, at, in)
	assert.Equal(t, 21.0, got)
	assert.Equal(t, SourceSmartBoost, source)

	// At 02:00 there are 240 minutes left, no need to start yet.
	at = time.Date(2025, 1, 15, 2, 0, 0, 0, time.UTC)
	got, source = r.Resolve(&zone, at, in)
	assert.Equal(t, 17.0, got)
	assert.Equal(t, SourceBase, source)
}

func TestSmartNightBoostFailsClosed(t *testing.T) {
	learner := learning.New(5, 200, 90*24*time.Hour)
	r := New(testConfig(), learner)

	outdoor := 0.0
	zone := model.Zone{
		ID:          "z1",
		BaseTarget:  17,
		CurrentTemp: temp(17),
		NightBoost:  model.NightBoost{Enabled: true, Smart: true, Start: "22:00", End: "06:00"},
		Schedules: []model.Schedule{
			{ID: "morning", Start: "06:00", End: "08:00", Days: []int{3}, Temperature: temp(21), Enabled: true},
		},
	}
	at := time.Date(2025, 1, 15, 5, 0, 0, 0, time.UTC)

	// No samples at all: prediction is unknown, never guess.
	got, source := r.Resolve(&zone, at, Inputs{Outdoor: &outdoor})
	assert.Equal(t, 17.0, got)
	assert.Equal(t, SourceBase, source)

	// Missing outdoor reading also blocks the prediction.
	for i := 1; i <= 5; i++ {
		learner.Record("z1", model.LearningSample{
			StartTemp: 20, TargetTemp: 21, OutdoorTemp: 0,
			Duration:   30 * time.Minute,
			RecordedAt: at.AddDate(0, 0, -i),
		})
	}
	got, source = r.Resolve(&zone, at, Inputs{})
	assert.Equal(t, 17.0, got)
	assert.Equal(t, SourceBase, source)

	// Missing current temperature blocks it too.
	zone.CurrentTemp = nil
	got, source = r.Resolve(&zone, at, Inputs{Outdoor: &outdoor})
	assert.Equal(t, 17.0, got)
	assert.Equal(t, SourceBase, source)
}

func TestWindowSensorActions(t *testing.T) {
	r := newResolver()
	open := func(string) bool { return true }
	closed := func(string) bool { return false }

	zone := model.Zone{
		BaseTarget:   21,
		WindowSensor: &model.WindowSensor{DeviceID: "win-1", Action: model.WindowTurnOff},
	}

	got, source := r.Resolve(&zone, wedNoon, Inputs{WindowOpen: open})
	assert.Equal(t, 5.0, got, "open window with turn_off drops to the floor")
	assert.Equal(t, SourceWindow, source)

	got, _ = r.Resolve(&zone, wedNoon, Inputs{WindowOpen: closed})
	assert.Equal(t, 21.0, got)

	zone.WindowSensor.Action = model.WindowReduceTemp
	zone.WindowSensor.Delta = 3
	got, _ = r.Resolve(&zone, wedNoon, Inputs{WindowOpen: open})
	assert.Equal(t, 18.0, got)
}

func TestClampToConfiguredRange(t *testing.T) {
	r := newResolver()

	zone := model.Zone{
		BaseTarget: 21,
		Boost:      &model.Boost{Target: 45, Expiry: wedNoon.Add(time.Hour)},
	}
	got, _ := r.Resolve(&zone, wedNoon, Inputs{})
	assert.Equal(t, 30.0, got)

	zone = model.Zone{
		BaseTarget:   6,
		WindowSensor: &model.WindowSensor{DeviceID: "win-1", Action: model.WindowReduceTemp, Delta: 4},
	}
	got, _ = r.Resolve(&zone, wedNoon, Inputs{WindowOpen: func(string) bool { return true }})
	assert.Equal(t, 5.0, got)
}

func TestVacationZonesStayResolvable(t *testing.T) {
	r := newResolver()
	vacation := &model.VacationState{
		Start:  time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
		Preset: "away",
	}
	zone := model.Zone{BaseTarget: 21}

	got, source := r.Resolve(&zone, wedNoon, Inputs{Vacation: vacation})
	require.Equal(t, SourceVacation, source)
	assert.Equal(t, 16.0, got)

	// The day the window ends, normal resolution resumes.
	after := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	got, source = r.Resolve(&zone, after, Inputs{Vacation: vacation})
	assert.Equal(t, SourceBase, source)
	assert.Equal(t, 21.0, got)
}
