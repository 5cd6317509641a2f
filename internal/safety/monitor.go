// Package safety implements the sticky all-zone emergency shutdown. A hazard
// sensor reaching its alert value disables every zone; recovery is only ever
// explicit, via per-zone re-enable once no sensor remains in alert.
package safety

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heatctl/heatctl/internal/model"
)

type Monitor struct {
	thresholds map[string]float64
	state      model.SafetyState
}

func NewMonitor(thresholds map[string]float64) *Monitor {
	if thresholds == nil {
		thresholds = make(map[string]float64)
	}
	return &Monitor{thresholds: thresholds}
}

func (m *Monitor) State() model.SafetyState { return m.state }

// Restore loads persisted safety state; shutdown survives restarts.
func (m *Monitor) Restore(s model.SafetyState) { m.state = s }

// SetSensor configures or updates a hazard sensor's alert threshold.
func (m *Monitor) SetSensor(sensorID string, threshold float64) {
	m.thresholds[sensorID] = threshold
}

func (m *Monitor) RemoveSensor(sensorID string) {
	delete(m.thresholds, sensorID)
}

func (m *Monitor) Sensors() map[string]float64 { return m.thresholds }

// IsHazardSensor reports whether readings from this sensor must preempt the
// control cycle.
func (m *Monitor) IsHazardSensor(sensorID string) bool {
	_, ok := m.thresholds[sensorID]
	return ok
}

// Check evaluates a hazard sensor reading. On the first reading at or above
// the alert value it activates the shutdown and returns true; the caller
// disables all zones, persists and broadcasts.
func (m *Monitor) Check(sensorID string, value float64, now time.Time) bool {
	threshold, ok := m.thresholds[sensorID]
	if !ok || value < threshold {
		return false
	}
	if m.state.Active {
		return false
	}
	m.state = model.SafetyState{Active: true, SensorID: sensorID, Since: now}
	log.Error().
		Str("sensor", sensorID).
		Float64("value", value).
		Float64("threshold", threshold).
		Msg("Hazard sensor alert, activating safety shutdown")
	return true
}

// ClearIfSafe clears the shutdown when no configured sensor still reads at
// or above its alert value. Called from the explicit zone re-enable path;
// the shutdown never clears on its own.
func (m *Monitor) ClearIfSafe(read func(sensorID string) (float64, bool)) bool {
	if !m.state.Active {
		return false
	}
	for id, threshold := range m.thresholds {
		if value, ok := read(id); ok && value >= threshold {
			log.Warn().Str("sensor", id).Float64("value", value).Msg("Hazard sensor still in alert, safety shutdown stays active")
			return false
		}
	}
	m.state = model.SafetyState{}
	log.Info().Msg("Safety shutdown cleared")
	return true
}
