// Package vacation manages the scheduled whole-house override. Zones stay
// enabled during the window; the resolver substitutes the vacation preset
// for every zone's target instead.
package vacation

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heatctl/heatctl/internal/model"
)

type Manager struct {
	state *model.VacationState
}

func NewManager() *Manager { return &Manager{} }

func (m *Manager) State() *model.VacationState { return m.state }

// Restore loads persisted vacation state.
func (m *Manager) Restore(s *model.VacationState) { m.state = s }

// Set replaces the vacation window. A window already in progress snapshots
// on the next Check.
func (m *Manager) Set(s model.VacationState) {
	s.EnabledSnapshot = nil
	m.state = &s
}

// Clear removes the vacation window entirely.
func (m *Manager) Clear() { m.state = nil }

// Check runs the periodic vacation transition. Entering the window takes a
// snapshot of every zone's enabled flag; leaving it discards the snapshot so
// normal per-zone resolution resumes. Returns true when state changed and
// should be persisted.
func (m *Manager) Check(zones []*model.Zone, now time.Time) bool {
	if m.state == nil {
		return false
	}

	covered := m.state.Covers(now)
	hasSnapshot := m.state.EnabledSnapshot != nil

	switch {
	case covered && !hasSnapshot:
		snap := make(map[string]bool, len(zones))
		for _, z := range zones {
			snap[z.ID] = z.Enabled
		}
		m.state.EnabledSnapshot = snap
		log.Info().
			Time("start", m.state.Start).
			Time("end", m.state.End).
			Str("preset", m.state.Preset).
			Msg("Vacation window entered")
		return true
	case !covered && hasSnapshot:
		m.state.EnabledSnapshot = nil
		if now.After(m.state.End) {
			m.state = nil
		}
		log.Info().Msg("Vacation window left, resuming normal resolution")
		return true
	}
	return false
}

// Arrive handles an early-arrival signal. With auto-disable set the window
// ends immediately.
func (m *Manager) Arrive(now time.Time) bool {
	if m.state == nil || !m.state.Covers(now) {
		return false
	}
	if !m.state.AutoDisableOnArrival {
		return false
	}
	log.Info().Msg("Arrival signal, ending vacation early")
	m.state = nil
	return true
}
