// Package resolver computes the effective target temperature for a zone: a
// deterministic pipeline over safety, vacation, boost, schedules, presets,
// night boost and window overrides, clamped to the configured range.
package resolver

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heatctl/heatctl/internal/config"
	"github.com/heatctl/heatctl/internal/learning"
	"github.com/heatctl/heatctl/internal/model"
	"github.com/heatctl/heatctl/internal/schedule"
)

type Source string

const (
	SourceSafety     Source = "safety"
	SourceVacation   Source = "vacation"
	SourceBoost      Source = "boost"
	SourceSchedule   Source = "schedule"
	SourcePreset     Source = "preset"
	SourceBase       Source = "base"
	SourceNightBoost Source = "night_boost"
	SourceSmartBoost Source = "smart_night_boost"
	SourceWindow     Source = "window"
)

// Inputs carries the cross-zone state a single resolution depends on.
type Inputs struct {
	Safety   model.SafetyState
	Vacation *model.VacationState
	Outdoor  *float64
	// WindowOpen reports whether the bound window/door sensor is open.
	WindowOpen func(deviceID string) bool
}

type Resolver struct {
	cfg     *config.Config
	learner *learning.Model
}

func New(cfg *config.Config, learner *learning.Model) *Resolver {
	return &Resolver{cfg: cfg, learner: learner}
}

// Resolve returns the effective target for the zone at now and which layer
// fixed it. Night boost only applies when no schedule matched; smart night
// boost substitutes the upcoming schedule's temperature when the learned
// pre-heat window has begun.
func (r *Resolver) Resolve(zone *model.Zone, now time.Time, in Inputs) (float64, Source) {
	if in.Safety.Active {
		return r.cfg.MinTemp, SourceSafety
	}

	if in.Vacation.Covers(now) {
		temp, ok := r.cfg.Presets[in.Vacation.Preset]
		if !ok {
			temp = r.cfg.MinTemp
		}
		if in.Vacation.FrostFloor > temp {
			temp = in.Vacation.FrostFloor
		}
		return r.clamp(temp), SourceVacation
	}

	if zone.Boost != nil && now.Before(zone.Boost.Expiry) {
		return r.clamp(zone.Boost.Target), SourceBoost
	}

	candidate := zone.BaseTarget
	source := SourceBase
	scheduleMatched := false

	if s := schedule.ActiveSchedule(zone, now); s != nil {
		if temp, ok := r.schedulePayload(zone, s); ok {
			candidate = temp
			source = SourceSchedule
			scheduleMatched = true
		}
	}

	if !scheduleMatched && zone.ActivePreset != nil {
		if temp, ok := zone.PresetTemp(*zone.ActivePreset, r.cfg.Presets); ok {
			candidate = temp
			source = SourcePreset
		} else {
			log.Warn().Str("zone", zone.ID).Str("preset", *zone.ActivePreset).Msg("Unknown active preset, using base target")
		}
	}

	if !scheduleMatched && zone.NightBoost.Enabled {
		if boosted, src, ok := r.nightBoost(zone, now, candidate, in.Outdoor); ok {
			candidate = boosted
			source = src
		}
	}

	if zone.WindowSensor != nil && in.WindowOpen != nil && in.WindowOpen(zone.WindowSensor.DeviceID) {
		switch zone.WindowSensor.Action {
		case model.WindowTurnOff:
			candidate = r.cfg.MinTemp
			source = SourceWindow
		case model.WindowReduceTemp:
			candidate -= zone.WindowSensor.Delta
		}
	}

	return r.clamp(candidate), source
}

func (r *Resolver) schedulePayload(zone *model.Zone, s *model.Schedule) (float64, bool) {
	if s.Temperature != nil {
		return *s.Temperature, true
	}
	if s.Preset != nil {
		if temp, ok := zone.PresetTemp(*s.Preset, r.cfg.Presets); ok {
			return temp, true
		}
		log.Warn().Str("zone", zone.ID).Str("schedule", s.ID).Str("preset", *s.Preset).Msg("Schedule references unknown preset")
	}
	return 0, false
}

func (r *Resolver) nightBoost(zone *model.Zone, now time.Time, candidate float64, outdoor *float64) (float64, Source, bool) {
	if !zone.NightBoost.Smart {
		start, err1 := model.ParseClock(zone.NightBoost.Start)
		end, err2 := model.ParseClock(zone.NightBoost.End)
		if err1 != nil || err2 != nil {
			return 0, "", false
		}
		minute := now.Hour()*60 + now.Minute()
		if inWindow(minute, start, end) {
			return candidate + zone.NightBoost.Offset, SourceNightBoost, true
		}
		return 0, "", false
	}

	// Smart: pre-heat toward the earliest morning schedule when the
	// predicted duration says it is time. Unknown predictions never boost.
	if zone.CurrentTemp == nil || outdoor == nil {
		return 0, "", false
	}
	next := schedule.EarliestMorning(zone, now)
	if next == nil {
		return 0, "", false
	}
	target, ok := r.schedulePayload(zone, next)
	if !ok {
		return 0, "", false
	}
	startMin, err := model.ParseClock(next.Start)
	if err != nil {
		return 0, "", false
	}
	startAt := time.Date(now.Year(), now.Month(), now.Day(), startMin/60, startMin%60, 0, 0, now.Location())
	if !now.Before(startAt) {
		return 0, "", false
	}
	predicted, ok := r.learner.Predict(zone.ID, *zone.CurrentTemp, target, *outdoor)
	if !ok {
		return 0, "", false
	}
	if startAt.Sub(now) <= predicted {
		return target, SourceSmartBoost, true
	}
	return 0, "", false
}

func (r *Resolver) clamp(t float64) float64 {
	if t < r.cfg.MinTemp {
		return r.cfg.MinTemp
	}
	if t > r.cfg.MaxTemp {
		return r.cfg.MaxTemp
	}
	return t
}

// inWindow is midnight-aware: end before start wraps around 24:00.
func inWindow(minute, start, end int) bool {
	if end < start {
		return minute >= start || minute < end
	}
	return minute >= start && minute < end
}
