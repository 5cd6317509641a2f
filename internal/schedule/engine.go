// Package schedule resolves which schedule, if any, is active for a zone at
// a given instant. Matching is total and deterministic: date-specific entries
// win over weekly ones, and among weekly matches the latest start wins.
package schedule

import (
	"time"

	"github.com/heatctl/heatctl/internal/model"
)

// ActiveSchedule returns the winning schedule for the zone at now, or nil.
//
// Weekly windows with end before start cross midnight: they run from start
// to 24:00 on each scheduled day and from 00:00 to end on the following day,
// so a window anchored to day D is also checked against "yesterday" when
// evaluating the early hours of D+1.
func ActiveSchedule(zone *model.Zone, now time.Time) *model.Schedule {
	minute := now.Hour()*60 + now.Minute()
	today := int(now.Weekday())
	yesterday := (today + 6) % 7
	date := now.Format("2006-01-02")

	var best *model.Schedule
	bestStart := -1

	// Date-specific entries take precedence and never cross midnight.
	for i := range zone.Schedules {
		s := &zone.Schedules[i]
		if !s.Enabled || s.Date != date {
			continue
		}
		start, err1 := model.ParseClock(s.Start)
		end, err2 := model.ParseClock(s.End)
		if err1 != nil || err2 != nil {
			continue
		}
		if minute >= start && minute < end && start > bestStart {
			best = s
			bestStart = start
		}
	}
	if best != nil {
		return best
	}

	for i := range zone.Schedules {
		s := &zone.Schedules[i]
		if !s.Enabled || len(s.Days) == 0 {
			continue
		}
		start, err1 := model.ParseClock(s.Start)
		end, err2 := model.ParseClock(s.End)
		if err1 != nil || err2 != nil {
			continue
		}

		var active bool
		if end < start {
			active = (onDay(s.Days, today) && minute >= start) ||
				(onDay(s.Days, yesterday) && minute < end)
		} else {
			active = onDay(s.Days, today) && minute >= start && minute < end
		}
		if active && start > bestStart {
			best = s
			bestStart = start
		}
	}
	return best
}

// Apply resolves the active schedule and reports whether the winning id
// changed since the last cycle, updating the zone's de-dup marker. A nil
// schedule with a previously set marker also counts as a change.
func Apply(zone *model.Zone, now time.Time) (*model.Schedule, bool) {
	s := ActiveSchedule(zone, now)
	id := ""
	if s != nil {
		id = s.ID
	}
	changed := id != zone.LastScheduleID
	zone.LastScheduleID = id
	return s, changed
}

// EarliestMorning returns the schedule with the earliest start in
// [00:00, 12:00) that applies today, used by smart night boost to find the
// next morning window worth pre-heating for.
func EarliestMorning(zone *model.Zone, now time.Time) *model.Schedule {
	today := int(now.Weekday())
	date := now.Format("2006-01-02")

	var best *model.Schedule
	bestStart := 12 * 60

	for i := range zone.Schedules {
		s := &zone.Schedules[i]
		if !s.Enabled {
			continue
		}
		start, err := model.ParseClock(s.Start)
		if err != nil || start >= 12*60 {
			continue
		}
		applies := s.Date == date || (s.Date == "" && onDay(s.Days, today))
		if applies && start < bestStart {
			best = s
			bestStart = start
		}
	}
	return best
}

func onDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
