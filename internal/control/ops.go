package control

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/heatctl/heatctl/internal/history"
	"github.com/heatctl/heatctl/internal/learning"
	"github.com/heatctl/heatctl/internal/model"
)

var ErrNotFound = errors.New("not found")

// ZoneExport is the round-trippable configuration of one zone: importing an
// export yields an equivalent zone with the same devices, schedules and
// presets.
type ZoneExport struct {
	Zone model.Zone `json:"zone"`
}

// Snapshot returns a deep copy of every zone, safe to serialize outside the
// actor goroutine.
func (e *Engine) Snapshot() []model.Zone {
	var out []model.Zone
	e.Do(func() error {
		out = e.snapshotLocked()
		return nil
	})
	return out
}

func (e *Engine) snapshotLocked() []model.Zone {
	out := make([]model.Zone, 0, len(e.zones))
	for _, zone := range e.zones {
		out = append(out, cloneZone(zone))
	}
	return out
}

func cloneZone(z *model.Zone) model.Zone {
	c := *z
	c.Devices = append([]model.Device(nil), z.Devices...)
	c.Schedules = make([]model.Schedule, len(z.Schedules))
	for i, s := range z.Schedules {
		c.Schedules[i] = cloneSchedule(s)
	}
	if z.Presets != nil {
		c.Presets = make(map[string]float64, len(z.Presets))
		for k, v := range z.Presets {
			c.Presets[k] = v
		}
	}
	if z.CurrentTemp != nil {
		v := *z.CurrentTemp
		c.CurrentTemp = &v
	}
	if z.Hysteresis != nil {
		v := *z.Hysteresis
		c.Hysteresis = &v
	}
	if z.ActivePreset != nil {
		v := *z.ActivePreset
		c.ActivePreset = &v
	}
	if z.Boost != nil {
		v := *z.Boost
		c.Boost = &v
	}
	if z.WindowSensor != nil {
		v := *z.WindowSensor
		c.WindowSensor = &v
	}
	return c
}

func cloneSchedule(s model.Schedule) model.Schedule {
	c := s
	c.Days = append([]int(nil), s.Days...)
	if s.Temperature != nil {
		v := *s.Temperature
		c.Temperature = &v
	}
	if s.Preset != nil {
		v := *s.Preset
		c.Preset = &v
	}
	return c
}

func (e *Engine) findZone(id string) (*model.Zone, error) {
	for _, zone := range e.zones {
		if zone.ID == id {
			return zone, nil
		}
	}
	return nil, fmt.Errorf("zone %s: %w", id, ErrNotFound)
}

// Zone returns a copy of one zone.
func (e *Engine) Zone(id string) (model.Zone, error) {
	var out model.Zone
	err := e.Do(func() error {
		zone, err := e.findZone(id)
		if err != nil {
			return err
		}
		out = cloneZone(zone)
		return nil
	})
	return out, err
}

// CreateZone registers a new zone with defaults applied.
func (e *Engine) CreateZone(z model.Zone) (model.Zone, error) {
	var out model.Zone
	err := e.Do(func() error {
		if err := z.Validate(); err != nil {
			return err
		}
		if z.ID == "" {
			z.ID = uuid.NewString()
		}
		if _, err := e.findZone(z.ID); err == nil {
			return fmt.Errorf("zone %s already exists", z.ID)
		}
		if z.HeatingType == "" {
			z.HeatingType = model.HeatingRadiator
		}
		z.State = model.StateOff
		if z.Enabled {
			z.State = model.StateIdle
		}
		for i := range z.Devices {
			z.Devices[i].ZoneID = z.ID
		}
		zone := z
		e.zones = append(e.zones, &zone)
		e.saveZones()
		log.Info().Str("zone", zone.ID).Str("name", zone.Name).Msg("Zone created")
		out = cloneZone(&zone)
		return nil
	})
	return out, err
}

// UpdateZone replaces mutable configuration fields.
func (e *Engine) UpdateZone(id string, upd model.Zone) error {
	return e.Do(func() error {
		zone, err := e.findZone(id)
		if err != nil {
			return err
		}
		if err := upd.Validate(); err != nil {
			return err
		}
		zone.Name = upd.Name
		zone.Hidden = upd.Hidden
		zone.HeatingType = upd.HeatingType
		zone.ShutdownWhenIdle = upd.ShutdownWhenIdle
		zone.WindowSensor = upd.WindowSensor
		zone.Presets = upd.Presets
		e.saveZones()
		return nil
	})
}

// DeleteZone removes the zone and cascades its bindings.
func (e *Engine) DeleteZone(id string) error {
	return e.Do(func() error {
		for i, zone := range e.zones {
			if zone.ID != id {
				continue
			}
			for j := range zone.Devices {
				e.det.Forget(zone.Devices[j].ID)
			}
			e.zones = append(e.zones[:i], e.zones[i+1:]...)
			e.learner.DropZone(id)
			e.saveZones()
			e.saveLearning()
			if e.hist != nil {
				if err := e.hist.DropZone(id); err != nil {
					log.Warn().Err(err).Str("zone", id).Msg("Failed to drop zone history")
				}
			}
			delete(e.heatStarts, id)
			log.Info().Str("zone", id).Msg("Zone deleted")
			return nil
		}
		return fmt.Errorf("zone %s: %w", id, ErrNotFound)
	})
}

// SetTemperature sets the base target explicitly. This is the resume path
// out of manual override: an explicit request always clears it.
func (e *Engine) SetTemperature(id string, temp float64) error {
	return e.Do(func() error {
		zone, err := e.findZone(id)
		if err != nil {
			return err
		}
		if temp < e.cfg.MinTemp || temp > e.cfg.MaxTemp {
			return &model.ValidationError{Field: "temperature", Reason: fmt.Sprintf("%.1f outside [%.1f, %.1f]", temp, e.cfg.MinTemp, e.cfg.MaxTemp)}
		}
		zone.BaseTarget = temp
		zone.ManualOverride = false
		e.saveZones()
		e.runControlCycle(e.now())
		return nil
	})
}

// ResumeAuto clears manual override without changing the target.
func (e *Engine) ResumeAuto(id string) error {
	return e.Do(func() error {
		zone, err := e.findZone(id)
		if err != nil {
			return err
		}
		zone.ManualOverride = false
		e.saveZones()
		e.runControlCycle(e.now())
		return nil
	})
}

// SetPreset sets or clears the zone's active preset reference.
func (e *Engine) SetPreset(id string, preset *string) error {
	return e.Do(func() error {
		zone, err := e.findZone(id)
		if err != nil {
			return err
		}
		if preset != nil {
			if _, ok := zone.PresetTemp(*preset, e.cfg.Presets); !ok {
				return &model.ValidationError{Field: "preset", Reason: fmt.Sprintf("unknown preset %q", *preset)}
			}
		}
		zone.ActivePreset = preset
		e.saveZones()
		e.runControlCycle(e.now())
		return nil
	})
}

// SetBoost sets or clears a temporary boost.
func (e *Engine) SetBoost(id string, boost *model.Boost) error {
	return e.Do(func() error {
		zone, err := e.findZone(id)
		if err != nil {
			return err
		}
		if boost != nil && !boost.Expiry.After(e.now()) {
			return &model.ValidationError{Field: "boost.expiry", Reason: "expiry must be in the future"}
		}
		zone.Boost = boost
		e.saveZones()
		e.runControlCycle(e.now())
		return nil
	})
}

func (e *Engine) SetNightBoost(id string, nb model.NightBoost) error {
	return e.Do(func() error {
		zone, err := e.findZone(id)
		if err != nil {
			return err
		}
		probe := *zone
		probe.NightBoost = nb
		if err := probe.Validate(); err != nil {
			return err
		}
		zone.NightBoost = nb
		e.saveZones()
		return nil
	})
}

func (e *Engine) SetHysteresis(id string, h *float64) error {
	return e.Do(func() error {
		zone, err := e.findZone(id)
		if err != nil {
			return err
		}
		if h != nil && *h <= 0 {
			return &model.ValidationError{Field: "hysteresis", Reason: "must be positive"}
		}
		zone.Hysteresis = h
		e.saveZones()
		return nil
	})
}

// EnableZone re-enables a zone. This is the explicit recovery path from a
// safety shutdown: when no hazard sensor remains in alert, the shutdown
// clears with it.
func (e *Engine) EnableZone(id string) error {
	return e.Do(func() error {
		zone, err := e.findZone(id)
		if err != nil {
			return err
		}
		zone.Enabled = true
		if e.safety.ClearIfSafe(e.client.Read) {
			e.saveSafety()
			e.hub.Broadcast("safety", e.safety.State())
		}
		e.saveZones()
		e.runControlCycle(e.now())
		return nil
	})
}

func (e *Engine) DisableZone(id string) error {
	return e.Do(func() error {
		zone, err := e.findZone(id)
		if err != nil {
			return err
		}
		zone.Enabled = false
		e.saveZones()
		e.runControlCycle(e.now())
		return nil
	})
}

// AddDevice binds a device to a zone, or registers the global heat source
// when the device kind is heat_source.
func (e *Engine) AddDevice(zoneID string, dev model.Device) (model.Device, error) {
	var out model.Device
	err := e.Do(func() error {
		if err := dev.Validate(); err != nil {
			return err
		}
		if dev.ID == "" {
			dev.ID = uuid.NewString()
		}
		if dev.Kind == model.KindHeatSource {
			dev.ZoneID = ""
			e.heatSource = &dev
			e.saveZones()
			log.Info().Str("device", dev.ID).Msg("Shared heat source registered")
			out = dev
			return nil
		}
		zone, err := e.findZone(zoneID)
		if err != nil {
			return err
		}
		dev.ZoneID = zone.ID
		zone.Devices = append(zone.Devices, dev)
		e.saveZones()
		log.Info().Str("zone", zone.ID).Str("device", dev.ID).Str("kind", string(dev.Kind)).Msg("Device bound")
		out = dev
		return nil
	})
	return out, err
}

func (e *Engine) RemoveDevice(zoneID, deviceID string) error {
	return e.Do(func() error {
		if e.heatSource != nil && e.heatSource.ID == deviceID {
			e.heatSource = nil
			e.saveZones()
			return nil
		}
		zone, err := e.findZone(zoneID)
		if err != nil {
			return err
		}
		for i := range zone.Devices {
			if zone.Devices[i].ID == deviceID {
				zone.Devices = append(zone.Devices[:i], zone.Devices[i+1:]...)
				e.det.Forget(deviceID)
				e.saveZones()
				return nil
			}
		}
		return fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
	})
}

// AddSchedule validates and appends a schedule.
func (e *Engine) AddSchedule(zoneID string, s model.Schedule) (model.Schedule, error) {
	var out model.Schedule
	err := e.Do(func() error {
		zone, err := e.findZone(zoneID)
		if err != nil {
			return err
		}
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if err := s.Validate(); err != nil {
			return err
		}
		zone.Schedules = append(zone.Schedules, s)
		e.saveZones()
		out = s
		return nil
	})
	return out, err
}

func (e *Engine) UpdateSchedule(zoneID string, s model.Schedule) error {
	return e.Do(func() error {
		zone, err := e.findZone(zoneID)
		if err != nil {
			return err
		}
		if err := s.Validate(); err != nil {
			return err
		}
		for i := range zone.Schedules {
			if zone.Schedules[i].ID == s.ID {
				zone.Schedules[i] = s
				e.saveZones()
				return nil
			}
		}
		return fmt.Errorf("schedule %s: %w", s.ID, ErrNotFound)
	})
}

func (e *Engine) DeleteSchedule(zoneID, scheduleID string) error {
	return e.Do(func() error {
		zone, err := e.findZone(zoneID)
		if err != nil {
			return err
		}
		for i := range zone.Schedules {
			if zone.Schedules[i].ID == scheduleID {
				zone.Schedules = append(zone.Schedules[:i], zone.Schedules[i+1:]...)
				e.saveZones()
				return nil
			}
		}
		return fmt.Errorf("schedule %s: %w", scheduleID, ErrNotFound)
	})
}

// SetVacation configures the vacation window.
func (e *Engine) SetVacation(v model.VacationState) error {
	return e.Do(func() error {
		if !v.End.After(v.Start) {
			return &model.ValidationError{Field: "end", Reason: "end must be after start"}
		}
		if _, ok := e.cfg.Presets[v.Preset]; !ok {
			return &model.ValidationError{Field: "preset", Reason: fmt.Sprintf("unknown preset %q", v.Preset)}
		}
		e.vac.Set(v)
		e.saveVacation()
		e.runVacationTick(e.now())
		return nil
	})
}

func (e *Engine) ClearVacation() error {
	return e.Do(func() error {
		e.vac.Clear()
		e.saveVacation()
		e.runControlCycle(e.now())
		return nil
	})
}

// Arrive signals an early return from vacation.
func (e *Engine) Arrive() error {
	return e.Do(func() error {
		if e.vac.Arrive(e.now()) {
			e.saveVacation()
			e.runControlCycle(e.now())
		}
		return nil
	})
}

func (e *Engine) Vacation() *model.VacationState {
	var out *model.VacationState
	e.Do(func() error {
		if s := e.vac.State(); s != nil {
			v := *s
			out = &v
		}
		return nil
	})
	return out
}

// SetSafetySensor configures a hazard sensor threshold at runtime.
func (e *Engine) SetSafetySensor(sensorID string, threshold float64) error {
	return e.Do(func() error {
		e.safety.SetSensor(sensorID, threshold)
		return nil
	})
}

func (e *Engine) Safety() model.SafetyState {
	var out model.SafetyState
	e.Do(func() error {
		out = e.safety.State()
		return nil
	})
	return out
}

func (e *Engine) LearningStats(zoneID string) (learning.Stats, error) {
	var out learning.Stats
	err := e.Do(func() error {
		if _, err := e.findZone(zoneID); err != nil {
			return err
		}
		out = e.learner.ZoneStats(zoneID)
		return nil
	})
	return out, err
}

// ExportZone produces a portable configuration document for one zone.
func (e *Engine) ExportZone(id string) (ZoneExport, error) {
	var out ZoneExport
	err := e.Do(func() error {
		zone, err := e.findZone(id)
		if err != nil {
			return err
		}
		c := cloneZone(zone)
		// Runtime state never travels with configuration.
		c.CurrentTemp = nil
		c.CurrentStale = false
		c.State = model.StateOff
		c.LastScheduleID = ""
		c.ManualOverride = false
		c.Boost = nil
		out = ZoneExport{Zone: c}
		return nil
	})
	return out, err
}

// ImportZone creates a zone from an export document. Devices and schedules
// are re-validated and rebound to the freshly minted zone id.
func (e *Engine) ImportZone(doc ZoneExport) (model.Zone, error) {
	z := doc.Zone
	z.ID = ""
	for i := range z.Devices {
		z.Devices[i].ZoneID = ""
		if err := z.Devices[i].Validate(); err != nil {
			return model.Zone{}, err
		}
	}
	for i := range z.Schedules {
		if err := z.Schedules[i].Validate(); err != nil {
			return model.Zone{}, err
		}
	}
	return e.CreateZone(z)
}

// History returns a zone's recorded temperature samples.
func (e *Engine) History(zoneID string, since time.Time) ([]history.Reading, error) {
	if e.hist == nil {
		return nil, nil
	}
	return e.hist.ReadingsSince(zoneID, since)
}

// TriggerControl runs a control cycle immediately, used by tests and the
// debug endpoint.
func (e *Engine) TriggerControl() error {
	return e.Do(func() error {
		e.runControlCycle(e.now())
		return nil
	})
}

// SetClock replaces the engine's time source, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }
