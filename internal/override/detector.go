// Package override watches externally sourced thermostat changes and decides
// when a zone should leave automatic control. Debounce timers are explicit
// entries scanned by Tick, so tests drive them with a virtual clock.
package override

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Activation is a debounce timer that expired: the device was changed
// externally and no system command superseded it.
type Activation struct {
	DeviceID string
	Value    float64
}

type pending struct {
	value     float64
	expiresAt time.Time
}

type Detector struct {
	debounce    time.Duration
	attribution time.Duration

	pending     map[string]pending
	lastCommand map[string]commandMark
}

type commandMark struct {
	value float64
	at    time.Time
}

func NewDetector(debounce, attribution time.Duration) *Detector {
	return &Detector{
		debounce:    debounce,
		attribution: attribution,
		pending:     make(map[string]pending),
		lastCommand: make(map[string]commandMark),
	}
}

// NoteCommand records a command this system issued. It cancels any pending
// debounce for the device, and subsequent device reports inside the
// attribution window are treated as echoes of this command.
func (d *Detector) NoteCommand(deviceID string, value float64, at time.Time) {
	d.lastCommand[deviceID] = commandMark{value: value, at: at}
	delete(d.pending, deviceID)
}

// Observe handles an externally reported device change. A change within the
// attribution window of our own command is ignored; otherwise the per-device
// debounce timer restarts at the new value (timers never stack).
func (d *Detector) Observe(deviceID string, oldValue, newValue float64, at time.Time) {
	if mark, ok := d.lastCommand[deviceID]; ok && at.Sub(mark.at) <= d.attribution {
		log.Debug().
			Str("device", deviceID).
			Float64("value", newValue).
			Msg("Device change attributed to our own command")
		return
	}

	log.Debug().
		Str("device", deviceID).
		Float64("old", oldValue).
		Float64("new", newValue).
		Msg("External device change, starting debounce")
	d.pending[deviceID] = pending{value: newValue, expiresAt: at.Add(d.debounce)}
}

// Tick returns the activations whose debounce expired at or before now.
func (d *Detector) Tick(now time.Time) []Activation {
	var fired []Activation
	for id, p := range d.pending {
		if !now.Before(p.expiresAt) {
			fired = append(fired, Activation{DeviceID: id, Value: p.value})
			delete(d.pending, id)
		}
	}
	return fired
}

// Forget drops any tracking for a device, used when it is unbound.
func (d *Detector) Forget(deviceID string) {
	delete(d.pending, deviceID)
	delete(d.lastCommand, deviceID)
}
