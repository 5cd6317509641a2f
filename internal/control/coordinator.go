package control

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/heatctl/heatctl/internal/config"
	"github.com/heatctl/heatctl/internal/metrics"
	"github.com/heatctl/heatctl/internal/model"
)

// Commander issues a device command. Implementations must not block the
// control cycle; failures are reported out-of-band and the same command is
// naturally re-evaluated next cycle.
type Commander interface {
	Command(deviceID string, value float64)
}

// reissueDelta is the minimum setpoint change worth re-commanding.
const reissueDelta = 0.1

// Decision is one zone's verdict for the cycle, produced by the state
// machine and consumed by the coordinator.
type Decision struct {
	Zone   *model.Zone
	Target float64
}

type Coordinator struct {
	cfg  *config.Config
	sink Commander
	// ThermoActive reports whether a thermostat independently signals it is
	// still producing heat, which keeps its zone's switch on mid-cycle.
	ThermoActive func(deviceID string) bool
}

func NewCoordinator(cfg *config.Config, sink Commander) *Coordinator {
	return &Coordinator{cfg: cfg, sink: sink, ThermoActive: func(string) bool { return false }}
}

// Sync translates the per-zone decisions into device commands and drives the
// shared heat source from the aggregate demand. MANUAL zones are skipped
// entirely; OFF zones get only shutdown commands, never heating ones.
func (c *Coordinator) Sync(decisions []Decision, heatSource *model.Device) {
	demandMax := math.Inf(-1)
	overhead := 0.0
	demand := 0

	for _, d := range decisions {
		zone := d.Zone
		if zone.State == model.StateManual {
			continue
		}
		heating := zone.State == model.StateHeating
		if heating {
			demand++
			if d.Target > demandMax {
				demandMax = d.Target
			}
			if oh := c.overheadFor(zone.HeatingType); oh > overhead {
				overhead = oh
			}
		}
		c.syncZone(zone, d.Target, heating)
	}

	if heatSource != nil {
		c.syncHeatSource(heatSource, demand, demandMax, overhead)
	}
}

func (c *Coordinator) syncZone(zone *model.Zone, target float64, heating bool) {
	for i := range zone.Devices {
		dev := &zone.Devices[i]
		switch dev.Kind {
		case model.KindThermostat:
			if zone.State == model.StateOff {
				continue
			}
			c.issueIfChanged(zone, dev, target)
		case model.KindSwitch:
			c.syncSwitch(zone, dev, heating)
		case model.KindValve:
			c.syncValve(zone, dev, target, heating)
		}
	}
}

func (c *Coordinator) syncSwitch(zone *model.Zone, dev *model.Device, heating bool) {
	on := heating || c.anyThermostatActive(zone)
	// Always-on mode keeps the switch on while the zone idles; only
	// shutdown-when-idle zones and disabled zones switch off.
	var want float64 = 1
	if zone.State == model.StateOff {
		want = 0
	} else if !on && zone.ShutdownWhenIdle {
		want = 0
	}
	if dev.LastCommanded == nil || *dev.LastCommanded != want {
		c.issue(zone, dev, want)
	}
}

func (c *Coordinator) syncValve(zone *model.Zone, dev *model.Device, target float64, heating bool) {
	if dev.Capabilities.SupportsPosition {
		want := dev.Capabilities.MinPosition
		if heating {
			want = dev.Capabilities.MaxPosition
		}
		if dev.LastCommanded == nil || *dev.LastCommanded != want {
			c.issue(zone, dev, want)
		}
		return
	}

	// Temperature-only valve: overheat the setpoint while heating so the
	// valve stays fully open, park it low otherwise.
	want := c.cfg.ValveIdleSetpoint
	if heating {
		want = target + c.overheadFor(zone.HeatingType)
	}
	c.issueIfChanged(zone, dev, want)
}

func (c *Coordinator) syncHeatSource(dev *model.Device, demand int, maxTarget, overhead float64) {
	metrics.Gauge("heatsource.demand", float64(demand))

	if demand == 0 {
		if dev.LastCommanded == nil || *dev.LastCommanded != 0 {
			log.Info().Str("device", dev.ID).Msg("Heat source off, no zone demand")
			dev.LastCommanded = ptr(0)
			c.sink.Command(dev.ID, 0)
		}
		return
	}

	setpoint := maxTarget + overhead
	metrics.Gauge("heatsource.setpoint", setpoint)
	if dev.LastCommanded != nil && math.Abs(*dev.LastCommanded-setpoint) < reissueDelta {
		return
	}
	log.Info().
		Str("device", dev.ID).
		Int("zones_heating", demand).
		Float64("setpoint", setpoint).
		Msg("Commanding heat source")
	dev.LastCommanded = ptr(setpoint)
	c.sink.Command(dev.ID, setpoint)
}

func (c *Coordinator) issueIfChanged(zone *model.Zone, dev *model.Device, want float64) {
	if dev.LastCommanded != nil && math.Abs(*dev.LastCommanded-want) < reissueDelta {
		return
	}
	c.issue(zone, dev, want)
}

func (c *Coordinator) issue(zone *model.Zone, dev *model.Device, value float64) {
	log.Info().
		Str("zone", zone.ID).
		Str("device", dev.ID).
		Str("kind", string(dev.Kind)).
		Float64("value", value).
		Msg("Issuing device command")
	metrics.Count("device.commands", 1, "kind:"+string(dev.Kind))
	dev.LastCommanded = ptr(value)
	c.sink.Command(dev.ID, value)
}

func (c *Coordinator) anyThermostatActive(zone *model.Zone) bool {
	for i := range zone.Devices {
		if zone.Devices[i].Kind == model.KindThermostat && c.ThermoActive(zone.Devices[i].ID) {
			return true
		}
	}
	return false
}

func (c *Coordinator) overheadFor(t model.HeatingType) float64 {
	if t == model.HeatingFloor {
		return c.cfg.FloorOverhead
	}
	return c.cfg.RadiatorOverhead
}

func ptr(f float64) *float64 { return &f }
