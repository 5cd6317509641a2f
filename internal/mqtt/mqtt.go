// Package mqtt connects the controller to its devices. Sensors publish
// retained readings, actuators accept setpoint commands, and devices report
// externally made changes; all three travel over one broker connection with
// an in-memory abstraction for tests.
package mqtt

import "time"

// Topics. Device and sensor ids are path segments.
const (
	TopicSensorState  = "heatctl/sensor/%s/state"  // inbound readings
	TopicDeviceSet    = "heatctl/device/%s/set"    // outbound commands
	TopicDeviceReport = "heatctl/device/%s/report" // inbound external changes
	TopicDeviceHeat   = "heatctl/device/%s/heat"   // inbound thermostat heat demand
	TopicEvents       = "heatctl/events"           // outbound controller events
)

// SensorFunc receives a sensor reading as it arrives.
type SensorFunc func(deviceID string, value float64, at time.Time)

// ReportFunc receives an externally sourced device change.
type ReportFunc func(deviceID string, oldValue, newValue float64, at time.Time)

// Client is the device transport. Command is fire-and-forget: it never
// blocks the caller and failures surface only in logs, the control cycle
// re-issues naturally.
type Client interface {
	// Read returns the last known reading for a device and whether one is
	// available.
	Read(deviceID string) (float64, bool)

	Command(deviceID string, value float64)

	// Demand reports whether a thermostat currently signals active heat
	// output on its demand topic.
	Demand(deviceID string) bool

	// OnSensor registers the callback invoked for every sensor reading.
	OnSensor(cb SensorFunc)

	// OnReport registers the callback invoked for device-side changes.
	OnReport(cb ReportFunc)

	// PublishEvent emits a controller event (safety shutdown, override).
	PublishEvent(kind string, payload interface{})

	Close()
}
