package mqtt

import (
	"sync"
	"time"
)

// FakeClient is an in-memory Client for tests and simulation mode.
type FakeClient struct {
	mu       sync.Mutex
	readings map[string]float64
	reported map[string]float64
	demand   map[string]bool
	commands []CommandRecord
	events   []string

	sensorCb SensorFunc
	reportCb ReportFunc
}

type CommandRecord struct {
	DeviceID string
	Value    float64
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		readings: make(map[string]float64),
		reported: make(map[string]float64),
		demand:   make(map[string]bool),
	}
}

func (c *FakeClient) Read(deviceID string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.readings[deviceID]
	return v, ok
}

func (c *FakeClient) Command(deviceID string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, CommandRecord{DeviceID: deviceID, Value: value})
}

func (c *FakeClient) Demand(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.demand[deviceID]
}

// SetDemand marks a thermostat as actively producing heat.
func (c *FakeClient) SetDemand(deviceID string, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.demand[deviceID] = active
}

func (c *FakeClient) OnSensor(cb SensorFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sensorCb = cb
}

func (c *FakeClient) OnReport(cb ReportFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reportCb = cb
}

func (c *FakeClient) PublishEvent(kind string, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, kind)
}

func (c *FakeClient) Close() {}

// SetReading injects a sensor reading as if it arrived from the broker.
func (c *FakeClient) SetReading(deviceID string, value float64, at time.Time) {
	c.mu.Lock()
	c.readings[deviceID] = value
	cb := c.sensorCb
	c.mu.Unlock()
	if cb != nil {
		cb(deviceID, value, at)
	}
}

// Report injects an externally made device change.
func (c *FakeClient) Report(deviceID string, value float64, at time.Time) {
	c.mu.Lock()
	old, had := c.reported[deviceID]
	c.reported[deviceID] = value
	cb := c.reportCb
	c.mu.Unlock()
	if !had {
		old = value
	}
	if cb != nil {
		cb(deviceID, old, value, at)
	}
}

// Commands returns a copy of every command issued so far.
func (c *FakeClient) Commands() []CommandRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CommandRecord, len(c.commands))
	copy(out, c.commands)
	return out
}

// CommandsFor filters issued commands by device.
func (c *FakeClient) CommandsFor(deviceID string) []CommandRecord {
	var out []CommandRecord
	for _, rec := range c.Commands() {
		if rec.DeviceID == deviceID {
			out = append(out, rec)
		}
	}
	return out
}

// Events returns the kinds of controller events published so far.
func (c *FakeClient) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	copy(out, c.events)
	return out
}
