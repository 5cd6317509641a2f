package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RealClient talks to an actual MQTT broker.
type RealClient struct {
	client paho.Client

	mu       sync.RWMutex
	readings map[string]float64
	reported map[string]float64
	demand   map[string]bool
	limiters map[string]*rate.Limiter

	sensorCb SensorFunc
	reportCb ReportFunc
}

// NewRealClient connects to the broker, retrying with exponential backoff,
// and subscribes to sensor state and device report topics.
func NewRealClient(broker, clientID string) (*RealClient, error) {
	c := &RealClient{
		readings: make(map[string]float64),
		reported: make(map[string]float64),
		demand:   make(map[string]bool),
		limiters: make(map[string]*rate.Limiter),
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect)

	c.client = paho.NewClient(opts)

	connect := func() error {
		token := c.client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("connection timeout")
		}
		return token.Error()
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", broker, err)
	}

	log.Info().Str("broker", broker).Str("client_id", clientID).Msg("Connected to MQTT broker")
	return c, nil
}

func (c *RealClient) onConnect(client paho.Client) {
	subs := map[string]paho.MessageHandler{
		fmt.Sprintf(TopicSensorState, "+"):  c.handleSensor,
		fmt.Sprintf(TopicDeviceReport, "+"): c.handleReport,
		fmt.Sprintf(TopicDeviceHeat, "+"):   c.handleDemand,
	}
	for topic, handler := range subs {
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to subscribe")
		}
	}
}

func (c *RealClient) handleSensor(_ paho.Client, msg paho.Message) {
	id := topicSegment(msg.Topic(), 2)
	value, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
	if err != nil {
		log.Warn().Str("topic", msg.Topic()).Str("payload", string(msg.Payload())).Msg("Unparseable sensor reading")
		return
	}

	c.mu.Lock()
	c.readings[id] = value
	cb := c.sensorCb
	c.mu.Unlock()

	if cb != nil {
		cb(id, value, time.Now())
	}
}

func (c *RealClient) handleReport(_ paho.Client, msg paho.Message) {
	id := topicSegment(msg.Topic(), 2)
	value, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
	if err != nil {
		log.Warn().Str("topic", msg.Topic()).Str("payload", string(msg.Payload())).Msg("Unparseable device report")
		return
	}

	c.mu.Lock()
	old, had := c.reported[id]
	c.reported[id] = value
	cb := c.reportCb
	c.mu.Unlock()

	if !had {
		old = value
	}
	if cb != nil {
		cb(id, old, value, time.Now())
	}
}

func (c *RealClient) handleDemand(_ paho.Client, msg paho.Message) {
	id := topicSegment(msg.Topic(), 2)
	payload := strings.TrimSpace(string(msg.Payload()))
	c.mu.Lock()
	c.demand[id] = payload == "1" || strings.EqualFold(payload, "on") || strings.EqualFold(payload, "true")
	c.mu.Unlock()
}

func (c *RealClient) Demand(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.demand[deviceID]
}

func (c *RealClient) Read(deviceID string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.readings[deviceID]
	return v, ok
}

// Command publishes a setpoint without blocking the caller. A per-device
// limiter sheds bursts; dropped commands are re-issued by the next cycle.
func (c *RealClient) Command(deviceID string, value float64) {
	c.mu.Lock()
	limiter, ok := c.limiters[deviceID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Second), 5)
		c.limiters[deviceID] = limiter
	}
	c.mu.Unlock()

	if !limiter.Allow() {
		log.Warn().Str("device", deviceID).Float64("value", value).Msg("Command rate limited, dropping")
		return
	}

	topic := fmt.Sprintf(TopicDeviceSet, deviceID)
	payload := strconv.FormatFloat(value, 'f', -1, 64)
	token := c.client.Publish(topic, 1, false, payload)

	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			log.Warn().Str("device", deviceID).Msg("Command publish timeout")
			return
		}
		if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("device", deviceID).Msg("Command publish failed")
		}
	}()
}

func (c *RealClient) OnSensor(cb SensorFunc) {
	c.mu.Lock()
	c.sensorCb = cb
	c.mu.Unlock()
}

func (c *RealClient) OnReport(cb ReportFunc) {
	c.mu.Lock()
	c.reportCb = cb
	c.mu.Unlock()
}

func (c *RealClient) PublishEvent(kind string, payload interface{}) {
	body, err := json.Marshal(map[string]interface{}{
		"event":     kind,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      payload,
	})
	if err != nil {
		log.Warn().Err(err).Str("event", kind).Msg("Failed to encode event")
		return
	}
	token := c.client.Publish(TopicEvents, 1, false, body)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("event", kind).Msg("Event publish failed")
		}
	}()
}

func (c *RealClient) Close() {
	c.client.Disconnect(250)
}

func topicSegment(topic string, i int) string {
	parts := strings.Split(topic, "/")
	if i < len(parts) {
		return parts[i]
	}
	return ""
}
