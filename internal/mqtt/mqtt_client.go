package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"homerules/internal/utils"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	// StateTopic matches every device's state reports
	StateTopic = "devices/+/state"
	qos        = 1
)

// CommandTopic is where a device listens for parameter updates
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("devices/%s/commands", deviceID)
}

// NewClient initializes and returns a raw MQTT.Client
func NewClient(broker, clientID string) (MQTT.Client, error) {
	opts := MQTT.NewClientOptions().AddBroker(broker).SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)
	c := MQTT.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return c, nil
}

// StateHandler receives a decoded device state report
type StateHandler func(deviceID string, state map[string]any)

// Transport carries device states in and device commands out
type Transport struct {
	client  MQTT.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewTransport wraps a connected client
func NewTransport(client MQTT.Client) *Transport {
	return &Transport{
		client:  client,
		timeout: 5 * time.Second,
		logger:  utils.Component("MQTT"),
	}
}

// SubscribeStates delivers every state report to h
func (t *Transport) SubscribeStates(h StateHandler) error {
	t.logger.Info().Str("topic", StateTopic).Msg("subscribing")
	token := t.client.Subscribe(StateTopic, qos, t.onState(h))
	if !token.WaitTimeout(t.timeout) {
		return fmt.Errorf("subscribe %s: timed out", StateTopic)
	}
	return token.Error()
}

func (t *Transport) onState(h StateHandler) MQTT.MessageHandler {
	return func(_ MQTT.Client, msg MQTT.Message) {
		deviceID := utils.ParseDeviceID(msg.Topic())
		if deviceID == "" {
			t.logger.Warn().Str("topic", msg.Topic()).Msg("state on unexpected topic")
			return
		}
		var state map[string]any
		if err := json.Unmarshal(msg.Payload(), &state); err != nil {
			t.logger.Error().Err(err).Str("device", deviceID).Msg("error unmarshaling state")
			return
		}
		t.logger.Debug().Str("device", deviceID).Interface("state", state).Msg("device update received")
		h(deviceID, state)
	}
}

// SendCommand publishes values to the device's command topic and waits for delivery
func (t *Transport) SendCommand(ctx context.Context, deviceID string, values map[string]any) error {
	payload, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode command for %s: %w", deviceID, err)
	}
	topic := CommandTopic(deviceID)
	token := t.client.Publish(topic, qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.timeout):
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	t.logger.Debug().Str("topic", topic).RawJSON("values", payload).Msg("command sent")
	return nil
}

// Close disconnects from the broker
func (t *Transport) Close() {
	t.client.Disconnect(250)
}
