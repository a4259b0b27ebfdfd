package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fako1024/brewster/pkg/brewometer"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultMQTTTopic    = "brewster/measurements"
	defaultMQTTClientID = "brewster"
	mqttQoS             = 1
	mqttQuiesceMillis   = 250
)

// MQTTConfig denotes the broker settings of the MQTT sink
type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"clientID"`
	Topic    string `json:"topic"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// MQTT publishes recorded measurements as JSON to an MQTT broker
type MQTT struct {
	client mqtt.Client
	topic  string

	logger brewometer.Logger
}

// NewMQTT connects to the configured broker
func NewMQTT(cfg MQTTConfig, logger brewometer.Logger) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("no MQTT broker configured")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultMQTTClientID
	}
	if logger == nil {
		logger = &brewometer.NullLogger{}
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warnf("MQTT connection lost: %s", err)
	}

	client := mqtt.NewClient(opts)
	if tk := client.Connect(); tk.Wait() && tk.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker `%s`: %w", cfg.Broker, tk.Error())
	}
	logger.Infof("connected to MQTT broker `%s`", cfg.Broker)

	return newMQTT(client, cfg.Topic, logger), nil
}

func newMQTT(client mqtt.Client, topic string, logger brewometer.Logger) *MQTT {
	if topic == "" {
		topic = defaultMQTTTopic
	}
	return &MQTT{
		client: client,
		topic:  strings.TrimSuffix(topic, "/"),
		logger: logger,
	}
}

// Publish sends the record to <topic>/<device id>
func (m *MQTT) Publish(ctx context.Context, rec brewometer.Record) error {
	payload, err := json.Marshal(NewMessage(rec))
	if err != nil {
		return err
	}

	topic := fmt.Sprintf("%s/%d", m.topic, rec.DeviceID)
	tk := m.client.Publish(topic, mqttQoS, false, payload)
	select {
	case <-tk.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := tk.Error(); err != nil {
		return fmt.Errorf("failed to publish to `%s`: %w", topic, err)
	}

	m.logger.Debugf("published measurement to `%s`", topic)
	return nil
}

// Close disconnects from the broker
func (m *MQTT) Close() error {
	m.client.Disconnect(mqttQuiesceMillis)
	return nil
}
