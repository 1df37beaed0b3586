package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgeflow/kilnd/internal/kiln/eventbus"
)

// MQTTConfig configures the MQTT sink, grounded on the teacher's
// MQTTOutConfig (pkg/nodes/network/mqtt_out.go) pared down to the fields
// a single fixed-topic publisher needs.
type MQTTConfig struct {
	Broker         string
	Topic          string
	QoS            byte
	Retain         bool
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// MQTTSink publishes every bus event as a JSON message under
// "<topic>/<kind>". It connects lazily on first Dispatch and reuses the
// connection, mirroring MQTTOutExecutor's connect-on-demand behavior.
type MQTTSink struct {
	cfg MQTTConfig

	mu     sync.Mutex
	client mqtt.Client
}

// NewMQTTSink creates an MQTTSink. It does not connect until Dispatch is
// first called.
func NewMQTTSink(cfg MQTTConfig) *MQTTSink {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("kilnd_%d", time.Now().UnixNano())
	}
	if cfg.QoS > 2 {
		cfg.QoS = 2
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &MQTTSink{cfg: cfg}
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Dispatch connects if necessary and publishes ev under
// "<topic>/<kind>". Publish failures and connect failures are both
// returned to the Hub, which logs them and moves on (spec.md §7).
func (s *MQTTSink) Dispatch(ctx context.Context, ev eventbus.Event) error {
	client, err := s.connected()
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", s.cfg.Topic, ev.Kind)
	token := client.Publish(topic, s.cfg.QoS, s.cfg.Retain, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

func (s *MQTTSink) connected() (mqtt.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.client.IsConnected() {
		return s.client, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(s.cfg.KeepAlive)
	opts.SetConnectTimeout(s.cfg.ConnectTimeout)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect to %s timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}

	s.client = client
	return client, nil
}

// Close disconnects the MQTT client, if connected.
func (s *MQTTSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
