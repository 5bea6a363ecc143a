package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/assetpulse/assetpulse/internal/config"
	"github.com/assetpulse/assetpulse/internal/engine"
	"github.com/assetpulse/assetpulse/internal/reading"
)

const (
	connectTimeout = 10 * time.Second
	publishQoS     = 1
)

// AssessFunc runs one raw batch through the assessment pipeline.
type AssessFunc func(ctx context.Context, body []byte) (*engine.Report, error)

// MQTT subscribes to a readings topic, runs each payload through the
// assessment pipeline, and publishes the resulting report (or a structured
// error) to the reports topic.
type MQTT struct {
	cfg    config.MQTTConfig
	assess AssessFunc
	client mqtt.Client
}

// errorMessage is published when a batch is rejected.
type errorMessage struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// New connects to the broker configured in cfg. Returns nil when no broker is
// configured — the caller simply skips Run.
func New(cfg config.MQTTConfig, assess AssessFunc) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, nil
	}

	m := &MQTT{cfg: cfg, assess: assess}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password())
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("ingest: mqtt connection lost", "err", err)
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		slog.Info("ingest: mqtt connected", "broker", cfg.Broker)
	})

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("ingest: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("ingest: connect to %s: %w", cfg.Broker, err)
	}

	return m, nil
}

// Run subscribes to the readings topic and blocks until ctx is cancelled,
// then disconnects cleanly.
func (m *MQTT) Run(ctx context.Context) error {
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		m.handleBatch(ctx, msg.Payload())
	}
	token := m.client.Subscribe(m.cfg.ReadingsTopic, publishQoS, handler)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("ingest: subscribe %s: %w", m.cfg.ReadingsTopic, token.Error())
	}
	slog.Info("ingest: subscribed", "topic", m.cfg.ReadingsTopic)

	<-ctx.Done()
	m.client.Disconnect(250)
	slog.Info("ingest: mqtt disconnected")
	return nil
}

// handleBatch runs one incoming payload and publishes the outcome.
func (m *MQTT) handleBatch(ctx context.Context, payload []byte) {
	rep, err := m.assess(ctx, payload)
	if err != nil {
		slog.Warn("ingest: batch rejected", "topic", m.cfg.ReadingsTopic, "err", err)
		m.publish(errorMessage{Error: err.Error(), Kind: reading.Kind(err)})
		return
	}
	m.publish(rep)
}

// publish sends v as JSON to the reports topic, when one is configured.
func (m *MQTT) publish(v any) {
	if m.cfg.ReportsTopic == "" {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("ingest: encode report", "err", err)
		return
	}
	token := m.client.Publish(m.cfg.ReportsTopic, publishQoS, false, payload)
	if token.Wait() && token.Error() != nil {
		slog.Error("ingest: publish report", "topic", m.cfg.ReportsTopic, "err", token.Error())
	}
}
