// Package emitter publishes slot status to MQTT.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"github.com/e7canasta/stream-supervisor/internal/config"
	"github.com/e7canasta/stream-supervisor/internal/control"
)

// SnapshotSource yields coalesced snapshot batches until closed.
type SnapshotSource interface {
	Receive() ([]streamsupervisor.Snapshot, bool)
	Close()
}

// MQTTEmitter publishes one retained message per slot on every change.
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	Client mqtt.Client // Exported for control plane

	publish func(topic string, payload []byte) error

	mu        sync.RWMutex
	published map[string]uint64 // count per slot
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg config.MQTTConfig) *MQTTEmitter {
	e := &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
	e.publish = e.mqttPublish
	return e
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	if e.cfg.Username != "" {
		opts.SetUsername(e.cfg.Username)
		opts.SetPassword(e.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Run publishes every batch from src until ctx is cancelled or src closes.
func (e *MQTTEmitter) Run(ctx context.Context, src SnapshotSource) {
	stop := context.AfterFunc(ctx, src.Close)
	defer stop()

	for {
		snaps, ok := src.Receive()
		if !ok {
			return
		}
		for _, snap := range snaps {
			if err := e.Publish(snap); err != nil {
				slog.Debug("slot status not published", "slot", snap.Slot, "error", err)
			}
		}
	}
}

// Publish sends the status of one slot to <status topic>/<slot>, retained.
func (e *MQTTEmitter) Publish(snap streamsupervisor.Snapshot) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(control.NewSlotStatus(snap))
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal slot status: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", e.cfg.Topics.Status, snap.Slot)
	if err := e.publish(topic, payload); err != nil {
		e.countError()
		return err
	}

	e.mu.Lock()
	e.published[snap.Slot]++
	e.mu.Unlock()

	slog.Debug("slot status published",
		"topic", topic,
		"status", snap.Status,
		"size", len(payload),
	)
	return nil
}

func (e *MQTTEmitter) mqttPublish(topic string, payload []byte) error {
	token := e.Client.Publish(topic, e.cfg.QoS, true, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}
	e.setConnected(false)
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
