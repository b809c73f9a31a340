// Package control implements the MQTT control plane of the video wall.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"github.com/e7canasta/stream-supervisor/internal/config"
)

// ErrUnknownSlot is returned by a Wall for slot ids it does not manage.
var ErrUnknownSlot = errors.New("unknown slot")

// Wall is the set of slot operations the control plane drives.
type Wall interface {
	Bind(slot, camera string) error
	Unbind(slot string) error
	Next(slot string) error
	Previous(slot string) error
	Restart(slot string) error
	Pause(slot string) error
	Resume(slot string) error
	Snapshot(slot string) (streamsupervisor.Snapshot, error)
	Snapshots() []streamsupervisor.Snapshot
}

// Command represents a control plane command
type Command struct {
	Command   string `json:"command"`
	Slot      string `json:"slot,omitempty"`
	Camera    string `json:"camera,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck    string `json:"command_ack"`
	RequestID     string `json:"request_id,omitempty"`
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
	Slot          string `json:"slot,omitempty"`
	Data          any    `json:"data,omitempty"`
	Error         string `json:"error,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// Response status values. Slot commands are queued on the scheduler, so a
// successful slot command is "accepted", not yet applied.
const (
	StatusSuccess  = "success"
	StatusAccepted = "accepted"
	StatusError    = "error"
)

// Dispatch executes cmd against w and builds the response.
func Dispatch(w Wall, cmd Command) Response {
	resp := Response{
		CommandAck:    cmd.Command,
		RequestID:     cmd.RequestID,
		CorrelationID: uuid.NewString(),
		Slot:          cmd.Slot,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
	}

	fail := func(err error) Response {
		resp.Status = StatusError
		resp.Error = err.Error()
		return resp
	}

	var op func(string) error
	switch cmd.Command {
	case "get_status":
		if cmd.Slot == "" {
			snaps := w.Snapshots()
			slots := make([]SlotStatus, len(snaps))
			for i, s := range snaps {
				slots[i] = NewSlotStatus(s)
			}
			resp.Status = StatusSuccess
			resp.Data = slots
			return resp
		}
		snap, err := w.Snapshot(cmd.Slot)
		if err != nil {
			return fail(err)
		}
		resp.Status = StatusSuccess
		resp.Data = NewSlotStatus(snap)
		return resp

	case "bind":
		if cmd.Camera == "" {
			return fail(fmt.Errorf("missing 'camera' parameter"))
		}
		op = func(slot string) error { return w.Bind(slot, cmd.Camera) }
	case "unbind":
		op = w.Unbind
	case "next":
		op = w.Next
	case "previous":
		op = w.Previous
	case "restart":
		op = w.Restart
	case "pause":
		op = w.Pause
	case "resume":
		op = w.Resume
	default:
		return fail(fmt.Errorf("unknown command: %s", cmd.Command))
	}

	if cmd.Slot == "" {
		return fail(fmt.Errorf("missing 'slot' parameter"))
	}
	if err := op(cmd.Slot); err != nil {
		return fail(err)
	}
	resp.Status = StatusAccepted
	return resp
}

// Handler handles control plane commands
type Handler struct {
	wall     Wall
	client   mqtt.Client
	topics   config.MQTTTopics
	qos      byte
	commands chan Command

	// OnShutdown, when set, enables the "shutdown" command.
	OnShutdown func()

	publish func(topic string, payload []byte) error

	mu      sync.Mutex
	handled uint64
	dropped uint64
}

// NewHandler creates a new control plane handler
func NewHandler(cfg config.MQTTConfig, client mqtt.Client, wall Wall) *Handler {
	h := &Handler{
		wall:     wall,
		client:   client,
		topics:   cfg.Topics,
		qos:      cfg.QoS,
		commands: make(chan Command, 32),
	}
	h.publish = h.mqttPublish
	return h
}

// Start subscribes to the control topic and processes commands until ctx
// is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.topics.Control

	slog.Info("subscribing to control plane", "topic", topic, "qos", h.qos)

	token := h.client.Subscribe(topic, h.qos, func(_ mqtt.Client, msg mqtt.Message) {
		h.receive(msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes from the control topic.
func (h *Handler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.topics.Control)
		token.WaitTimeout(2 * time.Second)
	}
	slog.Info("control plane handler stopped")
	return nil
}

// receive decodes one message and queues it. Runs on the MQTT client's
// goroutine, so it never blocks.
func (h *Handler) receive(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck:    "unknown",
			CorrelationID: uuid.NewString(),
			Status:        StatusError,
			Error:         "invalid JSON",
			Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command, "slot", cmd.Slot)

	select {
	case h.commands <- cmd:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.handleCommand(cmd)
		}
	}
}

func (h *Handler) handleCommand(cmd Command) {
	if cmd.Command == "shutdown" && h.OnShutdown != nil {
		slog.Warn("shutdown command received via MQTT control plane")
		h.sendResponse(Response{
			CommandAck:    cmd.Command,
			RequestID:     cmd.RequestID,
			CorrelationID: uuid.NewString(),
			Status:        StatusAccepted,
			Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		})
		go h.OnShutdown()
		return
	}

	resp := Dispatch(h.wall, cmd)
	if resp.Status == StatusError {
		slog.Warn("control command failed", "command", cmd.Command, "slot", cmd.Slot, "error", resp.Error)
	}

	h.mu.Lock()
	h.handled++
	h.mu.Unlock()

	h.sendResponse(resp)
}

func (h *Handler) sendResponse(resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}
	if err := h.publish(h.topics.Responses, payload); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}
	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

func (h *Handler) mqttPublish(topic string, payload []byte) error {
	token := h.client.Publish(topic, h.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("response publish timeout")
	}
	return token.Error()
}

// Stats returns how many commands were handled and dropped.
func (h *Handler) Stats() (handled, dropped uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handled, h.dropped
}
