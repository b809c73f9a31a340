package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"github.com/e7canasta/stream-supervisor/internal/config"
)

type fakeWall struct {
	mu    sync.Mutex
	calls []string
	fail  error
}

func (w *fakeWall) record(op, slot string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if slot != "slot-1" {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	w.calls = append(w.calls, op)
	return w.fail
}

func (w *fakeWall) Bind(slot, camera string) error { return w.record("bind:"+camera, slot) }
func (w *fakeWall) Unbind(slot string) error         { return w.record("unbind", slot) }
func (w *fakeWall) Next(slot string) error           { return w.record("next", slot) }
func (w *fakeWall) Previous(slot string) error       { return w.record("previous", slot) }
func (w *fakeWall) Restart(slot string) error        { return w.record("restart", slot) }
func (w *fakeWall) Pause(slot string) error          { return w.record("pause", slot) }
func (w *fakeWall) Resume(slot string) error         { return w.record("resume", slot) }

func (w *fakeWall) Snapshot(slot string) (streamsupervisor.Snapshot, error) {
	if slot != "slot-1" {
		return streamsupervisor.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	return streamsupervisor.Snapshot{
		Slot:      "slot-1",
		CameraID:  "lobby",
		Bound:     true,
		Status:    streamsupervisor.StatusViewing,
		Label:     "main",
		LastError: "old failure",
		Version:   7,
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil
}

func (w *fakeWall) Snapshots() []streamsupervisor.Snapshot {
	s, _ := w.Snapshot("slot-1")
	return []streamsupervisor.Snapshot{s, {Slot: "slot-2"}}
}

func (w *fakeWall) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name       string
		cmd        Command
		wantStatus string
		wantCall   string
		wantErr    string
	}{
		{"next", Command{Command: "next", Slot: "slot-1"}, StatusAccepted, "next", ""},
		{"previous", Command{Command: "previous", Slot: "slot-1"}, StatusAccepted, "previous", ""},
		{"restart", Command{Command: "restart", Slot: "slot-1"}, StatusAccepted, "restart", ""},
		{"pause", Command{Command: "pause", Slot: "slot-1"}, StatusAccepted, "pause", ""},
		{"resume", Command{Command: "resume", Slot: "slot-1"}, StatusAccepted, "resume", ""},
		{"unbind", Command{Command: "unbind", Slot: "slot-1"}, StatusAccepted, "unbind", ""},
		{"bind", Command{Command: "bind", Slot: "slot-1", Camera: "dock"}, StatusAccepted, "bind:dock", ""},
		{"bind without camera", Command{Command: "bind", Slot: "slot-1"}, StatusError, "", "missing 'camera'"},
		{"missing slot", Command{Command: "next"}, StatusError, "", "missing 'slot'"},
		{"unknown slot", Command{Command: "next", Slot: "slot-9"}, StatusError, "", "unknown slot"},
		{"unknown command", Command{Command: "zoom", Slot: "slot-1"}, StatusError, "", "unknown command: zoom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWall{}
			tt.cmd.RequestID = "req-42"
			resp := Dispatch(w, tt.cmd)

			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q (error %q)", resp.Status, tt.wantStatus, resp.Error)
			}
			if tt.wantErr != "" && !strings.Contains(resp.Error, tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", resp.Error, tt.wantErr)
			}
			calls := w.Calls()
			if tt.wantCall == "" && len(calls) != 0 {
				t.Errorf("unexpected calls %v", calls)
			}
			if tt.wantCall != "" && (len(calls) != 1 || calls[0] != tt.wantCall) {
				t.Errorf("calls = %v, want [%s]", calls, tt.wantCall)
			}
			if resp.RequestID != "req-42" || resp.CorrelationID == "" || resp.CommandAck != tt.cmd.Command {
				t.Errorf("envelope = %+v", resp)
			}
		})
	}
}

func TestDispatch_GetStatus(t *testing.T) {
	w := &fakeWall{}

	resp := Dispatch(w, Command{Command: "get_status", Slot: "slot-1"})
	st, ok := resp.Data.(SlotStatus)
	if resp.Status != StatusSuccess || !ok {
		t.Fatalf("get_status = %+v", resp)
	}
	if st.Status != "viewing" || st.Camera != "lobby" || st.Error != "old failure" || st.Version != 7 {
		t.Errorf("slot status = %+v", st)
	}
	if st.UpdatedAt != "2026-01-02T03:04:05Z" {
		t.Errorf("updated_at = %q", st.UpdatedAt)
	}

	resp = Dispatch(w, Command{Command: "get_status"})
	all, ok := resp.Data.([]SlotStatus)
	if !ok || len(all) != 2 {
		t.Fatalf("get_status (all) = %+v", resp.Data)
	}

	resp = Dispatch(w, Command{Command: "get_status", Slot: "slot-9"})
	if resp.Status != StatusError {
		t.Errorf("unknown slot status = %q", resp.Status)
	}
}

func TestDispatch_WallError(t *testing.T) {
	w := &fakeWall{fail: errors.New("scheduler stopped")}
	resp := Dispatch(w, Command{Command: "next", Slot: "slot-1"})
	if resp.Status != StatusError || resp.Error != "scheduler stopped" {
		t.Errorf("resp = %+v", resp)
	}
}

type published struct {
	topic   string
	payload []byte
}

func newTestHandler(w Wall) (*Handler, chan published) {
	h := NewHandler(config.MQTTConfig{Topics: config.MQTTTopics{
		Control:   "videowall/control/test",
		Responses: "videowall/responses/test",
	}}, nil, w)
	out := make(chan published, 64)
	h.publish = func(topic string, payload []byte) error {
		out <- published{topic, payload}
		return nil
	}
	return h, out
}

func nextResponse(t *testing.T, out chan published) Response {
	t.Helper()
	select {
	case p := <-out:
		if p.topic != "videowall/responses/test" {
			t.Errorf("published to %q", p.topic)
		}
		var resp Response
		if err := json.Unmarshal(p.payload, &resp); err != nil {
			t.Fatalf("bad response JSON: %v", err)
		}
		return resp
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for response")
	}
	return Response{}
}

func TestHandler_ProcessesCommands(t *testing.T) {
	w := &fakeWall{}
	h, out := newTestHandler(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.processCommands(ctx)

	h.receive([]byte(`{"command":"next","slot":"slot-1","request_id":"r1"}`))
	resp := nextResponse(t, out)
	if resp.Status != StatusAccepted || resp.RequestID != "r1" {
		t.Errorf("resp = %+v", resp)
	}

	h.receive([]byte(`{not json`))
	resp = nextResponse(t, out)
	if resp.Status != StatusError || resp.Error != "invalid JSON" {
		t.Errorf("invalid JSON resp = %+v", resp)
	}

	if handled, dropped := h.Stats(); handled != 1 || dropped != 0 {
		t.Errorf("Stats() = %d, %d", handled, dropped)
	}
	t.Logf("✅ Control command round trip: %v", w.Calls())
}

func TestHandler_Shutdown(t *testing.T) {
	h, out := newTestHandler(&fakeWall{})
	done := make(chan struct{})
	h.OnShutdown = func() { close(done) }

	h.handleCommand(Command{Command: "shutdown"})
	if resp := nextResponse(t, out); resp.Status != StatusAccepted {
		t.Errorf("shutdown resp = %+v", resp)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnShutdown not called")
	}

	h.OnShutdown = nil
	h.handleCommand(Command{Command: "shutdown"})
	if resp := nextResponse(t, out); resp.Status != StatusError {
		t.Errorf("shutdown without callback = %+v", resp)
	}
}

func TestHandler_QueueFullDrops(t *testing.T) {
	h, _ := newTestHandler(&fakeWall{})
	for i := 0; i < cap(h.commands)+3; i++ {
		h.receive([]byte(`{"command":"next","slot":"slot-1"}`))
	}
	if _, dropped := h.Stats(); dropped != 3 {
		t.Errorf("dropped = %d, want 3", dropped)
	}
}
