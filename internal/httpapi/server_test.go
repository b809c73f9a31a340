package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vmihailenco/msgpack/v5"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"github.com/e7canasta/stream-supervisor/internal/control"
)

type fakeWall struct {
	mu      sync.Mutex
	calls   []string
	surface *streamsupervisor.Surface
}

func (w *fakeWall) do(op, slot string) error {
	if slot != "slot-1" {
		return fmt.Errorf("%w: %s", control.ErrUnknownSlot, slot)
	}
	w.mu.Lock()
	w.calls = append(w.calls, op)
	w.mu.Unlock()
	return nil
}

func (w *fakeWall) Bind(slot, camera string) error { return w.do("bind:"+camera, slot) }
func (w *fakeWall) Unbind(slot string) error         { return w.do("unbind", slot) }
func (w *fakeWall) Next(slot string) error           { return w.do("next", slot) }
func (w *fakeWall) Previous(slot string) error       { return w.do("previous", slot) }
func (w *fakeWall) Restart(slot string) error        { return w.do("restart", slot) }
func (w *fakeWall) Pause(slot string) error          { return w.do("pause", slot) }
func (w *fakeWall) Resume(slot string) error         { return w.do("resume", slot) }

func (w *fakeWall) Snapshot(slot string) (streamsupervisor.Snapshot, error) {
	if slot != "slot-1" {
		return streamsupervisor.Snapshot{}, fmt.Errorf("%w: %s", control.ErrUnknownSlot, slot)
	}
	return streamsupervisor.Snapshot{
		Slot:     "slot-1",
		CameraID: "lobby",
		Bound:    true,
		Status:   streamsupervisor.StatusViewing,
		Surface:  w.surface,
	}, nil
}

func (w *fakeWall) Snapshots() []streamsupervisor.Snapshot {
	s, _ := w.Snapshot("slot-1")
	return []streamsupervisor.Snapshot{s}
}

func newTestServer(t *testing.T, wall *fakeWall) (*Server, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	if _, err := streamsupervisor.NewMetrics(reg); err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}
	s := New(Options{
		Wall:     wall,
		Gatherer: reg,
		Health: func() HealthStatus {
			return HealthStatus{Status: "degraded", SlotsTotal: 1}
		},
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t, &fakeWall{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/readiness")
	if err != nil {
		t.Fatalf("GET /readiness failed: %v", err)
	}
	defer resp.Body.Close()
	var health HealthStatus
	json.NewDecoder(resp.Body).Decode(&health)
	if resp.StatusCode != http.StatusOK || health.Status != "degraded" {
		t.Errorf("/readiness = %d %+v", resp.StatusCode, health)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, &fakeWall{})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics = %d", resp.StatusCode)
	}
}

func TestSlotEndpoints(t *testing.T) {
	_, ts := newTestServer(t, &fakeWall{})

	resp, err := http.Get(ts.URL + "/slots")
	if err != nil {
		t.Fatalf("GET /slots failed: %v", err)
	}
	var all []control.SlotStatus
	json.NewDecoder(resp.Body).Decode(&all)
	resp.Body.Close()
	if len(all) != 1 || all[0].Status != "viewing" {
		t.Errorf("/slots = %+v", all)
	}

	resp, _ = http.Get(ts.URL + "/slots/slot-9")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("/slots/slot-9 = %d, want 404", resp.StatusCode)
	}
}

func TestCommandEndpoint(t *testing.T) {
	wall := &fakeWall{}
	_, ts := newTestServer(t, wall)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantCall string
	}{
		{"next", "/slots/slot-1/next", "", http.StatusAccepted, "next"},
		{"bind query", "/slots/slot-1/bind?camera=dock", "", http.StatusAccepted, "bind:dock"},
		{"bind body", "/slots/slot-1/bind", `{"camera":"yard"}`, http.StatusAccepted, "bind:yard"},
		{"bind missing camera", "/slots/slot-1/bind", "", http.StatusBadRequest, ""},
		{"bad body", "/slots/slot-1/bind", `{`, http.StatusBadRequest, ""},
		{"unknown command", "/slots/slot-1/zoom", "", http.StatusBadRequest, ""},
		{"unknown slot", "/slots/slot-9/next", "", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wall.mu.Lock()
			wall.calls = nil
			wall.mu.Unlock()

			resp, err := http.Post(ts.URL+tt.path, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantCode {
				t.Errorf("code = %d, want %d", resp.StatusCode, tt.wantCode)
			}

			wall.mu.Lock()
			defer wall.mu.Unlock()
			if tt.wantCall == "" && len(wall.calls) != 0 {
				t.Errorf("unexpected calls %v", wall.calls)
			}
			if tt.wantCall != "" && (len(wall.calls) != 1 || wall.calls[0] != tt.wantCall) {
				t.Errorf("calls = %v, want [%s]", wall.calls, tt.wantCall)
			}
		})
	}
}

func TestFrameEndpoint(t *testing.T) {
	wall := &fakeWall{surface: streamsupervisor.NewSurface()}
	_, ts := newTestServer(t, wall)

	resp, err := http.Get(ts.URL + "/slots/slot-1/frame.jpg")
	if err != nil {
		t.Fatalf("GET frame failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("empty surface = %d, want 204", resp.StatusCode)
	}

	const w, h = 4, 2
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = byte(i * 10)
	}
	wall.surface.Set(streamsupervisor.Frame{Seq: 1, Width: w, Height: h, Data: data, TraceID: "trace-1"})

	resp, err = http.Get(ts.URL + "/slots/slot-1/frame.jpg")
	if err != nil {
		t.Fatalf("GET frame failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("frame = %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	img, err := jpeg.Decode(resp.Body)
	if err != nil {
		t.Fatalf("jpeg.Decode() failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		t.Errorf("decoded size = %v", b)
	}
	t.Logf("✅ Served %dx%d JPEG still", w, h)
}

func TestMJPEGStream(t *testing.T) {
	wall := &fakeWall{surface: streamsupervisor.NewSurface()}
	_, ts := newTestServer(t, wall)

	resp, err := http.Get(ts.URL + "/slots/slot-9/stream.mjpeg")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown slot = %d, want 404", resp.StatusCode)
	}

	rgb := func(w, h int) []byte { return make([]byte, w*h*3) }
	wall.surface.Set(streamsupervisor.Frame{Width: 4, Height: 2, Data: rgb(4, 2)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/slots/slot-1/stream.mjpeg", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream failed: %v", err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	mr := multipart.NewReader(resp.Body, params["boundary"])

	readPart := func() (int, int) {
		t.Helper()
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("NextPart() failed: %v", err)
		}
		img, err := jpeg.Decode(part)
		if err != nil {
			t.Fatalf("jpeg.Decode() failed: %v", err)
		}
		return img.Bounds().Dx(), img.Bounds().Dy()
	}

	if w, h := readPart(); w != 4 || h != 2 {
		t.Errorf("first part = %dx%d, want 4x2", w, h)
	}

	wall.surface.Set(streamsupervisor.Frame{Width: 8, Height: 6, Data: rgb(8, 6)})
	if w, h := readPart(); w != 8 || h != 6 {
		t.Errorf("second part = %dx%d, want 8x6", w, h)
	}
	t.Logf("✅ MJPEG stream pushed the new frame")
}

func TestWebSocketFeed(t *testing.T) {
	s, ts := newTestServer(t, &fakeWall{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/slots"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer conn.Close()

	read := func() control.SlotStatus {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var st control.SlotStatus
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("ReadJSON() failed: %v", err)
		}
		return st
	}

	if st := read(); st.Slot != "slot-1" || st.Status != "viewing" {
		t.Errorf("initial status = %+v", st)
	}

	deadline := time.Now().Add(time.Second)
	for s.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.hub.BroadcastSnapshot(streamsupervisor.Snapshot{Slot: "slot-1", Status: streamsupervisor.StatusReconnecting, Version: 9})

	if st := read(); st.Status != "reconnecting" || st.Version != 9 {
		t.Errorf("broadcast status = %+v", st)
	}
}

func TestWebSocketFeed_Msgpack(t *testing.T) {
	s, ts := newTestServer(t, &fakeWall{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/slots?format=msgpack"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer conn.Close()

	read := func() control.SlotStatus {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() failed: %v", err)
		}
		if kind != websocket.BinaryMessage {
			t.Fatalf("message type = %d, want binary", kind)
		}
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.SetCustomStructTag("json")
		var st control.SlotStatus
		if err := dec.Decode(&st); err != nil {
			t.Fatalf("msgpack decode failed: %v", err)
		}
		return st
	}

	if st := read(); st.Slot != "slot-1" || st.Status != "viewing" {
		t.Errorf("initial status = %+v", st)
	}

	deadline := time.Now().Add(time.Second)
	for s.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.hub.BroadcastSnapshot(streamsupervisor.Snapshot{Slot: "slot-1", Status: streamsupervisor.StatusFailed, Version: 4})

	if st := read(); st.Status != "failed" || st.Version != 4 {
		t.Errorf("broadcast status = %+v", st)
	}
	t.Logf("✅ msgpack feed decoded with JSON field names")
}

func TestWebSocketFeed_UnknownFormat(t *testing.T) {
	_, ts := newTestServer(t, &fakeWall{})

	resp, err := http.Get(ts.URL + "/ws/slots?format=xml")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
