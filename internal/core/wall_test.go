package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"github.com/e7canasta/stream-supervisor/internal/catalog"
	"github.com/e7canasta/stream-supervisor/internal/config"
	"github.com/e7canasta/stream-supervisor/internal/control"
)

func snapshotServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() failed: %v", err)
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestWall(t *testing.T, streamURL string) *VideoWall {
	t.Helper()
	yaml := fmt.Sprintf(`
instance_id: test-wall
scheduler:
  tick_ms: 20
  debounce_ms: 5
policy:
  connect_timeout_s: 50
http:
  addr: 127.0.0.1:0
cameras:
  - id: lobby
    streams:
      - kind: polled
        uri: %s/snap.png
        latency_ms: 20
        label: still
  - id: dock
slots:
  - id: slot-1
    camera: lobby
  - id: slot-2
`, streamURL)

	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	cat, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("catalog.Open() failed: %v", err)
	}
	v, err := New(cfg, cat, streamsupervisor.NewFactory(cfg.FactoryOptions()))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return v
}

func waitStatus(t *testing.T, v *VideoWall, slot string, want streamsupervisor.Status) streamsupervisor.Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		snap, err := v.Snapshot(slot)
		if err != nil {
			t.Fatalf("Snapshot() failed: %v", err)
		}
		if snap.Status == want {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("slot %s status = %s, want %s (error %q)", slot, snap.Status, want, snap.LastError)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestVideoWall_Lifecycle(t *testing.T) {
	ts := snapshotServer(t)
	v := newTestWall(t, ts.URL)

	if h := v.HealthCheck(); h.Status != "unhealthy" || h.SlotsTotal != 2 {
		t.Errorf("HealthCheck() before Run = %+v", h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- v.Run(ctx) }()

	snap := waitStatus(t, v, "slot-1", streamsupervisor.StatusViewing)
	if snap.CameraID != "lobby" || snap.Label != "still" || snap.Surface == nil {
		t.Errorf("viewing snapshot = %+v", snap)
	}
	if frame, ok := snap.Surface.Latest(); !ok || frame.Image() == nil {
		t.Error("surface has no decoded frame")
	}
	if s2, _ := v.Snapshot("slot-2"); s2.Bound || s2.Status != streamsupervisor.StatusIdle {
		t.Errorf("slot-2 = %+v", s2)
	}
	if h := v.HealthCheck(); h.Status != "healthy" || h.SlotsViewing != 1 {
		t.Errorf("HealthCheck() while viewing = %+v", h)
	}

	// Binding a camera without candidates fails the slot.
	if err := v.Bind("slot-2", "dock"); err != nil {
		t.Fatalf("Bind(dock) failed: %v", err)
	}
	snap = waitStatus(t, v, "slot-2", streamsupervisor.StatusFailed)
	if snap.LastError != streamsupervisor.ErrNoCandidates.Error() {
		t.Errorf("slot-2 error = %q", snap.LastError)
	}
	if h := v.HealthCheck(); h.Status != "degraded" || h.SlotsFailed != 1 {
		t.Errorf("HealthCheck() with failed slot = %+v", h)
	}

	if err := v.Pause("slot-1"); err != nil {
		t.Fatalf("Pause() failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for snap, _ = v.Snapshot("slot-1"); !snap.Paused; snap, _ = v.Snapshot("slot-1") {
		if time.Now().After(deadline) {
			t.Fatal("slot-1 never paused")
		}
		time.Sleep(5 * time.Millisecond)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := v.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}

	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after Shutdown")
	}

	for _, snap := range v.Snapshots() {
		if snap.Status != streamsupervisor.StatusIdle || snap.Bound {
			t.Errorf("after shutdown %s = %s bound=%v", snap.Slot, snap.Status, snap.Bound)
		}
	}
	t.Logf("✅ Wall ran, viewed, paused and shut down cleanly")
}

func TestVideoWall_UnknownSlotAndCamera(t *testing.T) {
	v := newTestWall(t, "http://127.0.0.1:1")

	ops := map[string]func(string) error{
		"unbind":   v.Unbind,
		"next":     v.Next,
		"previous": v.Previous,
		"restart":  v.Restart,
		"pause":    v.Pause,
		"resume":   v.Resume,
	}
	for name, op := range ops {
		if err := op("slot-9"); !errors.Is(err, control.ErrUnknownSlot) {
			t.Errorf("%s(slot-9) = %v", name, err)
		}
	}
	if _, err := v.Snapshot("slot-9"); !errors.Is(err, control.ErrUnknownSlot) {
		t.Errorf("Snapshot(slot-9) = %v", err)
	}
	if err := v.Bind("slot-1", "ghost"); !errors.Is(err, catalog.ErrCameraNotFound) {
		t.Errorf("Bind(ghost) = %v", err)
	}
	if got := len(v.Snapshots()); got != 2 {
		t.Errorf("Snapshots() = %d, want 2", got)
	}
}

func TestVideoWall_ShutdownWithoutRun(t *testing.T) {
	v := newTestWall(t, "http://127.0.0.1:1")
	if err := v.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}
