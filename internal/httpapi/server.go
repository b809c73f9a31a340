// Package httpapi serves health, metrics, slot status, slot commands,
// JPEG stills, MJPEG streams and a WebSocket status feed over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"github.com/e7canasta/stream-supervisor/internal/control"
)

// mjpegRetry is how often a stream without a live surface re-checks its slot.
const mjpegRetry = 250 * time.Millisecond

// HealthStatus represents the health state of the video wall
type HealthStatus struct {
	Status        string         `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64          `json:"uptime_seconds"`
	SlotsTotal    int            `json:"slots_total"`
	SlotsViewing  int            `json:"slots_viewing"`
	SlotsFailed   int            `json:"slots_failed"`
	MQTTConnected bool           `json:"mqtt_connected"`
	WSClients     int            `json:"ws_clients"`
	Slots         map[string]int `json:"slots_by_status,omitempty"`
}

// Server is the HTTP front of the video wall.
type Server struct {
	wall     control.Wall
	health   func() HealthStatus
	gatherer prometheus.Gatherer
	hub      *Hub
	started  time.Time
	quality  int

	server *http.Server
}

// Options configures a Server.
type Options struct {
	Addr     string
	Wall     control.Wall
	Health   func() HealthStatus
	Gatherer prometheus.Gatherer
	Hub      *Hub
	// JPEGQuality for /slots/{id}/frame.jpg (default 80).
	JPEGQuality int
}

// New creates a server. Nothing listens until Start.
func New(opts Options) *Server {
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 80
	}
	s := &Server{
		wall:     opts.Wall,
		health:   opts.Health,
		gatherer: opts.Gatherer,
		hub:      opts.Hub,
		started:  time.Now(),
		quality:  opts.JPEGQuality,
	}
	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleLiveness)
	mux.HandleFunc("GET /readiness", s.handleReadiness)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /slots", s.handleSlots)
	mux.HandleFunc("GET /slots/{id}", s.handleSlot)
	mux.HandleFunc("GET /slots/{id}/frame.jpg", s.handleFrame)
	mux.HandleFunc("GET /slots/{id}/stream.mjpeg", s.handleMJPEG)
	mux.HandleFunc("POST /slots/{id}/{command}", s.handleCommand)
	mux.HandleFunc("GET /ws/slots", s.handleWS)

	return mux
}

// Start listens in a goroutine. It does not block.
func (s *Server) Start() {
	slog.Info("starting http server",
		"addr", s.server.Addr,
		"endpoints", []string{"/health", "/readiness", "/metrics", "/slots", "/slots/{id}/stream.mjpeg", "/ws/slots"},
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
	}()
}

// Shutdown stops the listener and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleLiveness returns 200 if the process is alive
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// handleReadiness returns 503 only when the wall is unhealthy
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, HealthStatus{Status: "healthy"})
		return
	}
	health := s.health()
	health.WSClients = s.hub.ClientCount()

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	snaps := s.wall.Snapshots()
	out := make([]control.SlotStatus, len(snaps))
	for i, snap := range snaps {
		out[i] = control.NewSlotStatus(snap)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSlot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.wall.Snapshot(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, control.NewSlotStatus(snap))
}

// handleFrame encodes the latest frame of the slot's surface as JPEG.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	snap, err := s.wall.Snapshot(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if snap.Surface == nil {
		writeError(w, http.StatusNoContent, nil)
		return
	}
	frame, ok := snap.Surface.Latest()
	if !ok {
		writeError(w, http.StatusNoContent, nil)
		return
	}
	img := frame.Image()
	if img == nil {
		writeError(w, http.StatusNoContent, nil)
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))
	w.Header().Set("X-Frame-Trace", frame.TraceID)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// handleMJPEG pushes every new frame of the slot as multipart JPEG. It follows
// the slot across manager changes.
func (s *Server) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.wall.Snapshot(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	rc := http.NewResponseController(w)
	rc.SetWriteDeadline(time.Time{}) // the stream outlives the server write timeout

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	slog.Info("http: mjpeg client connected", "slot", id, "remote", r.RemoteAddr)
	defer slog.Info("http: mjpeg client disconnected", "slot", id, "remote", r.RemoteAddr)

	ctx := r.Context()
	var (
		surface *streamsupervisor.Surface
		seq     uint64
		buf     bytes.Buffer
	)
	for {
		snap, err := s.wall.Snapshot(id)
		if err != nil {
			return
		}
		if snap.Surface != surface {
			surface, seq = snap.Surface, 0
		}

		var frame streamsupervisor.Frame
		ok := false
		if surface != nil {
			frame, seq, ok = waitFrame(ctx, surface, seq)
		}
		if ctx.Err() != nil {
			return
		}
		if !ok {
			// No manager, or its surface closed: wait for the slot to move on.
			select {
			case <-ctx.Done():
				return
			case <-time.After(mjpegRetry):
			}
			continue
		}

		img := frame.Image()
		if img == nil {
			continue
		}
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
			slog.Debug("http: mjpeg encode failed", "slot", id, "error", err)
			continue
		}
		fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", buf.Len())
		w.Write(buf.Bytes())
		fmt.Fprint(w, "\r\n")
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// waitFrame is Surface.Wait bounded by ctx. An abandoned wait returns on the
// next frame or when the surface closes with its manager.
func waitFrame(ctx context.Context, surface *streamsupervisor.Surface, after uint64) (streamsupervisor.Frame, uint64, bool) {
	type result struct {
		frame streamsupervisor.Frame
		seq   uint64
		ok    bool
	}
	ch := make(chan result, 1)
	go func() {
		f, seq, ok := surface.Wait(after)
		ch <- result{f, seq, ok}
	}()

	select {
	case <-ctx.Done():
		return streamsupervisor.Frame{}, after, false
	case r := <-ch:
		return r.frame, r.seq, r.ok
	}
}

// handleCommand runs a control command on one slot. bind takes the camera
// from ?camera= or a JSON body {"camera": "..."}.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	cmd := control.Command{
		Command:   r.PathValue("command"),
		Slot:      r.PathValue("id"),
		Camera:    r.URL.Query().Get("camera"),
		RequestID: r.Header.Get("X-Request-ID"),
	}
	if cmd.Command == "get_status" {
		writeError(w, http.StatusMethodNotAllowed, errors.New("use GET /slots/{id}"))
		return
	}
	if cmd.Camera == "" && r.Body != nil && r.ContentLength != 0 {
		var body struct {
			Camera string `json:"camera"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
			return
		}
		cmd.Camera = body.Camera
	}

	if _, err := s.wall.Snapshot(cmd.Slot); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	resp := control.Dispatch(s.wall, cmd)
	code := http.StatusAccepted
	if resp.Status == control.StatusError {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, s.wall.Snapshots())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("http: failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	if err == nil {
		w.WriteHeader(code)
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
