package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
)

const sampleYAML = `
instance_id: lobby-wall
policy:
  connect_timeout_s: 8
  auto_reconnect: false
cameras:
  - id: lobby
    name: Lobby
    template:
      loss_timeout_s: 30
    streams:
      - kind: pipeline
        uri: rtsp://10.0.0.5/main
        codec: h264
        resolution: 720p
        latency_ms: 150
        label: Lobby main
      - kind: polled
        uri: http://10.0.0.5/snap.jpg
        latency_ms: 2000
slots:
  - id: slot-1
    camera: lobby
  - id: slot-2
mqtt:
  broker: tcp://localhost:1883
`

func TestParse_FillsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want 5s", cfg.ShutdownTimeout())
	}
	if cfg.TickInterval() != time.Second || cfg.DebounceDelay() != 100*time.Millisecond {
		t.Errorf("scheduler = %v / %v", cfg.TickInterval(), cfg.DebounceDelay())
	}
	if cfg.Catalog.Driver != "yaml" || cfg.HTTP.Addr != ":8080" {
		t.Errorf("catalog driver = %q, http addr = %q", cfg.Catalog.Driver, cfg.HTTP.Addr)
	}
	if cfg.MQTT.Topics.Control != "videowall/control/lobby-wall" ||
		cfg.MQTT.Topics.Status != "videowall/status/lobby-wall" ||
		cfg.MQTT.ClientID != "videowall-lobby-wall" {
		t.Errorf("mqtt defaults = %+v", cfg.MQTT)
	}

	want := streamsupervisor.DefaultPolicy()
	want.ConnectTimeoutSec = 8
	want.AutoReconnect = false
	if got := cfg.PolicyDefaults(); got != want {
		t.Errorf("PolicyDefaults() = %+v, want %+v", got, want)
	}
	if !cfg.HonorCameraOverrides() {
		t.Error("camera overrides should be honored by default")
	}

	opts := cfg.FactoryOptions()
	if opts.PollMaxRetries != 5 || opts.PollRetryDelay != time.Second {
		t.Errorf("FactoryOptions() = %+v", opts)
	}
	t.Logf("✅ Defaults filled for %d cameras, %d slots", len(cfg.Cameras), len(cfg.Slots))
}

func TestCameraConversion(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	cam, ok := cfg.FindCamera("lobby")
	if !ok {
		t.Fatal("camera lobby not found")
	}

	identity := cam.Camera()
	if identity.Overrides.LossTimeoutSec == nil || *identity.Overrides.LossTimeoutSec != 30 {
		t.Errorf("loss override = %v", identity.Overrides.LossTimeoutSec)
	}
	if identity.Overrides.Autostart != nil {
		t.Error("unset template value should stay nil")
	}

	descs := cam.Descriptors()
	if len(descs) != 2 {
		t.Fatalf("got %d descriptors, want 2", len(descs))
	}
	main := descs[0]
	if main.Kind != streamsupervisor.TransportPipeline || main.Codec != streamsupervisor.CodecH264 ||
		main.Resolution != streamsupervisor.Res720p || main.LatencyMS != 150 || main.Label != "Lobby main" {
		t.Errorf("descriptor 0 = %+v", main)
	}
	if descs[1].Index != 1 || descs[1].Kind != streamsupervisor.TransportPolled {
		t.Errorf("descriptor 1 = %+v", descs[1])
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing instance", `cameras: []`, "instance_id is required"},
		{"bad instance", `instance_id: Lobby Wall`, "instance_id must match"},
		{"negative timeout", "instance_id: a\npolicy:\n  loss_timeout_s: -1", "timeouts must be > 0"},
		{"sqlite without path", "instance_id: a\ncatalog:\n  driver: sqlite", "sqlite_path is required"},
		{"unknown driver", "instance_id: a\ncatalog:\n  driver: etcd", "catalog.driver"},
		{"stream without source", "instance_id: a\ncameras:\n  - id: c\n    streams:\n      - kind: pipeline", "uri or pipeline is required"},
		{"duplicate camera", "instance_id: a\ncameras:\n  - id: c\n  - id: c", "defined twice"},
		{"unknown slot camera", "instance_id: a\nslots:\n  - id: s1\n    camera: ghost", "camera 'ghost' not found"},
		{"duplicate slot", "instance_id: a\nslots:\n  - id: s1\n  - id: s1", "defined twice"},
		{"bad qos", "instance_id: a\nmqtt:\n  broker: tcp://x:1883\n  qos: 3", "mqtt.qos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestValidate_UnknownKindKept(t *testing.T) {
	cfg, err := Parse([]byte("instance_id: a\ncameras:\n  - id: c\n    streams:\n      - kind: webrtc\n        uri: https://x"))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if got := cfg.Cameras[0].Descriptors()[0].Kind; got != "webrtc" {
		t.Errorf("kind = %q, want webrtc", got)
	}
}

func TestHonorCameraOverridesSwitch(t *testing.T) {
	cfg, err := Parse([]byte("instance_id: a\npolicy:\n  honor_camera_overrides: false"))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if cfg.HonorCameraOverrides() {
		t.Error("honor_camera_overrides: false was ignored")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "videowall.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.InstanceID != "lobby-wall" {
		t.Errorf("InstanceID = %q", cfg.InstanceID)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}
