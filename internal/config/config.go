// Package config loads the videowall YAML configuration.
package config

import (
	"fmt"
	"net/http"
	"os"
	"time"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"gopkg.in/yaml.v3"
)

// Config represents the complete videowall configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Scheduler        SchedulerConfig `yaml:"scheduler"`
	Policy           PolicyConfig    `yaml:"policy"`
	Polling          PollingConfig   `yaml:"polling"`
	Catalog          CatalogConfig   `yaml:"catalog"`
	Cameras          []CameraConfig  `yaml:"cameras"`
	Slots            []SlotConfig    `yaml:"slots"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
	HTTP             HTTPConfig      `yaml:"http"`
}

// SchedulerConfig tunes the shared task engine
type SchedulerConfig struct {
	TickMS     int `yaml:"tick_ms"`     // health tick period (default: 1000)
	DebounceMS int `yaml:"debounce_ms"` // redraw debounce delay (default: 100)
}

// PolicyConfig holds the system-wide policy defaults
type PolicyConfig struct {
	Autostart            *bool `yaml:"autostart"`
	FailoverEnabled      *bool `yaml:"failover_enabled"`
	ConnectTimeoutS      int   `yaml:"connect_timeout_s"`
	LossTimeoutS         int   `yaml:"loss_timeout_s"`
	AutoReconnect        *bool `yaml:"auto_reconnect"`
	ReconnectIntervalS   int   `yaml:"reconnect_interval_s"`
	HonorCameraOverrides *bool `yaml:"honor_camera_overrides"` // default: true
}

// PollingConfig tunes the polled-image backend
type PollingConfig struct {
	TimeoutMS    int `yaml:"timeout_ms"`     // per-request timeout (default: 5000)
	MaxRetries   int `yaml:"max_retries"`    // consecutive failures before fatal (default: 5)
	RetryDelayMS int `yaml:"retry_delay_ms"` // first backoff delay (default: 1000)
}

// CatalogConfig selects where candidate lists come from
type CatalogConfig struct {
	Driver     string `yaml:"driver"`      // yaml, sqlite (default: yaml)
	SQLitePath string `yaml:"sqlite_path"` // required for sqlite
}

// CameraConfig defines one logical camera and its ordered candidates
type CameraConfig struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Template TemplateConfig `yaml:"template"`
	Streams  []StreamConfig `yaml:"streams"`
}

// TemplateConfig holds per-camera policy overrides (null = use default)
type TemplateConfig struct {
	Autostart          *bool `yaml:"autostart,omitempty"`
	FailoverEnabled    *bool `yaml:"failover_enabled,omitempty"`
	ConnectTimeoutS    *int  `yaml:"connect_timeout_s,omitempty"`
	LossTimeoutS       *int  `yaml:"loss_timeout_s,omitempty"`
	AutoReconnect      *bool `yaml:"auto_reconnect,omitempty"`
	ReconnectIntervalS *int  `yaml:"reconnect_interval_s,omitempty"`
}

// StreamConfig defines one candidate connection
type StreamConfig struct {
	Kind       string `yaml:"kind"`       // pipeline, polled
	URI        string `yaml:"uri"`        // rtsp://, http://, file://
	Pipeline   string `yaml:"pipeline"`   // custom gst-launch description
	Codec      string `yaml:"codec"`      // h264, h265, mjpeg, auto
	Resolution string `yaml:"resolution"` // 480p, 512p, 720p, 1080p (empty = native)
	LatencyMS  int    `yaml:"latency_ms"` // jitter buffer / poll period
	Multicast  bool   `yaml:"multicast"`
	Label      string `yaml:"label"`
}

// SlotConfig binds a display slot to a camera at startup
type SlotConfig struct {
	ID     string `yaml:"id"`
	Camera string `yaml:"camera"` // empty = slot starts unbound
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker   string     `yaml:"broker"`
	ClientID string     `yaml:"client_id"`
	Username string     `yaml:"username"`
	Password string     `yaml:"password"`
	Topics   MQTTTopics `yaml:"topics"`
	QoS      byte       `yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control   string `yaml:"control"`
	Responses string `yaml:"responses"`
	Status    string `yaml:"status"`
}

// HTTPConfig contains the health/metrics/API listener settings
type HTTPConfig struct {
	Addr string `yaml:"addr"` // default: :8080
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration data
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// PolicyDefaults returns the system-wide policy. Call after Validate.
func (c *Config) PolicyDefaults() streamsupervisor.Policy {
	return streamsupervisor.Policy{
		Autostart:            *c.Policy.Autostart,
		FailoverEnabled:      *c.Policy.FailoverEnabled,
		ConnectTimeoutSec:    c.Policy.ConnectTimeoutS,
		LossTimeoutSec:       c.Policy.LossTimeoutS,
		AutoReconnect:        *c.Policy.AutoReconnect,
		ReconnectIntervalSec: c.Policy.ReconnectIntervalS,
	}
}

// HonorCameraOverrides reports whether camera templates override defaults.
func (c *Config) HonorCameraOverrides() bool {
	return c.Policy.HonorCameraOverrides == nil || *c.Policy.HonorCameraOverrides
}

// TickInterval returns the health tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickMS) * time.Millisecond
}

// DebounceDelay returns the redraw debounce delay.
func (c *Config) DebounceDelay() time.Duration {
	return time.Duration(c.Scheduler.DebounceMS) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// FactoryOptions returns the backend tuning derived from the polling section.
func (c *Config) FactoryOptions() streamsupervisor.FactoryOptions {
	return streamsupervisor.FactoryOptions{
		HTTPClient:     &http.Client{Timeout: c.PollTimeout()},
		PollMaxRetries: c.Polling.MaxRetries,
		PollRetryDelay: time.Duration(c.Polling.RetryDelayMS) * time.Millisecond,
	}
}

// PollTimeout returns the per-request timeout of the polled backend.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Polling.TimeoutMS) * time.Millisecond
}

// FindCamera looks a camera up by id.
func (c *Config) FindCamera(id string) (CameraConfig, bool) {
	for _, cam := range c.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return CameraConfig{}, false
}

// Camera converts the entry to the supervisor's camera identity.
func (c CameraConfig) Camera() streamsupervisor.Camera {
	t := c.Template
	return streamsupervisor.Camera{
		ID:   c.ID,
		Name: c.Name,
		Overrides: streamsupervisor.PolicyOverrides{
			Autostart:            t.Autostart,
			FailoverEnabled:      t.FailoverEnabled,
			ConnectTimeoutSec:    t.ConnectTimeoutS,
			LossTimeoutSec:       t.LossTimeoutS,
			AutoReconnect:        t.AutoReconnect,
			ReconnectIntervalSec: t.ReconnectIntervalS,
		},
	}
}

// Descriptors converts the ordered stream list.
func (c CameraConfig) Descriptors() []streamsupervisor.StreamDescriptor {
	out := make([]streamsupervisor.StreamDescriptor, len(c.Streams))
	for i, s := range c.Streams {
		out[i] = s.Descriptor(i)
	}
	return out
}

// Descriptor converts one stream entry.
func (s StreamConfig) Descriptor(index int) streamsupervisor.StreamDescriptor {
	return streamsupervisor.StreamDescriptor{
		Index:      index,
		Kind:       streamsupervisor.ParseTransportKind(s.Kind),
		URI:        s.URI,
		Pipeline:   s.Pipeline,
		Codec:      streamsupervisor.ParseCodec(s.Codec),
		Resolution: streamsupervisor.ParseResolution(s.Resolution),
		LatencyMS:  s.LatencyMS,
		Multicast:  s.Multicast,
		Label:      s.Label,
	}
}
