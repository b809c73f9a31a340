package config

import (
	"fmt"
	"log/slog"
	"regexp"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
)

var idPattern = regexp.MustCompile(`^[a-z0-9\-_]+$`)

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !idPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-_]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.Scheduler.TickMS <= 0 {
		cfg.Scheduler.TickMS = 1000
	}
	if cfg.Scheduler.DebounceMS <= 0 {
		cfg.Scheduler.DebounceMS = 100
	}

	if err := validatePolicy(&cfg.Policy); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	if cfg.Polling.TimeoutMS <= 0 {
		cfg.Polling.TimeoutMS = 5000
	}
	if cfg.Polling.MaxRetries <= 0 {
		cfg.Polling.MaxRetries = 5
	}
	if cfg.Polling.RetryDelayMS <= 0 {
		cfg.Polling.RetryDelayMS = 1000
	}

	switch cfg.Catalog.Driver {
	case "":
		cfg.Catalog.Driver = "yaml"
	case "yaml":
	case "sqlite":
		if cfg.Catalog.SQLitePath == "" {
			return fmt.Errorf("catalog.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("catalog.driver must be 'yaml' or 'sqlite', got '%s'", cfg.Catalog.Driver)
	}

	if err := ValidateCameras(cfg.Cameras); err != nil {
		return fmt.Errorf("camera validation failed: %w", err)
	}

	if err := validateSlots(cfg); err != nil {
		return fmt.Errorf("slot validation failed: %w", err)
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = fmt.Sprintf("videowall-%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("videowall/control/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Responses == "" {
			cfg.MQTT.Topics.Responses = fmt.Sprintf("videowall/responses/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Status == "" {
			cfg.MQTT.Topics.Status = fmt.Sprintf("videowall/status/%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}

	return nil
}

func validatePolicy(p *PolicyConfig) error {
	defaults := streamsupervisor.DefaultPolicy()

	if p.Autostart == nil {
		p.Autostart = &defaults.Autostart
	}
	if p.FailoverEnabled == nil {
		p.FailoverEnabled = &defaults.FailoverEnabled
	}
	if p.AutoReconnect == nil {
		p.AutoReconnect = &defaults.AutoReconnect
	}

	if p.ConnectTimeoutS < 0 || p.LossTimeoutS < 0 || p.ReconnectIntervalS < 0 {
		return fmt.Errorf("timeouts must be > 0")
	}
	if p.ConnectTimeoutS == 0 {
		p.ConnectTimeoutS = defaults.ConnectTimeoutSec
	}
	if p.LossTimeoutS == 0 {
		p.LossTimeoutS = defaults.LossTimeoutSec
	}
	if p.ReconnectIntervalS == 0 {
		p.ReconnectIntervalS = defaults.ReconnectIntervalSec
	}
	return nil
}

// ValidateCameras validates camera and stream definitions
func ValidateCameras(cameras []CameraConfig) error {
	seen := make(map[string]bool, len(cameras))

	for _, cam := range cameras {
		if cam.ID == "" {
			return fmt.Errorf("camera id is required")
		}
		if seen[cam.ID] {
			return fmt.Errorf("camera '%s' defined twice", cam.ID)
		}
		seen[cam.ID] = true

		for i, s := range cam.Streams {
			if s.URI == "" && s.Pipeline == "" {
				return fmt.Errorf("camera '%s' stream %d: uri or pipeline is required", cam.ID, i)
			}
			if s.LatencyMS < 0 {
				return fmt.Errorf("camera '%s' stream %d: latency_ms must be >= 0", cam.ID, i)
			}

			// Unknown kinds are kept: the supervisor treats them as unusable
			// candidates and fails over past them.
			switch streamsupervisor.ParseTransportKind(s.Kind) {
			case streamsupervisor.TransportPipeline, streamsupervisor.TransportPolled:
			default:
				slog.Warn("config: stream has no matching backend",
					"camera", cam.ID,
					"stream", i,
					"kind", s.Kind,
				)
			}
		}
	}

	return nil
}

func validateSlots(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Slots))

	for _, slot := range cfg.Slots {
		if slot.ID == "" {
			return fmt.Errorf("slot id is required")
		}
		if !idPattern.MatchString(slot.ID) {
			return fmt.Errorf("slot '%s': id must match pattern [a-z0-9-_]+", slot.ID)
		}
		if seen[slot.ID] {
			return fmt.Errorf("slot '%s' defined twice", slot.ID)
		}
		seen[slot.ID] = true

		// With the sqlite catalog, cameras live in the database.
		if slot.Camera != "" && cfg.Catalog.Driver == "yaml" {
			if _, ok := cfg.FindCamera(slot.Camera); !ok {
				return fmt.Errorf("slot '%s': camera '%s' not found", slot.ID, slot.Camera)
			}
		}
	}

	return nil
}
