package streamsupervisor

import (
	"fmt"
	"log/slog"
)

// Policy holds the control knobs of one Supervisor binding.
type Policy struct {
	Autostart            bool
	FailoverEnabled      bool
	ConnectTimeoutSec    int
	LossTimeoutSec       int
	AutoReconnect        bool
	ReconnectIntervalSec int
}

// DefaultPolicy returns the built-in system-wide defaults.
func DefaultPolicy() Policy {
	return Policy{
		Autostart:            true,
		FailoverEnabled:      true,
		ConnectTimeoutSec:    10,
		LossTimeoutSec:       10,
		AutoReconnect:        true,
		ReconnectIntervalSec: 10,
	}
}

// Validate reports the first knob that violates its range.
func (p Policy) Validate() error {
	if p.ConnectTimeoutSec <= 0 {
		return fmt.Errorf("stream-supervisor: connect timeout must be > 0 (got %d)", p.ConnectTimeoutSec)
	}
	if p.LossTimeoutSec <= 0 {
		return fmt.Errorf("stream-supervisor: loss timeout must be > 0 (got %d)", p.LossTimeoutSec)
	}
	if p.ReconnectIntervalSec <= 0 {
		return fmt.Errorf("stream-supervisor: reconnect interval must be > 0 (got %d)", p.ReconnectIntervalSec)
	}
	return nil
}

// PolicyOverrides are optional per-camera values. A nil field means
// "use the system-wide default".
type PolicyOverrides struct {
	Autostart            *bool
	FailoverEnabled      *bool
	ConnectTimeoutSec    *int
	LossTimeoutSec       *int
	AutoReconnect        *bool
	ReconnectIntervalSec *int
}

// IsZero reports whether no override is set.
func (o PolicyOverrides) IsZero() bool {
	return o.Autostart == nil && o.FailoverEnabled == nil &&
		o.ConnectTimeoutSec == nil && o.LossTimeoutSec == nil &&
		o.AutoReconnect == nil && o.ReconnectIntervalSec == nil
}

// PolicyResolver turns camera overrides plus system defaults into a Policy.
type PolicyResolver struct {
	defaults     Policy
	useOverrides bool
}

// NewPolicyResolver validates defaults and returns a resolver. When
// useOverrides is false every camera gets the defaults unchanged.
func NewPolicyResolver(defaults Policy, useOverrides bool) (*PolicyResolver, error) {
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("stream-supervisor: invalid default policy: %w", err)
	}
	return &PolicyResolver{defaults: defaults, useOverrides: useOverrides}, nil
}

// Defaults returns the system-wide policy.
func (r *PolicyResolver) Defaults() Policy {
	return r.defaults
}

// Resolve returns the effective policy for camera. Integer overrides that are
// not positive are ignored.
func (r *PolicyResolver) Resolve(camera Camera) Policy {
	p := r.defaults
	if !r.useOverrides {
		return p
	}

	o := camera.Overrides
	p.Autostart = pickBool(o.Autostart, p.Autostart)
	p.FailoverEnabled = pickBool(o.FailoverEnabled, p.FailoverEnabled)
	p.AutoReconnect = pickBool(o.AutoReconnect, p.AutoReconnect)
	p.ConnectTimeoutSec = pickPositive(camera.ID, "connect_timeout_s", o.ConnectTimeoutSec, p.ConnectTimeoutSec)
	p.LossTimeoutSec = pickPositive(camera.ID, "loss_timeout_s", o.LossTimeoutSec, p.LossTimeoutSec)
	p.ReconnectIntervalSec = pickPositive(camera.ID, "reconnect_interval_s", o.ReconnectIntervalSec, p.ReconnectIntervalSec)
	return p
}

func pickBool(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	return fallback
}

func pickPositive(cameraID, knob string, override *int, fallback int) int {
	if override == nil {
		return fallback
	}
	if *override <= 0 {
		slog.Warn("stream-supervisor: ignoring non-positive policy override",
			"camera", cameraID,
			"knob", knob,
			"value", *override,
			"default", fallback,
		)
		return fallback
	}
	return *override
}
