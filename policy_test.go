package streamsupervisor

import "testing"

func ptr[T any](v T) *T { return &v }

func TestPolicyResolver_Resolve(t *testing.T) {
	defaults := DefaultPolicy()

	tests := []struct {
		name         string
		useOverrides bool
		overrides    PolicyOverrides
		want         Policy
	}{
		{
			name:         "no overrides uses defaults",
			useOverrides: true,
			want:         defaults,
		},
		{
			name:         "every knob overridden",
			useOverrides: true,
			overrides: PolicyOverrides{
				Autostart:            ptr(false),
				FailoverEnabled:      ptr(false),
				ConnectTimeoutSec:    ptr(3),
				LossTimeoutSec:       ptr(4),
				AutoReconnect:        ptr(false),
				ReconnectIntervalSec: ptr(5),
			},
			want: Policy{
				Autostart:            false,
				FailoverEnabled:      false,
				ConnectTimeoutSec:    3,
				LossTimeoutSec:       4,
				AutoReconnect:        false,
				ReconnectIntervalSec: 5,
			},
		},
		{
			name:         "partial override",
			useOverrides: true,
			overrides:    PolicyOverrides{LossTimeoutSec: ptr(30)},
			want: func() Policy {
				p := defaults
				p.LossTimeoutSec = 30
				return p
			}(),
		},
		{
			name:         "non-positive integer override ignored",
			useOverrides: true,
			overrides:    PolicyOverrides{ConnectTimeoutSec: ptr(0), ReconnectIntervalSec: ptr(-2)},
			want:         defaults,
		},
		{
			name:         "overrides disabled",
			useOverrides: false,
			overrides:    PolicyOverrides{Autostart: ptr(false), LossTimeoutSec: ptr(30)},
			want:         defaults,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewPolicyResolver(defaults, tt.useOverrides)
			if err != nil {
				t.Fatalf("NewPolicyResolver() failed: %v", err)
			}
			got := r.Resolve(Camera{ID: "cam", Overrides: tt.overrides})
			if got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPolicyResolver_RejectsInvalidDefaults(t *testing.T) {
	for name, mutate := range map[string]func(*Policy){
		"connect":   func(p *Policy) { p.ConnectTimeoutSec = 0 },
		"loss":      func(p *Policy) { p.LossTimeoutSec = -1 },
		"reconnect": func(p *Policy) { p.ReconnectIntervalSec = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			p := DefaultPolicy()
			mutate(&p)
			if _, err := NewPolicyResolver(p, true); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPolicyOverrides_IsZero(t *testing.T) {
	if !(PolicyOverrides{}).IsZero() {
		t.Error("empty overrides should be zero")
	}
	if (PolicyOverrides{AutoReconnect: ptr(true)}).IsZero() {
		t.Error("overrides with a value should not be zero")
	}
}
