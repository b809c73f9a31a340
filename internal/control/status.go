package control

import (
	"time"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
)

// SlotStatus is the wire form of one slot snapshot, shared by the MQTT
// status topic, control responses and the HTTP API.
type SlotStatus struct {
	Slot        string `json:"slot"`
	Camera      string `json:"camera,omitempty"`
	Bound       bool   `json:"bound"`
	Status      string `json:"status"`
	Index       int    `json:"index"`
	Candidates  int    `json:"candidates"`
	Label       string `json:"label,omitempty"`
	IdleSeconds int    `json:"idle_seconds"`
	Paused      bool   `json:"paused"`

	ReconnectAttempts    uint64 `json:"reconnect_attempts"`
	SuccessfulReconnects uint64 `json:"successful_reconnects"`
	Failovers            uint64 `json:"failovers"`

	Error         string `json:"error,omitempty"`
	BackendStatus string `json:"backend_status,omitempty"`

	Policy    PolicyView `json:"policy"`
	FrameSeq  uint64     `json:"frame_seq"`
	Version   uint64     `json:"version"`
	UpdatedAt string     `json:"updated_at"`
}

// PolicyView is the effective policy of the bound camera.
type PolicyView struct {
	Autostart            bool `json:"autostart"`
	FailoverEnabled      bool `json:"failover_enabled"`
	ConnectTimeoutSec    int  `json:"connect_timeout_s"`
	LossTimeoutSec       int  `json:"loss_timeout_s"`
	AutoReconnect        bool `json:"auto_reconnect"`
	ReconnectIntervalSec int  `json:"reconnect_interval_s"`
}

// NewSlotStatus converts a snapshot. The error shown is the backend's while
// it has one, otherwise the supervisor's last error.
func NewSlotStatus(snap streamsupervisor.Snapshot) SlotStatus {
	st := SlotStatus{
		Slot:                 snap.Slot,
		Camera:               snap.CameraID,
		Bound:                snap.Bound,
		Status:               snap.Status.String(),
		Index:                snap.Index,
		Candidates:           snap.Candidates,
		Label:                snap.Label,
		IdleSeconds:          snap.IdleSeconds,
		Paused:               snap.Paused,
		ReconnectAttempts:    snap.ReconnectAttempts,
		SuccessfulReconnects: snap.SuccessfulReconnects,
		Failovers:            snap.Failovers,
		Error:                snap.ManagerError,
		BackendStatus:        snap.ManagerStatus,
		Policy: PolicyView{
			Autostart:            snap.Policy.Autostart,
			FailoverEnabled:      snap.Policy.FailoverEnabled,
			ConnectTimeoutSec:    snap.Policy.ConnectTimeoutSec,
			LossTimeoutSec:       snap.Policy.LossTimeoutSec,
			AutoReconnect:        snap.Policy.AutoReconnect,
			ReconnectIntervalSec: snap.Policy.ReconnectIntervalSec,
		},
		Version: snap.Version,
	}
	if st.Error == "" {
		st.Error = snap.LastError
	}
	if snap.Surface != nil {
		st.FrameSeq = snap.Surface.Seq()
	}
	if !snap.UpdatedAt.IsZero() {
		st.UpdatedAt = snap.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return st
}
