package core

import (
	"context"
	"log/slog"
	"time"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"github.com/e7canasta/stream-supervisor/internal/httpapi"
)

// HealthCheck returns the current health status of the wall.
//
// unhealthy: not running. degraded: any bound slot is Failed or
// Reconnecting, or MQTT is configured but disconnected.
func (v *VideoWall) HealthCheck() httpapi.HealthStatus {
	v.mu.RLock()
	running, started, em := v.isRunning, v.started, v.emitter
	v.mu.RUnlock()

	status := httpapi.HealthStatus{
		Status:     "healthy",
		SlotsTotal: len(v.order),
		Slots:      make(map[string]int),
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	degraded := false
	for _, snap := range v.Snapshots() {
		status.Slots[snap.Status.String()]++
		switch snap.Status {
		case streamsupervisor.StatusViewing:
			status.SlotsViewing++
		case streamsupervisor.StatusFailed:
			status.SlotsFailed++
			degraded = true
		case streamsupervisor.StatusReconnecting:
			degraded = true
		}
	}

	mqttConfigured := v.cfg.MQTT.Broker != ""
	if em != nil && em.Client != nil && em.Client.IsConnected() {
		status.MQTTConnected = true
	}
	if mqttConfigured && !status.MQTTConnected {
		degraded = true
	}

	switch {
	case !running:
		status.Status = "unhealthy"
	case degraded:
		status.Status = "degraded"
	}
	return status
}

// logStats periodically logs a one-line summary per slot.
func (v *VideoWall) logStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, snap := range v.Snapshots() {
				if !snap.Bound {
					continue
				}
				slog.Info("slot stats",
					"slot", snap.Slot,
					"camera", snap.CameraID,
					"status", snap.Status,
					"label", snap.Label,
					"backend", snap.ManagerStatus,
					"reconnects", snap.SuccessfulReconnects,
					"failovers", snap.Failovers,
				)
			}
			slog.Info("scheduler stats", "pending", v.engine.Pending(), "bus_published", v.bus.Published())
		}
	}
}
