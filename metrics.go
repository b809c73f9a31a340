package streamsupervisor

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "videowall"

// Metrics holds the Prometheus collectors shared by all Supervisors of a
// process. A nil *Metrics is valid and records nothing.
type Metrics struct {
	status            *prometheus.GaugeVec
	idleSeconds       *prometheus.GaugeVec
	paused            *prometheus.GaugeVec
	reconnectAttempts *prometheus.CounterVec
	reconnects        *prometheus.CounterVec
	failovers         *prometheus.CounterVec
	managers          *prometheus.CounterVec
	backendErrors     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "slot_status",
			Help:      "1 for the current supervisor status of the slot, 0 for the others.",
		}, []string{"slot", "status"}),
		idleSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "slot_idle_seconds",
			Help:      "Health ticks since the slot last received a frame.",
		}, []string{"slot"}),
		paused: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "slot_paused",
			Help:      "1 if the slot is paused.",
		}, []string{"slot"}),
		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts made while reconnecting.",
		}, []string{"slot"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "Reconnects that brought the slot back to viewing.",
		}, []string{"slot"}),
		failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "failovers_total",
			Help:      "Switches to the next candidate after a connect timeout.",
		}, []string{"slot"}),
		managers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stream_managers_created_total",
			Help:      "Stream managers created, by transport kind.",
		}, []string{"slot", "kind"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "backend_errors_total",
			Help:      "Fatal backend errors, by category.",
		}, []string{"slot", "category"}),
	}

	for _, c := range []prometheus.Collector{
		m.status, m.idleSeconds, m.paused, m.reconnectAttempts,
		m.reconnects, m.failovers, m.managers, m.backendErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("stream-supervisor: register metrics: %w", err)
		}
	}
	return m, nil
}

var allStatuses = []Status{StatusIdle, StatusScanning, StatusViewing, StatusReconnecting, StatusFailed}

func (m *Metrics) observe(snap Snapshot) {
	if m == nil {
		return
	}
	for _, st := range allStatuses {
		v := 0.0
		if st == snap.Status {
			v = 1
		}
		m.status.WithLabelValues(snap.Slot, st.String()).Set(v)
	}
	m.idleSeconds.WithLabelValues(snap.Slot).Set(float64(snap.IdleSeconds))
	paused := 0.0
	if snap.Paused {
		paused = 1
	}
	m.paused.WithLabelValues(snap.Slot).Set(paused)
}

func (m *Metrics) failover(slot string) {
	if m == nil {
		return
	}
	m.failovers.WithLabelValues(slot).Inc()
}

func (m *Metrics) reconnectAttempt(slot string) {
	if m == nil {
		return
	}
	m.reconnectAttempts.WithLabelValues(slot).Inc()
}

func (m *Metrics) reconnected(slot string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(slot).Inc()
}

func (m *Metrics) managerCreated(slot string, kind TransportKind) {
	if m == nil {
		return
	}
	m.managers.WithLabelValues(slot, string(kind)).Inc()
}

func (m *Metrics) backendError(slot, category string) {
	if m == nil {
		return
	}
	m.backendErrors.WithLabelValues(slot, category).Inc()
}
