package streamsupervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Status is the Supervisor state.
type Status int

const (
	StatusIdle Status = iota
	StatusScanning
	StatusViewing
	StatusReconnecting
	StatusFailed
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusScanning:
		return "scanning"
	case StatusViewing:
		return "viewing"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ownsManager reports whether an active manager must exist in this status.
func (s Status) ownsManager() bool {
	return s == StatusScanning || s == StatusViewing || s == StatusReconnecting
}

// ErrNoCandidates is the lastReportedError text source for an empty candidate list.
var ErrNoCandidates = errors.New("no sources available")

// CandidateResolver returns the ordered candidate list of a camera. An empty
// list is valid.
type CandidateResolver interface {
	ResolveCandidates(camera Camera) ([]StreamDescriptor, error)
}

// CandidateResolverFunc adapts a function to CandidateResolver.
type CandidateResolverFunc func(camera Camera) ([]StreamDescriptor, error)

// ResolveCandidates calls f(camera).
func (f CandidateResolverFunc) ResolveCandidates(camera Camera) ([]StreamDescriptor, error) {
	return f(camera)
}

// Notifier receives the committed snapshot every time a debounced redraw runs.
// It is called on the scheduler worker and must not block.
type Notifier interface {
	Notify(Snapshot)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Snapshot)

// Notify calls f(snap).
func (f NotifierFunc) Notify(snap Snapshot) { f(snap) }

// Snapshot is an immutable copy of a Supervisor's state, published after
// every committed transition.
type Snapshot struct {
	Slot     string
	CameraID string
	Bound    bool

	Status      Status
	Index       int
	Candidates  int
	Label       string
	IdleSeconds int
	Paused      bool
	Policy      Policy

	ReconnectAttempts    uint64
	SuccessfulReconnects uint64
	Failovers            uint64

	LastError     string
	ManagerStatus string
	ManagerError  string
	Surface       *Surface

	Version   uint64
	UpdatedAt time.Time
}

// SupervisorConfig wires a Supervisor to its collaborators.
type SupervisorConfig struct {
	// Slot names the display slot. Must be unique per Scheduler.
	Slot      string
	Scheduler Scheduler
	Factory   BackendFactory
	Resolver  CandidateResolver
	Policies  *PolicyResolver

	// Optional
	Notifier      Notifier
	Metrics       *Metrics
	TickInterval  time.Duration
	DebounceDelay time.Duration
}

// Supervisor keeps one display slot showing a working feed from the bound
// camera's candidate list.
//
// Every state mutation runs as a task on the Scheduler worker. Public
// commands only submit tasks; read accessors only read the last published
// Snapshot. Backend goroutines never call into Supervisor state.
type Supervisor struct {
	slot      string
	sched     Scheduler
	factory   BackendFactory
	resolver  CandidateResolver
	policies  *PolicyResolver
	notifier  Notifier
	metrics   *Metrics
	tick      time.Duration
	debounce  time.Duration
	tickKey   string
	redrawKey string

	// Worker-owned state.
	camera               Camera
	bound                bool
	policy               Policy
	candidates           []StreamDescriptor
	index                int
	scanStart            int // index the current scan began at
	active               StreamManager
	status               Status
	idleSeconds          int
	paused               bool
	reconnectAttempts    uint64
	successfulReconnects uint64
	failovers            uint64
	lastError            string
	version              uint64

	snap atomic.Pointer[Snapshot]
}

// NewSupervisor validates cfg and returns an unbound Supervisor in Idle.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Slot == "" {
		return nil, fmt.Errorf("stream-supervisor: slot name required")
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("stream-supervisor: slot %s: scheduler required", cfg.Slot)
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("stream-supervisor: slot %s: backend factory required", cfg.Slot)
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("stream-supervisor: slot %s: candidate resolver required", cfg.Slot)
	}
	if cfg.Policies == nil {
		policies, err := NewPolicyResolver(DefaultPolicy(), true)
		if err != nil {
			return nil, err
		}
		cfg.Policies = policies
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultDebounceDelay
	}

	s := &Supervisor{
		slot:      cfg.Slot,
		sched:     cfg.Scheduler,
		factory:   cfg.Factory,
		resolver:  cfg.Resolver,
		policies:  cfg.Policies,
		notifier:  cfg.Notifier,
		metrics:   cfg.Metrics,
		tick:      cfg.TickInterval,
		debounce:  cfg.DebounceDelay,
		tickKey:   "health:" + cfg.Slot,
		redrawKey: "redraw:" + cfg.Slot,
		policy:    cfg.Policies.Defaults(),
		status:    StatusIdle,
	}
	s.publish()
	return s, nil
}

// Slot returns the display slot name.
func (s *Supervisor) Slot() string { return s.slot }

// Bind stops whatever is playing, resolves policy and candidates for camera
// and (with autostart) begins scanning.
func (s *Supervisor) Bind(camera Camera) error {
	return s.sched.Submit(func() { s.bind(camera) })
}

// Unbind stops the health tick and the active manager and goes Idle.
func (s *Supervisor) Unbind() error {
	return s.sched.Submit(s.unbind)
}

// Next plays the following candidate, wrapping to the first.
func (s *Supervisor) Next() error {
	return s.sched.Submit(func() { s.step(+1) })
}

// Previous plays the preceding candidate, wrapping to the last.
func (s *Supervisor) Previous() error {
	return s.sched.Submit(func() { s.step(-1) })
}

// RestartCurrent force-refreshes the current candidate.
func (s *Supervisor) RestartCurrent() error {
	return s.sched.Submit(s.restartCurrent)
}

// Pause stops the active manager but keeps it, freezing its last frame.
func (s *Supervisor) Pause() error {
	return s.sched.Submit(s.pause)
}

// Resume undoes Pause.
func (s *Supervisor) Resume() error {
	return s.sched.Submit(s.resume)
}

// Close tears the slot down. If the scheduler is already stopped the
// teardown runs on the caller, since no worker can race it any more.
func (s *Supervisor) Close() error {
	err := s.sched.Submit(s.unbind)
	if errors.Is(err, ErrSchedulerStopped) {
		s.unbind()
		return nil
	}
	return err
}

// Snapshot returns the last committed state.
func (s *Supervisor) Snapshot() Snapshot {
	return *s.snap.Load()
}

// Status returns the last committed status.
func (s *Supervisor) Status() Status {
	return s.snap.Load().Status
}

// CurrentDescriptorLabel returns the label of the candidate at the current
// index, or "" when there are no candidates.
func (s *Supervisor) CurrentDescriptorLabel() string {
	return s.snap.Load().Label
}

// StatusText returns the active manager's status text.
func (s *Supervisor) StatusText() string {
	return s.snap.Load().ManagerStatus
}

// ErrorText returns the active manager's error, falling back to the
// Supervisor's last reported error.
func (s *Supervisor) ErrorText() string {
	snap := s.snap.Load()
	if snap.ManagerError != "" {
		return snap.ManagerError
	}
	return snap.LastError
}

// Surface returns the renderable sink of the active manager, or nil.
func (s *Supervisor) Surface() *Surface {
	return s.snap.Load().Surface
}

// ---- worker-side operations ----

func (s *Supervisor) bind(camera Camera) {
	s.stopActive()

	s.camera = camera
	s.bound = true
	s.policy = s.policies.Resolve(camera)
	s.index = 0
	s.scanStart = 0
	s.idleSeconds = 0
	s.paused = false
	s.reconnectAttempts = 0
	s.successfulReconnects = 0
	s.failovers = 0
	s.lastError = ""
	s.setStatus(StatusIdle, "bind")

	list, err := s.resolver.ResolveCandidates(camera)
	if err != nil {
		slog.Warn("stream-supervisor: candidate resolution failed",
			"slot", s.slot,
			"camera", camera.ID,
			"error", err,
		)
		list = nil
	}
	s.candidates = make([]StreamDescriptor, len(list))
	for i, d := range list {
		d.Index = i
		s.candidates[i] = d
	}

	slog.Info("stream-supervisor: camera bound",
		"slot", s.slot,
		"camera", camera.ID,
		"candidates", len(s.candidates),
		"autostart", s.policy.Autostart,
		"failover", s.policy.FailoverEnabled,
		"auto_reconnect", s.policy.AutoReconnect,
	)

	switch {
	case err != nil:
		s.lastError = fmt.Sprintf("%s: %v", ErrNoCandidates, err)
	case len(s.candidates) == 0:
		s.lastError = ErrNoCandidates.Error()
	case s.policy.Autostart:
		if s.startFrom(0, s.policy.FailoverEnabled) {
			s.setStatus(StatusScanning, "autostart")
		} else {
			s.setStatus(StatusFailed, "autostart")
		}
	}

	s.sched.Every(s.tickKey, s.tick, s.healthTick)
	s.commit()
}

func (s *Supervisor) unbind() {
	s.sched.Cancel(s.tickKey)
	s.stopActive()
	s.bound = false
	s.camera = Camera{}
	s.candidates = nil
	s.index = 0
	s.scanStart = 0
	s.idleSeconds = 0
	s.paused = false
	s.setStatus(StatusIdle, "unbind")
	s.commit()
}

// step implements next/previous.
func (s *Supervisor) step(delta int) {
	defer s.commit()

	if len(s.candidates) == 0 {
		slog.Debug("stream-supervisor: navigation ignored, no candidates", "slot", s.slot)
		return
	}
	s.paused = false
	ok := s.playAt(s.index + delta)
	s.scanStart = s.index
	if ok {
		s.setStatus(StatusScanning, "manual")
		return
	}
	s.setStatus(StatusFailed, "manual")
}

func (s *Supervisor) restartCurrent() {
	defer s.commit()

	if len(s.candidates) == 0 {
		slog.Debug("stream-supervisor: restart ignored, no candidates", "slot", s.slot)
		return
	}
	s.paused = false
	s.setStatus(StatusScanning, "restart")
	s.idleSeconds = 0
	s.scanStart = s.index
	if !s.playAt(s.index) {
		s.setStatus(StatusFailed, "restart")
	}
}

func (s *Supervisor) pause() {
	defer s.commit()

	if s.paused {
		return
	}
	s.paused = true
	if s.active != nil {
		s.active.Stop()
	}
	slog.Info("stream-supervisor: paused", "slot", s.slot, "status", s.status)
}

func (s *Supervisor) resume() {
	if !s.paused {
		return
	}
	s.paused = false
	slog.Info("stream-supervisor: resumed", "slot", s.slot, "status", s.status)

	switch s.status {
	case StatusScanning:
		if s.active != nil && s.active.ErrorText() != "" {
			s.step(+1)
			return
		}
		s.restartCurrent()
	case StatusViewing, StatusReconnecting:
		s.restartCurrent()
	default:
		s.commit()
	}
}

// healthTick drives every automatic transition.
func (s *Supervisor) healthTick() {
	if s.paused {
		return
	}
	defer s.commit()

	frames := 0
	if s.active != nil {
		frames = s.active.DrainFrameCount()
	}

	switch s.status {
	case StatusScanning:
		if frames > 0 {
			s.idleSeconds = 0
			s.setStatus(StatusViewing, "frames")
			return
		}
		s.idleSeconds++
		if s.idleSeconds < s.policy.ConnectTimeoutSec {
			return
		}
		s.idleSeconds = 0
		s.noteTimeout("connect timeout")
		if s.policy.FailoverEnabled && s.failover() {
			s.failovers++
			s.metrics.failover(s.slot)
			slog.Info("stream-supervisor: failover",
				"slot", s.slot,
				"index", s.index,
				"label", s.currentLabel(),
			)
			return
		}
		s.stopActive()
		s.setStatus(StatusFailed, "connect timeout")

	case StatusViewing:
		if frames > 0 {
			s.idleSeconds = 0
			return
		}
		s.idleSeconds++
		if s.idleSeconds < s.policy.LossTimeoutSec {
			return
		}
		s.idleSeconds = 0
		s.noteTimeout("stream lost")
		if !s.policy.AutoReconnect {
			s.stopActive()
			s.setStatus(StatusFailed, "stream lost")
			return
		}
		s.setStatus(StatusReconnecting, "stream lost")
		if !s.playAt(s.index) {
			s.setStatus(StatusFailed, "reconnect")
		}

	case StatusReconnecting:
		if frames > 0 {
			s.idleSeconds = 0
			s.successfulReconnects++
			s.metrics.reconnected(s.slot)
			s.setStatus(StatusViewing, "reconnected")
			return
		}
		s.idleSeconds++
		if s.idleSeconds < s.policy.ReconnectIntervalSec {
			return
		}
		s.idleSeconds = 0
		s.reconnectAttempts++
		s.metrics.reconnectAttempt(s.slot)
		slog.Info("stream-supervisor: reconnect attempt",
			"slot", s.slot,
			"index", s.index,
			"attempt", s.reconnectAttempts,
		)
		if !s.playAt(s.index) {
			s.setStatus(StatusFailed, "reconnect")
		}
	}
}

// startFrom plays the first usable candidate at or after n. Without skip only
// n itself is tried. Never wraps. Used by autostart, whose scan begins at 0.
func (s *Supervisor) startFrom(n int, skip bool) bool {
	for i := n; i < len(s.candidates); i++ {
		if s.playAt(i) {
			return true
		}
		if !skip {
			return false
		}
	}
	return false
}

// failover plays the next usable candidate after the current one, wrapping
// around the list, and gives up once the scan would return to scanStart.
func (s *Supervisor) failover() bool {
	n, from := len(s.candidates), s.index
	for i := 1; i < n; i++ {
		next := (from + i) % n
		if next == s.scanStart {
			return false
		}
		if s.playAt(next) {
			return true
		}
	}
	return false
}

// playAt stops the active manager and starts candidate n (wrapped).
func (s *Supervisor) playAt(n int) bool {
	s.stopActive()

	if len(s.candidates) == 0 {
		s.index = 0
		s.lastError = ErrNoCandidates.Error()
		return false
	}

	n = wrapIndex(n, len(s.candidates))
	s.index = n
	desc := s.candidates[n]

	m, err := s.factory.CreateManager(desc)
	if err == nil && m == nil {
		err = fmt.Errorf("%w %q", ErrUnknownTransport, desc.Kind)
	}
	if err != nil {
		s.lastError = fmt.Sprintf("candidate %s unusable: %v", desc.DisplayLabel(), err)
		slog.Warn("stream-supervisor: candidate unusable",
			"slot", s.slot,
			"index", n,
			"label", desc.DisplayLabel(),
			"kind", desc.Kind,
			"error", err,
		)
		return false
	}

	s.attach(m)
	s.active = m
	s.idleSeconds = 0
	s.metrics.managerCreated(s.slot, desc.Kind)

	slog.Info("stream-supervisor: starting candidate",
		"slot", s.slot,
		"index", n,
		"label", desc.DisplayLabel(),
		"kind", desc.Kind,
	)
	m.Start()
	return true
}

// attach routes backend wake-ups onto the worker. A wake-up from a manager
// that is no longer active is dropped there.
func (s *Supervisor) attach(m StreamManager) {
	wn, ok := m.(WakeNotifier)
	if !ok {
		return
	}
	wn.OnWake(func(src StreamManager, reason WakeReason) {
		err := s.sched.Submit(func() {
			if s.active == nil || s.active != src {
				slog.Debug("stream-supervisor: ignoring wake-up from discarded manager",
					"slot", s.slot,
					"reason", reason.String(),
				)
				return
			}
			if reason == WakeFatal {
				s.metrics.backendError(s.slot, categoryOf(src))
			}
			s.commit()
		})
		if err != nil {
			slog.Debug("stream-supervisor: wake-up dropped", "slot", s.slot, "error", err)
		}
	})
}

func (s *Supervisor) stopActive() {
	if s.active == nil {
		return
	}
	m := s.active
	s.active = nil
	if wn, ok := m.(WakeNotifier); ok {
		wn.OnWake(nil)
	}
	m.Stop()
}

func (s *Supervisor) setStatus(to Status, reason string) {
	from := s.status
	s.status = to
	if from == to {
		return
	}
	if to.ownsManager() {
		s.idleSeconds = 0
	}
	if to == StatusViewing {
		s.lastError = ""
	}
	slog.Info("stream-supervisor: status changed",
		"slot", s.slot,
		"camera", s.camera.ID,
		"from", from.String(),
		"to", to.String(),
		"reason", reason,
		"index", s.index,
	)
}

func (s *Supervisor) noteTimeout(what string) {
	s.lastError = fmt.Sprintf("%s on %s", what, s.currentLabel())
	slog.Warn("stream-supervisor: "+what,
		"slot", s.slot,
		"index", s.index,
		"label", s.currentLabel(),
		"status", s.status.String(),
	)
}

func (s *Supervisor) currentLabel() string {
	if len(s.candidates) == 0 {
		return ""
	}
	return s.candidates[s.index].DisplayLabel()
}

// commit publishes the current state and schedules a debounced redraw.
func (s *Supervisor) commit() {
	s.publish()
	s.sched.Debounce(s.redrawKey, s.debounce, s.redraw)
}

func (s *Supervisor) publish() {
	s.version++
	snap := &Snapshot{
		Slot:                 s.slot,
		CameraID:             s.camera.ID,
		Bound:                s.bound,
		Status:               s.status,
		Index:                s.index,
		Candidates:           len(s.candidates),
		Label:                s.currentLabel(),
		IdleSeconds:          s.idleSeconds,
		Paused:               s.paused,
		Policy:               s.policy,
		ReconnectAttempts:    s.reconnectAttempts,
		SuccessfulReconnects: s.successfulReconnects,
		Failovers:            s.failovers,
		LastError:            s.lastError,
		Version:              s.version,
		UpdatedAt:            time.Now(),
	}
	if s.active != nil {
		snap.ManagerStatus = s.active.StatusText()
		snap.ManagerError = s.active.ErrorText()
		snap.Surface = s.active.CurrentSurface()
	}
	s.snap.Store(snap)
}

// redraw is the debounced task: it re-reads live manager text so the
// notification reflects the latest committed transition.
func (s *Supervisor) redraw() {
	s.publish()
	snap := s.Snapshot()
	s.metrics.observe(snap)
	if s.notifier != nil {
		s.notifier.Notify(snap)
	}
}

func wrapIndex(n, size int) int {
	if n < 0 {
		return size - 1
	}
	if n >= size {
		return 0
	}
	return n
}

// categoryOf returns the backend error category when the manager exposes one.
func categoryOf(m StreamManager) string {
	if c, ok := m.(interface{ ErrorCategory() string }); ok {
		return c.ErrorCategory()
	}
	return "unknown"
}
