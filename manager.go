package streamsupervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/e7canasta/stream-supervisor/internal/faults"
	"github.com/e7canasta/stream-supervisor/internal/framerate"
	"github.com/google/uuid"
)

// StreamManager is the backend-agnostic lifecycle wrapper bound to exactly
// one StreamDescriptor for its whole life.
//
// Implementations must guarantee:
//   - Start() returns immediately (non-blocking) and is idempotent
//   - Stop() never blocks on backend teardown, is idempotent and safe on a
//     never-started manager
//   - every query method is safe to call from any goroutine
type StreamManager interface {
	// Start begins connecting and decoding asynchronously.
	Start()

	// Stop tears the connection down. Backend resources are released once
	// the scheduled teardown completes; the surface keeps its last frame.
	Stop()

	// IsActive is true from the first decoded frame until Stop.
	IsActive() bool

	// DrainFrameCount returns the frames decoded since the previous call and
	// resets the counter (a delta, not a running total).
	DrainFrameCount() int

	// CurrentSurface returns the sink the decoded frames land in. Stable for
	// the manager's life.
	CurrentSurface() *Surface

	// StatusText is a human-readable connection state.
	StatusText() string

	// ErrorText is empty until a fatal backend error happens, then stays set.
	ErrorText() string

	// Descriptor returns the candidate this manager plays.
	Descriptor() StreamDescriptor
}

// WakeReason tells the owner why a backend asked for attention.
type WakeReason int

const (
	// WakeFirstFrame fires once when the backend confirms a live stream.
	WakeFirstFrame WakeReason = iota
	// WakeFatal fires once when ErrorText becomes set.
	WakeFatal
)

// String returns the wake reason name
func (r WakeReason) String() string {
	switch r {
	case WakeFirstFrame:
		return "first-frame"
	case WakeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// WakeNotifier is implemented by managers that can call back on backend
// threads. The callback must not touch supervisor state directly.
type WakeNotifier interface {
	OnWake(fn func(StreamManager, WakeReason))
}

// BackendFactory creates a manager for a descriptor. A nil manager with a
// non-nil error means the candidate is unusable.
type BackendFactory interface {
	CreateManager(desc StreamDescriptor) (StreamManager, error)
}

// FactoryFunc adapts a function to BackendFactory.
type FactoryFunc func(desc StreamDescriptor) (StreamManager, error)

// CreateManager calls f(desc).
func (f FactoryFunc) CreateManager(desc StreamDescriptor) (StreamManager, error) {
	return f(desc)
}

// ErrUnknownTransport is returned for descriptors whose Kind has no backend.
var ErrUnknownTransport = errors.New("stream-supervisor: no backend for transport kind")

// FactoryOptions tunes the built-in backends.
type FactoryOptions struct {
	// HTTPClient is used by the polled-image backend. nil uses a client with
	// a 5 second timeout.
	HTTPClient *http.Client
	// PollMaxRetries is the number of consecutive polled-image failures
	// tolerated before the manager reports a fatal error (default 5).
	PollMaxRetries int
	// PollRetryDelay is the first backoff delay (default 1s, doubling up to 30s).
	PollRetryDelay time.Duration
}

// Factory is the closed set of built-in backends keyed by TransportKind.
type Factory struct {
	opts FactoryOptions
}

// NewFactory returns a factory for the pipeline and polled-image backends.
func NewFactory(opts FactoryOptions) *Factory {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if opts.PollMaxRetries <= 0 {
		opts.PollMaxRetries = 5
	}
	if opts.PollRetryDelay <= 0 {
		opts.PollRetryDelay = time.Second
	}
	return &Factory{opts: opts}
}

// CreateManager selects the backend for desc.Kind.
func (f *Factory) CreateManager(desc StreamDescriptor) (StreamManager, error) {
	switch desc.Kind {
	case TransportPipeline:
		return NewPipelineManager(desc)
	case TransportPolled:
		return NewPolledManager(desc, f.opts)
	default:
		return nil, fmt.Errorf("%w %q (candidate %s)", ErrUnknownTransport, desc.Kind, desc.DisplayLabel())
	}
}

// managerState is the thread-safe handoff shared by the built-in backends.
// Backend goroutines write it; the supervisor worker only reads it.
type managerState struct {
	id      string
	desc    StreamDescriptor
	surface *Surface
	meter   *framerate.Meter

	pending atomic.Uint64 // frames since last drain
	total   atomic.Uint64
	active  atomic.Bool
	started atomic.Bool
	stopped atomic.Bool
	errText atomic.Pointer[string]
	errCat  atomic.Int32
	wake    atomic.Pointer[func(StreamManager, WakeReason)]

	// self is the public manager wrapping this state, passed to wake callbacks.
	self StreamManager
}

func newManagerState(desc StreamDescriptor) *managerState {
	return &managerState{
		id:      uuid.New().String(),
		desc:    desc,
		surface: NewSurface(),
		meter:   framerate.NewMeter(64),
	}
}

func (m *managerState) Descriptor() StreamDescriptor { return m.desc }

func (m *managerState) CurrentSurface() *Surface { return m.surface }

func (m *managerState) IsActive() bool { return m.active.Load() }

func (m *managerState) DrainFrameCount() int {
	return int(m.pending.Swap(0))
}

func (m *managerState) ErrorText() string {
	if p := m.errText.Load(); p != nil {
		return *p
	}
	return ""
}

// ErrorCategory names the fault class of ErrorText, or "" while healthy.
func (m *managerState) ErrorCategory() string {
	if m.ErrorText() == "" {
		return ""
	}
	return faults.Category(m.errCat.Load()).String()
}

func (m *managerState) StatusText() string {
	switch {
	case m.ErrorText() != "":
		return "Error (" + faults.Category(m.errCat.Load()).String() + ")"
	case m.stopped.Load():
		return "Stopped"
	case m.active.Load():
		stats := m.meter.Stats()
		return fmt.Sprintf("Playing %.1f fps", stats.FPSMean)
	case m.started.Load():
		return "Connecting"
	default:
		return "Idle"
	}
}

func (m *managerState) OnWake(fn func(StreamManager, WakeReason)) {
	if fn == nil {
		m.wake.Store(nil)
		return
	}
	m.wake.Store(&fn)
}

func (m *managerState) notify(reason WakeReason) {
	if fn := m.wake.Load(); fn != nil {
		(*fn)(m.self, reason)
	}
}

// recordFrame publishes a decoded frame. Frames arriving after Stop are
// dropped so a discarded manager never repaints.
func (m *managerState) recordFrame(frame Frame) bool {
	if m.stopped.Load() {
		return false
	}
	if frame.TraceID == "" {
		frame.TraceID = uuid.New().String()
	}
	frame.Seq = m.total.Add(1)
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	m.surface.Set(frame)
	m.meter.Add(frame.Timestamp)
	m.pending.Add(1)

	if m.active.CompareAndSwap(false, true) {
		slog.Info("stream-supervisor: stream live",
			"manager", m.id,
			"label", m.desc.DisplayLabel(),
			"kind", m.desc.Kind,
		)
		m.notify(WakeFirstFrame)
	}
	return true
}

// fail records the first fatal error; later errors are ignored.
func (m *managerState) fail(err error, category faults.Category) {
	if err == nil || m.stopped.Load() {
		return
	}
	msg := err.Error()
	if !m.errText.CompareAndSwap(nil, &msg) {
		return
	}
	m.errCat.Store(int32(category))
	m.active.Store(false)

	slog.Error("stream-supervisor: backend fatal error",
		"manager", m.id,
		"label", m.desc.DisplayLabel(),
		"kind", m.desc.Kind,
		"category", category.String(),
		"error", msg,
	)
	m.notify(WakeFatal)
}

// markStopped flips the manager to stopped. Returns false if it already was.
func (m *managerState) markStopped() bool {
	if !m.stopped.CompareAndSwap(false, true) {
		return false
	}
	m.active.Store(false)
	m.wake.Store(nil)
	m.surface.Close()
	return true
}
