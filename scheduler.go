package streamsupervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSchedulerStopped is returned by Submit once the engine has been stopped.
var ErrSchedulerStopped = errors.New("stream-supervisor: scheduler stopped")

// Default scheduler intervals.
const (
	DefaultTickInterval  = time.Second
	DefaultDebounceDelay = 100 * time.Millisecond
)

// Scheduler is the shared task engine Supervisors run on. All tasks run
// sequentially on a single worker; no two tasks ever overlap.
type Scheduler interface {
	// Every runs fn every interval until Cancel(key). Re-registering a key
	// replaces the previous task and restarts its interval.
	Every(key string, interval time.Duration, fn func())

	// Debounce runs fn once after delay. Re-scheduling the same key before it
	// fires cancels the pending firing and restarts the delay.
	Debounce(key string, delay time.Duration, fn func())

	// Cancel unregisters a periodic or pending debounced task. A firing that
	// is already queued but not yet running is discarded.
	Cancel(key string)

	// Submit queues fn to run on the worker as soon as possible.
	Submit(fn func()) error
}

// timerEntry is one registered periodic or debounced task. An entry is
// current while registry[key] == entry; stale firings are dropped.
type timerEntry struct {
	key      string
	fn       func()
	interval time.Duration
	periodic bool
	timer    *time.Timer
	queued   bool
}

// Engine is the production Scheduler: one worker goroutine fed by a FIFO
// queue, with time.Timer-driven periodic and debounced registrations.
type Engine struct {
	mu       sync.Mutex
	queue    []func()
	registry map[string]*timerEntry
	wake     chan struct{}
	running  bool
	stopped  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine returns a stopped engine. Tasks submitted before Start are kept
// and run once the worker starts.
func NewEngine() *Engine {
	return &Engine{
		registry: make(map[string]*timerEntry),
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the worker. Idempotent.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running || e.stopped {
		return
	}
	e.running = true

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go e.worker(ctx)

	if len(e.queue) > 0 {
		e.signal()
	}
	slog.Debug("scheduler: worker started")
}

// Stop cancels every registration, stops the worker and waits for the task in
// progress (if any) to return. Queued tasks are discarded. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	for key, entry := range e.registry {
		entry.timer.Stop()
		delete(e.registry, key)
	}
	dropped := len(e.queue)
	e.queue = nil
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	slog.Debug("scheduler: worker stopped", "dropped_tasks", dropped)
}

// Submit implements Scheduler.
func (e *Engine) Submit(fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrSchedulerStopped
	}
	e.queue = append(e.queue, fn)
	e.signal()
	return nil
}

// Every implements Scheduler.
func (e *Engine) Every(key string, interval time.Duration, fn func()) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	e.register(key, interval, true, fn)
}

// Debounce implements Scheduler.
func (e *Engine) Debounce(key string, delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	e.register(key, delay, false, fn)
}

// Cancel implements Scheduler.
func (e *Engine) Cancel(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if entry, ok := e.registry[key]; ok {
		entry.timer.Stop()
		delete(e.registry, key)
	}
}

// Pending reports how many periodic and debounced registrations exist.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.registry)
}

func (e *Engine) register(key string, d time.Duration, periodic bool, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	if old, ok := e.registry[key]; ok {
		old.timer.Stop()
	}

	entry := &timerEntry{key: key, fn: fn, interval: d, periodic: periodic}
	entry.timer = time.AfterFunc(d, func() { e.fire(entry) })
	e.registry[key] = entry
}

// fire runs on the timer goroutine: it only queues, never executes.
func (e *Engine) fire(entry *timerEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped || e.registry[entry.key] != entry {
		return
	}

	if entry.periodic {
		entry.timer.Reset(entry.interval)
		if entry.queued {
			// Previous tick still waiting for the worker; coalesce.
			return
		}
	}
	entry.queued = true

	e.queue = append(e.queue, func() { e.runEntry(entry) })
	e.signal()
}

// runEntry runs on the worker and re-checks that entry is still registered,
// so a Cancel or re-registration that happened after queueing wins.
func (e *Engine) runEntry(entry *timerEntry) {
	e.mu.Lock()
	current := e.registry[entry.key] == entry
	entry.queued = false
	if current && !entry.periodic {
		delete(e.registry, entry.key)
	}
	e.mu.Unlock()

	if current {
		entry.fn()
	}
}

// signal must be called with mu held.
func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		}

		for {
			e.mu.Lock()
			if len(e.queue) == 0 || ctx.Err() != nil {
				e.mu.Unlock()
				break
			}
			fn := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.mu.Unlock()

			e.run(fn)
		}
	}
}

func (e *Engine) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler: task panicked", "panic", r)
		}
	}()
	fn()
}
