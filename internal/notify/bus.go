// Package notify fans committed Supervisor snapshots out to the status
// consumers (MQTT emitter, WebSocket hub).
package notify

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
)

var (
	ErrBusClosed          = errors.New("notify: bus is closed")
	ErrSubscriberExists   = errors.New("notify: subscriber already exists")
	ErrSubscriberNotFound = errors.New("notify: subscriber not found")
	ErrNilChannel         = errors.New("notify: nil channel provided")
)

// DropPolicy defines how the bus handles snapshots when a subscriber cannot
// keep up
type DropPolicy int

const (
	// DropNew discards the incoming snapshot when the channel is full.
	DropNew DropPolicy = iota
	// DropOld keeps only the newest snapshot per slot.
	DropOld
)

// SubscriberStats tracks snapshot distribution
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	id     string
	policy DropPolicy
	sent   atomic.Uint64
	drops  atomic.Uint64

	// DropNew
	ch chan<- streamsupervisor.Snapshot
	// DropOld
	latest *Latest
}

// Bus distributes snapshots to subscribers. Publish never blocks, so it is
// safe to call from the scheduler worker.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   atomic.Uint64
	closed      bool
}

// New creates an empty bus
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Notify implements streamsupervisor.Notifier.
func (b *Bus) Notify(snap streamsupervisor.Snapshot) {
	b.Publish(snap)
}

// Subscribe registers a channel with DropNew policy.
func (b *Bus) Subscribe(id string, ch chan<- streamsupervisor.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	if ch == nil {
		return ErrNilChannel
	}

	b.subscribers[id] = &subscriber{id: id, policy: DropNew, ch: ch}
	return nil
}

// SubscribeLatest registers a DropOld subscriber that coalesces per slot.
func (b *Bus) SubscribeLatest(id string) (*Latest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	l := newLatest()
	b.subscribers[id] = &subscriber{id: id, policy: DropOld, latest: l}
	return l, nil
}

// Publish distributes snap to all subscribers.
func (b *Bus) Publish(snap streamsupervisor.Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, sub := range b.subscribers {
		switch sub.policy {
		case DropNew:
			select {
			case sub.ch <- snap:
				sub.sent.Add(1)
			default:
				sub.drops.Add(1)
			}
		case DropOld:
			if sub.latest.set(snap) {
				sub.drops.Add(1)
			}
			sub.sent.Add(1)
		}
	}
}

// Unsubscribe removes a subscriber
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if sub.latest != nil {
		sub.latest.Close()
	}
	delete(b.subscribers, id)
	return nil
}

// Stats returns statistics for a subscriber
func (b *Bus) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{Sent: sub.sent.Load(), Dropped: sub.drops.Load()}, nil
}

// Published returns the number of snapshots published so far.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Close shuts down the bus and wakes all DropOld receivers
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		if sub.latest != nil {
			sub.latest.Close()
		}
	}
	b.subscribers = nil
}

// Latest holds the newest unconsumed snapshot of every slot.
type Latest struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending map[string]streamsupervisor.Snapshot
	closed  bool
}

func newLatest() *Latest {
	l := &Latest{pending: make(map[string]streamsupervisor.Snapshot)}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// set stores snap, reporting whether an unconsumed snapshot was replaced.
func (l *Latest) set(snap streamsupervisor.Snapshot) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	_, replaced := l.pending[snap.Slot]
	l.pending[snap.Slot] = snap
	l.cond.Broadcast()
	return replaced
}

// Receive blocks until at least one slot has a pending snapshot and returns
// all of them ordered by slot. ok is false once closed.
func (l *Latest) Receive() (snaps []streamsupervisor.Snapshot, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.pending) == 0 && !l.closed {
		l.cond.Wait()
	}
	if l.closed {
		return nil, false
	}
	return l.drain(), true
}

// TryReceive returns the pending snapshots without blocking.
func (l *Latest) TryReceive() []streamsupervisor.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drain()
}

// Close wakes blocked receivers.
func (l *Latest) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	l.cond.Broadcast()
}

func (l *Latest) drain() []streamsupervisor.Snapshot {
	if len(l.pending) == 0 {
		return nil
	}
	out := make([]streamsupervisor.Snapshot, 0, len(l.pending))
	for _, s := range l.pending {
		out = append(out, s)
	}
	clear(l.pending)
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}
