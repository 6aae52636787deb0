// Package events fans job, telemetry, and status events out to connected
// viewers.
//
// Each subscriber owns a bounded queue. Publish never blocks: when a
// subscriber's queue is full its oldest queued event is discarded to make
// room. Publishes are serialized, so every subscriber sees events in
// emission order.
package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmud/AI-image-gen-battle/internal/models"
)

// DefaultBuffer is the per-subscriber queue size used when none is given.
const DefaultBuffer = 64

var (
	// ErrClosed is returned when subscribing to a closed distributor.
	ErrClosed = errors.New("event distributor is closed")

	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("subscriber id already exists")

	// ErrSubscriberNotFound is returned for operations on an unknown id.
	ErrSubscriberNotFound = errors.New("subscriber id not found")
)

// SnapshotFunc builds the status view sent to new and resyncing subscribers.
type SnapshotFunc func() models.StatusView

// Stats contains global and per-subscriber delivery counters.
type Stats struct {
	Published   uint64                     `json:"published"`
	Sent        uint64                     `json:"sent"`
	Dropped     uint64                     `json:"dropped"`
	Subscribers map[string]SubscriberStats `json:"subscribers"`
}

// SubscriberStats tracks delivery for a single subscriber.
type SubscriberStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Subscription is one viewer's event stream.
type Subscription struct {
	id      string
	ch      chan Event
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// ID returns the subscriber id.
func (s *Subscription) ID() string { return s.id }

// Events returns the receive side of the queue. It is closed on
// Unsubscribe or when the distributor closes.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Stats returns this subscriber's delivery counters.
func (s *Subscription) Stats() SubscriberStats {
	return SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}
}

// offer enqueues ev, evicting the oldest queued event when full.
// Caller must hold the distributor lock.
func (s *Subscription) offer(ev Event) {
	select {
	case s.ch <- ev:
		s.sent.Add(1)
		return
	default:
	}

	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}

	select {
	case s.ch <- ev:
		s.sent.Add(1)
	default:
		s.dropped.Add(1)
	}
}

// Distributor is a broadcast channel with independent bounded subscribers.
// All methods are safe for concurrent use.
type Distributor struct {
	mu        sync.Mutex
	subs      map[string]*Subscription
	buffer    int
	closed    bool
	seq       uint64
	published uint64
	snapshot  SnapshotFunc
	now       func() time.Time
}

// NewDistributor creates a distributor whose subscribers queue up to buffer
// events each.
func NewDistributor(buffer int) *Distributor {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Distributor{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		now:    time.Now,
	}
}

// SetSnapshotSource registers the function that builds status snapshots.
// It is called without the distributor lock held.
func (d *Distributor) SetSnapshotSource(fn SnapshotFunc) {
	d.mu.Lock()
	d.snapshot = fn
	d.mu.Unlock()
}

func (d *Distributor) snapshotSource() SnapshotFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot
}

// Subscribe registers a subscriber and queues exactly one status event
// describing the current state.
func (d *Distributor) Subscribe(id string) (*Subscription, error) {
	var view *models.StatusView
	if fn := d.snapshotSource(); fn != nil {
		v := fn()
		view = &v
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if _, exists := d.subs[id]; exists {
		return nil, ErrSubscriberExists
	}

	sub := &Subscription{id: id, ch: make(chan Event, d.buffer)}
	d.subs[id] = sub

	if view != nil {
		sub.offer(d.nextEvent(TypeStatus, *view))
	}
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its queue.
func (d *Distributor) Unsubscribe(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub, ok := d.subs[id]
	if !ok {
		return ErrSubscriberNotFound
	}
	delete(d.subs, id)
	close(sub.ch)
	return nil
}

// Publish delivers an event to every subscriber without blocking.
// Publishing on a closed distributor is a no-op.
func (d *Distributor) Publish(t Type, payload any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.published++
	ev := d.nextEvent(t, payload)
	for _, sub := range d.subs {
		sub.offer(ev)
	}
}

// PublishStatus broadcasts a fresh status snapshot.
func (d *Distributor) PublishStatus() {
	fn := d.snapshotSource()
	if fn == nil {
		return
	}
	d.Publish(TypeStatus, fn())
}

// Resync queues a fresh status snapshot for a single subscriber.
func (d *Distributor) Resync(id string) error {
	fn := d.snapshotSource()

	var view models.StatusView
	if fn != nil {
		view = fn()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	sub, ok := d.subs[id]
	if !ok {
		return ErrSubscriberNotFound
	}
	if fn != nil {
		sub.offer(d.nextEvent(TypeStatus, view))
	}
	return nil
}

// nextEvent stamps an event. Caller must hold d.mu.
func (d *Distributor) nextEvent(t Type, payload any) Event {
	d.seq++
	return Event{Type: t, Data: payload, Seq: d.seq, Time: d.now()}
}

// Stats returns a point-in-time copy of the delivery counters.
func (d *Distributor) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := Stats{
		Published:   d.published,
		Subscribers: make(map[string]SubscriberStats, len(d.subs)),
	}
	for id, sub := range d.subs {
		s := sub.Stats()
		out.Sent += s.Sent
		out.Dropped += s.Dropped
		out.Subscribers[id] = s
	}
	return out
}

// SubscriberCount returns the number of registered subscribers.
func (d *Distributor) SubscriberCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Close closes every subscriber queue and rejects further subscriptions.
// Close is idempotent.
func (d *Distributor) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	for id, sub := range d.subs {
		close(sub.ch)
		delete(d.subs, id)
	}
	return nil
}
