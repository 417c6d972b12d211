// Package events provides the in-process event bus that fans state changes
// out to live observers (websocket clients, drivers, tests).
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrBusClosed = errors.New("event bus is closed")

// Sink accepts one event. A Send error marks the sink dead; the bus
// removes it and never calls it again.
type Sink interface {
	Send(Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event) error

func (f SinkFunc) Send(e Event) error { return f(e) }

// Bus fans events out to a set of sinks. Delivery is best-effort and
// unordered across sinks, but strictly ordered per sink: a single dispatch
// goroutine delivers to each sink in turn, so no sink ever observes two
// events out of publish order.
type Bus struct {
	mu     sync.RWMutex
	sinks  map[int]Sink
	nextID int
	closed bool

	eventChan chan Event
	history   *RingBuffer
	done      chan struct{}

	dropped   func() // optional hook, counts fire-and-forget drops
	published func() // optional hook, counts accepted events
}

// NewBus creates a bus with the given channel buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	b := &Bus{
		sinks:     make(map[int]Sink),
		eventChan: make(chan Event, bufferSize),
		history:   NewRingBuffer(bufferSize),
		done:      make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// OnDrop registers a hook called whenever Publish drops an event.
func (b *Bus) OnDrop(fn func()) { b.dropped = fn }

// OnPublish registers a hook called whenever the bus accepts an event.
func (b *Bus) OnPublish(fn func()) { b.published = fn }

func (b *Bus) dispatch() {
	for {
		select {
		case event := <-b.eventChan:
			b.history.Add(event)
			b.deliver(event)
		case <-b.done:
			return
		}
	}
}

// deliver snapshots the sink set under the lock, then sends outside it.
func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	type entry struct {
		id   int
		sink Sink
	}
	snapshot := make([]entry, 0, len(b.sinks))
	for id, s := range b.sinks {
		snapshot = append(snapshot, entry{id, s})
	}
	b.mu.RUnlock()

	var dead []int
	for _, e := range snapshot {
		if err := e.sink.Send(event); err != nil {
			slog.Debug("event sink failed, reaping", "sink", e.id, "type", event.Type, "error", err)
			dead = append(dead, e.id)
		}
	}

	if len(dead) > 0 {
		b.mu.Lock()
		for _, id := range dead {
			delete(b.sinks, id)
		}
		b.mu.Unlock()
	}
}

// Publish enqueues an event without blocking. If the bus is closed or the
// buffer is full the event is dropped.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	select {
	case b.eventChan <- event:
		if b.published != nil {
			b.published()
		}
	default:
		if b.dropped != nil {
			b.dropped()
		}
	}
}

// PublishCtx enqueues an event, blocking until accepted or ctx is done.
func (b *Bus) PublishCtx(ctx context.Context, event Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	select {
	case b.eventChan <- event:
		if b.published != nil {
			b.published()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach registers a sink. Returns a detach function.
func (b *Bus) Attach(sink Sink) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.sinks[id] = sink

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.sinks, id)
	}
}

// AttachChan registers a channel-backed sink. Events are dropped for this
// sink when its buffer is full (a slow observer must not stall the bus).
func (b *Bus) AttachChan(bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	// The dispatch goroutine may hold a delivery snapshot containing this
	// sink after detach; the closed flag keeps it from sending on ch once
	// the closer has run.
	var mu sync.Mutex
	closed := false

	detach := b.Attach(SinkFunc(func(e Event) error {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return nil
		}
		select {
		case ch <- e:
		default:
		}
		return nil
	}))

	return ch, func() {
		detach()
		mu.Lock()
		closed = true
		mu.Unlock()
		close(ch)
	}
}

// SinkCount returns the number of attached sinks.
func (b *Bus) SinkCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}

// History returns up to limit recent events.
func (b *Bus) History(limit int) []Event {
	return b.history.Get(limit)
}

// Close shuts down the bus. Pending events may be discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}
