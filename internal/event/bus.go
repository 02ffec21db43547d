// Package event carries import pipeline notifications from the roster
// services to log and webhook subscribers.
package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies an event.
type Type string

// Import pipeline events.
const (
	ImportPreviewed Type = "import.previewed"
	ImportExecuted  Type = "import.executed"
	ImportExpired   Type = "import.expired"
)

// ImportTypes lists every import pipeline event type.
func ImportTypes() []Type {
	return []Type{ImportPreviewed, ImportExecuted, ImportExpired}
}

// Event is one notification. Data holds job_id and source for every
// import event, plus the counts relevant to its type.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler receives events on the bus goroutine.
type Handler func(Event)

// Bus queues events on a buffered channel and hands them to subscribers
// from a single goroutine, in publish order. Publishers never block.
type Bus struct {
	queue   chan Event
	logger  *slog.Logger
	dropped atomic.Uint64

	mu       sync.RWMutex
	handlers map[Type][]Handler
	running  bool
	closing  bool

	quit    chan struct{}
	drained chan struct{}
}

// NewBus creates a bus holding up to bufSize undelivered events.
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{
		queue:    make(chan Event, bufSize),
		logger:   logger.With(slog.String("component", "event-bus")),
		handlers: make(map[Type][]Handler),
		quit:     make(chan struct{}),
		drained:  make(chan struct{}),
	}
}

// Subscribe adds h for events of type t.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], h)
	b.mu.Unlock()
}

// SubscribeAll adds h for each of types.
func (b *Bus) SubscribeAll(types []Type, h Handler) {
	for _, t := range types {
		b.Subscribe(t, h)
	}
}

// Publish queues e, stamping it when Timestamp is zero. A full queue or a
// stopped bus drops the event and counts it. A nil bus ignores it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	// The send never blocks, so holding the read lock keeps Stop from
	// closing the bus between the check and the send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closing {
		b.dropped.Add(1)
		b.logger.Warn("event published after stop, dropping", "type", string(e.Type))
		return
	}

	select {
	case b.queue <- e:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping", "type", string(e.Type))
	}
}

// Dropped reports how many events were never queued.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Start delivers events until Stop, then delivers whatever is still queued
// and returns. Run it in its own goroutine.
func (b *Bus) Start() {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
	defer close(b.drained)

	for {
		select {
		case e := <-b.queue:
			b.deliver(e)
		case <-b.quit:
			for {
				select {
				case e := <-b.queue:
					b.deliver(e)
				default:
					return
				}
			}
		}
	}
}

// Stop refuses new events and, if Start is running, waits until the queue
// has been delivered. Calling it more than once is safe.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return
	}
	b.closing = true
	running := b.running
	close(b.quit)
	b.mu.Unlock()

	if running {
		<-b.drained
	}
	if n := b.Dropped(); n > 0 {
		b.logger.Warn("event bus stopped with dropped events", "dropped", n)
	}
}

func (b *Bus) deliver(e Event) {
	b.mu.RLock()
	hs := b.handlers[e.Type]
	b.mu.RUnlock()

	for _, h := range hs {
		b.call(h, e)
	}
}

// call runs one handler so that a panic cannot stop delivery to the rest.
func (b *Bus) call(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "type", string(e.Type), "panic", r)
		}
	}()
	h(e)
}
