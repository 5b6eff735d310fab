package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeStateChanged      EventType = "state_changed"
	EventTypeViewportChanged   EventType = "viewport_changed"
	EventTypeUserChanged       EventType = "user_changed"
	EventTypeVisibilityChanged EventType = "visibility_changed"
	EventTypeDashboardReloaded EventType = "dashboard_reloaded"
)

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event represents an event in the system
type Event struct {
	ID   string
	Type EventType
	Time time.Time
	Data map[string]interface{}
}

// NewEvent creates an event with a fresh id and the current time
func NewEvent(t EventType, data map[string]interface{}) Event {
	return Event{
		ID:   uuid.NewString(),
		Type: t,
		Time: time.Now(),
		Data: data,
	}
}

// Handler is a function that handles events
type Handler func(Event)

// work represents a unit of work for the worker pool
type work struct {
	event   Event
	handler Handler
}

// Stats counts events that went through the bus
type Stats struct {
	Queued  uint64 `json:"queued"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Bus provides event routing with a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	closed   bool

	// Worker pool
	workQueue chan work
	wg        sync.WaitGroup

	queued  atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	b := &Bus{
		handlers:  make(map[EventType][]Handler),
		workQueue: make(chan work, queueSize),
	}

	// Start worker pool
	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker processes events from the work queue
func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.failed.Add(1)
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Str("event_id", w.event.ID).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish sends an event to all subscribed handlers.
// Non-blocking: if the work queue is full or bus is closed, events are dropped.
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	// Holding the read lock keeps Close from closing the queue mid-send
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.dropped.Add(1)
		log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closed, dropping event")
		return
	}

	for _, handler := range b.handlers[event.Type] {
		select {
		case b.workQueue <- work{event: event, handler: handler}:
			b.queued.Add(1)
		default:
			// Queue full - drop event with warning
			b.dropped.Add(1)
			log.Warn().
				Str("event_type", string(event.Type)).
				Str("event_id", event.ID).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Stats returns counters since the bus was created
func (b *Bus) Stats() Stats {
	return Stats{
		Queued:  b.queued.Load(),
		Dropped: b.dropped.Load(),
		Failed:  b.failed.Load(),
	}
}

// Close shuts down the worker pool gracefully, waiting for queued events until
// ctx is done. Calling Close again does nothing.
func (b *Bus) Close(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.workQueue)
	b.mu.Unlock()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
