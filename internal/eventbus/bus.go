package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeSetProperty   EventType = "set_property"
	EventTypeAdapterUnload EventType = "adapter_unload"
)

// Default configuration. A single worker keeps commands in arrival order.
const (
	DefaultWorkerCount = 1
	DefaultQueueSize   = 100
)

// Event is a gateway command waiting to be handled.
type Event struct {
	Type      EventType
	AdapterID string
	DeviceID  string
	Property  string
	Value     json.RawMessage
}

// Handler is a function that handles events
type Handler func(Event)

// work represents a unit of work for the worker pool
type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	// Worker pool
	workQueue chan work
	wg        sync.WaitGroup

	// Held for reading while queueing, for writing while closing the queue.
	sendMu sync.RWMutex
	closed bool
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount < 1 {
		workerCount = DefaultWorkerCount
	}
	if queueSize < 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		handlers:  make(map[EventType][]Handler),
		workQueue: make(chan work, queueSize),
	}

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
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Str("device", w.event.DeviceID).
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

// Publish queues the event for every subscribed handler and reports whether
// all of them got it. It never blocks: events are dropped when the queue is
// full or the bus is closed.
func (b *Bus) Publish(event Event) bool {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		log.Debug().Str("event_type", string(event.Type)).Msg("No handler for event")
		return false
	}

	b.sendMu.RLock()
	defer b.sendMu.RUnlock()

	if b.closed {
		log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closed, dropping event")
		return false
	}

	queued := true
	for _, handler := range handlers {
		select {
		case b.workQueue <- work{event: event, handler: handler}:
		default:
			queued = false
			log.Warn().
				Str("event_type", string(event.Type)).
				Str("device", event.DeviceID).
				Str("property", event.Property).
				Msg("Event bus queue full, dropping event")
		}
	}
	return queued
}

// Close stops accepting events and waits for queued ones to be handled
// until ctx expires.
func (b *Bus) Close(ctx context.Context) {
	b.sendMu.Lock()
	if !b.closed {
		b.closed = true
		close(b.workQueue)
	}
	b.sendMu.Unlock()

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
