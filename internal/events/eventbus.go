package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
)

// Config holds event bus configuration
type Config struct {
	BufferSize int
	// Workers above one deliver events out of order
	Workers int
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() Config {
	return Config{
		BufferSize: 1000,
		Workers:    1,
	}
}

type subscription struct {
	name     string
	consumer Consumer
}

// Bus delivers events to every subscribed consumer on background workers.
// Publish never blocks; events are dropped when the buffer is full.
type Bus struct {
	eventChan chan Event
	workers   int

	mu        sync.RWMutex
	consumers []subscription
	started   bool
	closed    bool
	wg        sync.WaitGroup

	received  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	errs      atomic.Uint64

	log logger.Logger
}

// New creates an event bus. Workers start with the first subscription.
func New(cfg Config) *Bus {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &Bus{
		eventChan: make(chan Event, cfg.BufferSize),
		workers:   cfg.Workers,
		log:       logger.Global().Module("events"),
	}
}

// Subscribe registers a named consumer
func (b *Bus) Subscribe(name string, consumer Consumer) error {
	if consumer == nil {
		return errors.Newf("consumer %s is nil", name).
			Component("events").
			Category(errors.CategoryValidation).
			Build()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.Newf("event bus is closed").
			Component("events").
			Category(errors.CategoryState).
			Context("consumer", name).
			Build()
	}
	for _, existing := range b.consumers {
		if existing.name == name {
			return errors.Newf("consumer %s already registered", name).
				Component("events").
				Category(errors.CategoryConflict).
				Build()
		}
	}

	b.consumers = append(b.consumers, subscription{name: name, consumer: consumer})
	b.log.Debug("registered event consumer", logger.String("consumer", name))

	if !b.started {
		b.started = true
		for i := 0; i < b.workers; i++ {
			b.wg.Add(1)
			go b.worker(i)
		}
	}
	return nil
}

// Publish queues event for delivery and reports whether it was accepted.
// Safe to call on a nil bus.
func (b *Bus) Publish(event Event) bool {
	if b == nil || event == nil {
		return false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed || len(b.consumers) == 0 {
		return false
	}

	select {
	case b.eventChan <- event:
		b.received.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.log.Debug("event dropped due to full buffer", logger.String("kind", string(event.Kind())))
		return false
	}
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()
	for event := range b.eventChan {
		b.deliver(id, event)
	}
}

// deliver sends the event to every consumer, isolating panics and errors
func (b *Bus) deliver(workerID int, event Event) {
	b.mu.RLock()
	consumers := make([]subscription, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.RUnlock()

	for _, sub := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.errs.Add(1)
					b.log.Error("consumer panicked",
						logger.String("consumer", sub.name),
						logger.String("kind", string(event.Kind())),
						logger.String("panic", fmt.Sprint(r)),
						logger.Int("worker_id", workerID))
				}
			}()

			if err := sub.consumer.Consume(event); err != nil {
				b.errs.Add(1)
				b.log.Warn("consumer error",
					logger.String("consumer", sub.name),
					logger.String("kind", string(event.Kind())),
					logger.Error(err))
				return
			}
			b.processed.Add(1)
		}()
	}
}

// Close stops accepting events and waits up to five seconds for queued ones
func (b *Bus) Close() error {
	return b.Shutdown(5 * time.Second)
}

// Shutdown stops accepting events and drains the buffer within timeout
func (b *Bus) Shutdown(timeout time.Duration) error {
	if b == nil {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Newf("event bus shutdown timeout exceeded").
			Component("events").
			Category(errors.CategoryTimeout).
			Context("pending_events", len(b.eventChan)).
			Build()
	}
}

// Stats returns current bus statistics
func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	return Stats{
		EventsReceived:  b.received.Load(),
		EventsProcessed: b.processed.Load(),
		EventsDropped:   b.dropped.Load(),
		ConsumerErrors:  b.errs.Load(),
	}
}
