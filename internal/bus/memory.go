package bus

import (
	"context"
	"sync"
	"time"

	"github.com/ricesearch/placecal/internal/pkg/errors"
	"github.com/ricesearch/placecal/internal/pkg/logger"
)

// subscriberQueue bounds the events buffered for one subscriber. Publish
// blocks while a subscriber's queue is full.
const subscriberQueue = 64

// MemoryBus is an in-process event bus. Every subscriber has its own queue
// and goroutine, so it sees events in publish order.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	closed bool
	wg     sync.WaitGroup
	log    *logger.Logger
}

type subscriber struct {
	topic   string
	handler Handler
	queue   chan delivery
}

type delivery struct {
	ctx   context.Context
	event Event
}

// NewMemoryBus creates a new in-memory event bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryBus{
		subs: make(map[string][]*subscriber),
		log:  log,
	}
}

// Publish queues an event for every subscriber of topic.
func (b *MemoryBus) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	for _, s := range b.subs[topic] {
		select {
		case s.queue <- delivery{ctx: ctx, event: event}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe starts delivering events on topic to handler. Handler errors are
// logged and do not stop delivery.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	s := &subscriber{
		topic:   topic,
		handler: handler,
		queue:   make(chan delivery, subscriberQueue),
	}
	b.subs[topic] = append(b.subs[topic], s)

	b.wg.Add(1)
	go b.deliver(s)
	return nil
}

func (b *MemoryBus) deliver(s *subscriber) {
	defer b.wg.Done()
	for d := range s.queue {
		if err := s.handler(d.ctx, d.event); err != nil {
			b.log.Warn("Event handler failed",
				"topic", s.topic,
				"type", d.event.Type,
				"event_id", d.event.ID,
				"error", err.Error(),
			)
		}
	}
}

// Close stops accepting events and waits up to 10s for subscribers to
// finish the events already queued.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.queue)
		}
	}
	b.subs = nil
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		b.log.Warn("Timed out waiting for event subscribers, queued events may be lost")
	}
	return nil
}
