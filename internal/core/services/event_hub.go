package services

import (
	"context"
	"sync"
	"time"

	"vidswarm/internal/core/domain"
)

// EventHub fans node events out to subscribers. A subscriber that does not drain
// its channel loses events instead of stalling the node.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventHub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Publish implements ports.EventPublisher.
func (h *EventHub) Publish(ctx context.Context, event domain.Event) error {
	h.Emit(event)
	return nil
}

// Emit delivers event to every subscriber without blocking.
func (h *EventHub) Emit(event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- event:
		default:
			sub.markDropped()
		}
	}
}

func (h *EventHub) Subscribe() *Subscription {
	sub := &Subscription{
		hub: h,
		ch:  make(chan domain.Event, h.buffer),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Subscribers returns the number of open subscriptions.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *EventHub) Close() {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Close()
	}
}

type Subscription struct {
	once    sync.Once
	hub     *EventHub
	ch      chan domain.Event
	dropped int64
	mu      sync.Mutex
}

func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Dropped is the number of events lost because the channel was full.
func (s *Subscription) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) markDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}
