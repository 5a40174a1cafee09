package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// envelope is the JSON carried on the channel.
type envelope struct {
	InstanceID string `json:"instance_id"`
	domain.Event
}

// EventBus publishes registry events on a Redis channel and delivers events
// published by other instances to subscribers.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewEventBus creates a new event bus
func NewEventBus(client *redis.Client, channel, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event domain.Event) error {
	data, err := eb.encode(event)
	if err != nil {
		return err
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"peer_id", event.PeerID,
		"video_id", event.VideoID,
	)
	return nil
}

// Subscribe delivers events from other instances to handler until ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(domain.Event)) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	eb.pubsub = eb.client.Subscribe(ctx, eb.channel)
	pubsub := eb.pubsub
	eb.mu.Unlock()

	defer func() {
		eb.mu.Lock()
		eb.pubsub = nil
		eb.mu.Unlock()
		pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.dispatch(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) encode(event domain.Event) ([]byte, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(envelope{InstanceID: eb.instanceID, Event: event})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

func (eb *EventBus) dispatch(payload string, handler func(domain.Event)) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		eb.logger.Warnw("failed to unmarshal event",
			"error", err,
			"payload", payload,
		)
		return
	}

	// Skip events from this instance
	if env.InstanceID == eb.instanceID {
		return
	}
	handler(env.Event)
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}

// NopPublisher drops every event. It is used when Redis is disabled or unreachable.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.Event) error { return nil }

var (
	_ ports.EventPublisher  = (*EventBus)(nil)
	_ ports.EventSubscriber = (*EventBus)(nil)
	_ ports.EventPublisher  = NopPublisher{}
)
