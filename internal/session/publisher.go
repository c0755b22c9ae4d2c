package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const subscriberBuffer = 32

// Publisher delivers progress events to live consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Broker fans events out to in-process subscribers of a learner. Slow
// subscribers lose events rather than blocking the publisher.
type Broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Event
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]chan Event)}
}

// Subscribe returns a channel of the learner's events and a cancel func that
// closes it.
func (b *Broker) Subscribe(learnerID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[learnerID] == nil {
		b.subs[learnerID] = make(map[int]chan Event)
	}
	b.subs[learnerID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[learnerID], id)
			if len(b.subs[learnerID]) == 0 {
				delete(b.subs, learnerID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Broker) Publish(_ context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[event.LearnerID] {
		select {
		case ch <- event:
		default:
			slog.Warn("dropping event for slow subscriber", "learner_id", event.LearnerID, "type", event.Type)
		}
	}
	return nil
}

// Subscribers returns the number of open subscriptions for a learner.
func (b *Broker) Subscribers(learnerID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[learnerID])
}

// RedisBus publishes events on a Redis pub/sub channel so every server
// instance can forward them to its own subscribers.
type RedisBus struct {
	client  *redis.Client
	channel string
}

func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = "skoolup.progress"
	}
	return &RedisBus{client: client, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// StartForwarder subscribes to the channel and calls onEvent for every
// message until ctx is cancelled.
func (b *RedisBus) StartForwarder(ctx context.Context, onEvent func(Event)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					slog.Warn("bad progress event payload", "channel", b.channel, "error", err)
					continue
				}
				onEvent(event)
			}
		}
	}()
	return nil
}
