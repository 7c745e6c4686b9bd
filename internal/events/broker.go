package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

var ErrBrokerUnavailable = errors.New("broker unavailable")

// MessageHandler receives one raw broker message.
type MessageHandler func(payload []byte)

// Broker carries envelopes between server processes. Delivery is
// at-most-once and unordered across publishers.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler MessageHandler) (unsubscribe func(), err error)
}

// RedisBroker is a Broker over Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisBroker(client *redis.Client, logger *slog.Logger) *RedisBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{client: client, logger: logger.With("module", "broker")}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: failed to publish to %s: %w", ErrBrokerUnavailable, channel, err)
	}
	return nil
}

// Subscribe blocks until Redis confirmed the subscription, then delivers
// messages from a background goroutine until unsubscribe is called.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string, handler MessageHandler) (func(), error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("%w: failed to subscribe to %s: %w", ErrBrokerUnavailable, channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			handler([]byte(msg.Payload))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				b.logger.Warn("Failed to close subscription", "channel", channel, "error", err)
			}
			<-done
		})
	}, nil
}

// MemoryBroker delivers synchronously to subscribers in this process.
// It stands in for Redis in single-process deployments and tests.
type MemoryBroker struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]MessageHandler
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{handlers: make(map[string]map[int]MessageHandler)}
}

func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	handlers := make([]MessageHandler, 0, len(b.handlers[channel]))
	for _, h := range b.handlers[channel] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		h(msg)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, channel string, handler MessageHandler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.handlers[channel] == nil {
		b.handlers[channel] = make(map[int]MessageHandler)
	}
	b.handlers[channel][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[channel], id)
	}, nil
}
