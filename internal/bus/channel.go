// Package bus provides the event bus implementations for the scoring
// pipeline: an in-process channel bus and a NATS-backed bus.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var errBusClosed = errors.New("bus is closed")

// ChannelBus is an in-process EventBus built on buffered channels. It is the
// default for single-binary deployments; delivery is best-effort, a slow
// subscriber drops messages rather than stalling the scoring path.
type ChannelBus struct {
	mu      sync.RWMutex
	bufSize int
	subs    map[string][]*chanSub
	closed  bool
	dropped uint64
}

type chanSub struct {
	bus     *ChannelBus
	id      string
	topic   string
	handler domain.MessageHandler
	inbox   chan *domain.Message
	cancel  context.CancelFunc
}

// NewChannelBus creates a channel bus with the given per-subscriber buffer.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufSize: bufferSize,
		subs:    make(map[string][]*chanSub),
	}
}

// Publish fans the payload out to every subscriber of the topic without
// blocking. Subscribers with a full inbox miss the message.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errBusClosed
	}
	targets := b.subs[topic]
	b.mu.RUnlock()

	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	for _, sub := range targets {
		select {
		case sub.inbox <- msg:
		default:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
		}
	}
	return nil
}

// Subscribe registers a handler for a topic. Each subscription runs its
// handler on a dedicated goroutine fed from its own inbox.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errBusClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &chanSub{
		bus:     b,
		id:      uuid.New().String(),
		topic:   topic,
		handler: handler,
		inbox:   make(chan *domain.Message, b.bufSize),
		cancel:  cancel,
	}
	b.subs[topic] = append(b.subs[topic], sub)

	go sub.run(subCtx)
	return sub, nil
}

func (s *chanSub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.inbox:
			if msg != nil {
				_ = s.handler(ctx, msg)
			}
		}
	}
}

// Dropped reports how many messages were skipped due to full inboxes.
func (b *ChannelBus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Ping reports whether the bus accepts traffic.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errBusClosed
	}
	return nil
}

// Close cancels every subscription and rejects further use.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subs = make(map[string][]*chanSub)
	return nil
}

// Unsubscribe detaches the subscription from its topic and stops delivery.
func (s *chanSub) Unsubscribe() error {
	s.cancel()

	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subs[s.topic][:0]
	for _, sub := range b.subs[s.topic] {
		if sub.id != s.id {
			kept = append(kept, sub)
		}
	}
	b.subs[s.topic] = kept
	return nil
}

// Topic returns the subscribed topic.
func (s *chanSub) Topic() string {
	return s.topic
}
