// Package bus provides the event transports Kestrel publishes scoring
// runs and alerts on.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ChannelBus is the Community tier event bus: in-process fan-out over
// buffered Go channels. Delivery is best effort; a slow subscriber whose
// buffer fills drops messages rather than blocking the scoring path.
type ChannelBus struct {
	mu     sync.RWMutex
	buffer int
	subs   map[string][]*channelSubscription
	closed bool
}

type channelSubscription struct {
	id       string
	tenantID string
	topic    string
	handler  domain.MessageHandler
	inbox    chan *domain.Message
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewChannelBus creates an in-process bus. The buffer bounds how many
// undelivered messages each subscriber may hold; a flagged batch can
// fan out one alert per row, so size it for the largest expected run.
func NewChannelBus(buffer int) *ChannelBus {
	if buffer <= 0 {
		buffer = 1000
	}
	return &ChannelBus{
		buffer: buffer,
		subs:   make(map[string][]*channelSubscription),
	}
}

// Publish delivers a message to every subscriber of the tenant's topic.
// Subscribers with full buffers are skipped.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	subs := b.subs[subKey(tenantID, topic)]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.inbox <- msg:
		default:
		}
	}

	return nil
}

// Subscribe registers a handler for one tenant's topic. The handler runs
// on a dedicated goroutine until Unsubscribe or bus close.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)

	sub := &channelSubscription{
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		handler:  handler,
		inbox:    make(chan *domain.Message, b.buffer),
		ctx:      subCtx,
		cancel:   cancel,
	}

	go sub.drain()

	key := subKey(tenantID, topic)
	b.subs[key] = append(b.subs[key], sub)

	return sub, nil
}

func (s *channelSubscription) drain() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			if msg != nil {
				// Handler errors are the subscriber's problem; the bus
				// keeps delivering.
				_ = s.handler(s.ctx, msg)
			}
		}
	}
}

// Request publishes and waits for one reply on a per-request topic.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("request timeout")
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscription and rejects further publishes.
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
			close(sub.inbox)
		}
	}

	b.subs = make(map[string][]*channelSubscription)
	return nil
}

func subKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
