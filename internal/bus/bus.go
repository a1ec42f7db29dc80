// Package bus provides the bounded inbound/outbound queues decoupling
// channel adapters from the agent loop.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultCapacity bounds each queue. Overflow drops the newest message —
// backpressure by shedding, never by blocking an adapter's receive path.
const DefaultCapacity = 100

// MessageBus carries inbound messages toward the agent and outbound replies
// toward the channel manager's dispatch worker. Both queues are FIFO with a
// single consumer each.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// New creates a bus with the default queue capacity.
func New() *MessageBus {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a bus with explicit queue capacity (tests use
// small values to exercise overflow).
func NewWithCapacity(capacity int) *MessageBus {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, capacity),
		outbound: make(chan OutboundMessage, capacity),
		handlers: make(map[string]EventHandler),
	}
}

// PublishInbound offers a message to the inbound queue without blocking.
// Returns false when the queue is full; the message is dropped.
func (b *MessageBus) PublishInbound(msg InboundMessage) bool {
	select {
	case b.inbound <- msg:
		return true
	default:
		slog.Warn("Inbound queue full",
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"capacity", cap(b.inbound),
		)
		return false
	}
}

// ConsumeInbound blocks until a message is available or ctx is cancelled.
// The second return is false only on cancellation.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound offers a reply to the outbound queue without blocking.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) bool {
	select {
	case b.outbound <- msg:
		return true
	default:
		slog.Warn("Outbound queue full",
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"capacity", cap(b.outbound),
		)
		return false
	}
}

// SubscribeOutbound blocks until a reply is available or ctx is cancelled.
// Single-consumer: the channel manager's dispatch worker.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// InboundLen reports queued inbound messages (status endpoint).
func (b *MessageBus) InboundLen() int { return len(b.inbound) }

// OutboundLen reports queued outbound messages.
func (b *MessageBus) OutboundLen() int { return len(b.outbound) }

// Subscribe registers an event handler under an id, replacing any previous
// handler with the same id.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe removes an event handler.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers an event to every subscriber. Handlers run on the
// caller's goroutine and must not block.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
}

var _ MessageRouter = (*MessageBus)(nil)
var _ EventPublisher = (*MessageBus)(nil)
