// Package bus provides the async message bus between channels and the
// routing core.
package bus

import (
	"context"
	"sync"
	"time"
)

// MediaItem describes one attachment on an inbound message. URL points at
// the locally stored copy of the media; ContentType is the declared mime
// type.
type MediaItem struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

// InboundMessage represents a customer message from a channel to the core.
type InboundMessage struct {
	Channel   string      `json:"channel"`
	Address   string      `json:"address"`
	TraceID   string      `json:"trace_id"`
	Text      string      `json:"text"` // empty for media-only messages
	Media     []MediaItem `json:"media,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// OutboundMessage represents a reply from the core to a channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	Address string `json:"address"`
	TraceID string `json:"trace_id"`
	Body    string `json:"body"`
}

// MessageBus decouples channels from the routing core.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage
	subs     map[string][]func(*OutboundMessage)
	mu       sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *InboundMessage, 100),
		outbound: make(chan *OutboundMessage, 100),
		subs:     make(map[string][]func(*OutboundMessage)),
	}
}

// PublishInbound sends a customer message to the routing core.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or ctx is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishOutbound sends a reply toward the channels.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	b.outbound <- msg
}

// Subscribe registers a callback for outbound messages on a channel.
func (b *MessageBus) Subscribe(channel string, callback func(*OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[channel] = append(b.subs[channel], callback)
}

// DispatchOutbound runs the outbound dispatcher. Run as a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.mu.RLock()
			callbacks := b.subs[msg.Channel]
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(msg)
			}
		}
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}
