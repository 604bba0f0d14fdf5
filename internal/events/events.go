// Package events publishes conversation lifecycle events to a Kafka topic
// for downstream reporting. The stream is best-effort; losing an event
// never blocks or fails the customer-facing flow.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/CoopDesk/CoopDesk/internal/config"
	"github.com/CoopDesk/CoopDesk/internal/store"
)

// Event kinds carried on the topic. Keyed by conversation address so all
// events of one customer land on the same partition, in order.
const (
	KindEscalated = "conversation.escalated"
	KindAssigned  = "conversation.assigned"
	KindResolved  = "conversation.resolved"
)

// Envelope is the versioned wire record for every event kind.
type Envelope struct {
	EventID        string    `json:"event_id"`
	Kind           string    `json:"kind"`
	Version        int       `json:"version"`
	ConversationID int64     `json:"conversation_id"`
	Address        string    `json:"address"`
	Status         string    `json:"status"`
	AgentID        string    `json:"agent_id,omitempty"`
	Preview        string    `json:"preview,omitempty"`
	At             time.Time `json:"at"`
}

// messageWriter matches kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher emits lifecycle envelopes. A nil Publisher is valid and drops
// everything, so callers never branch on whether events are configured.
type Publisher struct {
	writer messageWriter
}

// NewPublisher builds a Publisher from config, or nil when the event
// stream is disabled or has no brokers.
func NewPublisher(cfg config.EventsConfig) *Publisher {
	brokers := strings.TrimSpace(cfg.Brokers)
	if !cfg.Enabled || brokers == "" || strings.TrimSpace(cfg.Topic) == "" {
		return nil
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        strings.TrimSpace(cfg.Topic),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}

// ConversationEscalated emits an escalation event. Satisfies the router's
// notifier contract.
func (p *Publisher) ConversationEscalated(ctx context.Context, conv *store.Conversation, preview string) error {
	return p.publish(ctx, Envelope{
		Kind:           KindEscalated,
		ConversationID: conv.ID,
		Address:        conv.Address,
		Status:         string(conv.Status),
		Preview:        preview,
	})
}

// AgentAssigned emits a claim event.
func (p *Publisher) AgentAssigned(ctx context.Context, conv *store.Conversation, agentID string) error {
	return p.publish(ctx, Envelope{
		Kind:           KindAssigned,
		ConversationID: conv.ID,
		Address:        conv.Address,
		Status:         string(conv.Status),
		AgentID:        agentID,
	})
}

// ConversationResolved emits a resolution event.
func (p *Publisher) ConversationResolved(ctx context.Context, conv *store.Conversation) error {
	return p.publish(ctx, Envelope{
		Kind:           KindResolved,
		ConversationID: conv.ID,
		Address:        conv.Address,
		Status:         string(conv.Status),
		AgentID:        conv.AgentID,
	})
}

func (p *Publisher) publish(ctx context.Context, env Envelope) error {
	if p == nil {
		return nil
	}
	env.EventID = uuid.NewString()
	env.Version = 1
	env.At = time.Now().UTC()

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(env.Address),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(env.Kind)},
		},
		Time: env.At,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
