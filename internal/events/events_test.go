package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/CoopDesk/CoopDesk/internal/config"
	"github.com/CoopDesk/CoopDesk/internal/convo"
	"github.com/CoopDesk/CoopDesk/internal/store"
)

type capturingWriter struct {
	msgs []kafka.Message
}

func (w *capturingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *capturingWriter) Close() error { return nil }

func TestNewPublisherDisabled(t *testing.T) {
	cases := []config.EventsConfig{
		{},
		{Enabled: true},
		{Enabled: true, Brokers: "localhost:9092"},
		{Brokers: "localhost:9092", Topic: "coopdesk.conversations"},
	}
	for _, cfg := range cases {
		if p := NewPublisher(cfg); p != nil {
			t.Fatalf("expected nil publisher for config %+v", cfg)
		}
	}
}

func TestNilPublisherDropsSilently(t *testing.T) {
	var p *Publisher
	conv := &store.Conversation{ID: 1, Address: "+595971000001"}
	if err := p.ConversationEscalated(context.Background(), conv, "hola"); err != nil {
		t.Fatalf("nil publisher returned error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("nil publisher close: %v", err)
	}
}

func TestPublishedEnvelopeShape(t *testing.T) {
	w := &capturingWriter{}
	p := &Publisher{writer: w}

	conv := &store.Conversation{
		ID:      7,
		Address: "+595971000001",
		Status:  convo.StatusPendingHuman,
	}
	if err := p.ConversationEscalated(context.Background(), conv, "necesito ayuda con mi préstamo"); err != nil {
		t.Fatalf("escalated: %v", err)
	}
	conv.Status = convo.StatusActiveHuman
	if err := p.AgentAssigned(context.Background(), conv, "maria"); err != nil {
		t.Fatalf("assigned: %v", err)
	}
	conv.Status = convo.StatusResolved
	conv.AgentID = "maria"
	if err := p.ConversationResolved(context.Background(), conv); err != nil {
		t.Fatalf("resolved: %v", err)
	}

	if len(w.msgs) != 3 {
		t.Fatalf("wrote %d messages, want 3", len(w.msgs))
	}
	for _, msg := range w.msgs {
		if string(msg.Key) != "+595971000001" {
			t.Fatalf("key = %q, want the customer address", msg.Key)
		}
	}

	var env Envelope
	if err := json.Unmarshal(w.msgs[0].Value, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != KindEscalated || env.Version != 1 || env.ConversationID != 7 {
		t.Fatalf("envelope = %+v", env)
	}
	if env.EventID == "" || env.At.IsZero() {
		t.Fatal("expected event id and timestamp to be stamped")
	}
	if env.Preview == "" {
		t.Fatal("expected escalation preview")
	}

	if err := json.Unmarshal(w.msgs[1].Value, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != KindAssigned || env.AgentID != "maria" {
		t.Fatalf("assigned envelope = %+v", env)
	}
}
