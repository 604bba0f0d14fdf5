package router

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/CoopDesk/CoopDesk/internal/bus"
	"github.com/CoopDesk/CoopDesk/internal/convo"
	"github.com/CoopDesk/CoopDesk/internal/store"
	"github.com/CoopDesk/CoopDesk/internal/worker"
)

type fakeGenerator struct {
	reply string
	err   error
	calls []string
}

func (g *fakeGenerator) Answer(_ context.Context, query string, history []store.HistoryTurn, _ string) (string, error) {
	g.calls = append(g.calls, query)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type fakeQueue struct {
	tasks []worker.Task
	full  bool
}

func (q *fakeQueue) TryEnqueue(task worker.Task) bool {
	if q.full {
		return false
	}
	q.tasks = append(q.tasks, task)
	return true
}

type recordingNotifier struct {
	escalations chan int64
}

func (n *recordingNotifier) ConversationEscalated(_ context.Context, conv *store.Conversation, _ string) error {
	n.escalations <- conv.ID
	return nil
}

func newTestRouter(t *testing.T) (*Router, *store.Store, *fakeGenerator, *fakeQueue) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "coopdesk.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	gen := &fakeGenerator{reply: "Respuesta generada."}
	queue := &fakeQueue{}
	r := New(Options{
		Store:     s,
		Generator: gen,
		Tasks:     queue,
	})
	return r, s, gen, queue
}

func TestFirstMessageAnsweredByAI(t *testing.T) {
	r, s, gen, _ := newTestRouter(t)

	reply := r.HandleInbound(context.Background(), "+595900000", "hola", nil)
	if reply != "Respuesta generada." {
		t.Fatalf("reply = %q", reply)
	}
	if len(gen.calls) != 1 || gen.calls[0] != "hola" {
		t.Fatalf("generator calls = %v", gen.calls)
	}

	conv, err := s.GetOrCreateConversation("+595900000")
	if err != nil {
		t.Fatalf("lookup conversation: %v", err)
	}
	if conv.Status != convo.StatusActiveAI {
		t.Fatalf("status = %s, want active_ai", conv.Status)
	}

	history, _ := s.RecentHistory(conv.ID, 10)
	if len(history) != 2 {
		t.Fatalf("persisted %d messages, want customer + ai", len(history))
	}
	if history[0].Role != "customer" || history[1].Role != "ai" {
		t.Fatalf("roles = %s/%s", history[0].Role, history[1].Role)
	}
}

func TestHistoryExcludesMessageBeingHandled(t *testing.T) {
	r, _, gen, _ := newTestRouter(t)
	addr := "+595900010"

	r.HandleInbound(context.Background(), addr, "hola", nil)
	gen.reply = "Claro."
	r.HandleInbound(context.Background(), addr, "como asociarme?", nil)

	// The generator's view of history lives in the call; verify via a third
	// message that sees exactly the four prior rows.
	gen.reply = "Listo."
	var sawHistory []store.HistoryTurn
	probe := &historyProbe{inner: gen, captured: &sawHistory}
	r.generator = probe

	r.HandleInbound(context.Background(), addr, "gracias", nil)
	if len(sawHistory) != 4 {
		t.Fatalf("history window = %d turns, want 4 prior turns", len(sawHistory))
	}
	for _, turn := range sawHistory {
		if turn.Content == "gracias" {
			t.Fatal("message appeared in its own context window")
		}
	}
}

type historyProbe struct {
	inner    *fakeGenerator
	captured *[]store.HistoryTurn
}

func (p *historyProbe) Answer(ctx context.Context, query string, history []store.HistoryTurn, instructions string) (string, error) {
	*p.captured = history
	return p.inner.Answer(ctx, query, history, instructions)
}

func TestHandoverRequestEscalatesWithoutAI(t *testing.T) {
	r, s, gen, _ := newTestRouter(t)
	addr := "+595900001"

	r.HandleInbound(context.Background(), addr, "hola", nil)
	callsBefore := len(gen.calls)

	reply := r.HandleInbound(context.Background(), addr, "quiero hablar con una persona", nil)
	if reply != AckHandover {
		t.Fatalf("reply = %q, want handover ack", reply)
	}
	if len(gen.calls) != callsBefore {
		t.Fatal("answer generator invoked for a handover request")
	}

	conv, _ := s.GetOrCreateConversation(addr)
	if conv.Status != convo.StatusPendingHuman {
		t.Fatalf("status = %s, want pending_human", conv.Status)
	}
}

func TestMediaEscalatesAndAcknowledges(t *testing.T) {
	r, s, gen, _ := newTestRouter(t)
	addr := "+595900002"

	reply := r.HandleInbound(context.Background(), addr, "", []bus.MediaItem{
		{URL: "/media/images/recibo.jpg", ContentType: "image/jpeg"},
	})
	if reply != AckMedia {
		t.Fatalf("reply = %q, want media ack", reply)
	}
	if len(gen.calls) != 0 {
		t.Fatal("answer generator invoked for a media message")
	}

	conv, _ := s.GetOrCreateConversation(addr)
	if conv.Status != convo.StatusPendingHuman {
		t.Fatalf("status = %s, want pending_human", conv.Status)
	}

	// A second attachment while already pending stays acknowledged.
	reply = r.HandleInbound(context.Background(), addr, "", []bus.MediaItem{
		{URL: "/media/images/otro.jpg", ContentType: "image/jpeg"},
	})
	if reply != AckMedia {
		t.Fatalf("second media reply = %q", reply)
	}
}

func TestPendingConversationGetsFixedAck(t *testing.T) {
	r, _, gen, _ := newTestRouter(t)
	addr := "+595900003"

	r.HandleInbound(context.Background(), addr, "necesito ayuda humana", nil)
	reply := r.HandleInbound(context.Background(), addr, "siguen ahi?", nil)
	if reply != AckPending {
		t.Fatalf("reply = %q, want pending ack", reply)
	}
	if len(gen.calls) != 0 {
		t.Fatal("generator invoked while pending human")
	}
}

func TestActiveHumanConversationIsSilent(t *testing.T) {
	r, s, gen, _ := newTestRouter(t)
	addr := "+595900004"

	r.HandleInbound(context.Background(), addr, "problema grave", nil)
	conv, _ := s.GetOrCreateConversation(addr)
	_ = s.UpsertAgent("maria", "María", true, 5)
	if ok, _ := s.AssignAgent(conv.ID, "maria"); !ok {
		t.Fatal("claim failed")
	}

	reply := r.HandleInbound(context.Background(), addr, "hola maria", nil)
	if reply != "" {
		t.Fatalf("reply = %q, want silence while a human is engaged", reply)
	}
	if len(gen.calls) != 0 {
		t.Fatal("generator invoked while human engaged")
	}

	// The message is still persisted for the agent to see.
	history, _ := s.RecentHistory(conv.ID, 10)
	last := history[len(history)-1]
	if last.Content != "hola maria" || last.Role != "customer" {
		t.Fatalf("last turn = %+v", last)
	}
}

func TestHeavyQueryDefersToPool(t *testing.T) {
	r, s, gen, queue := newTestRouter(t)
	addr := "+595900005"

	r.HandleInbound(context.Background(), addr, "hola", nil)
	before := len(gen.calls)

	reply := r.HandleInbound(context.Background(), addr, "que promos hay?", nil)
	if reply != AckHeavy {
		t.Fatalf("reply = %q, want heavy ack", reply)
	}
	if len(gen.calls) != before {
		t.Fatal("heavy query answered synchronously")
	}
	if len(queue.tasks) != 1 {
		t.Fatalf("enqueued %d tasks, want 1", len(queue.tasks))
	}

	task := queue.tasks[0]
	conv, _ := s.GetOrCreateConversation(addr)
	if task.ConversationID != conv.ID || task.Address != addr || task.Query != "que promos hay?" {
		t.Fatalf("task = %+v", task)
	}
	// Snapshot taken before the heavy message was persisted.
	for _, turn := range task.History {
		if turn.Content == "que promos hay?" {
			t.Fatal("task history contains the triggering message")
		}
	}
}

func TestGeneratorFailureReturnsApology(t *testing.T) {
	r, s, gen, _ := newTestRouter(t)
	gen.err = errors.New("upstream down")

	reply := r.HandleInbound(context.Background(), "+595900006", "hola", nil)
	if reply != Apology {
		t.Fatalf("reply = %q, want apology", reply)
	}

	// The apology is not persisted; only the customer message is.
	conv, _ := s.GetOrCreateConversation("+595900006")
	history, _ := s.RecentHistory(conv.ID, 10)
	if len(history) != 1 {
		t.Fatalf("persisted %d messages, want only the inbound one", len(history))
	}
}

func TestFullQueueFailsSafe(t *testing.T) {
	r, _, _, queue := newTestRouter(t)
	queue.full = true

	reply := r.HandleInbound(context.Background(), "+595900007", "todas las promociones", nil)
	if reply != Apology {
		t.Fatalf("reply = %q, want apology when queue is saturated", reply)
	}
}

func TestEscalationNotifiesStaff(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	n := &recordingNotifier{escalations: make(chan int64, 1)}
	r.notifiers = []Notifier{n}

	r.HandleInbound(context.Background(), "+595900008", "quiero hablar con un representante", nil)
	select {
	case <-n.escalations:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not called")
	}
}
