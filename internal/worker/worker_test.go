package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/CoopDesk/CoopDesk/internal/store"
)

type fakeGenerator struct {
	reply string
	err   error
	delay time.Duration
}

func (g *fakeGenerator) Answer(ctx context.Context, _ string, _ []store.HistoryTurn, _ string) (string, error) {
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return g.reply, g.err
}

type fakeTransport struct {
	mu        sync.Mutex
	delivered []string
	err       error
	notify    chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notify: make(chan string, 8)}
}

func (t *fakeTransport) Deliver(_ context.Context, _, body string) error {
	t.mu.Lock()
	t.delivered = append(t.delivered, body)
	t.mu.Unlock()
	t.notify <- body
	return t.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "coopdesk.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitDelivery(t *testing.T, tr *fakeTransport) string {
	t.Helper()
	select {
	case body := <-tr.notify:
		return body
	case <-time.After(3 * time.Second):
		t.Fatal("no delivery within deadline")
		return ""
	}
}

func TestPoolAnswersPersistsAndDelivers(t *testing.T) {
	s := newTestStore(t)
	conv, _ := s.GetOrCreateConversation("+595900100")
	tr := newFakeTransport()

	pool := NewPool(Options{
		Store:     s,
		Generator: &fakeGenerator{reply: "Las promos vigentes son: A, B y C."},
		Transport: tr,
		PoolSize:  1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	if !pool.TryEnqueue(Task{ConversationID: conv.ID, Address: conv.Address, Query: "que promos hay?"}) {
		t.Fatal("enqueue failed")
	}

	if got := waitDelivery(t, tr); got != "Las promos vigentes son: A, B y C." {
		t.Fatalf("delivered %q", got)
	}

	history, _ := s.RecentHistory(conv.ID, 10)
	if len(history) != 1 || history[0].Role != "ai" {
		t.Fatalf("persisted history = %+v", history)
	}
}

func TestPoolGeneratorFailureSendsApologyWithoutPersisting(t *testing.T) {
	s := newTestStore(t)
	conv, _ := s.GetOrCreateConversation("+595900101")
	tr := newFakeTransport()

	pool := NewPool(Options{
		Store:     s,
		Generator: &fakeGenerator{err: errors.New("upstream down")},
		Transport: tr,
		PoolSize:  1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	pool.TryEnqueue(Task{ConversationID: conv.ID, Address: conv.Address, Query: "todas las promos"})

	if got := waitDelivery(t, tr); got != apology {
		t.Fatalf("delivered %q, want apology", got)
	}
	if history, _ := s.RecentHistory(conv.ID, 10); len(history) != 0 {
		t.Fatalf("history = %+v, want nothing persisted", history)
	}
}

func TestPoolTimesOutHungGenerator(t *testing.T) {
	s := newTestStore(t)
	conv, _ := s.GetOrCreateConversation("+595900102")
	tr := newFakeTransport()

	pool := NewPool(Options{
		Store:         s,
		Generator:     &fakeGenerator{reply: "tarde", delay: time.Minute},
		Transport:     tr,
		PoolSize:      1,
		AnswerTimeout: 50 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	pool.TryEnqueue(Task{ConversationID: conv.ID, Address: conv.Address, Query: "que convenios hay?"})

	if got := waitDelivery(t, tr); got != apology {
		t.Fatalf("delivered %q, want apology after timeout", got)
	}
}

func TestPoolTransportFailureIsSwallowed(t *testing.T) {
	s := newTestStore(t)
	conv, _ := s.GetOrCreateConversation("+595900103")
	tr := newFakeTransport()
	tr.err = errors.New("socket closed")

	pool := NewPool(Options{
		Store:     s,
		Generator: &fakeGenerator{reply: "respuesta"},
		Transport: tr,
		PoolSize:  1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	pool.TryEnqueue(Task{ConversationID: conv.ID, Address: conv.Address, Query: "lista todos los servicios"})
	waitDelivery(t, tr)

	// The answer was persisted before the failed delivery, so the
	// conversation still records it as sent.
	deadline := time.Now().Add(2 * time.Second)
	for {
		history, _ := s.RecentHistory(conv.ID, 10)
		if len(history) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history = %+v, want persisted answer", history)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTryEnqueueDoesNotBlockWhenFull(t *testing.T) {
	pool := NewPool(Options{QueueSize: 1, PoolSize: 1})
	if !pool.TryEnqueue(Task{ConversationID: 1}) {
		t.Fatal("first enqueue failed")
	}
	if pool.TryEnqueue(Task{ConversationID: 2}) {
		t.Fatal("enqueue succeeded on a full queue")
	}
	if pool.QueueDepth() != 1 {
		t.Fatalf("queue depth = %d", pool.QueueDepth())
	}
}

func TestTaskIsolationOneFailureDoesNotStopOthers(t *testing.T) {
	s := newTestStore(t)
	conv, _ := s.GetOrCreateConversation("+595900104")
	tr := newFakeTransport()

	gen := &flakyGenerator{failFirst: true, reply: "segunda respuesta"}
	pool := NewPool(Options{Store: s, Generator: gen, Transport: tr, PoolSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	pool.TryEnqueue(Task{ConversationID: conv.ID, Address: conv.Address, Query: "que promos hay?"})
	pool.TryEnqueue(Task{ConversationID: conv.ID, Address: conv.Address, Query: "que promos hay?"})

	first := waitDelivery(t, tr)
	second := waitDelivery(t, tr)
	if first != apology {
		t.Fatalf("first delivery = %q, want apology", first)
	}
	if second != "segunda respuesta" {
		t.Fatalf("second delivery = %q, want the second task's answer", second)
	}
}

type flakyGenerator struct {
	mu        sync.Mutex
	failFirst bool
	reply     string
}

func (g *flakyGenerator) Answer(context.Context, string, []store.HistoryTurn, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failFirst {
		g.failFirst = false
		return "", errors.New("transient failure")
	}
	return g.reply, nil
}
