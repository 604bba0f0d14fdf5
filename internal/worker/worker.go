// Package worker runs heavy-query answer generation off the synchronous
// request path.
//
// A heavy query (a "list everything" question) is answered by a fixed-size
// pool consuming a buffered channel. Tasks are fire-and-forget: the
// request that enqueued one never observes its completion, and one task's
// failure never affects another. The pool owns its own store handle and
// never borrows the enqueuing request's.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/CoopDesk/CoopDesk/internal/answer"
	"github.com/CoopDesk/CoopDesk/internal/convo"
	"github.com/CoopDesk/CoopDesk/internal/store"
)

// apology is delivered directly through the transport when a task fails,
// bypassing persistence, so the customer is never left waiting in silence.
const apology = "Disculpá, tuvimos un inconveniente al preparar la respuesta. " +
	"Por favor intentá de nuevo en unos minutos."

// deliverTimeout bounds the transport call for both answers and the
// failure apology.
const deliverTimeout = 30 * time.Second

// Transport delivers a message body to a customer address.
type Transport interface {
	Deliver(ctx context.Context, address, body string) error
}

// Task carries everything a heavy query needs to be answered out-of-band.
// The history snapshot was taken by the router before the triggering
// message was persisted.
type Task struct {
	ConversationID int64
	Address        string
	Query          string
	History        []store.HistoryTurn
	TraceID        string
}

// Options configure a Pool.
type Options struct {
	Store         *store.Store
	Generator     answer.Generator
	Transport     Transport
	Instructions  string
	PoolSize      int
	QueueSize     int
	AnswerTimeout time.Duration
}

// Pool executes heavy-query tasks on a fixed number of workers.
type Pool struct {
	queue         chan Task
	store         *store.Store
	generator     answer.Generator
	transport     Transport
	instructions  string
	poolSize      int
	answerTimeout time.Duration
}

// NewPool creates a pool. It does not start workers; call Run.
func NewPool(opts Options) *Pool {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.AnswerTimeout <= 0 {
		opts.AnswerTimeout = 3 * time.Minute
	}
	return &Pool{
		queue:         make(chan Task, opts.QueueSize),
		store:         opts.Store,
		generator:     opts.Generator,
		transport:     opts.Transport,
		instructions:  opts.Instructions,
		poolSize:      opts.PoolSize,
		answerTimeout: opts.AnswerTimeout,
	}
}

// TryEnqueue schedules a task without blocking. Returns false when the
// queue is full.
func (p *Pool) TryEnqueue(task Task) bool {
	select {
	case p.queue <- task:
		return true
	default:
		return false
	}
}

// QueueDepth returns the number of tasks waiting for a worker.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("Heavy-query pool started", "workers", p.poolSize, "queue", cap(p.queue))
	done := make(chan struct{})
	for i := 0; i < p.poolSize; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-p.queue:
					p.runTask(ctx, task)
				}
			}
		}()
	}
	for i := 0; i < p.poolSize; i++ {
		<-done
	}
	slog.Info("Heavy-query pool stopped")
	return ctx.Err()
}

// runTask generates the answer, persists it, and delivers it. Failures are
// terminal for this task only: there is no caller left to report to, so
// the customer gets a best-effort apology through the transport and the
// error stops here.
func (p *Pool) runTask(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Heavy-query task panicked", "conversation_id", task.ConversationID, "panic", r)
		}
	}()

	genCtx, cancel := context.WithTimeout(ctx, p.answerTimeout)
	text, err := p.generator.Answer(genCtx, task.Query, task.History, p.instructions)
	cancel()
	if err != nil {
		slog.Error("Heavy-query generation failed", "conversation_id", task.ConversationID, "trace_id", task.TraceID, "error", err)
		p.sendApology(task)
		return
	}

	if _, err := p.store.AppendMessage(task.ConversationID, task.Address, text, false, convo.SenderAI, nil, nil); err != nil {
		slog.Error("Heavy-query persist failed", "conversation_id", task.ConversationID, "trace_id", task.TraceID, "error", err)
		p.sendApology(task)
		return
	}

	dctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := p.transport.Deliver(dctx, task.Address, text); err != nil {
		// The answer is persisted, so from the conversation's perspective
		// it was sent; delivery failures are non-fatal.
		slog.Warn("Heavy-query delivery failed", "conversation_id", task.ConversationID, "trace_id", task.TraceID, "error", err)
	}
}

func (p *Pool) sendApology(task Task) {
	dctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := p.transport.Deliver(dctx, task.Address, apology); err != nil {
		slog.Warn("Heavy-query apology delivery failed", "conversation_id", task.ConversationID, "error", err)
	}
}
