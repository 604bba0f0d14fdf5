// Package router is the orchestration entry point for inbound customer
// messages. For every message it decides between answering synchronously,
// handing the conversation to a human, deferring a heavy query to the
// background pool, or staying silent because a human already owns the
// thread.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CoopDesk/CoopDesk/internal/answer"
	"github.com/CoopDesk/CoopDesk/internal/bus"
	"github.com/CoopDesk/CoopDesk/internal/classify"
	"github.com/CoopDesk/CoopDesk/internal/convo"
	"github.com/CoopDesk/CoopDesk/internal/store"
	"github.com/CoopDesk/CoopDesk/internal/worker"
)

// Fixed acknowledgment strings. These are deliberate canned replies, not
// generated text: they cover every path where the system defers real
// processing.
const (
	AckMedia    = "Recibimos tu archivo adjunto. Un agente va a revisarlo y te contactará en breve."
	AckPending  = "Un agente te va a contactar pronto. Gracias por tu paciencia."
	AckHandover = "Entendido, te comunico con una persona. Un agente te contactará en breve."
	AckHeavy    = "Dame unos minutos, estoy reuniendo toda la información para responderte."
	// Apology is the fail-safe reply: whatever breaks inside the router,
	// the customer receives this instead of silence or a raw error.
	Apology = "Disculpá, tuvimos un inconveniente técnico. Por favor intentá de nuevo en unos minutos."
)

// TaskQueue schedules heavy-query tasks without blocking.
type TaskQueue interface {
	TryEnqueue(task worker.Task) bool
}

// Notifier is told when a conversation escalates to the pending-human
// queue. Implementations are best-effort; errors are logged and dropped.
type Notifier interface {
	ConversationEscalated(ctx context.Context, conv *store.Conversation, preview string) error
}

// Options configure a Router.
type Options struct {
	Store         *store.Store
	Generator     answer.Generator
	Tasks         TaskQueue
	Notifiers     []Notifier
	Instructions  string
	HistoryWindow int
	AnswerTimeout time.Duration
}

// Router routes one inbound message at a time. Stateless apart from its
// injected dependencies, so a single instance serves concurrent requests.
type Router struct {
	store         *store.Store
	generator     answer.Generator
	tasks         TaskQueue
	notifiers     []Notifier
	instructions  string
	historyWindow int
	answerTimeout time.Duration
}

// New creates a Router. All collaborators are injected here; the router
// keeps no ambient global state.
func New(opts Options) *Router {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 20
	}
	if opts.AnswerTimeout <= 0 {
		opts.AnswerTimeout = 25 * time.Second
	}
	return &Router{
		store:         opts.Store,
		generator:     opts.Generator,
		tasks:         opts.Tasks,
		notifiers:     opts.Notifiers,
		instructions:  opts.Instructions,
		historyWindow: opts.HistoryWindow,
		answerTimeout: opts.AnswerTimeout,
	}
}

// HandleInbound processes one customer message and returns the immediate
// reply text, or "" for the single designed silent case (a human agent is
// engaged). Every failure inside is caught here: the customer always gets
// either the full normal reply or the fixed apology, never a half-written
// state surfaced as an error.
func (r *Router) HandleInbound(ctx context.Context, address, text string, media []bus.MediaItem) (reply string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Inbound handling panicked", "address", address, "panic", rec)
			reply = Apology
		}
	}()

	reply, err := r.handle(ctx, address, text, media)
	if err != nil {
		slog.Error("Inbound handling failed", "address", address, "error", err)
		return Apology
	}
	return reply
}

func (r *Router) handle(ctx context.Context, address, text string, media []bus.MediaItem) (string, error) {
	conv, err := r.store.GetOrCreateConversation(address)
	if err != nil {
		return "", fmt.Errorf("resolve conversation: %w", err)
	}

	// History snapshot comes before the inbound message is persisted so a
	// message never appears in its own context window.
	history, err := r.store.RecentHistory(conv.ID, r.historyWindow)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	urls, types := splitMedia(media)
	if _, err := r.store.AppendMessage(conv.ID, address, text, true, convo.SenderCustomer, urls, types); err != nil {
		return "", fmt.Errorf("persist inbound message: %w", err)
	}

	reply, err := r.decide(ctx, conv, text, media, history)
	if err != nil {
		return "", err
	}

	if reply != "" {
		if _, err := r.store.AppendMessage(conv.ID, address, reply, false, convo.SenderAI, nil, nil); err != nil {
			return "", fmt.Errorf("persist reply: %w", err)
		}
	}
	return reply, nil
}

// decide walks the routing ladder in strict order. The order is the
// contract: media beats everything, engaged humans beat classifiers, and
// the AI only answers when nothing earlier claimed the message.
func (r *Router) decide(ctx context.Context, conv *store.Conversation, text string, media []bus.MediaItem, history []store.HistoryTurn) (string, error) {
	if len(media) > 0 {
		if escalated, err := r.store.RequestHumanTakeover(conv.ID); err != nil {
			return "", fmt.Errorf("escalate on media: %w", err)
		} else if escalated {
			r.notifyEscalated(conv, "[archivo adjunto]")
		}
		return AckMedia, nil
	}

	switch conv.Status {
	case convo.StatusActiveHuman:
		// Intentional silence: the assigned agent replies, not the system.
		return "", nil
	case convo.StatusPendingHuman:
		return AckPending, nil
	}

	if classify.WantsHuman(text) {
		if escalated, err := r.store.RequestHumanTakeover(conv.ID); err != nil {
			return "", fmt.Errorf("escalate on handover request: %w", err)
		} else if escalated {
			r.notifyEscalated(conv, text)
		}
		return AckHandover, nil
	}

	if classify.IsHeavy(text) {
		task := worker.Task{
			ConversationID: conv.ID,
			Address:        conv.Address,
			Query:          text,
			History:        history,
			TraceID:        uuid.NewString(),
		}
		if !r.tasks.TryEnqueue(task) {
			return "", fmt.Errorf("heavy-query queue full")
		}
		return AckHeavy, nil
	}

	genCtx, cancel := context.WithTimeout(ctx, r.answerTimeout)
	defer cancel()
	reply, err := r.generator.Answer(genCtx, text, history, r.instructions)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return reply, nil
}

// notifyEscalated fans the escalation out to staff-facing notifiers.
// Runs detached so a slow Slack or Kafka call never delays the customer's
// acknowledgment.
func (r *Router) notifyEscalated(conv *store.Conversation, preview string) {
	for _, n := range r.notifiers {
		go func(n Notifier) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := n.ConversationEscalated(ctx, conv, preview); err != nil {
				slog.Warn("Escalation notification failed", "conversation_id", conv.ID, "error", err)
			}
		}(n)
	}
}

func splitMedia(media []bus.MediaItem) (urls, types []string) {
	for _, m := range media {
		urls = append(urls, m.URL)
		types = append(types, m.ContentType)
	}
	return urls, types
}
