// Package panel exposes the staff-facing agent action API: the endpoints
// the human-agent dashboard uses to triage, claim, answer, and resolve
// escalated conversations. The dashboard itself (HTML, sessions, CSV
// exports) lives outside this repo; this is only its JSON contract.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CoopDesk/CoopDesk/internal/convo"
	"github.com/CoopDesk/CoopDesk/internal/store"
)

// Transport delivers a staff reply to the customer address.
type Transport interface {
	Deliver(ctx context.Context, address, body string) error
}

// EventSink receives lifecycle events from agent actions. Best-effort;
// errors are logged and dropped.
type EventSink interface {
	AgentAssigned(ctx context.Context, conv *store.Conversation, agentID string) error
	ConversationResolved(ctx context.Context, conv *store.Conversation) error
}

// Options configure a Panel.
type Options struct {
	Store     *store.Store
	Transport Transport
	Events    EventSink
	Token     string // optional static bearer token; empty disables auth
}

// Panel serves the agent action API.
type Panel struct {
	store     *store.Store
	transport Transport
	events    EventSink
	token     string
}

// New creates a Panel.
func New(opts Options) *Panel {
	return &Panel{
		store:     opts.Store,
		transport: opts.Transport,
		events:    opts.Events,
		token:     opts.Token,
	}
}

// Handler returns the HTTP handler for the panel API.
func (p *Panel) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/conversations/pending", p.requireAuth(p.handlePending))
	mux.HandleFunc("/api/v1/conversations/active", p.requireAuth(p.handleActive))
	mux.HandleFunc("/api/v1/conversations/", p.requireAuth(p.handleConversationAction))
	return mux
}

func (p *Panel) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p.token != "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if auth != "Bearer "+p.token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next(w, r)
	}
}

func (p *Panel) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	summaries, err := p.store.PendingForHumans()
	if err != nil {
		slog.Error("List pending conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": emptyIfNil(summaries)})
}

func (p *Panel) handleActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	agentID := strings.TrimSpace(r.URL.Query().Get("agent_id"))
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	summaries, err := p.store.ActiveForAgent(agentID)
	if err != nil {
		slog.Error("List active conversations failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": emptyIfNil(summaries)})
}

// handleConversationAction dispatches /api/v1/conversations/{id}/{action}.
func (p *Panel) handleConversationAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/conversations/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	convID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	switch parts[1] {
	case "assign":
		p.handleAssign(w, r, convID)
	case "resolve":
		p.handleResolve(w, r, convID)
	case "reply":
		p.handleReply(w, r, convID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (p *Panel) handleAssign(w http.ResponseWriter, r *http.Request, convID int64) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.AgentID) == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	conv, err := p.store.GetConversation(convID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	ok, err := p.store.AssignAgent(convID, req.AgentID)
	if err != nil {
		slog.Error("Assign failed", "conversation_id", convID, "agent_id", req.AgentID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	if !ok {
		// Illegal transition (not pending, already claimed) or unknown or
		// inactive agent; surfaced as a rejection the dashboard can render.
		writeJSON(w, http.StatusConflict, map[string]any{"assigned": false})
		return
	}

	conv.Status = convo.StatusActiveHuman
	conv.AgentID = req.AgentID
	p.emit(func(ctx context.Context) error { return p.events.AgentAssigned(ctx, conv, req.AgentID) })
	writeJSON(w, http.StatusOK, map[string]any{"assigned": true})
}

func (p *Panel) handleResolve(w http.ResponseWriter, r *http.Request, convID int64) {
	conv, err := p.store.GetConversation(convID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	ok, err := p.store.Resolve(convID)
	if err != nil {
		slog.Error("Resolve failed", "conversation_id", convID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]any{"resolved": false})
		return
	}

	conv.Status = convo.StatusResolved
	p.emit(func(ctx context.Context) error { return p.events.ConversationResolved(ctx, conv) })
	writeJSON(w, http.StatusOK, map[string]any{"resolved": true})
}

func (p *Panel) handleReply(w http.ResponseWriter, r *http.Request, convID int64) {
	var req struct {
		AgentID string `json:"agent_id"`
		Text    string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		strings.TrimSpace(req.AgentID) == "" || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "agent_id and text are required")
		return
	}

	conv, err := p.store.GetConversation(convID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// Replying is only legal for the agent who owns the conversation.
	if conv.Status != convo.StatusActiveHuman || conv.AgentID != req.AgentID {
		writeJSON(w, http.StatusConflict, map[string]any{"sent": false})
		return
	}

	msg, err := p.store.AppendMessage(convID, conv.Address, req.Text, false, convo.SenderHuman, nil, nil)
	if err != nil {
		slog.Error("Persist staff reply failed", "conversation_id", convID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	// Delivery failure is non-fatal: the reply is persisted, so the
	// conversation considers it sent.
	dctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := p.transport.Deliver(dctx, conv.Address, req.Text); err != nil {
		slog.Warn("Staff reply delivery failed", "conversation_id", convID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"sent": true, "message": msg})
}

func (p *Panel) emit(fn func(context.Context) error) {
	if p.events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Warn("Event emission failed", "error", err)
		}
	}()
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	slog.Error("Storage lookup failed", "error", err)
	writeError(w, http.StatusInternalServerError, "storage failure")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func emptyIfNil(s []store.ConversationSummary) []store.ConversationSummary {
	if s == nil {
		return []store.ConversationSummary{}
	}
	return s
}
