// Package store persists conversations and messages in SQLite.
//
// Conversations carry the only mutable state in the system (their status);
// all status changes are conditional UPDATEs so that concurrent requests
// for the same conversation cannot lose each other's transitions. Messages
// are append-only.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CoopDesk/CoopDesk/internal/convo"
)

var (
	// ErrNotFound means the referenced conversation or agent does not exist.
	ErrNotFound = errors.New("store: not found")
)

// Store wraps the SQLite handle. Safe for concurrent use; SQLite's WAL
// mode plus the busy timeout serialize writers.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the store database at dbPath and applies the
// schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const conversationCols = `id, address, status, COALESCE(human_agent_id,''), created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.Address, &c.Status, &c.AgentID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreateConversation returns the single non-terminal conversation for
// address, creating one in ACTIVE_AI if none exists. The partial unique
// index on (address) WHERE status != 'resolved' guarantees two concurrent
// first messages from the same address cannot create two conversations:
// the loser of the insert race falls back to re-reading the winner's row.
func (s *Store) GetOrCreateConversation(address string) (*Conversation, error) {
	if conv, err := s.activeConversation(address); err == nil {
		return conv, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO conversations (address, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		address, string(convo.StatusActiveAI), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			conv, rerr := s.activeConversation(address)
			if rerr != nil {
				return nil, fmt.Errorf("reread conversation after insert race: %w", rerr)
			}
			return conv, nil
		}
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.GetConversation(id)
}

func (s *Store) activeConversation(address string) (*Conversation, error) {
	row := s.db.QueryRow(
		`SELECT `+conversationCols+` FROM conversations WHERE address = ? AND status != ?`,
		address, string(convo.StatusResolved),
	)
	return scanConversation(row)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetConversation returns a conversation by id, or ErrNotFound.
func (s *Store) GetConversation(id int64) (*Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationCols+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// AppendMessage writes one message row. Fails with ErrNotFound when the
// conversation id is invalid. Also bumps the conversation's updated_at so
// triage ordering follows activity.
func (s *Store) AppendMessage(convID int64, address, body string, fromCustomer bool, sender convo.Sender, mediaURLs, mediaTypes []string) (*Message, error) {
	if _, err := s.GetConversation(convID); err != nil {
		return nil, err
	}

	urlsJSON, _ := json.Marshal(orEmpty(mediaURLs))
	typesJSON, _ := json.Marshal(orEmpty(mediaTypes))
	now := time.Now().UTC()

	res, err := s.db.Exec(
		`INSERT INTO messages (conversation_id, address, body, from_customer, sender, media_count, media_urls, media_types, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		convID, address, body, fromCustomer, string(sender), len(mediaURLs), string(urlsJSON), string(typesJSON), now,
	)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	id, _ := res.LastInsertId()

	_, _ = s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, convID)

	return &Message{
		ID:             id,
		ConversationID: convID,
		Address:        address,
		Body:           body,
		FromCustomer:   fromCustomer,
		Sender:         sender,
		MediaCount:     len(mediaURLs),
		MediaURLs:      mediaURLs,
		MediaTypes:     mediaTypes,
		Timestamp:      now,
	}, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// RecentHistory returns up to limit most recent messages of the
// conversation in chronological order, labeled for the answer generator.
// Callers must fetch history before persisting the message being handled
// so a message never appears in its own context window.
func (s *Store) RecentHistory(convID int64, limit int) ([]HistoryTurn, error) {
	rows, err := s.db.Query(
		`SELECT body, from_customer, sender, timestamp FROM messages
		WHERE conversation_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		convID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer rows.Close()

	var turns []HistoryTurn
	for rows.Next() {
		var body, sender string
		var fromCustomer bool
		var ts time.Time
		if err := rows.Scan(&body, &fromCustomer, &sender, &ts); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		role := sender
		if fromCustomer {
			role = string(convo.SenderCustomer)
		}
		turns = append(turns, HistoryTurn{Role: role, Content: body, Timestamp: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// PendingForHumans returns conversations waiting for a staff agent, oldest
// update first, each with its last few messages for triage context.
func (s *Store) PendingForHumans() ([]ConversationSummary, error) {
	return s.summaries(
		`SELECT `+conversationCols+` FROM conversations WHERE status = ? ORDER BY updated_at ASC`,
		string(convo.StatusPendingHuman),
	)
}

// ActiveForAgent returns conversations assigned to agentID, most recently
// updated first.
func (s *Store) ActiveForAgent(agentID string) ([]ConversationSummary, error) {
	return s.summaries(
		`SELECT `+conversationCols+` FROM conversations WHERE status = ? AND human_agent_id = ? ORDER BY updated_at DESC`,
		string(convo.StatusActiveHuman), agentID,
	)
}

const summaryMessages = 3

func (s *Store) summaries(query string, args ...any) ([]ConversationSummary, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, ConversationSummary{Conversation: *conv})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	for i := range out {
		briefs, err := s.lastMessages(out[i].ID, summaryMessages)
		if err != nil {
			return nil, err
		}
		out[i].LastMessages = briefs
	}
	return out, nil
}

func (s *Store) lastMessages(convID int64, limit int) ([]MessageBrief, error) {
	rows, err := s.db.Query(
		`SELECT body, sender, timestamp FROM messages
		WHERE conversation_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		convID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("last messages: %w", err)
	}
	defer rows.Close()

	var briefs []MessageBrief
	for rows.Next() {
		var b MessageBrief
		if err := rows.Scan(&b.Body, &b.Sender, &b.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message brief: %w", err)
		}
		briefs = append(briefs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("last messages: %w", err)
	}
	for i, j := 0, len(briefs)-1; i < j; i, j = i+1, j-1 {
		briefs[i], briefs[j] = briefs[j], briefs[i]
	}
	return briefs, nil
}

// RequestHumanTakeover moves a conversation to PENDING_HUMAN. Idempotent
// when already pending. Returns false without error when the conversation
// is in a state that cannot escalate (ACTIVE_HUMAN, RESOLVED) or does not
// exist.
func (s *Store) RequestHumanTakeover(convID int64) (bool, error) {
	return s.cas(
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(convo.StatusPendingHuman), time.Now().UTC(), convID,
		string(convo.StatusActiveAI), string(convo.StatusPendingHuman),
	)
}

// AssignAgent claims a PENDING_HUMAN conversation for agentID. The agent
// must exist and be active. Returns false on any illegal transition,
// including a concurrent claim that got there first.
func (s *Store) AssignAgent(convID int64, agentID string) (bool, error) {
	agent, err := s.GetAgent(agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !agent.Active {
		return false, nil
	}
	return s.cas(
		`UPDATE conversations SET status = ?, human_agent_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(convo.StatusActiveHuman), agentID, time.Now().UTC(), convID,
		string(convo.StatusPendingHuman),
	)
}

// Resolve marks a conversation resolved from any non-terminal state.
func (s *Store) Resolve(convID int64) (bool, error) {
	return s.cas(
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ? AND status != ?`,
		string(convo.StatusResolved), time.Now().UTC(), convID,
		string(convo.StatusResolved),
	)
}

func (s *Store) cas(query string, args ...any) (bool, error) {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("update conversation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// GetAgent resolves a staff agent id, or ErrNotFound.
func (s *Store) GetAgent(agentID string) (*HumanAgent, error) {
	row := s.db.QueryRow(
		`SELECT id, agent_id, name, is_active, max_concurrent, created_at FROM human_agents WHERE agent_id = ?`,
		agentID,
	)
	var a HumanAgent
	err := row.Scan(&a.ID, &a.AgentID, &a.Name, &a.Active, &a.MaxConcurrent, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

// UpsertAgent writes a staff agent reference row. Agent lifecycle is owned
// by the admin subsystem; this exists so that subsystem (and tests) can
// seed the reference table.
func (s *Store) UpsertAgent(agentID, name string, active bool, maxConcurrent int) error {
	_, err := s.db.Exec(
		`INSERT INTO human_agents (agent_id, name, is_active, max_concurrent) VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET name = excluded.name, is_active = excluded.is_active, max_concurrent = excluded.max_concurrent`,
		agentID, name, active, maxConcurrent,
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}
