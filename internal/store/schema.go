package store

import (
	"time"

	"github.com/CoopDesk/CoopDesk/internal/convo"
)

// Conversation is one customer thread. At most one non-resolved
// conversation exists per address at any time; the partial unique index in
// the schema enforces that even under concurrent creation.
type Conversation struct {
	ID        int64        `json:"id"`
	Address   string       `json:"address"`
	Status    convo.Status `json:"status"`
	AgentID   string       `json:"agent_id,omitempty"` // set once claimed
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Message is a single append-only message row. Rows are never mutated or
// deleted; ordering is timestamp ascending with id as tiebreaker.
type Message struct {
	ID             int64        `json:"id"`
	ConversationID int64        `json:"conversation_id"`
	Address        string       `json:"address"`
	Body           string       `json:"body"` // empty for media-only messages
	FromCustomer   bool         `json:"from_customer"`
	Sender         convo.Sender `json:"sender"`
	MediaCount     int          `json:"media_count"`
	MediaURLs      []string     `json:"media_urls,omitempty"`
	MediaTypes     []string     `json:"media_types,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// HumanAgent is a reference entity owned by the admin subsystem. The core
// only reads it to decide whether an agent may claim conversations.
type HumanAgent struct {
	ID            int64     `json:"id"`
	AgentID       string    `json:"agent_id"`
	Name          string    `json:"name"`
	Active        bool      `json:"active"`
	MaxConcurrent int       `json:"max_concurrent"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryTurn is one entry of the conversational memory window handed to
// the answer generator.
type HistoryTurn struct {
	Role      string    `json:"role"` // "customer", "ai" or "human"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageBrief is a trimmed message used in triage summaries.
type MessageBrief struct {
	Body      string       `json:"body"`
	Sender    convo.Sender `json:"sender"`
	Timestamp time.Time    `json:"timestamp"`
}

// ConversationSummary is a conversation plus its last few messages, shown
// to staff when triaging the pending queue or their own active list.
type ConversationSummary struct {
	Conversation
	LastMessages []MessageBrief `json:"last_messages"`
}

// Schema is the store DDL. Applied on every open; statements are
// idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	address TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active_ai',
	human_agent_id TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_conversations_address ON conversations(address);
CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_one_active
	ON conversations(address) WHERE status != 'resolved';

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL,
	address TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	from_customer BOOLEAN NOT NULL,
	sender TEXT NOT NULL,
	media_count INTEGER NOT NULL DEFAULT 0,
	media_urls TEXT NOT NULL DEFAULT '[]',
	media_types TEXT NOT NULL DEFAULT '[]',
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);

CREATE TABLE IF NOT EXISTS human_agents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT 1,
	max_concurrent INTEGER NOT NULL DEFAULT 5,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
