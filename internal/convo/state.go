// Package convo defines the conversation lifecycle state machine.
package convo

// Status is the lifecycle state of a conversation.
type Status string

const (
	// StatusActiveAI is the initial state: the bot answers inbound messages.
	StatusActiveAI Status = "active_ai"
	// StatusPendingHuman means the customer is waiting for a staff agent.
	StatusPendingHuman Status = "pending_human"
	// StatusActiveHuman means a staff agent owns the conversation.
	StatusActiveHuman Status = "active_human"
	// StatusResolved is terminal. A new inbound message from the same
	// address starts a fresh conversation.
	StatusResolved Status = "resolved"
)

// Sender classifies who produced a message.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAI       Sender = "ai"
	SenderHuman    Sender = "human"
)

// Event is a lifecycle trigger.
type Event string

const (
	// EventEscalate is a handover request or media arrival.
	EventEscalate Event = "escalate"
	// EventClaim is a staff agent claiming a pending conversation.
	EventClaim Event = "claim"
	// EventResolve closes the conversation.
	EventResolve Event = "resolve"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusResolved
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusActiveAI, StatusPendingHuman, StatusActiveHuman, StatusResolved:
		return true
	}
	return false
}

// Transition returns the status reached by applying event to from.
// ok is false when the transition is illegal; callers must treat that as
// a rejection, never as a reason to abort the surrounding request.
//
// Escalation is idempotent from PENDING_HUMAN so that a second media
// message or handover request while already waiting stays a no-op success.
// There is no path from ACTIVE_HUMAN or RESOLVED back to ACTIVE_AI.
func Transition(from Status, event Event) (to Status, ok bool) {
	switch event {
	case EventEscalate:
		switch from {
		case StatusActiveAI, StatusPendingHuman:
			return StatusPendingHuman, true
		}
	case EventClaim:
		if from == StatusPendingHuman {
			return StatusActiveHuman, true
		}
	case EventResolve:
		if !from.Terminal() {
			return StatusResolved, true
		}
	}
	return from, false
}
