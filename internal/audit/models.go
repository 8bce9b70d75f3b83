package audit

import "time"

// Event is an immutable, append-only dispatch audit record.
//
// Invariants:
// - Events are never updated or deleted.
// - Audit is best-effort; dispatch never fails because an event could not be written.
type Event struct {
	ID string `json:"id" db:"id"`

	Type EventType `json:"type" db:"type"`

	// Target identifiers (optional, depending on the event type).
	AgentID        string `json:"agent_id,omitempty" db:"agent_id"`
	ConversationID string `json:"conversation_id,omitempty" db:"conversation_id"`
	CallSID        string `json:"call_sid,omitempty" db:"call_sid"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details (JSONB in Postgres).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAssigned      EventType = "conversation_assigned"
	EventTypeRedirectRace  EventType = "redirect_race"
	EventTypeStatusRevert  EventType = "agent_status_reverted"
	EventTypeStaleDequeued EventType = "stale_queue_entry"
)
