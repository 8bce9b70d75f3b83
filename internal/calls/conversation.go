package calls

import (
	"strings"
	"time"
)

// Conversation is one inbound customer call and every leg attached to it.
//
// Invariant: a conversation has exactly one customer leg and, once dispatched,
// at most one agent leg.
type Conversation struct {
	ID string `json:"id" db:"id"`

	// Number is the dialed (destination) number; CallerID is presented outbound.
	Number   string `json:"number" db:"number"`
	CallerID string `json:"caller_id" db:"caller_id"`

	State ConversationState `json:"state" db:"state"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Legs is only populated by read paths that ask for it, ordered by creation.
	Legs []CallLeg `json:"legs,omitempty" db:"-"`
}

type ConversationState string

const (
	ConversationCreated       ConversationState = "created"
	ConversationGreeted       ConversationState = "greeted"
	ConversationClosedGreeted ConversationState = "closed_greeted"
	ConversationEnqueued      ConversationState = "enqueued"
	ConversationConnecting    ConversationState = "connecting"
	ConversationConnected     ConversationState = "connected"
	ConversationRejected      ConversationState = "rejected"
	ConversationTerminated    ConversationState = "terminated"
)

func (s ConversationState) Terminal() bool {
	return s == ConversationRejected || s == ConversationTerminated
}

// CallLeg is a single telephony call participating in a conversation.
type CallLeg struct {
	ID             string `json:"id" db:"id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`

	Role   LegRole `json:"role" db:"role"`
	Number string  `json:"number" db:"number"`

	// SID is the provider call session id (Twilio CallSid). Empty for agent legs
	// until the provider reports one.
	SID string `json:"sid,omitempty" db:"sid"`

	// AgentID is set on agent legs only (agent CSR id).
	AgentID string `json:"agent_id,omitempty" db:"agent_id"`

	State LegState `json:"state" db:"state"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type LegRole string

const (
	LegRoleCustomer LegRole = "customer"
	LegRoleAgent    LegRole = "agent"
)

type LegState string

const (
	LegCreated    LegState = "created"
	LegConnecting LegState = "connecting"
	LegConnected  LegState = "connected"
	LegAnswered   LegState = "answered"
	LegRejected   LegState = "rejected"
	LegTerminated LegState = "terminated"
)

func (s LegState) Terminal() bool {
	return s == LegRejected || s == LegTerminated
}

// InProgress reports whether the provider call is live and can be redirected.
func (s LegState) InProgress() bool {
	return s == LegConnected || s == LegAnswered
}

// Inbound carries the provider fields of an inbound call event.
type Inbound struct {
	To      string `json:"to"`
	From    string `json:"from"`
	CallSID string `json:"call_sid"`
}

// SanitizeNumber reduces a phone number to its national digits:
// "+1 (555) 123-4567" becomes "5551234567". Non-NANP numbers keep their
// country code; anything without digits (e.g. "anonymous") becomes "".
func SanitizeNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}
