package agents

import (
	"fmt"
	"time"
)

// Agent is a CSR that can be handed queued conversations.
type Agent struct {
	ID string `json:"id" db:"id"`
	// CSRID is the external agent identifier used by the API and dispatch.
	CSRID       string `json:"csr_id" db:"csr_id"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	Status Status `json:"status" db:"status"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusAvailable Status = "available"
	StatusOnACall   Status = "on_a_call"
	StatusWrapUp    Status = "wrap_up"
	StatusAway      Status = "away"
	StatusOffline   Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusOnACall, StatusWrapUp, StatusAway, StatusOffline:
		return true
	default:
		return false
	}
}

// StatusEvent is one append-only row of an agent's status history.
type StatusEvent struct {
	ID      string `json:"id" db:"id"`
	AgentID string `json:"agent_id" db:"agent_id"`

	// Event is named after the status it moves to.
	Event string `json:"event" db:"event"`
	From  Status `json:"from_status" db:"from_status"`
	To    Status `json:"to_status" db:"to_status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NextStatus applies the status event machine. Every event is named after its
// target status and fires from any status other than that target.
func NextStatus(from Status, event string) (Status, error) {
	to := Status(event)
	if !to.Valid() {
		return from, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
	}
	if from == to {
		return from, fmt.Errorf("%w: already %s", ErrInvalidTransition, from)
	}
	return to, nil
}
