package calls

import (
	"context"
	"errors"
)

var (
	// ErrNotInProgress is returned when a lifecycle event is fired from a state
	// that does not allow it, typically because the caller already hung up.
	ErrNotInProgress = errors.New("calls: not in progress")
	ErrNotFound      = errors.New("calls: not found")
	ErrInvalidInput  = errors.New("calls: invalid input")
)

// Store runs units of work against conversation and call leg storage.
// Writes made through Tx become visible only if fn returns nil.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the storage surface available inside one transaction.
// Lookups return ErrNotFound for missing rows.
type Tx interface {
	InsertConversation(ctx context.Context, c Conversation) error
	GetConversation(ctx context.Context, id string) (Conversation, error)
	// LockEnqueuedConversation row-locks id and returns it only while its state
	// is enqueued. ok is false for unknown ids and for any other state.
	LockEnqueuedConversation(ctx context.Context, id string) (Conversation, bool, error)
	UpdateConversation(ctx context.Context, c Conversation) error

	InsertLeg(ctx context.Context, l CallLeg) error
	GetLeg(ctx context.Context, id string) (CallLeg, error)
	GetLegBySID(ctx context.Context, sid string) (CallLeg, error)
	GetLegByRole(ctx context.Context, conversationID string, role LegRole) (CallLeg, error)
	ListLegs(ctx context.Context, conversationID string) ([]CallLeg, error)
	UpdateLeg(ctx context.Context, l CallLeg) error
	DeleteLeg(ctx context.Context, id string) error
}
