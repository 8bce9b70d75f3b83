package agents

import (
	"context"
	"errors"
)

var (
	// ErrAgentOnACall is returned when an exclusive hold is requested for an
	// agent whose status is already on_a_call.
	ErrAgentOnACall      = errors.New("agents: agent on a call")
	ErrAgentNotFound     = errors.New("agents: agent not found")
	ErrInvalidTransition = errors.New("agents: invalid status transition")
)

// Locker serializes work per agent.
//
// WithExclusiveAgent holds the agent for the whole of fn. Before fn runs the
// agent is moved to on_a_call; if fn fails the agent is moved back to the
// status it had before and fn's error is returned unchanged.
type Locker interface {
	WithExclusiveAgent(ctx context.Context, csrID string, fn func(ctx context.Context, a Agent) error) error
	Fire(ctx context.Context, csrID, event string) (Agent, error)
	Get(ctx context.Context, csrID string) (Agent, error)
}
