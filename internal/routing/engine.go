package routing

import (
	"context"
	"errors"
	"time"

	"callqueue/internal/calls"
)

// Engine decides what to do with an inbound call.
//
// Provider adapters depend only on this interface; business rules stay here.
type Engine interface {
	RouteInbound(ctx context.Context, in calls.Inbound) (Decision, error)
}

// PolicyEngine evaluates a Policy for every inbound call.
//
// Priority:
//  1. Blocked caller -> reject
//  2. Forced closed, closed date or outside opening hours -> closed greeting
//  3. Otherwise -> greeting
//
// Return routing decision only. No side effects.
type PolicyEngine struct {
	Policy *Policy
	Now    func() time.Time
}

func NewPolicyEngine(p *Policy) *PolicyEngine {
	return &PolicyEngine{Policy: p, Now: time.Now}
}

func (e *PolicyEngine) RouteInbound(ctx context.Context, in calls.Inbound) (Decision, error) {
	if in.To == "" {
		return Decision{}, errors.New("routing: destination number required")
	}
	p := e.Policy
	if p == nil {
		return Decision{Action: ActionGreeting, Reason: "no_policy"}, nil
	}

	if p.Blocks(in.From) {
		return Decision{Action: ActionReject, Reason: "blocked_caller"}, nil
	}
	if p.ForceClosed {
		return Decision{Action: ActionClosedGreeting, Reason: "force_closed"}, nil
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	open, reason := p.OpenAt(now())
	if !open {
		return Decision{Action: ActionClosedGreeting, Reason: reason}, nil
	}
	return Decision{Action: ActionGreeting, Reason: reason}, nil
}

// NewStaticEngine returns an engine that always answers with action.
// Used for local runs without a policy file.
func NewStaticEngine(action Action) Engine { return staticEngine{action: action} }

type staticEngine struct {
	action Action
}

func (s staticEngine) RouteInbound(ctx context.Context, in calls.Inbound) (Decision, error) {
	if in.To == "" {
		return Decision{}, errors.New("routing: destination number required")
	}
	return Decision{Action: s.action, Reason: "static"}, nil
}
