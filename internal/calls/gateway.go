package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Bridge moves a live customer call onto an agent at the telephony provider.
// Implementations return ErrNotInProgress when the provider says the call has
// already ended.
type Bridge interface {
	RedirectToAgent(ctx context.Context, callSID, conversationID, agentID string) error
}

// Gateway is the boundary to conversation and call leg lifecycle.
// Storage mutations go through WithTx; provider-side effects do not.
type Gateway struct {
	store  Store
	bridge Bridge

	// clock and newID are injectable for deterministic tests.
	clock func() time.Time
	newID func() string
}

func NewGateway(store Store, bridge Bridge) *Gateway {
	return &Gateway{store: store, bridge: bridge, clock: time.Now, newID: uuid.NewString}
}

// WithClock overrides the clock; intended for tests.
func (g *Gateway) WithClock(clock func() time.Time) *Gateway {
	g.clock = clock
	return g
}

// WithTx runs fn as one all-or-nothing unit of work.
func (g *Gateway) WithTx(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	if g.store == nil {
		return errors.New("calls: store not configured")
	}
	return g.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, &Session{tx: tx, now: g.clock, newID: g.newID})
	})
}

// RedirectCustomerToAgent asks the provider to bridge the conversation's
// customer call to agentID. It fails with ErrNotInProgress when the customer
// leg is no longer live.
func (g *Gateway) RedirectCustomerToAgent(ctx context.Context, conversationID, agentID string) error {
	if g.bridge == nil {
		return errors.New("calls: bridge not configured")
	}
	var customer CallLeg
	err := g.WithTx(ctx, func(ctx context.Context, s *Session) error {
		l, err := s.CustomerLeg(ctx, conversationID)
		customer = l
		return err
	})
	if err != nil {
		return err
	}
	if !customer.State.InProgress() {
		return fmt.Errorf("%w: customer leg %s is %s", ErrNotInProgress, customer.ID, customer.State)
	}
	return g.bridge.RedirectToAgent(ctx, customer.SID, conversationID, agentID)
}

// CustomerStatus applies a provider status callback to the customer leg
// identified by its provider sid. Callbacks for legs that already ended are
// ignored so provider retries stay harmless.
func (g *Gateway) CustomerStatus(ctx context.Context, callSID, providerStatus string) error {
	event, ok := EventForProviderStatus(providerStatus)
	if !ok {
		return nil
	}
	return g.WithTx(ctx, func(ctx context.Context, s *Session) error {
		l, err := s.LegBySID(ctx, callSID)
		if err != nil {
			return err
		}
		return applyProviderEvent(ctx, s, &l, event)
	})
}

// AgentLegStatus is CustomerStatus for agent legs, addressed by leg id because
// the provider sid is only learned from the first callback.
func (g *Gateway) AgentLegStatus(ctx context.Context, legID, callSID, providerStatus string) error {
	event, ok := EventForProviderStatus(providerStatus)
	return g.WithTx(ctx, func(ctx context.Context, s *Session) error {
		l, err := s.Leg(ctx, legID)
		if err != nil {
			return err
		}
		if l.Role != LegRoleAgent {
			return fmt.Errorf("%w: leg %s is not an agent leg", ErrInvalidInput, legID)
		}
		if err := s.SetLegSID(ctx, &l, callSID); err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return applyProviderEvent(ctx, s, &l, event)
	})
}

// EventForProviderStatus maps a Twilio CallStatus to a leg event.
// ok is false for statuses that do not change the leg (queued, ringing).
func EventForProviderStatus(status string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "in-progress", "answered":
		return EventAnswer, true
	case "completed", "busy", "failed", "no-answer", "canceled":
		return EventTerminate, true
	default:
		return "", false
	}
}

func applyProviderEvent(ctx context.Context, s *Session, l *CallLeg, event string) error {
	if l.State.Terminal() {
		return nil
	}
	switch event {
	case EventAnswer:
		if l.State == LegAnswered {
			return nil
		}
		return s.Answer(ctx, l)
	case EventTerminate:
		return s.Terminate(ctx, l)
	default:
		return fmt.Errorf("%w: unsupported provider event %q", ErrInvalidInput, event)
	}
}

// AgentDialTarget returns the agent leg of a conversation; its Number is the
// dial target for the connect response.
func (g *Gateway) AgentDialTarget(ctx context.Context, conversationID string) (CallLeg, error) {
	var out CallLeg
	err := g.WithTx(ctx, func(ctx context.Context, s *Session) error {
		l, err := s.AgentLeg(ctx, conversationID)
		out = l
		return err
	})
	if err != nil {
		return CallLeg{}, err
	}
	if out.State.Terminal() {
		return CallLeg{}, fmt.Errorf("%w: agent leg %s is %s", ErrNotInProgress, out.ID, out.State)
	}
	return out, nil
}

// Conversation returns the conversation with its legs in creation order.
func (g *Gateway) Conversation(ctx context.Context, id string) (Conversation, error) {
	var out Conversation
	err := g.WithTx(ctx, func(ctx context.Context, s *Session) error {
		c, err := s.Conversation(ctx, id)
		if err != nil {
			return err
		}
		legs, err := s.tx.ListLegs(ctx, id)
		if err != nil {
			return err
		}
		c.Legs = legs
		out = c
		return nil
	})
	return out, err
}
