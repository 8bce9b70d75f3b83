package calls

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Session is the lifecycle API bound to one open transaction.
// It is only valid inside the Gateway.WithTx callback that produced it.
type Session struct {
	tx    Tx
	now   func() time.Time
	newID func() string
}

// CreateInboundConversation records a new conversation for the dialed number.
func (s *Session) CreateInboundConversation(ctx context.Context, to string) (Conversation, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return Conversation{}, fmt.Errorf("%w: destination number required", ErrInvalidInput)
	}
	now := s.now().UTC()
	c := Conversation{
		ID:        s.newID(),
		Number:    to,
		CallerID:  to,
		State:     ConversationCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tx.InsertConversation(ctx, c); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (s *Session) PlayMessage(ctx context.Context, c *Conversation) error {
	return s.fireConversation(ctx, c, EventPlayMessage)
}

func (s *Session) PlayClosedGreeting(ctx context.Context, c *Conversation) error {
	return s.fireConversation(ctx, c, EventPlayClosedGreeting)
}

func (s *Session) Enqueue(ctx context.Context, c *Conversation) error {
	return s.fireConversation(ctx, c, EventEnqueue)
}

// ConnectConversation marks a claimed conversation as being connected to an agent.
func (s *Session) ConnectConversation(ctx context.Context, c *Conversation) error {
	return s.fireConversation(ctx, c, EventConnect)
}

// RequeueConversation undoes ConnectConversation.
func (s *Session) RequeueConversation(ctx context.Context, c *Conversation) error {
	return s.fireConversation(ctx, c, EventRequeue)
}

// ClaimEnqueued locks id for the rest of the transaction if it is still enqueued.
func (s *Session) ClaimEnqueued(ctx context.Context, id string) (Conversation, bool, error) {
	return s.tx.LockEnqueuedConversation(ctx, id)
}

func (s *Session) CreateCustomerLeg(ctx context.Context, c *Conversation, from, sid string) (CallLeg, error) {
	if strings.TrimSpace(sid) == "" {
		return CallLeg{}, fmt.Errorf("%w: call sid required", ErrInvalidInput)
	}
	return s.createLeg(ctx, CallLeg{
		ConversationID: c.ID,
		Role:           LegRoleCustomer,
		Number:         strings.TrimSpace(from),
		SID:            strings.TrimSpace(sid),
	})
}

func (s *Session) CreateAgentLeg(ctx context.Context, c *Conversation, agentID, number string) (CallLeg, error) {
	if agentID == "" || number == "" {
		return CallLeg{}, fmt.Errorf("%w: agent id and number required", ErrInvalidInput)
	}
	return s.createLeg(ctx, CallLeg{
		ConversationID: c.ID,
		Role:           LegRoleAgent,
		Number:         number,
		AgentID:        agentID,
	})
}

func (s *Session) createLeg(ctx context.Context, l CallLeg) (CallLeg, error) {
	now := s.now().UTC()
	l.ID = s.newID()
	l.State = LegCreated
	l.CreatedAt = now
	l.UpdatedAt = now
	if err := s.tx.InsertLeg(ctx, l); err != nil {
		return CallLeg{}, err
	}
	return l, nil
}

func (s *Session) Connect(ctx context.Context, l *CallLeg) error {
	return s.fireLeg(ctx, l, EventConnect)
}

func (s *Session) MarkConnected(ctx context.Context, l *CallLeg) error {
	return s.fireLeg(ctx, l, EventConnected)
}

func (s *Session) Answer(ctx context.Context, l *CallLeg) error {
	return s.fireLeg(ctx, l, EventAnswer)
}

func (s *Session) Reject(ctx context.Context, l *CallLeg) error {
	return s.fireLeg(ctx, l, EventReject)
}

func (s *Session) Terminate(ctx context.Context, l *CallLeg) error {
	return s.fireLeg(ctx, l, EventTerminate)
}

// DestroyLeg removes a leg that never reached the provider.
func (s *Session) DestroyLeg(ctx context.Context, l CallLeg) error {
	return s.tx.DeleteLeg(ctx, l.ID)
}

func (s *Session) Conversation(ctx context.Context, id string) (Conversation, error) {
	return s.tx.GetConversation(ctx, id)
}

func (s *Session) Leg(ctx context.Context, id string) (CallLeg, error) {
	return s.tx.GetLeg(ctx, id)
}

func (s *Session) LegBySID(ctx context.Context, sid string) (CallLeg, error) {
	return s.tx.GetLegBySID(ctx, sid)
}

func (s *Session) CustomerLeg(ctx context.Context, conversationID string) (CallLeg, error) {
	return s.tx.GetLegByRole(ctx, conversationID, LegRoleCustomer)
}

func (s *Session) AgentLeg(ctx context.Context, conversationID string) (CallLeg, error) {
	return s.tx.GetLegByRole(ctx, conversationID, LegRoleAgent)
}

// SetLegSID records the provider sid reported for an agent leg.
func (s *Session) SetLegSID(ctx context.Context, l *CallLeg, sid string) error {
	if sid == "" || l.SID == sid {
		return nil
	}
	l.SID = sid
	l.UpdatedAt = s.now().UTC()
	return s.tx.UpdateLeg(ctx, *l)
}

func (s *Session) fireConversation(ctx context.Context, c *Conversation, event string) error {
	next, ok := NextConversationState(c.State, event)
	if !ok {
		return fmt.Errorf("%w: conversation %s cannot %s from %s", ErrNotInProgress, c.ID, event, c.State)
	}
	c.State = next
	c.UpdatedAt = s.now().UTC()
	return s.tx.UpdateConversation(ctx, *c)
}

func (s *Session) fireLeg(ctx context.Context, l *CallLeg, event string) error {
	next, ok := NextLegState(l.State, event)
	if !ok {
		return fmt.Errorf("%w: %s leg %s cannot %s from %s", ErrNotInProgress, l.Role, l.ID, event, l.State)
	}
	l.State = next
	l.UpdatedAt = s.now().UTC()
	if err := s.tx.UpdateLeg(ctx, *l); err != nil {
		return err
	}
	return s.cascade(ctx, l, event)
}

// cascade mirrors leg events onto the parent conversation.
func (s *Session) cascade(ctx context.Context, l *CallLeg, event string) error {
	var convEvent string
	switch {
	case l.Role == LegRoleCustomer && event == EventReject:
		convEvent = EventReject
	case l.Role == LegRoleCustomer && event == EventTerminate:
		convEvent = EventTerminate
	case l.Role == LegRoleAgent && event == EventAnswer:
		convEvent = EventAnswer
	default:
		return nil
	}

	c, err := s.tx.GetConversation(ctx, l.ConversationID)
	if err != nil {
		return err
	}
	if _, ok := NextConversationState(c.State, convEvent); !ok {
		// e.g. the conversation already ended or was never claimed.
		return nil
	}
	return s.fireConversation(ctx, &c, convEvent)
}
