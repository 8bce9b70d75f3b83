package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal dispatch audit information.
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.Type != EventTypeStatusRevert && e.ConversationID == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAssigned records a conversation handed to an agent.
func (s *Service) LogAssigned(ctx context.Context, agentID, conversationID, callSID string) error {
	return s.Append(ctx, Event{
		Type:           EventTypeAssigned,
		AgentID:        agentID,
		ConversationID: conversationID,
		CallSID:        callSID,
		Message:        "conversation assigned to agent",
	})
}

// LogRedirectRace records a claimed conversation whose customer was gone
// by the time the redirect was attempted.
func (s *Service) LogRedirectRace(ctx context.Context, agentID, conversationID, callSID string, attempt int) error {
	return s.Append(ctx, Event{
		Type:           EventTypeRedirectRace,
		AgentID:        agentID,
		ConversationID: conversationID,
		CallSID:        callSID,
		Message:        "customer call no longer in progress",
		Metadata:       metadata(map[string]any{"attempt": attempt}),
	})
}

// LogStatusReverted records a failed dequeue that put the agent back to
// its previous status.
func (s *Service) LogStatusReverted(ctx context.Context, agentID string, cause error) error {
	msg := "dequeue failed"
	if cause != nil {
		msg = cause.Error()
	}
	return s.Append(ctx, Event{
		Type:    EventTypeStatusRevert,
		AgentID: agentID,
		Message: msg,
	})
}

// LogStaleEntry records a queue entry whose conversation was no longer enqueued.
func (s *Service) LogStaleEntry(ctx context.Context, agentID, conversationID string) error {
	return s.Append(ctx, Event{
		Type:           EventTypeStaleDequeued,
		AgentID:        agentID,
		ConversationID: conversationID,
		Message:        "skipped queue entry for conversation no longer enqueued",
	})
}

func metadata(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
