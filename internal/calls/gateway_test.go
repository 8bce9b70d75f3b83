package calls

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeBridge struct {
	calls []string
	err   error
}

func (b *fakeBridge) RedirectToAgent(ctx context.Context, callSID, conversationID, agentID string) error {
	b.calls = append(b.calls, callSID+"->"+agentID)
	return b.err
}

func newTestGateway(bridge Bridge) (*Gateway, *MemoryStore) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	return NewGateway(store, bridge).WithClock(func() time.Time { return now }), store
}

// greetedCall builds a greeted conversation with an answered customer leg.
func greetedCall(t *testing.T, g *Gateway) (Conversation, CallLeg) {
	t.Helper()
	var conv Conversation
	var leg CallLeg
	err := g.WithTx(context.Background(), func(ctx context.Context, s *Session) error {
		c, err := s.CreateInboundConversation(ctx, "+15550001111")
		if err != nil {
			return err
		}
		if err := s.PlayMessage(ctx, &c); err != nil {
			return err
		}
		l, err := s.CreateCustomerLeg(ctx, &c, "+15552223333", "CA-1")
		if err != nil {
			return err
		}
		if err := s.Connect(ctx, &l); err != nil {
			return err
		}
		if err := s.Answer(ctx, &l); err != nil {
			return err
		}
		conv, leg = c, l
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return conv, leg
}

func TestSession_CreateInboundConversationUsesDialedNumberForBoth(t *testing.T) {
	g, _ := newTestGateway(&fakeBridge{})
	conv, _ := greetedCall(t, g)
	if conv.Number != "+15550001111" || conv.CallerID != "+15550001111" {
		t.Fatalf("unexpected numbers: %+v", conv)
	}
	if conv.State != ConversationGreeted {
		t.Fatalf("expected greeted, got %s", conv.State)
	}
}

func TestSession_CreateInboundConversationRequiresNumber(t *testing.T) {
	g, store := newTestGateway(&fakeBridge{})
	err := g.WithTx(context.Background(), func(ctx context.Context, s *Session) error {
		_, err := s.CreateInboundConversation(ctx, "  ")
		return err
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(store.Conversations()) != 0 {
		t.Fatalf("expected nothing persisted")
	}
}

func TestGateway_WithTxRollsBackOnError(t *testing.T) {
	g, store := newTestGateway(&fakeBridge{})
	boom := errors.New("boom")
	err := g.WithTx(context.Background(), func(ctx context.Context, s *Session) error {
		c, err := s.CreateInboundConversation(ctx, "+15550001111")
		if err != nil {
			return err
		}
		if _, err := s.CreateCustomerLeg(ctx, &c, "+15552223333", "CA-1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := len(store.Conversations()); n != 0 {
		t.Fatalf("expected rollback, found %d conversations", n)
	}
}

func TestSession_InvalidEventIsNotInProgress(t *testing.T) {
	g, _ := newTestGateway(&fakeBridge{})
	conv, _ := greetedCall(t, g)
	err := g.WithTx(context.Background(), func(ctx context.Context, s *Session) error {
		c, err := s.Conversation(ctx, conv.ID)
		if err != nil {
			return err
		}
		return s.ConnectConversation(ctx, &c)
	})
	if !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress, got %v", err)
	}
}

func TestSession_CustomerTerminateCascadesToConversation(t *testing.T) {
	g, _ := newTestGateway(&fakeBridge{})
	conv, leg := greetedCall(t, g)

	if err := g.CustomerStatus(context.Background(), leg.SID, "completed"); err != nil {
		t.Fatalf("status: %v", err)
	}
	got, err := g.Conversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.State != ConversationTerminated {
		t.Fatalf("expected terminated conversation, got %s", got.State)
	}
	if len(got.Legs) != 1 || got.Legs[0].State != LegTerminated {
		t.Fatalf("unexpected legs: %+v", got.Legs)
	}

	// Provider retries of the same callback are harmless.
	if err := g.CustomerStatus(context.Background(), leg.SID, "completed"); err != nil {
		t.Fatalf("repeat status: %v", err)
	}
}

func TestSession_CustomerRejectCascades(t *testing.T) {
	g, _ := newTestGateway(&fakeBridge{})
	var conv Conversation
	err := g.WithTx(context.Background(), func(ctx context.Context, s *Session) error {
		c, err := s.CreateInboundConversation(ctx, "+15550001111")
		if err != nil {
			return err
		}
		l, err := s.CreateCustomerLeg(ctx, &c, "+15552223333", "CA-9")
		if err != nil {
			return err
		}
		if err := s.Reject(ctx, &l); err != nil {
			return err
		}
		conv, err = s.Conversation(ctx, c.ID)
		return err
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if conv.State != ConversationRejected {
		t.Fatalf("expected rejected, got %s", conv.State)
	}
}

func TestGateway_RedirectRequiresLiveCustomer(t *testing.T) {
	bridge := &fakeBridge{}
	g, _ := newTestGateway(bridge)
	conv, leg := greetedCall(t, g)

	if err := g.RedirectCustomerToAgent(context.Background(), conv.ID, "csr-1"); err != nil {
		t.Fatalf("redirect: %v", err)
	}
	if len(bridge.calls) != 1 || bridge.calls[0] != "CA-1->csr-1" {
		t.Fatalf("unexpected bridge calls: %v", bridge.calls)
	}

	if err := g.CustomerStatus(context.Background(), leg.SID, "completed"); err != nil {
		t.Fatalf("status: %v", err)
	}
	err := g.RedirectCustomerToAgent(context.Background(), conv.ID, "csr-1")
	if !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress, got %v", err)
	}
	if len(bridge.calls) != 1 {
		t.Fatalf("bridge must not be called for a dead leg")
	}
}

func TestGateway_RedirectPropagatesBridgeError(t *testing.T) {
	bridge := &fakeBridge{err: ErrNotInProgress}
	g, _ := newTestGateway(bridge)
	conv, _ := greetedCall(t, g)

	err := g.RedirectCustomerToAgent(context.Background(), conv.ID, "csr-1")
	if !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress, got %v", err)
	}
}

func TestGateway_AgentAnswerConnectsConversation(t *testing.T) {
	g, _ := newTestGateway(&fakeBridge{})
	conv, _ := greetedCall(t, g)

	var agentLeg CallLeg
	err := g.WithTx(context.Background(), func(ctx context.Context, s *Session) error {
		c, err := s.Conversation(ctx, conv.ID)
		if err != nil {
			return err
		}
		if err := s.Enqueue(ctx, &c); err != nil {
			return err
		}
		claimed, ok, err := s.ClaimEnqueued(ctx, c.ID)
		if err != nil || !ok {
			t.Fatalf("claim: ok=%v err=%v", ok, err)
		}
		if err := s.ConnectConversation(ctx, &claimed); err != nil {
			return err
		}
		l, err := s.CreateAgentLeg(ctx, &claimed, "csr-1", "+15554445555")
		if err != nil {
			return err
		}
		agentLeg = l
		return s.Connect(ctx, &l)
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	target, err := g.AgentDialTarget(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("dial target: %v", err)
	}
	if target.Number != "+15554445555" {
		t.Fatalf("unexpected dial target: %+v", target)
	}

	if err := g.AgentLegStatus(context.Background(), agentLeg.ID, "CA-agent", "ringing"); err != nil {
		t.Fatalf("ringing: %v", err)
	}
	if err := g.AgentLegStatus(context.Background(), agentLeg.ID, "CA-agent", "in-progress"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	got, err := g.Conversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.State != ConversationConnected {
		t.Fatalf("expected connected, got %s", got.State)
	}
	if len(got.Legs) != 2 || got.Legs[1].SID != "CA-agent" || got.Legs[1].State != LegAnswered {
		t.Fatalf("unexpected legs: %+v", got.Legs)
	}
}

func TestGateway_AgentLegStatusRejectsCustomerLeg(t *testing.T) {
	g, _ := newTestGateway(&fakeBridge{})
	_, leg := greetedCall(t, g)
	err := g.AgentLegStatus(context.Background(), leg.ID, "CA-x", "completed")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSession_ClaimEnqueuedSkipsOtherStates(t *testing.T) {
	g, _ := newTestGateway(&fakeBridge{})
	conv, _ := greetedCall(t, g)
	err := g.WithTx(context.Background(), func(ctx context.Context, s *Session) error {
		if _, ok, err := s.ClaimEnqueued(ctx, conv.ID); err != nil || ok {
			t.Fatalf("greeted conversation must not be claimable: ok=%v err=%v", ok, err)
		}
		if _, ok, err := s.ClaimEnqueued(ctx, "missing"); err != nil || ok {
			t.Fatalf("unknown id must not be claimable: ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestSession_DestroyLeg(t *testing.T) {
	g, store := newTestGateway(&fakeBridge{})
	conv, _ := greetedCall(t, g)
	err := g.WithTx(context.Background(), func(ctx context.Context, s *Session) error {
		c, err := s.Conversation(ctx, conv.ID)
		if err != nil {
			return err
		}
		l, err := s.CreateAgentLeg(ctx, &c, "csr-1", "+15554445555")
		if err != nil {
			return err
		}
		return s.DestroyLeg(ctx, l)
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if legs := store.Legs(conv.ID); len(legs) != 1 || legs[0].Role != LegRoleCustomer {
		t.Fatalf("unexpected legs after destroy: %+v", legs)
	}
}

func TestEventForProviderStatus(t *testing.T) {
	cases := map[string]string{
		"in-progress": EventAnswer,
		"completed":   EventTerminate,
		"no-answer":   EventTerminate,
		"busy":        EventTerminate,
	}
	for status, want := range cases {
		got, ok := EventForProviderStatus(status)
		if !ok || got != want {
			t.Fatalf("%s: got (%q,%v), want %q", status, got, ok, want)
		}
	}
	if _, ok := EventForProviderStatus("ringing"); ok {
		t.Fatalf("ringing must not map to an event")
	}
}
