package calls

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local runs.
// Transactions are serialized and work on a copy that replaces the committed
// state only when the unit of work succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	conversations map[string]Conversation
	legs          map[string]CallLeg
	legOrder      []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		conversations: map[string]Conversation{},
		legs:          map[string]CallLeg{},
	}}
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{state: memState{
		conversations: maps.Clone(m.state.conversations),
		legs:          maps.Clone(m.state.legs),
		legOrder:      slices.Clone(m.state.legOrder),
	}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

// Conversations returns a snapshot of committed conversations.
func (m *MemoryStore) Conversations() []Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Collect(maps.Values(m.state.conversations))
}

// Legs returns a snapshot of committed legs for a conversation, in creation order.
func (m *MemoryStore) Legs(conversationID string) []CallLeg {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{state: m.state}
	legs, _ := tx.ListLegs(context.Background(), conversationID)
	return legs
}

type memTx struct {
	state memState
}

func (t *memTx) InsertConversation(ctx context.Context, c Conversation) error {
	if _, ok := t.state.conversations[c.ID]; ok {
		return ErrInvalidInput
	}
	t.state.conversations[c.ID] = c
	return nil
}

func (t *memTx) GetConversation(ctx context.Context, id string) (Conversation, error) {
	c, ok := t.state.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (t *memTx) LockEnqueuedConversation(ctx context.Context, id string) (Conversation, bool, error) {
	c, ok := t.state.conversations[id]
	if !ok || c.State != ConversationEnqueued {
		return Conversation{}, false, nil
	}
	return c, true, nil
}

func (t *memTx) UpdateConversation(ctx context.Context, c Conversation) error {
	if _, ok := t.state.conversations[c.ID]; !ok {
		return ErrNotFound
	}
	t.state.conversations[c.ID] = c
	return nil
}

func (t *memTx) InsertLeg(ctx context.Context, l CallLeg) error {
	if _, ok := t.state.conversations[l.ConversationID]; !ok {
		return ErrNotFound
	}
	if _, ok := t.state.legs[l.ID]; ok {
		return ErrInvalidInput
	}
	t.state.legs[l.ID] = l
	t.state.legOrder = append(t.state.legOrder, l.ID)
	return nil
}

func (t *memTx) GetLeg(ctx context.Context, id string) (CallLeg, error) {
	l, ok := t.state.legs[id]
	if !ok {
		return CallLeg{}, ErrNotFound
	}
	return l, nil
}

func (t *memTx) GetLegBySID(ctx context.Context, sid string) (CallLeg, error) {
	for _, id := range t.state.legOrder {
		if l, ok := t.state.legs[id]; ok && sid != "" && l.SID == sid {
			return l, nil
		}
	}
	return CallLeg{}, ErrNotFound
}

func (t *memTx) GetLegByRole(ctx context.Context, conversationID string, role LegRole) (CallLeg, error) {
	for _, id := range t.state.legOrder {
		if l, ok := t.state.legs[id]; ok && l.ConversationID == conversationID && l.Role == role {
			return l, nil
		}
	}
	return CallLeg{}, ErrNotFound
}

func (t *memTx) ListLegs(ctx context.Context, conversationID string) ([]CallLeg, error) {
	out := make([]CallLeg, 0)
	for _, id := range t.state.legOrder {
		if l, ok := t.state.legs[id]; ok && l.ConversationID == conversationID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *memTx) UpdateLeg(ctx context.Context, l CallLeg) error {
	if _, ok := t.state.legs[l.ID]; !ok {
		return ErrNotFound
	}
	t.state.legs[l.ID] = l
	return nil
}

func (t *memTx) DeleteLeg(ctx context.Context, id string) error {
	if _, ok := t.state.legs[id]; !ok {
		return ErrNotFound
	}
	delete(t.state.legs, id)
	t.state.legOrder = slices.DeleteFunc(t.state.legOrder, func(v string) bool { return v == id })
	return nil
}
