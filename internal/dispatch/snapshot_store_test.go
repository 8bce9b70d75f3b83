package dispatch

import (
	"context"
	"maps"
	"slices"
	"sync"

	"callqueue/internal/calls"
	"callqueue/internal/queue"
)

// snapshotStore gives every transaction a copy of the committed rows and
// writes back only the rows it touched. Unlike calls.MemoryStore it does not
// serialize transactions, so a second unit of work can run while the first
// is still open and only sees what was committed, as under READ COMMITTED.
type snapshotStore struct {
	mu            sync.Mutex
	conversations map[string]calls.Conversation
	legs          map[string]calls.CallLeg
	legOrder      []string
}

func newSnapshotStore() *snapshotStore {
	return &snapshotStore{conversations: map[string]calls.Conversation{}, legs: map[string]calls.CallLeg{}}
}

func (s *snapshotStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx calls.Tx) error) error {
	s.mu.Lock()
	tx := &snapshotTx{
		conversations: maps.Clone(s.conversations),
		legs:          maps.Clone(s.legs),
		legOrder:      slices.Clone(s.legOrder),
		dirtyConvs:    map[string]bool{},
		dirtyLegs:     map[string]bool{},
	}
	s.mu.Unlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range tx.dirtyConvs {
		s.conversations[id] = tx.conversations[id]
	}
	for id := range tx.dirtyLegs {
		l, ok := tx.legs[id]
		if !ok {
			delete(s.legs, id)
			s.legOrder = slices.DeleteFunc(s.legOrder, func(v string) bool { return v == id })
			continue
		}
		if _, exists := s.legs[id]; !exists {
			s.legOrder = append(s.legOrder, id)
		}
		s.legs[id] = l
	}
	return nil
}

type snapshotTx struct {
	conversations map[string]calls.Conversation
	legs          map[string]calls.CallLeg
	legOrder      []string
	dirtyConvs    map[string]bool
	dirtyLegs     map[string]bool
}

func (t *snapshotTx) InsertConversation(ctx context.Context, c calls.Conversation) error {
	if _, ok := t.conversations[c.ID]; ok {
		return calls.ErrInvalidInput
	}
	t.conversations[c.ID] = c
	t.dirtyConvs[c.ID] = true
	return nil
}

func (t *snapshotTx) GetConversation(ctx context.Context, id string) (calls.Conversation, error) {
	c, ok := t.conversations[id]
	if !ok {
		return calls.Conversation{}, calls.ErrNotFound
	}
	return c, nil
}

func (t *snapshotTx) LockEnqueuedConversation(ctx context.Context, id string) (calls.Conversation, bool, error) {
	c, ok := t.conversations[id]
	if !ok || c.State != calls.ConversationEnqueued {
		return calls.Conversation{}, false, nil
	}
	return c, true, nil
}

func (t *snapshotTx) UpdateConversation(ctx context.Context, c calls.Conversation) error {
	if _, ok := t.conversations[c.ID]; !ok {
		return calls.ErrNotFound
	}
	t.conversations[c.ID] = c
	t.dirtyConvs[c.ID] = true
	return nil
}

func (t *snapshotTx) InsertLeg(ctx context.Context, l calls.CallLeg) error {
	if _, ok := t.conversations[l.ConversationID]; !ok {
		return calls.ErrNotFound
	}
	t.legs[l.ID] = l
	t.legOrder = append(t.legOrder, l.ID)
	t.dirtyLegs[l.ID] = true
	return nil
}

func (t *snapshotTx) GetLeg(ctx context.Context, id string) (calls.CallLeg, error) {
	l, ok := t.legs[id]
	if !ok {
		return calls.CallLeg{}, calls.ErrNotFound
	}
	return l, nil
}

func (t *snapshotTx) find(match func(calls.CallLeg) bool) (calls.CallLeg, error) {
	for _, id := range t.legOrder {
		if l, ok := t.legs[id]; ok && match(l) {
			return l, nil
		}
	}
	return calls.CallLeg{}, calls.ErrNotFound
}

func (t *snapshotTx) GetLegBySID(ctx context.Context, sid string) (calls.CallLeg, error) {
	return t.find(func(l calls.CallLeg) bool { return sid != "" && l.SID == sid })
}

func (t *snapshotTx) GetLegByRole(ctx context.Context, conversationID string, role calls.LegRole) (calls.CallLeg, error) {
	return t.find(func(l calls.CallLeg) bool { return l.ConversationID == conversationID && l.Role == role })
}

func (t *snapshotTx) ListLegs(ctx context.Context, conversationID string) ([]calls.CallLeg, error) {
	out := make([]calls.CallLeg, 0)
	for _, id := range t.legOrder {
		if l, ok := t.legs[id]; ok && l.ConversationID == conversationID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *snapshotTx) UpdateLeg(ctx context.Context, l calls.CallLeg) error {
	if _, ok := t.legs[l.ID]; !ok {
		return calls.ErrNotFound
	}
	t.legs[l.ID] = l
	t.dirtyLegs[l.ID] = true
	return nil
}

func (t *snapshotTx) DeleteLeg(ctx context.Context, id string) error {
	if _, ok := t.legs[id]; !ok {
		return calls.ErrNotFound
	}
	delete(t.legs, id)
	t.legOrder = slices.DeleteFunc(t.legOrder, func(v string) bool { return v == id })
	t.dirtyLegs[id] = true
	return nil
}

// hookQueue runs afterPush once, right after the first successful Push,
// before Push returns to the caller.
type hookQueue struct {
	queue.WaitingQueue
	once      sync.Once
	afterPush func(id string)
}

func (q *hookQueue) Push(ctx context.Context, id string) (bool, error) {
	ok, err := q.WaitingQueue.Push(ctx, id)
	if err == nil && ok && q.afterPush != nil {
		q.once.Do(func() { q.afterPush(id) })
	}
	return ok, err
}
