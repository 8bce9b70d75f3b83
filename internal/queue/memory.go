package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process WaitingQueue for tests and local runs.
type MemoryQueue struct {
	mu      sync.Mutex
	items   []string
	members map[string]struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{members: map[string]struct{}{}}
}

func (q *MemoryQueue) Push(ctx context.Context, conversationID string) (bool, error) {
	if conversationID == "" {
		return false, ErrEmptyID
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.members[conversationID]; ok {
		return false, nil
	}
	q.members[conversationID] = struct{}{}
	q.items = append(q.items, conversationID)
	return true, nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, conversationID string) (bool, error) {
	if conversationID == "" {
		return false, ErrEmptyID
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.members[conversationID]; ok {
		return false, nil
	}
	q.members[conversationID] = struct{}{}
	q.items = append([]string{conversationID}, q.items...)
	return true, nil
}

func (q *MemoryQueue) Pop(ctx context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false, nil
	}
	id := q.items[0]
	q.items = q.items[1:]
	delete(q.members, id)
	return id, true, nil
}

func (q *MemoryQueue) Count(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Snapshot returns the queued ids head first.
func (q *MemoryQueue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.items))
	copy(out, q.items)
	return out
}
