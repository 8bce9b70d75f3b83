// Package queue holds the FIFO of conversation ids waiting for an agent.
//
// Entries are bare ids. The authoritative conversation state lives in the
// calls store, so a popped id must always be re-checked before use.
package queue

import (
	"context"
	"errors"
)

// DefaultKey is the list name shared by every coordinator instance.
const DefaultKey = "conversation_queue"

var ErrEmptyID = errors.New("queue: conversation id required")

// WaitingQueue is the shared ordered list of waiting conversation ids.
type WaitingQueue interface {
	// Push appends id at the tail. It returns false if id is already queued.
	Push(ctx context.Context, conversationID string) (bool, error)
	// Pop removes the head. ok is false when the queue is empty.
	// No two concurrent Pops return the same element.
	Pop(ctx context.Context) (id string, ok bool, err error)
	// Count is advisory; Pop is authoritative.
	Count(ctx context.Context) (int64, error)
	// Requeue puts id back at the head, ahead of everything else.
	Requeue(ctx context.Context, conversationID string) (bool, error)
}
