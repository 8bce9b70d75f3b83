package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"callqueue/pkg/logger"

	"github.com/google/uuid"
)

// MemoryLocker is an in-process Locker for tests and local runs. Each agent
// has its own mutex, so holds on different agents never contend.
type MemoryLocker struct {
	mu     sync.Mutex
	agents map[string]*memAgent

	clock func() time.Time
}

type memAgent struct {
	hold   sync.Mutex
	agent  Agent
	events []StatusEvent
}

func NewMemoryLocker(seed ...Agent) *MemoryLocker {
	m := &MemoryLocker{agents: map[string]*memAgent{}, clock: time.Now}
	for _, a := range seed {
		m.Put(a)
	}
	return m
}

// Put registers or replaces an agent.
func (m *MemoryLocker) Put(a Agent) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusAvailable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.agents[a.CSRID]; ok {
		e.agent = a
		return
	}
	m.agents[a.CSRID] = &memAgent{agent: a}
}

// Events returns the status history of an agent, oldest first.
func (m *MemoryLocker) Events(csrID string) []StatusEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.agents[csrID]
	if !ok {
		return nil
	}
	out := make([]StatusEvent, len(e.events))
	copy(out, e.events)
	return out
}

func (m *MemoryLocker) entry(csrID string) (*memAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.agents[csrID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return e, nil
}

func (m *MemoryLocker) WithExclusiveAgent(ctx context.Context, csrID string, fn func(ctx context.Context, a Agent) error) error {
	e, err := m.entry(csrID)
	if err != nil {
		return err
	}
	e.hold.Lock()
	defer e.hold.Unlock()

	a := m.snapshot(e)
	if a.Status == StatusOnACall {
		return ErrAgentOnACall
	}
	prior := a.Status
	if _, err := m.fire(e, string(StatusOnACall)); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			m.restore(e, prior)
			panic(p)
		}
	}()

	a = m.snapshot(e)
	if err := fn(ctx, a); err != nil {
		if _, rerr := m.fire(e, string(prior)); rerr != nil {
			return fmt.Errorf("%w (revert agent status: %v)", err, rerr)
		}
		logger.From(ctx).Info("agent status reverted", "csr_id", csrID, "status", prior, "err", err)
		return err
	}
	return nil
}

func (m *MemoryLocker) Fire(ctx context.Context, csrID, event string) (Agent, error) {
	e, err := m.entry(csrID)
	if err != nil {
		return Agent{}, err
	}
	e.hold.Lock()
	defer e.hold.Unlock()
	return m.fire(e, event)
}

func (m *MemoryLocker) Get(ctx context.Context, csrID string) (Agent, error) {
	e, err := m.entry(csrID)
	if err != nil {
		return Agent{}, err
	}
	return m.snapshot(e), nil
}

func (m *MemoryLocker) snapshot(e *memAgent) Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.agent
}

func (m *MemoryLocker) fire(e *memAgent, event string) (Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := NextStatus(e.agent.Status, event)
	if err != nil {
		return e.agent, err
	}
	now := m.clock().UTC()
	e.events = append(e.events, StatusEvent{
		ID:        uuid.NewString(),
		AgentID:   e.agent.ID,
		Event:     event,
		From:      e.agent.Status,
		To:        next,
		CreatedAt: now,
	})
	e.agent.Status = next
	e.agent.UpdatedAt = now
	return e.agent, nil
}

// restore puts the agent back to status without recording an event, matching
// a rolled back transaction.
func (m *MemoryLocker) restore(e *memAgent, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.agent.Status = status
	if n := len(e.events); n > 0 && e.events[n-1].To == StatusOnACall {
		e.events = e.events[:n-1]
	}
}
