// Package metrics records dispatch metrics.
package metrics

import "time"

// Dequeue outcome labels.
const (
	OutcomeAssigned      = "assigned"
	OutcomeQueueEmpty    = "queue_empty"
	OutcomeAgentOnACall  = "agent_on_a_call"
	OutcomeAgentNotFound = "agent_not_found"
	OutcomeError         = "error"
)

// Recorder defines the metrics surface used by the dispatch coordinator.
type Recorder interface {
	// ObserveIntake counts inbound calls by route (greeting, closed_greeting, reject).
	ObserveIntake(route string, success bool)
	ObserveDequeue(outcome string, duration time.Duration)
	IncRedirectRace()
	IncStaleQueueEntry()
}

// Nop returns a recorder that discards everything.
func Nop() Recorder {
	return &NoopRecorder{}
}

type NoopRecorder struct{}

func (n *NoopRecorder) ObserveIntake(_ string, _ bool) {}

func (n *NoopRecorder) ObserveDequeue(_ string, _ time.Duration) {}

func (n *NoopRecorder) IncRedirectRace() {}

func (n *NoopRecorder) IncStaleQueueEntry() {}
