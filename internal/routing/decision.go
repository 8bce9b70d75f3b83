package routing

// Decision is the provider-agnostic output of the routing engine.
//
// It carries only what the webhook boundary needs to pick an intake route and
// render the provider response.
type Decision struct {
	Action Action `json:"action"`

	// Reason is optional and intended for internal logs/metrics.
	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	ActionGreeting       Action = "greeting"
	ActionClosedGreeting Action = "closed_greeting"
	ActionReject         Action = "reject"
)
