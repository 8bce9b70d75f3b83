package telephony

import (
	"context"

	"callqueue/internal/calls"
)

// Provider is the telephony adapter used by the lifecycle gateway.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - RedirectToAgent returns calls.ErrNotInProgress when the provider reports
//   that the customer call already ended.
type Provider interface {
	calls.Bridge

	Name() string
	HealthCheck(ctx context.Context) error
}
