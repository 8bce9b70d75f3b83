package telephony

import (
	"context"

	"callqueue/pkg/logger"
)

// LocalProvider is the adapter used when no provider credentials are
// configured (local env). Redirects always succeed and are only logged.
type LocalProvider struct{}

func (p LocalProvider) Name() string { return "local" }

func (p LocalProvider) HealthCheck(ctx context.Context) error { return nil }

func (p LocalProvider) RedirectToAgent(ctx context.Context, callSID, conversationID, agentID string) error {
	logger.From(ctx).Info("local redirect", "call_sid", callSID, "conversation_id", conversationID, "agent_id", agentID)
	return nil
}
