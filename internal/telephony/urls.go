package telephony

import (
	"net/url"
	"strings"
)

// Webhook paths, relative to the public base URL.
const (
	PathVoice       = "/webhooks/twilio/voice"
	PathEnqueue     = "/webhooks/twilio/voice/enqueue"
	PathConnect     = "/webhooks/twilio/voice/connect"
	PathStatus      = "/webhooks/twilio/status"
	PathAgentStatus = "/webhooks/twilio/agent-status"
)

// URLs builds absolute webhook URLs handed to Twilio.
type URLs struct {
	Base string
}

func (u URLs) build(path string, q url.Values) string {
	s := strings.TrimRight(u.Base, "/") + path
	if len(q) > 0 {
		s += "?" + q.Encode()
	}
	return s
}

func (u URLs) Enqueue(conversationID string) string {
	return u.build(PathEnqueue, url.Values{"conversation_id": {conversationID}})
}

func (u URLs) Connect(conversationID, agentID string) string {
	return u.build(PathConnect, url.Values{"conversation_id": {conversationID}, "agent_id": {agentID}})
}

func (u URLs) AgentStatus(legID string) string {
	return u.build(PathAgentStatus, url.Values{"leg_id": {legID}})
}
