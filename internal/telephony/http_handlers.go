package telephony

import (
	"context"
	"errors"
	"net/http"

	"callqueue/internal/calls"
	"callqueue/internal/routing"
	"callqueue/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Intake is the dispatch surface the voice webhooks drive.
type Intake interface {
	RouteToGreeting(ctx context.Context, in calls.Inbound) (calls.Conversation, error)
	RouteToClosedGreeting(ctx context.Context, in calls.Inbound) (calls.Conversation, error)
	RouteToRejection(ctx context.Context, in calls.Inbound) (calls.Conversation, error)
	Enqueue(ctx context.Context, conversationID string) (calls.Conversation, error)
}

// CallEvents is the lifecycle surface the status callbacks drive.
type CallEvents interface {
	CustomerStatus(ctx context.Context, callSID, providerStatus string) error
	AgentLegStatus(ctx context.Context, legID, callSID, providerStatus string) error
	AgentDialTarget(ctx context.Context, conversationID string) (calls.CallLeg, error)
	Conversation(ctx context.Context, id string) (calls.Conversation, error)
}

// TwilioWebhookHandler converts Twilio webhooks to internal types, delegates
// to routing and dispatch, and writes TwiML.
//
// No business logic here.
type TwilioWebhookHandler struct {
	Router routing.Engine
	Intake Intake
	Calls  CallEvents
	URLs   URLs

	GreetingMessage string
	ClosedMessage   string
	HoldMusicURL    string
}

func (h TwilioWebhookHandler) Register(r gin.IRoutes) {
	r.POST(PathVoice, h.HandleVoice)
	r.POST(PathEnqueue, h.HandleEnqueue)
	r.POST(PathConnect, h.HandleConnect)
	r.POST(PathStatus, h.HandleStatus)
	r.POST(PathAgentStatus, h.HandleAgentStatus)
}

// HandleVoice answers a new inbound call.
func (h TwilioWebhookHandler) HandleVoice(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	if h.Router == nil || h.Intake == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "voice webhook not configured"})
		return
	}

	form, err := ParseTwilioVoiceForm(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	in := form.ToInbound()
	log = log.With("call_sid", in.CallSID)

	d, err := h.Router.RouteInbound(ctx, in)
	if err != nil {
		log.Error("inbound call routing failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "routing failed"})
		return
	}

	var conv calls.Conversation
	var twiml string
	switch d.Action {
	case routing.ActionGreeting:
		if conv, err = h.Intake.RouteToGreeting(ctx, in); err == nil {
			twiml, err = GreetingTwiML(h.GreetingMessage, h.URLs.Enqueue(conv.ID))
		}
	case routing.ActionClosedGreeting:
		if conv, err = h.Intake.RouteToClosedGreeting(ctx, in); err == nil {
			twiml, err = ClosedTwiML(h.ClosedMessage)
		}
	case routing.ActionReject:
		if conv, err = h.Intake.RouteToRejection(ctx, in); err == nil {
			twiml, err = RejectTwiML()
		}
	default:
		err = errors.New("telephony: unknown routing action")
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, calls.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		log.Error("inbound call intake failed", "action", d.Action, "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "intake failed"})
		return
	}

	log.Info("inbound call routed", "action", d.Action, "reason", d.Reason, "conversation_id", conv.ID)
	writeTwiML(c, twiml)
}

// HandleEnqueue puts the greeted caller in the waiting queue and plays hold.
func (h TwilioWebhookHandler) HandleEnqueue(c *gin.Context) {
	log := logger.FromGin(c)
	id := c.Query("conversation_id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "conversation_id required"})
		return
	}

	if _, err := h.Intake.Enqueue(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, calls.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown conversation"})
		case errors.Is(err, calls.ErrNotInProgress):
			// The call ended; nothing to hold. A conversation being connected
			// to an agent is not an error and keeps holding below.
			log.Info("enqueue skipped", "conversation_id", id, "err", err)
			h.hangup(c)
		default:
			log.Error("enqueue failed", "conversation_id", id, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		}
		return
	}

	twiml, err := HoldTwiML(h.HoldMusicURL, h.URLs.Enqueue(id))
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	writeTwiML(c, twiml)
}

// HandleConnect is where a redirected customer call lands: it dials the agent.
func (h TwilioWebhookHandler) HandleConnect(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()
	id := c.Query("conversation_id")
	agentID := c.Query("agent_id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "conversation_id required"})
		return
	}

	conv, err := h.Calls.Conversation(ctx, id)
	if err != nil {
		h.lookupFailed(c, id, err)
		return
	}
	leg, err := h.Calls.AgentDialTarget(ctx, id)
	if err != nil {
		h.lookupFailed(c, id, err)
		return
	}
	if agentID != "" && leg.AgentID != agentID {
		log.Warn("connect for a different agent", "conversation_id", id, "agent_id", agentID, "leg_agent_id", leg.AgentID)
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "agent mismatch"})
		return
	}

	twiml, err := ConnectTwiML(conv.CallerID, leg.Number, h.URLs.AgentStatus(leg.ID))
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	writeTwiML(c, twiml)
}

// HandleStatus applies a customer call status callback.
func (h TwilioWebhookHandler) HandleStatus(c *gin.Context) {
	form, ok := h.parseCallback(c)
	if !ok {
		return
	}
	err := h.Calls.CustomerStatus(c.Request.Context(), form.CallSid, form.CallStatus)
	h.callbackDone(c, form, err)
}

// HandleAgentStatus applies an agent leg status callback.
func (h TwilioWebhookHandler) HandleAgentStatus(c *gin.Context) {
	legID := c.Query("leg_id")
	if legID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "leg_id required"})
		return
	}
	form, ok := h.parseCallback(c)
	if !ok {
		return
	}
	err := h.Calls.AgentLegStatus(c.Request.Context(), legID, form.CallSid, form.CallStatus)
	h.callbackDone(c, form, err)
}

func (h TwilioWebhookHandler) parseCallback(c *gin.Context) (TwilioVoiceForm, bool) {
	form, err := ParseTwilioVoiceForm(c.Request)
	if err != nil || form.CallSid == "" {
		logger.FromGin(c).Warn("twilio callback parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return TwilioVoiceForm{}, false
	}
	return form, true
}

func (h TwilioWebhookHandler) callbackDone(c *gin.Context, form TwilioVoiceForm, err error) {
	log := logger.FromGin(c).With("call_sid", form.CallSid, "call_status", form.CallStatus)
	switch {
	case err == nil:
		log.Debug("call status applied")
		c.Status(http.StatusNoContent)
	case errors.Is(err, calls.ErrNotFound):
		// Twilio retries non-2xx; unknown calls are not ours to fix.
		log.Warn("status callback for unknown call")
		c.Status(http.StatusNoContent)
	case errors.Is(err, calls.ErrInvalidInput), errors.Is(err, calls.ErrNotInProgress):
		log.Warn("status callback rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		log.Error("status callback failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
	}
}

func (h TwilioWebhookHandler) lookupFailed(c *gin.Context, id string, err error) {
	switch {
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, calls.ErrNotInProgress):
		logger.FromGin(c).Warn("connect target unavailable", "conversation_id", id, "err", err)
		h.hangup(c)
	default:
		logger.FromGin(c).Error("connect lookup failed", "conversation_id", id, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
	}
}

func (h TwilioWebhookHandler) hangup(c *gin.Context) {
	twiml, err := render(twimlHangup{})
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	writeTwiML(c, twiml)
}

func writeTwiML(c *gin.Context, twiml string) {
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
