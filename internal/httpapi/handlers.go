package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"callqueue/internal/agents"
	"callqueue/internal/auth"
	"callqueue/internal/calls"
	"callqueue/internal/dispatch"
	"callqueue/internal/rbac"
	"callqueue/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Dispatcher is the slice of the dispatch coordinator the agent API needs.
type Dispatcher interface {
	DequeueForAgent(ctx context.Context, agentID string) (dispatch.Assignment, error)
	QueueDepth(ctx context.Context) (int64, error)
}

type Conversations interface {
	Conversation(ctx context.Context, id string) (calls.Conversation, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth          *auth.Manager
	Dispatch      Dispatcher
	Agents        agents.Locker
	Conversations Conversations
}

// Register mounts the agent and supervisor API on g. The group must already
// carry auth.RequireAccessToken.
func (h Handlers) Register(g *gin.RouterGroup) {
	self := rbac.RequireAgentSelfOr(rbac.RoleSupervisor)
	supervisor := rbac.RequireAnyRole(rbac.RoleSupervisor)

	g.GET("/me", h.Me)

	ag := g.Group("/agents/:" + rbac.AgentParam)
	ag.Use(self)
	{
		ag.GET("", h.GetAgent)
		ag.POST("/dequeue", h.Dequeue)
		ag.PUT("/status", h.SetAgentStatus)
	}

	g.GET("/queue", supervisor, h.QueueDepth)
	g.GET("/conversations/:id", supervisor, h.GetConversation)
}

// --- Auth ---

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new token pair. It is mounted
// outside the access-token group.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
}

// --- Agents ---

// Dequeue assigns the oldest waiting caller to the agent.
func (h Handlers) Dequeue(c *gin.Context) {
	agentID := c.Param(rbac.AgentParam)
	ctx := c.Request.Context()

	a, err := h.Dispatch.DequeueForAgent(ctx, agentID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, a)
	case errors.Is(err, dispatch.ErrQueueEmpty):
		c.Status(http.StatusNoContent)
	case errors.Is(err, agents.ErrAgentOnACall):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "agent is on a call"})
	case errors.Is(err, agents.ErrAgentNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent not found"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.FromGin(c).Warn("dequeue abandoned", "agent_id", agentID, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "dequeue abandoned"})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dequeue failed"})
	}
}

func (h Handlers) GetAgent(c *gin.Context) {
	a, err := h.Agents.Get(c.Request.Context(), c.Param(rbac.AgentParam))
	if err != nil {
		h.agentError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type statusRequest struct {
	Status string `json:"status"`
}

// SetAgentStatus fires a status event for the agent. on_a_call is reserved
// for dispatch and cannot be set here.
func (h Handlers) SetAgentStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	status := agents.Status(strings.TrimSpace(req.Status))
	if !status.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	if status == agents.StatusOnACall {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "on_a_call is set by dispatch"})
		return
	}

	a, err := h.Agents.Fire(c.Request.Context(), c.Param(rbac.AgentParam), string(status))
	if err != nil {
		h.agentError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) agentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, agents.ErrAgentNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent not found"})
	case errors.Is(err, agents.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agent lookup failed"})
	}
}

// --- Supervisor ---

func (h Handlers) QueueDepth(c *gin.Context) {
	n, err := h.Dispatch.QueueDepth(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h Handlers) GetConversation(c *gin.Context) {
	conv, err := h.Conversations.Conversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "conversation lookup failed"})
		return
	}
	c.JSON(http.StatusOK, conv)
}
