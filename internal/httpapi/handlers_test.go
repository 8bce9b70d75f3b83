package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callqueue/internal/agents"
	"callqueue/internal/auth"
	"callqueue/internal/calls"
	"callqueue/internal/config"
	"callqueue/internal/dispatch"
	"callqueue/internal/queue"
	"callqueue/internal/rbac"

	"github.com/gin-gonic/gin"
)

type nopBridge struct{}

func (nopBridge) RedirectToAgent(ctx context.Context, callSID, conversationID, agentID string) error {
	return nil
}

type apiEnv struct {
	router  *gin.Engine
	authM   *auth.Manager
	coord   *dispatch.Coordinator
	gateway *calls.Gateway
	locker  *agents.MemoryLocker
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	gateway := calls.NewGateway(calls.NewMemoryStore(), nopBridge{})
	locker := agents.NewMemoryLocker(
		agents.Agent{CSRID: "csr-1", PhoneNumber: "+15554445555"},
		agents.Agent{CSRID: "csr-2", PhoneNumber: "+15554446666"},
	)
	coord := dispatch.NewCoordinator(gateway, queue.NewMemoryQueue(), locker, dispatch.Options{
		PopURLs: dispatch.TemplatePopURLFinder{Template: "https://crm.example.com/?phone={number}"},
	})

	h := Handlers{Auth: m, Dispatch: coord, Agents: locker, Conversations: gateway}
	r := gin.New()
	r.POST("/v1/auth/refresh", h.Refresh)
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(m))
	h.Register(v1)

	return &apiEnv{router: r, authM: m, coord: coord, gateway: gateway, locker: locker}
}

func (e *apiEnv) token(t *testing.T, userID, role string) string {
	t.Helper()
	p, err := e.authM.IssuePair(time.Now(), userID, role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return p.AccessToken
}

func (e *apiEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) waiting(t *testing.T, from, sid string) calls.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, err := e.coord.RouteToGreeting(ctx, calls.Inbound{To: "+18005550100", From: from, CallSID: sid})
	if err != nil {
		t.Fatalf("greeting: %v", err)
	}
	if _, err := e.coord.Enqueue(ctx, conv.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return conv
}

func TestDequeue_AssignsOldestCaller(t *testing.T) {
	e := newAPIEnv(t)
	conv := e.waiting(t, "+1 (555) 222-3333", "CA1")

	w := e.do(http.MethodPost, "/v1/agents/csr-1/dequeue", e.token(t, "csr-1", rbac.RoleAgent), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got dispatch.Assignment
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != conv.ID {
		t.Fatalf("expected %s, got %s", conv.ID, got.ID)
	}
	if got.PopURL != "https://crm.example.com/?phone=5552223333" {
		t.Fatalf("unexpected pop url %q", got.PopURL)
	}

	a, err := e.locker.Get(context.Background(), "csr-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Status != agents.StatusOnACall {
		t.Fatalf("expected on_a_call, got %s", a.Status)
	}
}

func TestDequeue_StatusMapping(t *testing.T) {
	e := newAPIEnv(t)
	agentTok := e.token(t, "csr-1", rbac.RoleAgent)

	if w := e.do(http.MethodPost, "/v1/agents/csr-1/dequeue", agentTok, ""); w.Code != http.StatusNoContent {
		t.Fatalf("empty queue: expected 204, got %d", w.Code)
	}

	e.waiting(t, "+15552223333", "CA1")
	if w := e.do(http.MethodPost, "/v1/agents/csr-1/dequeue", agentTok, ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	e.waiting(t, "+15552224444", "CA2")
	if w := e.do(http.MethodPost, "/v1/agents/csr-1/dequeue", agentTok, ""); w.Code != http.StatusConflict {
		t.Fatalf("on a call: expected 409, got %d", w.Code)
	}

	supTok := e.token(t, "sup-1", rbac.RoleSupervisor)
	if w := e.do(http.MethodPost, "/v1/agents/ghost/dequeue", supTok, ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown agent: expected 404, got %d", w.Code)
	}
}

func TestDequeue_AgentCannotDequeueForOthers(t *testing.T) {
	e := newAPIEnv(t)
	e.waiting(t, "+15552223333", "CA1")

	w := e.do(http.MethodPost, "/v1/agents/csr-2/dequeue", e.token(t, "csr-1", rbac.RoleAgent), "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/v1/agents/csr-2/dequeue", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestSetAgentStatus(t *testing.T) {
	e := newAPIEnv(t)
	tok := e.token(t, "csr-1", rbac.RoleAgent)

	w := e.do(http.MethodPut, "/v1/agents/csr-1/status", tok, `{"status":"away"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var a agents.Agent
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.Status != agents.StatusAway {
		t.Fatalf("expected away, got %s", a.Status)
	}

	cases := []struct {
		body string
		want int
	}{
		{`{"status":"away"}`, http.StatusUnprocessableEntity},
		{`{"status":"on_a_call"}`, http.StatusUnprocessableEntity},
		{`{"status":"sleeping"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if w := e.do(http.MethodPut, "/v1/agents/csr-1/status", tok, tc.body); w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.body, tc.want, w.Code)
		}
	}
}

func TestGetAgent(t *testing.T) {
	e := newAPIEnv(t)
	w := e.do(http.MethodGet, "/v1/agents/csr-2", e.token(t, "sup-1", rbac.RoleSupervisor), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"csr-2"`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestQueueDepth_SupervisorOnly(t *testing.T) {
	e := newAPIEnv(t)
	e.waiting(t, "+15552223333", "CA1")
	e.waiting(t, "+15552224444", "CA2")

	if w := e.do(http.MethodGet, "/v1/queue", e.token(t, "csr-1", rbac.RoleAgent), ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for agent, got %d", w.Code)
	}
	w := e.do(http.MethodGet, "/v1/queue", e.token(t, "sup-1", rbac.RoleSupervisor), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"count":2}` {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestGetConversation(t *testing.T) {
	e := newAPIEnv(t)
	conv := e.waiting(t, "+15552223333", "CA1")
	tok := e.token(t, "sup-1", rbac.RoleSupervisor)

	w := e.do(http.MethodGet, "/v1/conversations/"+conv.ID, tok, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got calls.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != calls.ConversationEnqueued || len(got.Legs) != 1 {
		t.Fatalf("unexpected conversation %+v", got)
	}

	if w := e.do(http.MethodGet, "/v1/conversations/nope", tok, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRefresh(t *testing.T) {
	e := newAPIEnv(t)
	p, err := e.authM.IssuePair(time.Now(), "csr-1", rbac.RoleAgent)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	w := e.do(http.MethodPost, "/v1/auth/refresh", "", `{"refresh_token":"`+p.RefreshToken+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var pair auth.TokenPair
	if err := json.Unmarshal(w.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w := e.do(http.MethodGet, "/v1/me", pair.AccessToken, ""); w.Code != http.StatusOK {
		t.Fatalf("expected refreshed token to work, got %d", w.Code)
	}

	if w := e.do(http.MethodPost, "/v1/auth/refresh", "", `{"refresh_token":"`+p.AccessToken+`"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for access token, got %d", w.Code)
	}
}

type failingDispatcher struct{ err error }

func (f failingDispatcher) DequeueForAgent(ctx context.Context, agentID string) (dispatch.Assignment, error) {
	return dispatch.Assignment{}, f.err
}

func (f failingDispatcher) QueueDepth(ctx context.Context) (int64, error) { return 0, f.err }

func TestDequeue_InternalError(t *testing.T) {
	e := newAPIEnv(t)
	h := Handlers{Auth: e.authM, Dispatch: failingDispatcher{err: errors.New("redis down")}, Agents: e.locker, Conversations: e.gateway}
	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(e.authM))
	h.Register(v1)

	req := httptest.NewRequest(http.MethodPost, "/v1/agents/csr-1/dequeue", nil)
	req.Header.Set("Authorization", "Bearer "+e.token(t, "csr-1", rbac.RoleAgent))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
