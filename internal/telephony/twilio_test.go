package telephony

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"callqueue/internal/calls"
)

func newTwilioServer(t *testing.T, handler http.HandlerFunc) (*TwilioProvider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewTwilioProvider(TwilioConfig{
		AccountSID: "AC1",
		AuthToken:  "tok",
		APIBase:    srv.URL,
		URLs:       URLs{Base: "https://q.example.com"},
		HTTPClient: srv.Client(),
	})
	return p, srv
}

func TestTwilioProvider_RedirectToAgent(t *testing.T) {
	var gotPath string
	var gotForm url.Values
	var gotUser string
	p, _ := newTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"CA1","status":"in-progress"}`))
	})

	if err := p.RedirectToAgent(context.Background(), "CA1", "c1", "csr-1"); err != nil {
		t.Fatalf("redirect: %v", err)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Calls/CA1.json" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotUser != "AC1" {
		t.Fatalf("expected basic auth account sid, got %q", gotUser)
	}
	if want := "https://q.example.com/webhooks/twilio/voice/connect?agent_id=csr-1&conversation_id=c1"; gotForm.Get("Url") != want {
		t.Fatalf("unexpected Url %q", gotForm.Get("Url"))
	}
	if gotForm.Get("Method") != http.MethodPost {
		t.Fatalf("expected Method=POST")
	}
}

func TestTwilioProvider_NotInProgress(t *testing.T) {
	p, _ := newTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21220,"message":"Call is not in-progress. Cannot redirect.","status":400}`))
	})
	err := p.RedirectToAgent(context.Background(), "CA1", "c1", "csr-1")
	if !errors.Is(err, calls.ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress, got %v", err)
	}
}

func TestTwilioProvider_UnknownCallIsNotInProgress(t *testing.T) {
	p, _ := newTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":20404,"message":"The requested resource was not found","status":404}`))
	})
	err := p.RedirectToAgent(context.Background(), "CA1", "c1", "csr-1")
	if !errors.Is(err, calls.ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress, got %v", err)
	}
}

func TestTwilioProvider_OtherErrorsPropagate(t *testing.T) {
	p, _ := newTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	err := p.RedirectToAgent(context.Background(), "CA1", "c1", "csr-1")
	if err == nil || errors.Is(err, calls.ErrNotInProgress) {
		t.Fatalf("expected a plain error, got %v", err)
	}
}

func TestTwilioProvider_HealthCheck(t *testing.T) {
	p, _ := newTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC1.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"sid":"AC1"}`))
	})
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestTwilioProvider_RequiresCredentials(t *testing.T) {
	p := NewTwilioProvider(TwilioConfig{})
	if err := p.RedirectToAgent(context.Background(), "CA1", "c1", "csr-1"); err == nil {
		t.Fatalf("expected error")
	}
}
