package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callqueue/internal/calls"
	"callqueue/pkg/logger"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Twilio error code for "Call is not in-progress. Cannot redirect."
const twilioCodeNotInProgress = 21220

const defaultTwilioAPIBase = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// APIBase defaults to https://api.twilio.com.
	APIBase string

	// URLs builds the connect URL the customer call is redirected to.
	URLs URLs

	HTTPClient *http.Client
}

// TwilioProvider talks to the Twilio REST API.
type TwilioProvider struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilioProvider(cfg TwilioConfig) *TwilioProvider {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultTwilioAPIBase
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &TwilioProvider{cfg: cfg, client: client}
}

func (p *TwilioProvider) Name() string { return "twilio" }

// HealthCheck fetches the account resource, the lightest authenticated call.
func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	req, err := p.newRequest(ctx, http.MethodGet, p.accountPath()+".json", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twilio: health check status %d", resp.StatusCode)
	}
	return nil
}

// RedirectToAgent points the live customer call at the connect webhook, which
// dials the agent leg.
func (p *TwilioProvider) RedirectToAgent(ctx context.Context, callSID, conversationID, agentID string) error {
	if callSID == "" {
		return fmt.Errorf("%w: customer call has no sid", calls.ErrNotInProgress)
	}
	form := url.Values{
		"Url":    {p.cfg.URLs.Connect(conversationID, agentID)},
		"Method": {http.MethodPost},
	}
	path := p.accountPath() + "/Calls/" + url.PathEscape(callSID) + ".json"
	req, err := p.newRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio redirect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		logger.From(ctx).Debug("twilio call redirected", "call_sid", callSID)
		return nil
	}
	return redirectError(resp)
}

// twilioError is the REST API error body.
type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func redirectError(resp *http.Response) error {
	var te twilioError
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(body, &te)

	if te.Code == twilioCodeNotInProgress || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: twilio %d %s", calls.ErrNotInProgress, te.Code, te.Message)
	}
	if te.Message != "" {
		return fmt.Errorf("twilio redirect: status %d code %d: %s", resp.StatusCode, te.Code, te.Message)
	}
	return fmt.Errorf("twilio redirect: status %d", resp.StatusCode)
}

func (p *TwilioProvider) accountPath() string {
	return "/2010-04-01/Accounts/" + url.PathEscape(p.cfg.AccountSID)
}

func (p *TwilioProvider) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if p.cfg.AccountSID == "" || p.cfg.AuthToken == "" {
		return nil, errors.New("twilio: credentials not configured")
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(p.cfg.APIBase, "/")+path, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	req.Header.Set("Accept", "application/json")
	return req, nil
}
