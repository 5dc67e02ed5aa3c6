package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNotConfigured = errors.New("agent client not configured")
	ErrTokenRequest  = errors.New("agent token request failed")
	ErrThreadCreate  = errors.New("agent thread creation failed")
	ErrMessagePost   = errors.New("agent message post failed")
	ErrRunStart      = errors.New("agent run start failed")
	ErrPollTimeout   = errors.New("timed out waiting for agent response")
)

const apiVersion = "v1"

// Config carries the agent project credentials. All values come from the
// environment; see app.LoadConfig.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	BaseURL      string
	Scope        string

	// TokenURL overrides the login.microsoftonline.com endpoint derived
	// from TenantID. Useful for tests.
	TokenURL string

	PollInterval time.Duration
	PollAttempts int
	HTTPClient   *http.Client
}

// Client drives the thread-based conversation protocol of the remote agent
// service: token, thread, message, run, then poll for the assistant reply.
type Client struct {
	tenantID     string
	clientID     string
	clientSecret string
	baseURL      string
	scope        string
	tokenURL     string

	pollInterval time.Duration
	pollAttempts int
	client       *http.Client
}

func NewClient(cfg Config) *Client {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	attempts := cfg.PollAttempts
	if attempts <= 0 {
		attempts = 30
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		tenantID:     strings.TrimSpace(cfg.TenantID),
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		scope:        strings.TrimSpace(cfg.Scope),
		tokenURL:     strings.TrimSpace(cfg.TokenURL),
		pollInterval: interval,
		pollAttempts: attempts,
		client:       httpClient,
	}
}

// CallAgent runs one full request/response cycle against the given agent and
// returns the assistant's text reply. The poll wait respects ctx, so a caller
// can abort an in-flight generation.
func (c *Client) CallAgent(ctx context.Context, agentID, prompt string) (string, error) {
	if c.tenantID == "" || c.clientID == "" || c.clientSecret == "" || c.baseURL == "" {
		return "", ErrNotConfigured
	}

	token, err := c.fetchAccessToken(ctx)
	if err != nil {
		return "", err
	}

	threadID, err := c.createThread(ctx, token)
	if err != nil {
		return "", err
	}

	if err := c.postMessage(ctx, token, threadID, prompt); err != nil {
		return "", err
	}

	if err := c.startRun(ctx, token, threadID, agentID); err != nil {
		return "", err
	}

	return c.pollReply(ctx, token, threadID)
}

func (c *Client) fetchAccessToken(ctx context.Context) (string, error) {
	tokenURL := c.tokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", c.tenantID)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("scope", c.scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenRequest, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrTokenRequest, err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("agent token request status %d: %s", resp.StatusCode, truncate(string(raw), 200))
		return "", fmt.Errorf("%w: status %d", ErrTokenRequest, resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode body: %v", ErrTokenRequest, err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token", ErrTokenRequest)
	}
	return out.AccessToken, nil
}

func (c *Client) createThread(ctx context.Context, token string) (string, error) {
	raw, status, err := c.doJSON(ctx, http.MethodPost, c.threadsURL(), token, map[string]any{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrThreadCreate, err)
	}
	if status != http.StatusOK {
		log.Printf("agent thread creation status %d: %s", status, truncate(string(raw), 200))
		return "", fmt.Errorf("%w: status %d", ErrThreadCreate, status)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode body: %v", ErrThreadCreate, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: empty thread id", ErrThreadCreate)
	}
	return out.ID, nil
}

func (c *Client) postMessage(ctx context.Context, token, threadID, prompt string) error {
	body := map[string]any{
		"role":    "user",
		"content": prompt,
	}
	raw, status, err := c.doJSON(ctx, http.MethodPost, c.messagesURL(threadID), token, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMessagePost, err)
	}
	if status != http.StatusOK {
		log.Printf("agent message post status %d: %s", status, truncate(string(raw), 200))
		return fmt.Errorf("%w: status %d", ErrMessagePost, status)
	}
	return nil
}

// startRun kicks off the run and returns once it is accepted. The protocol
// is asynchronous: anything below 400 counts as accepted.
func (c *Client) startRun(ctx context.Context, token, threadID, agentID string) error {
	body := map[string]any{
		"assistant_id": agentID,
		"stream":       true,
	}
	raw, status, err := c.doJSON(ctx, http.MethodPost, c.runsURL(threadID), token, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRunStart, err)
	}
	if status >= http.StatusBadRequest {
		log.Printf("agent run start status %d: %s", status, truncate(string(raw), 200))
		return fmt.Errorf("%w: status %d", ErrRunStart, status)
	}
	return nil
}

func (c *Client) pollReply(ctx context.Context, token, threadID string) (string, error) {
	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.messagesURL(threadID), nil)
		if err != nil {
			return "", fmt.Errorf("build poll request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		reply, retry, err := c.readReplyOnce(req, attempt)
		if err != nil {
			return "", err
		}
		if !retry {
			return reply, nil
		}

		if err := sleepCtx(ctx, c.pollInterval); err != nil {
			return "", err
		}
	}
	return "", ErrPollTimeout
}

func (c *Client) readReplyOnce(req *http.Request, attempt int) (reply string, retry bool, err error) {
	resp, err := c.client.Do(req)
	if err != nil {
		// transient transport failure; keep polling
		log.Printf("agent poll attempt %d: %v", attempt, err)
		return "", true, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		log.Printf("agent poll attempt %d: read body: %v", attempt, err)
		return "", true, nil
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("agent poll attempt %d: status %d", attempt, resp.StatusCode)
		return "", true, nil
	}

	var out messageList
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Printf("agent poll attempt %d: decode body: %v", attempt, err)
		return "", true, nil
	}

	if text := out.firstAssistantText(); text != "" {
		return text, false, nil
	}
	return "", true, nil
}

func (c *Client) doJSON(ctx context.Context, method, rawURL, token string, body any) ([]byte, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, strings.NewReader(string(payload)))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return raw, resp.StatusCode, nil
}

func (c *Client) threadsURL() string {
	return fmt.Sprintf("%s/threads?api-version=%s", c.baseURL, apiVersion)
}

func (c *Client) messagesURL(threadID string) string {
	return fmt.Sprintf("%s/threads/%s/messages?api-version=%s", c.baseURL, threadID, apiVersion)
}

func (c *Client) runsURL(threadID string) string {
	return fmt.Sprintf("%s/threads/%s/runs?api-version=%s", c.baseURL, threadID, apiVersion)
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

func (m messageList) firstAssistantText() string {
	for _, msg := range m.Data {
		if msg.Role != "assistant" {
			continue
		}
		for _, item := range msg.Content {
			if item.Type != "text" {
				continue
			}
			if strings.TrimSpace(item.Text.Value) != "" {
				return item.Text.Value
			}
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
