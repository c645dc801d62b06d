// Package restsource fetches triage source records from the CRM's REST API.
package restsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/taskdesk/internal/triage"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20
)

// Endpoint paths, relative to the base URL.
const (
	PathPrioritizedTasks = "/api/tasks/prioritized"
	PathLoanIssues       = "/api/loans/issues"
	PathAIActions        = "/api/ai-actions"
	PathRetentionAlerts  = "/api/retention/alerts"
	PathLeadAlerts       = "/api/leads/alerts"
	PathMessages         = "/api/messages"
)

// Client implements triage.Backend against the CRM REST API. Every request is
// traced through an otelhttp transport.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

// New creates a Client. token is sent as a bearer token when non-empty; a zero
// timeout selects the default.
func New(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("restsource: invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("restsource: base url %q must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: u,
		token:   token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// GetPrioritizedTasks implements triage.ManualTaskSource.
func (c *Client) GetPrioritizedTasks(ctx context.Context) ([]triage.ManualTask, error) {
	return fetch[triage.ManualTask](ctx, c, PathPrioritizedTasks, nil)
}

// GetLoanIssues implements triage.LoanIssueSource.
func (c *Client) GetLoanIssues(ctx context.Context) ([]triage.LoanIssue, error) {
	return fetch[triage.LoanIssue](ctx, c, PathLoanIssues, nil)
}

// GetPendingAIActions implements triage.PendingAIActionSource.
func (c *Client) GetPendingAIActions(ctx context.Context) ([]triage.AIAction, error) {
	return fetch[triage.AIAction](ctx, c, PathAIActions, url.Values{"status": {"pending"}})
}

// GetWaitingAIActions implements triage.WaitingAIActionSource.
func (c *Client) GetWaitingAIActions(ctx context.Context) ([]triage.AIAction, error) {
	return fetch[triage.AIAction](ctx, c, PathAIActions, url.Values{"status": {"waiting"}})
}

// GetRetentionAlerts implements triage.RetentionAlertSource.
func (c *Client) GetRetentionAlerts(ctx context.Context) ([]triage.RetentionAlert, error) {
	return fetch[triage.RetentionAlert](ctx, c, PathRetentionAlerts, nil)
}

// GetLeadAlerts implements triage.LeadAlertSource.
func (c *Client) GetLeadAlerts(ctx context.Context) ([]triage.LeadAlert, error) {
	return fetch[triage.LeadAlert](ctx, c, PathLeadAlerts, nil)
}

// GetUnreadMessages implements triage.MessageSource.
func (c *Client) GetUnreadMessages(ctx context.Context) ([]triage.Message, error) {
	return fetch[triage.Message](ctx, c, PathMessages, url.Values{"unread": {"true"}})
}

func fetch[R any](ctx context.Context, c *Client, path string, query url.Values) ([]R, error) {
	var out []R
	if err := c.get(ctx, path, query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// get fetches path and decodes the body into out. The CRM answers either with a
// bare JSON array or with the array under "data".
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req) //nolint:gosec // G704: base url is operator config
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Path: path, Code: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("decode %s envelope: %w", path, err)
		}
		body = env.Data
	}
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// StatusError is returned when the CRM answers with a non-200 status.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Path, e.Code, e.Body)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
