// Package approval forwards AI action approvals to the CRM.
package approval

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

	"github.com/linnemanlabs/go-core/log"
)

const httpTimeout = 10 * time.Second

// Client posts approvals to the CRM's AI action endpoint. It implements
// triage.Approver.
type Client struct {
	baseURL *url.URL
	token   string
	actor   string
	logger  log.Logger
	client  *http.Client
}

// New creates an approval client. actor is recorded on the approval as the
// approving user.
func New(baseURL, token, actor string, logger log.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("approval: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("approval: url %q must be http or https", baseURL)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		baseURL: u,
		token:   token,
		actor:   actor,
		logger:  logger,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

type approveRequest struct {
	ActionID   string    `json:"action_id"`
	ApprovedBy string    `json:"approved_by,omitempty"`
	ApprovedAt time.Time `json:"approved_at"`
}

// Approve posts an approval for actionID. Any non-2xx answer is an error.
func (c *Client) Approve(ctx context.Context, actionID string) error {
	if actionID == "" {
		return fmt.Errorf("approval: empty action id")
	}

	body, err := json.Marshal(approveRequest{
		ActionID:   actionID,
		ApprovedBy: c.actor,
		ApprovedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("approval: marshal request: %w", err)
	}

	u := c.baseURL.JoinPath("/api/ai-actions", actionID, "approve")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("approval: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req) //nolint:gosec // G704: url is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("approval: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("approval: %s returned %d: %s", u.Path, resp.StatusCode, string(respBody))
	}

	c.logger.Info(ctx, "ai action approved upstream",
		"action_id", actionID,
		"status", resp.StatusCode,
		"duration_s", time.Since(start).Seconds(),
	)
	return nil
}
