// Package dbal is the client for the external DBAL service: user
// notifications, permission checks, and best-effort write-through of job
// records. Every call here is an external collaborator boundary — failures
// are logged and never fail the operation that produced them.
package dbal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mediabuilder/mediad/internal/config"
	"github.com/mediabuilder/mediad/internal/models"
)

// Client talks to the DBAL HTTP API with bearer-key auth, retries with
// exponential backoff, and a circuit breaker.
type Client struct {
	baseURL   string
	apiKey    string
	transport *transport
	logger    *slog.Logger
}

// New creates a DBAL client from configuration.
func New(cfg config.DBALConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		apiKey:    cfg.APIKey,
		transport: newTransport(cfg.Timeout, cfg.RetryAttempts, cfg.RetryDelay, logger),
		logger:    logger,
	}
}

// request performs one authenticated call and returns the response body
// for 2xx statuses. The request body is rebuilt per retry attempt.
func (c *Client) request(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding request body: %w", err)
		}
	}

	resp, err := c.transport.do(ctx, func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, resp.StatusCode, fmt.Errorf("dbal returned status %d", resp.StatusCode)
	}
	return data, resp.StatusCode, nil
}

// Ping verifies connectivity to the DBAL service.
func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.request(ctx, http.MethodGet, "/api/health", nil)
	return err
}

// Notify delivers a notification. Failures are logged and dropped; the
// underlying operation has already succeeded and must stay that way. This
// satisfies the queue's and engines' Notifier interface.
func (c *Client) Notify(ctx context.Context, n models.Notification) {
	if _, _, err := c.request(ctx, http.MethodPost, "/api/notifications", n); err != nil {
		c.logger.Warn("notification delivery failed",
			slog.String("kind", string(n.Kind)),
			slog.String("tenant_id", n.TenantID),
			slog.String("error", err.Error()))
	}
}

// permissionResponse is the DBAL permission check payload.
type permissionResponse struct {
	Allowed bool `json:"allowed"`
}

// CheckPermission asks whether a user holds a permission. Conservative
// policy: any error or non-200 response is a deny.
func (c *Client) CheckPermission(ctx context.Context, tenantID, userID, permission string) bool {
	q := url.Values{}
	q.Set("tenantId", tenantID)
	q.Set("userId", userID)
	q.Set("permission", permission)

	data, _, err := c.request(ctx, http.MethodGet, "/api/permissions/check?"+q.Encode(), nil)
	if err != nil {
		c.logger.Warn("permission check failed, denying",
			slog.String("tenant_id", tenantID),
			slog.String("user_id", userID),
			slog.String("permission", permission),
			slog.String("error", err.Error()))
		return false
	}

	var resp permissionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn("permission check returned malformed body, denying",
			slog.String("error", err.Error()))
		return false
	}
	return resp.Allowed
}

// userLevelResponse is the DBAL user level payload.
type userLevelResponse struct {
	Level int `json:"level"`
}

// UserLevel returns a user's permission level (0-6).
func (c *Client) UserLevel(ctx context.Context, tenantID, userID string) (int, error) {
	q := url.Values{}
	q.Set("tenantId", tenantID)
	q.Set("userId", userID)

	data, _, err := c.request(ctx, http.MethodGet, "/api/permissions/level?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}

	var resp userLevelResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("parsing user level response: %w", err)
	}
	return resp.Level, nil
}

// StoreJob writes a job record through to the external store. Best-effort:
// failures are logged and dropped.
func (c *Client) StoreJob(ctx context.Context, job *models.Job) {
	if _, _, err := c.request(ctx, http.MethodPost, "/api/jobs", job); err != nil {
		c.logger.Debug("job write-through failed",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
	}
}

// UpdateJob updates a job record in the external store. Best-effort.
func (c *Client) UpdateJob(ctx context.Context, job *models.Job) {
	path := "/api/jobs/" + url.PathEscape(job.ID.String())
	if _, _, err := c.request(ctx, http.MethodPut, path, job); err != nil {
		c.logger.Debug("job update write-through failed",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
	}
}

// CircuitState exposes the transport's breaker state for health reporting.
func (c *Client) CircuitState() CircuitState {
	return c.transport.state()
}
