// Package busclient is the sole ingress/egress to the breadcrumb store: it
// wraps net/http for CRUD and a hand-rolled SSE reader for the event
// stream, the way the teacher's MCP HTTP transport and Anthropic
// streaming client parse text/event-stream bodies.
package busclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rcrt-dev/rcrt/internal/rerrors"
	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
)

// Client is the breadcrumb store client shared by both runners.
type Client struct {
	baseURL string
	owner   string
	agent   string
	roles   []string

	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default *http.Client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRoles sets the roles requested at token-acquisition time.
func WithRoles(roles ...string) Option {
	return func(c *Client) { c.roles = roles }
}

// New constructs a Client bound to baseURL for the given owner/agent.
func New(baseURL, ownerID, agentID string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		owner:   ownerID,
		agent:   agentID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Authenticate acquires a bearer token via POST /auth/token.
func (c *Client) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"owner_id": c.owner,
		"agent_id": c.agent,
		"roles":    c.roles,
	})
	if err != nil {
		return rerrors.New(rerrors.KindValidation, "busclient.Authenticate", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return rerrors.New(rerrors.KindTransport, "busclient.Authenticate", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rerrors.New(rerrors.KindTransport, "busclient.Authenticate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rerrors.New(rerrors.KindAuth, "busclient.Authenticate", fmt.Errorf("auth rejected: status %d", resp.StatusCode))
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return rerrors.New(rerrors.KindTransport, "busclient.Authenticate", err)
	}

	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return nil
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) authedRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// do executes req, re-authenticating and retrying once on 401.
func (c *Client) do(ctx context.Context, req *http.Request, retried bool) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, rerrors.New(rerrors.KindTransport, "busclient.do", err)
	}
	if resp.StatusCode == http.StatusUnauthorized && !retried {
		resp.Body.Close()
		if authErr := c.Authenticate(ctx); authErr != nil {
			return nil, authErr
		}
		req2 := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, rerrors.New(rerrors.KindTransport, "busclient.do", err)
			}
			req2.Body = body
		}
		req2.Header.Set("Authorization", "Bearer "+c.bearer())
		return c.do(ctx, req2, true)
	}
	return resp, nil
}

// Create publishes a new breadcrumb and returns its assigned id/version.
func (c *Client) Create(ctx context.Context, b breadcrumb.Breadcrumb) (string, int64, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return "", 0, rerrors.New(rerrors.KindValidation, "busclient.Create", err)
	}

	req, err := c.authedRequest(ctx, http.MethodPost, "/breadcrumbs", payload)
	if err != nil {
		return "", 0, rerrors.New(rerrors.KindTransport, "busclient.Create", err)
	}

	resp, err := c.do(ctx, req, false)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if err := statusErr(resp, "busclient.Create"); err != nil {
		return "", 0, err
	}

	var out struct {
		ID      string `json:"id"`
		Version int64  `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, rerrors.New(rerrors.KindTransport, "busclient.Create", err)
	}
	return out.ID, out.Version, nil
}

// Get fetches the full breadcrumb by id.
func (c *Client) Get(ctx context.Context, id string) (*breadcrumb.Breadcrumb, error) {
	req, err := c.authedRequest(ctx, http.MethodGet, "/breadcrumbs/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, rerrors.New(rerrors.KindTransport, "busclient.Get", err)
	}

	resp, err := c.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := statusErr(resp, "busclient.Get"); err != nil {
		return nil, err
	}

	var b breadcrumb.Breadcrumb
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return nil, rerrors.New(rerrors.KindTransport, "busclient.Get", err)
	}
	return &b, nil
}

// ListQuery is the subset of selector fields accepted as URL parameters.
type ListQuery struct {
	SchemaName string
	Tag        string
}

// List returns breadcrumb summaries matching query.
func (c *Client) List(ctx context.Context, q ListQuery) ([]breadcrumb.Summary, error) {
	values := url.Values{}
	if q.SchemaName != "" {
		values.Set("schema_name", q.SchemaName)
	}
	if q.Tag != "" {
		values.Set("tag", q.Tag)
	}

	path := "/breadcrumbs"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}

	req, err := c.authedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, rerrors.New(rerrors.KindTransport, "busclient.List", err)
	}

	resp, err := c.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := statusErr(resp, "busclient.List"); err != nil {
		return nil, err
	}

	var out []breadcrumb.Summary
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, rerrors.New(rerrors.KindTransport, "busclient.List", err)
	}
	return out, nil
}

// Update submits a versioned PATCH. It fails with KindConflict when the
// server's version does not match expectedVersion.
func (c *Client) Update(ctx context.Context, id string, expectedVersion int64, patch breadcrumb.Patch) (int64, error) {
	payload, err := json.Marshal(patch)
	if err != nil {
		return 0, rerrors.New(rerrors.KindValidation, "busclient.Update", err)
	}

	req, err := c.authedRequest(ctx, http.MethodPatch, "/breadcrumbs/"+url.PathEscape(id), payload)
	if err != nil {
		return 0, rerrors.New(rerrors.KindTransport, "busclient.Update", err)
	}
	req.Header.Set("If-Match", strconv.FormatInt(expectedVersion, 10))

	resp, err := c.do(ctx, req, false)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed {
		return 0, rerrors.New(rerrors.KindConflict, "busclient.Update", fmt.Errorf("version mismatch: expected %d", expectedVersion))
	}
	if err := statusErr(resp, "busclient.Update"); err != nil {
		return 0, err
	}

	var out struct {
		Version int64 `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, rerrors.New(rerrors.KindTransport, "busclient.Update", err)
	}
	return out.Version, nil
}

// Delete retires a breadcrumb.
func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := c.authedRequest(ctx, http.MethodDelete, "/breadcrumbs/"+url.PathEscape(id), nil)
	if err != nil {
		return rerrors.New(rerrors.KindTransport, "busclient.Delete", err)
	}

	resp, err := c.do(ctx, req, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return statusErr(resp, "busclient.Delete")
}

func statusErr(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return rerrors.New(rerrors.KindAuth, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return rerrors.New(rerrors.KindNotFound, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusConflict:
		return rerrors.New(rerrors.KindConflict, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return rerrors.New(rerrors.KindValidation, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return rerrors.New(rerrors.KindTransport, op, fmt.Errorf("status %d", resp.StatusCode))
	default:
		return rerrors.New(rerrors.KindTransport, op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}
