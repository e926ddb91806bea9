package sightline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sightline-hq/sightline/internal/model"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Sightline server (e.g. "http://localhost:8080").
	BaseURL string

	// OrgID identifies the organization for authentication.
	OrgID uuid.UUID

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Sightline visibility audit API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, OrgID, or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("sightline: BaseURL is required")
	}
	if cfg.OrgID == uuid.Nil {
		return nil, fmt.Errorf("sightline: OrgID is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sightline: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.OrgID, cfg.APIKey, httpClient),
	}, nil
}

// ---------------------------------------------------------------------------
// Apps
// ---------------------------------------------------------------------------

// CreateApp registers an app whose AI visibility should be tracked.
func (c *Client) CreateApp(ctx context.Context, req model.CreateAppRequest) (*model.App, error) {
	var resp model.App
	if err := c.post(ctx, "/v1/apps", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListApps lists the organization's tracked apps.
func (c *Client) ListApps(ctx context.Context) ([]model.App, error) {
	var resp []model.App
	if err := c.get(ctx, "/v1/apps", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Run lifecycle
// ---------------------------------------------------------------------------

// CreateRun creates a pending audit run for an app.
func (c *Client) CreateRun(ctx context.Context, req model.CreateRunRequest) (*model.AuditRun, error) {
	var resp model.AuditRun
	if err := c.post(ctx, "/v1/runs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRunsOptions are optional pagination parameters for ListRuns.
type ListRunsOptions struct {
	Limit  int
	Offset int
}

// ListRuns lists the organization's runs, newest first.
func (c *Client) ListRuns(ctx context.Context, opts *ListRunsOptions) ([]model.AuditRun, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
	}
	path := "/v1/runs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp []model.AuditRun
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetRun retrieves a single run.
func (c *Client) GetRun(ctx context.Context, runID uuid.UUID) (*model.AuditRun, error) {
	var resp model.AuditRun
	if err := c.get(ctx, "/v1/runs/"+runID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartRun launches a processing pass for the run. The optional request
// supplies prebuilt queries or template ids for first-start generation;
// pass nil to resume a paused run. Returns IsConflict-matching error if a
// pass is already executing.
func (c *Client) StartRun(ctx context.Context, runID uuid.UUID, req *model.StartRunRequest) error {
	var body any
	if req != nil {
		body = *req
	} else {
		body = struct{}{}
	}
	return c.post(ctx, "/v1/runs/"+runID.String()+"/start", body, nil)
}

// StopRun requests a cooperative stop of the run's active pass. The
// in-flight query finishes; the run lands in paused shortly after.
func (c *Client) StopRun(ctx context.Context, runID uuid.UUID) error {
	return c.post(ctx, "/v1/runs/"+runID.String()+"/stop", struct{}{}, nil)
}

// Progress retrieves the run's live progress counters and trace log.
func (c *Client) Progress(ctx context.Context, runID uuid.UUID) (*model.ProgressResponse, error) {
	var resp model.ProgressResponse
	if err := c.get(ctx, "/v1/runs/"+runID.String()+"/progress", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListQueries lists a run's queries. status is optional; "" means all.
func (c *Client) ListQueries(ctx context.Context, runID uuid.UUID, status model.QueryStatus) ([]model.AuditQuery, error) {
	path := "/v1/runs/" + runID.String() + "/queries"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var resp []model.AuditQuery
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// CreateTemplate adds a query template to the organization's library.
func (c *Client) CreateTemplate(ctx context.Context, req model.CreateTemplateRequest) (*model.QueryTemplate, error) {
	var resp model.QueryTemplate
	if err := c.post(ctx, "/v1/templates", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTemplates lists the organization's template library.
func (c *Client) ListTemplates(ctx context.Context) ([]model.QueryTemplate, error) {
	var resp []model.QueryTemplate
	if err := c.get(ctx, "/v1/templates", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// HealthResponse is the payload of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int    `json:"uptime_seconds"`
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sightline: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("sightline: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("sightline: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("sightline: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sightline: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sightline: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("sightline: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("sightline: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return json.Unmarshal(bodyBytes, dest)
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}
	return apiErr
}

// ---------------------------------------------------------------------------
// Token management
// ---------------------------------------------------------------------------

// tokenManager handles JWT token acquisition and refresh.
// It is safe for concurrent use.
type tokenManager struct {
	baseURL string
	orgID   uuid.UUID
	apiKey  string
	client  *http.Client
	margin  time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenManager(baseURL string, orgID uuid.UUID, apiKey string, client *http.Client) *tokenManager {
	return &tokenManager{
		baseURL: baseURL,
		orgID:   orgID,
		apiKey:  apiKey,
		client:  client,
		margin:  30 * time.Second,
	}
}

func (tm *tokenManager) getToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token != "" && time.Now().Before(tm.expiresAt.Add(-tm.margin)) {
		return tm.token, nil
	}

	if err := tm.refresh(ctx); err != nil {
		return "", err
	}
	return tm.token, nil
}

type authResponseEnvelope struct {
	Data model.AuthTokenResponse `json:"data"`
}

func (tm *tokenManager) refresh(ctx context.Context) error {
	body, err := json.Marshal(model.AuthTokenRequest{OrgID: tm.orgID, APIKey: tm.apiKey})
	if err != nil {
		return fmt.Errorf("sightline: marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.baseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sightline: create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tm.client.Do(req)
	if err != nil {
		return fmt.Errorf("sightline: auth request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sightline: auth failed with status %d", resp.StatusCode)
	}

	var envelope authResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("sightline: decode auth response: %w", err)
	}

	tm.token = envelope.Data.Token
	tm.expiresAt = envelope.Data.ExpiresAt
	return nil
}
