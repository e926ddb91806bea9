package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the settings needed to construct an HTTPProcessor.
type Config struct {
	// BaseURL is the root URL of the processor service.
	BaseURL string

	// APIKey is sent as a bearer token on every request. Optional.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual process calls. Defaults to 60 seconds:
	// a single AI completion can legitimately take that long.
	Timeout time.Duration
}

// HTTPProcessor invokes the remote processor over HTTP.
// Safe for concurrent use.
type HTTPProcessor struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTP creates an HTTPProcessor from the given configuration.
func NewHTTP(cfg Config) (*HTTPProcessor, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("processor: BaseURL is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPProcessor{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
	}, nil
}

// Process submits one query for evaluation via POST /v1/process.
func (p *HTTPProcessor) Process(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("processor: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/process", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("processor: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("processor: call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Cap error bodies; the processor is not trusted to be well-behaved
	// when it is already failing.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("processor: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &Error{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, fmt.Errorf("processor: decode response: %w", err)
	}
	return result, nil
}

// errorMessage extracts a message from an error body, falling back to the
// raw text when it is not the expected JSON shape.
func errorMessage(raw []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return "unexpected status"
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
