// Package api provides HTTP client for communicating with the Kamui API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kamui-project/kamui-session/internal/events"
)

// DefaultCacheSize is the number of GET responses kept per client
const DefaultCacheSize = 64

// Authorizer attaches credentials to an outgoing request
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request) (*http.Request, error)
}

// Client is an HTTP client for the Kamui API.
// Successful GET responses are cached until the next mutation or until
// the signed-in identity changes.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authorizer Authorizer
	logger     *slog.Logger
	cacheSize  int
	cache      *lru.Cache[string, []byte]
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCacheSize sets the response cache size. Zero disables caching.
func WithCacheSize(n int) ClientOption {
	return func(c *Client) { c.cacheSize = n }
}

// NewClient creates a new API client. A nil authorizer sends requests
// without credentials.
func NewClient(baseURL string, authorizer Authorizer, opts ...ClientOption) (*Client, error) {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		authorizer: authorizer,
		logger:     slog.New(slog.DiscardHandler),
		cacheSize:  DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.cacheSize > 0 {
		cache, err := lru.New[string, []byte](c.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create response cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// HandleEvent drops cached responses when the signed-in identity changes.
// Subscribe it to the session event bus.
func (c *Client) HandleEvent(e events.Event) {
	if e.Type == events.IdentityChanged {
		c.InvalidateCache()
	}
}

// InvalidateCache drops all cached responses
func (c *Client) InvalidateCache() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

// Request performs an HTTP request to the API.
// Every call is authorized first, so cached responses are only served
// while the session is usable.
func (c *Client) Request(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.authorizer != nil {
		req, err = c.authorizer.Authorize(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to authorize request: %w", err)
		}
	}

	if method == http.MethodGet && c.cache != nil {
		if cached, ok := c.cache.Get(path); ok {
			c.logger.DebugContext(ctx, "api cache hit", "path", path)
			return decode(cached, result)
		}
	}

	c.logger.DebugContext(ctx, "api request", "method", method, "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			return &APIError{
				StatusCode: resp.StatusCode,
				Message:    errResp.Message,
			}
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("request failed with status %d", resp.StatusCode),
		}
	}

	if c.cache != nil {
		if method == http.MethodGet {
			c.cache.Add(path, respBody)
		} else {
			c.cache.Purge()
		}
	}

	return decode(respBody, result)
}

func decode(body []byte, result interface{}) error {
	if result == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, path string, result interface{}) error {
	return c.Request(ctx, http.MethodGet, path, nil, result)
}

// Post performs a POST request
func (c *Client) Post(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.Request(ctx, http.MethodPost, path, body, result)
}

// Put performs a PUT request
func (c *Client) Put(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.Request(ctx, http.MethodPut, path, body, result)
}

// Delete performs a DELETE request
func (c *Client) Delete(ctx context.Context, path string, result interface{}) error {
	return c.Request(ctx, http.MethodDelete, path, nil, result)
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Message string `json:"message"`
}

// APIError represents an error returned by the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// IsUnauthorized checks if the error is an unauthorized error
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsNotFound checks if the error is a not found error
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
