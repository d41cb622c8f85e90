// Package httpx is the transport layer for source adapters. It does no
// retrying and no sleeping: politeness lives in the rate governor and retry
// policy in the resilience engine. Failures are classified into the
// collection error taxonomy so the retry loop can decide.
package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fxintel/collector/internal/resilience"
)

// ClientConfig configures the HTTP client behavior.
type ClientConfig struct {
	// BaseURL is the base URL for all requests.
	BaseURL string

	// Timeout for individual requests (default: 30s).
	Timeout time.Duration

	// Headers to add to all requests.
	Headers map[string]string

	// UserAgent string (default: "fxintel-collector/1.0").
	UserAgent string

	// Transport allows injecting a custom HTTP transport (for tests/stubs).
	Transport http.RoundTripper
}

// DefaultClientConfig returns a client config with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:   30 * time.Second,
		UserAgent: "fxintel-collector/1.0",
		Headers:   make(map[string]string),
	}
}

// Client is a plain, classification-aware HTTP client.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new HTTP client with the given configuration.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "fxintel-collector/1.0"
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
	}
}

// Request represents an HTTP request to be made.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    io.Reader
}

// Response wraps an HTTP response with convenience methods.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals the response body into the given target.
func (r *Response) JSON(target any) error {
	if err := json.Unmarshal(r.Body, target); err != nil {
		return resilience.Parse(err)
	}
	return nil
}

// IsSuccess returns true if the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Do executes a single request. Non-2xx responses come back as *StatusError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	fullURL := c.config.BaseURL
	if req.Path != "" {
		fullURL = strings.TrimSuffix(fullURL, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	}
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, req.Body)
	if err != nil {
		return nil, resilience.TerminalRequest(fmt.Errorf("create request: %w", err))
	}

	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Transport failures (timeouts, resets) are transient.
		return nil, resilience.RetryableNetwork(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.RetryableNetwork(fmt.Errorf("read body: %w", err))
	}

	response := &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}
	if resp.StatusCode >= 400 {
		return response, newStatusError(resp.StatusCode, resp.Header, body)
	}
	return response, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// GetURL performs a GET against an absolute URL, ignoring BaseURL.
func (c *Client) GetURL(ctx context.Context, absolute string) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, absolute, nil)
	if err != nil {
		return nil, resilience.TerminalRequest(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, resilience.RetryableNetwork(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.RetryableNetwork(fmt.Errorf("read body: %w", err))
	}
	response := &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}
	if resp.StatusCode >= 400 {
		return response, newStatusError(resp.StatusCode, resp.Header, body)
	}
	return response, nil
}

// StatusError represents a non-2xx HTTP response, classified for retry.
type StatusError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func newStatusError(status int, headers http.Header, body []byte) *StatusError {
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	e := &StatusError{StatusCode: status, Message: msg}
	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// CodeValue maps the status onto the collection error taxonomy.
func (e *StatusError) CodeValue() string {
	if e.RetryableStatus() {
		return resilience.CodeRetryableNetwork
	}
	return resilience.CodeTerminalRequest
}

// RetryableStatus reports whether the status is worth retrying:
// 429 and the transient 5xx family are; everything else is terminal.
func (e *StatusError) RetryableStatus() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// RetryAfterHint returns the server-supplied backoff, if any.
func (e *StatusError) RetryAfterHint() (time.Duration, bool) {
	if e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}
