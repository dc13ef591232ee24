// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/tryme/internal/logging"
	"github.com/jeranaias/tryme/internal/model"
)

// Configuration constants for the completion endpoint.
const (
	// DefaultBaseURL is the base URL of the OpenRouter API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout is the default timeout for blocking requests.
	DefaultTimeout = 60 * time.Second

	// DefaultSiteURL is sent as HTTP-Referer for attribution.
	DefaultSiteURL = "http://localhost"

	// DefaultSiteName is sent as X-Title for attribution.
	DefaultSiteName = "TryMe Chat App"

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// maxErrorBodyInMessage caps how much of an unparseable error body is
	// carried into the error message.
	maxErrorBodyInMessage = 512

	completionsPath = "/chat/completions"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("API key not configured")

	// ErrInvalidRequest indicates a request failed local validation and was
	// never sent.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNoModelAvailable is returned by Probe when every candidate failed.
	ErrNoModelAvailable = errors.New("no model available")
)

// RequestFailedError is returned for a non-2xx response. Message is taken
// from the structured error body when it parses, otherwise it is built from
// the status line and raw body.
type RequestFailedError struct {
	Status     int
	StatusText string
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request failed (HTTP %d): %s", e.Status, e.Message)
}

// TransportError wraps connection, read and body-decode failures.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatMessage is one role/content pair of a completion request.
type ChatMessage struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: string(model.RoleUser), Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: string(model.RoleSystem), Content: content}
}

// ChatRequest is the body of a chat completion request. It is not modified
// after it is handed to the client.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

// Validate checks the request preconditions: a well-formed model id and a
// non-empty message history with known roles.
func (r *ChatRequest) Validate() error {
	if !model.IsRemoteID(r.Model) {
		return fmt.Errorf("%w: model %q is not a remote model id", ErrInvalidRequest, r.Model)
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: no messages", ErrInvalidRequest)
	}
	for i, m := range r.Messages {
		if !model.Role(m.Role).Valid() {
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidRequest, i, m.Role)
		}
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens must not be negative", ErrInvalidRequest)
	}
	return nil
}

// ChatResponse is the body of a non-streaming completion response.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GetContent returns the content of the first choice, or empty string if none.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// apiErrorResponse is the structured error body of a failed request.
type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to an OpenAI-compatible chat completions endpoint. It never
// retries; a failed call is reported once and left to the caller.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	siteURL      string
	siteName     string
	userAgent    string
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// NewClient creates a client with the given API key.
//
// An empty key still yields a client, but every request fails with
// ErrNotConfigured.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:       strings.TrimSpace(apiKey),
		baseURL:      DefaultBaseURL,
		httpClient:   newHTTPClient(DefaultTimeout),
		streamClient: newHTTPClient(0), // bounded by the caller's context
		siteURL:      DefaultSiteURL,
		siteName:     DefaultSiteName,
		userAgent:    "tryme",
		logger:       logging.Discard(),
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimSuffix(strings.TrimSpace(url), "/")
	return c
}

// WithTimeout sets the timeout of blocking requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithStreamTimeout bounds a whole streaming request. Zero disables it.
func (c *Client) WithStreamTimeout(timeout time.Duration) *Client {
	c.streamClient.Timeout = timeout
	return c
}

// WithSiteURL sets the HTTP-Referer attribution header.
func (c *Client) WithSiteURL(url string) *Client {
	c.siteURL = url
	return c
}

// WithSiteName sets the X-Title attribution header.
func (c *Client) WithSiteName(name string) *Client {
	c.siteName = name
	return c
}

// WithUserAgent sets the User-Agent header.
func (c *Client) WithUserAgent(ua string) *Client {
	c.userAgent = ua
	return c
}

// WithRateLimit caps outgoing requests per minute. Zero or less disables
// the limiter.
func (c *Client) WithRateLimit(perMinute int) *Client {
	if perMinute <= 0 {
		c.limiter = nil
		return c
	}
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	return c
}

// WithLogger sets the logger used for request/response lines.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	c.logger = logging.OrDiscard(l)
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key, safe to
// log or display in place of the key itself.
func (c *Client) KeyFingerprint() string {
	return KeyFingerprint(c.apiKey)
}

// KeyFingerprint returns the first 8 hex chars of the SHA-256 of key, or
// "none" for an empty key.
func KeyFingerprint(key string) string {
	if key == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// setHeaders sets the auth, content and attribution headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// send validates and posts req, returning the response only for a 2xx
// status. Every other outcome is a *RequestFailedError, *TransportError or a
// local validation error.
func (c *Client) send(ctx context.Context, hc *http.Client, req ChatRequest) (*http.Response, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: "rate limit wait", Err: err}
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")
	}

	c.logger.Debug("api request",
		"method", httpReq.Method,
		"path", httpReq.URL.Path,
		"model", req.Model,
		"messages", len(req.Messages),
		"stream", req.Stream,
		"key", c.KeyFingerprint())

	start := time.Now()
	resp, err := hc.Do(httpReq)
	if err != nil {
		c.logger.Warn("api request failed", "error", err, "duration", time.Since(start))
		return nil, &TransportError{Op: "request failed", Err: err}
	}

	c.logger.Debug("api response", "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, readErr := readResponse(resp)
		if readErr != nil {
			c.logger.Warn("failed to read error body", "status", resp.StatusCode, "error", readErr)
		}
		return nil, handleErrorResponse(resp, raw)
	}

	return resp, nil
}

// readResponse reads the response body with size limits to prevent memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return body, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return body[:MaxResponseSize], fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts a non-2xx response into a RequestFailedError.
func handleErrorResponse(resp *http.Response, body []byte) error {
	statusText := http.StatusText(resp.StatusCode)
	if statusText == "" {
		statusText = strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
	}

	reqErr := &RequestFailedError{
		Status:     resp.StatusCode,
		StatusText: statusText,
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		reqErr.Message = apiErr.Error.Message
		reqErr.Code = strings.Trim(string(apiErr.Error.Code), `"`)
		return reqErr
	}

	// Fallback for unparseable error responses
	reqErr.Message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, statusText)
	if raw := strings.TrimSpace(string(body)); raw != "" {
		if len(raw) > maxErrorBodyInMessage {
			raw = raw[:maxErrorBodyInMessage] + "..."
		}
		reqErr.Message += ": " + raw
	}
	return reqErr
}

// =============================================================================
// BLOCKING COMPLETION
// =============================================================================

// Chat performs a non-streaming completion and returns the parsed response.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false

	resp, err := c.send(ctx, c.httpClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, &TransportError{Op: "decode response", Err: err}
	}
	return &chatResp, nil
}

// Complete performs a non-streaming completion and returns the first
// choice's content, which is empty when the endpoint returned no choices.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	resp, err := c.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.GetContent(), nil
}

// =============================================================================
// MODEL PROBE
// =============================================================================

// ProbeResult records the outcome of probing a single model.
type ProbeResult struct {
	Model    string
	Reply    string
	Duration time.Duration
	Err      error
}

// OK reports whether the probe succeeded.
func (r ProbeResult) OK() bool {
	return r.Err == nil
}

// Probe sends a tiny blocking request to each model in order and stops at
// the first one that answers. It returns the results gathered so far and
// ErrNoModelAvailable if none succeeded.
func (c *Client) Probe(ctx context.Context, models []string) ([]ProbeResult, error) {
	results := make([]ProbeResult, 0, len(models))
	var errs []error

	for _, m := range models {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		start := time.Now()
		reply, err := c.Complete(ctx, ChatRequest{
			Model:     m,
			Messages:  []ChatMessage{NewUserMessage("Hello")},
			MaxTokens: 10,
		})
		res := ProbeResult{Model: m, Reply: reply, Duration: time.Since(start), Err: err}
		results = append(results, res)

		if err == nil {
			c.logger.Info("model probe succeeded", "model", m, "duration", res.Duration)
			return results, nil
		}
		c.logger.Info("model probe failed", "model", m, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", m, err))
	}

	if len(errs) == 0 {
		return results, fmt.Errorf("%w: no candidates given", ErrNoModelAvailable)
	}
	return results, fmt.Errorf("%w: %w", ErrNoModelAvailable, errors.Join(errs...))
}
