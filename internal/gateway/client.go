// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/talkrun-tui/internal/model"
)

// Configuration constants for the gateway API.
const (
	// DefaultTimeout is the default timeout for non-streaming API requests.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// defaultPollInterval bounds how often talk metadata may be fetched.
	defaultPollInterval = 2 * time.Second
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client for all non-streaming gateway requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for streaming requests
	// (no timeout, context-controlled).
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		// No timeout for streaming - controlled via context
	}
)

// Error variables for common gateway errors.
var (
	// ErrNotConfigured indicates the API key or base URL is not set.
	ErrNotConfigured = errors.New("gateway not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrBadRequest indicates the gateway permanently rejected the request.
	ErrBadRequest = errors.New("malformed request")

	// ErrOverloaded indicates a provider-side overload (5xx).
	ErrOverloaded = errors.New("gateway overloaded")

	// ErrTalkNotFound indicates the gateway has no record of the talk.
	ErrTalkNotFound = errors.New("talk not found on gateway")
)

// GatewayError represents a structured error response from the gateway.
type GatewayError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("gateway error (HTTP %d): %s", e.Status, e.Message)
}

// RateLimitError represents a rate limit error with retry information.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// Is allows RateLimitError to be compared with ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// ChatRequest represents a request to either chat endpoint.
type ChatRequest struct {
	Model       string              `json:"model"`
	Messages    []model.ChatMessage `json:"messages"`
	Stream      bool                `json:"stream"`
	Temperature float64             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	TalkID      string              `json:"talk_id,omitempty"`
}

// Usage carries the token accounting for a completed call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into this one. Turn recovery uses
// this to account for both the original and the retried call.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ChatResponse represents a response from the non-streaming chat endpoint.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      model.ChatMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// GetContent returns the content of the first choice, or empty string if none.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// apiErrorResponse represents an error response body from the gateway.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a client for the remote LLM gateway.
type Client struct {
	apiKey    string
	baseURL   string
	modelName string
	timeout   time.Duration

	// pollLimiter bounds talk metadata fetches so that merge polling can
	// run on any cadence without hammering the gateway.
	pollLimiter *rate.Limiter

	// sentinels are additional no-reply markers beyond the built-in set.
	sentinels []string
}

// NewClient creates a new gateway client.
//
// If the API key is empty the client is still created but requests fail
// with ErrNotConfigured.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		apiKey:      strings.TrimSpace(apiKey),
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		timeout:     DefaultTimeout,
		pollLimiter: rate.NewLimiter(rate.Every(defaultPollInterval), 1),
	}
}

// WithModel sets the default model for chat requests.
func (c *Client) WithModel(name string) *Client {
	c.modelName = name
	return c
}

// WithTimeout sets the request timeout for non-streaming calls.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// WithSentinels registers additional sentinel markers (from configuration).
func (c *Client) WithSentinels(markers []string) *Client {
	c.sentinels = append([]string(nil), markers...)
	return c
}

// WithPollInterval sets the minimum interval between talk metadata fetches.
func (c *Client) WithPollInterval(d time.Duration) *Client {
	if d > 0 {
		c.pollLimiter = rate.NewLimiter(rate.Every(d), 1)
	}
	return c
}

// Model returns the default model name.
func (c *Client) Model() string {
	return c.modelName
}

// IsConfigured returns true if the client has a base URL and API key.
func (c *Client) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// IsSentinel reports whether content is a keep-alive/no-reply marker that
// must be suppressed from persistence and voice playback. Sentinels are not
// errors.
func (c *Client) IsSentinel(content string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(content))
	if trimmed == "" {
		return true
	}
	for _, s := range defaultSentinels {
		if trimmed == s {
			return true
		}
	}
	for _, s := range c.sentinels {
		if trimmed == strings.ToLower(strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}

// defaultSentinels is the fixed set of server keep-alive/no-reply markers.
var defaultSentinels = []string{"[no-reply]", "[silence]", "ping"}

// setHeaders sets the required headers for gateway API requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "talkrun/0.1.0")
}

// logRequest logs an API request without exposing sensitive data.
// Headers (auth) and bodies (user content) are never logged.
func (c *Client) logRequest(req *http.Request) {
	log.Printf("API Request: %s %s", req.Method, req.URL.Path)
}

// logResponse logs an API response with duration.
func (c *Client) logResponse(resp *http.Response, duration time.Duration) {
	log.Printf("API Response: %d %s (%v)", resp.StatusCode, resp.Status, duration)
}

// =============================================================================
// NON-STREAMING CHAT
// =============================================================================

// Chat performs a single non-streaming chat completion request.
//
// The call is made exactly once: retry policy is owned by the turn package,
// which needs to bound retries per turn rather than per request.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	if req.Model == "" {
		req.Model = c.modelName
	}
	req.Stream = false

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	c.logRequest(httpReq)

	startTime := time.Now()
	resp, err := sharedHTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(startTime))

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp, body)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &chatResp, nil
}

// =============================================================================
// TALK METADATA
// =============================================================================

// FetchTalk retrieves the gateway's view of a talk for merging into the
// local record. Calls are rate limited so callers may poll on any cadence.
func (c *Client) FetchTalk(ctx context.Context, talkID string) (*model.TalkSnapshot, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if talkID == "" {
		return nil, fmt.Errorf("%w: empty talk id", ErrBadRequest)
	}

	if err := c.pollLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/talks/"+talkID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	c.logRequest(httpReq)

	startTime := time.Now()
	resp, err := sharedHTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(startTime))

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrTalkNotFound, talkID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp, body)
	}

	var snap model.TalkSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse talk snapshot: %w", err)
	}
	return &snap, nil
}

// =============================================================================
// ERROR HANDLING
// =============================================================================

// readResponse reads the response body with size limits.
//
// SECURITY: Response size limit prevents memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts HTTP error responses to typed Go errors.
func (c *Client) handleErrorResponse(resp *http.Response, body []byte) error {
	statusCode := resp.StatusCode

	message := ""
	code := ""
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
		code = apiErr.Error.Code
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrAuthFailed, message)
		}
		return ErrAuthFailed
	case statusCode == http.StatusTooManyRequests:
		rlErr := &RateLimitError{RetryAfter: parseRetryAfter(resp)}
		if message != "" {
			return fmt.Errorf("%w: %s", rlErr, message)
		}
		return rlErr
	case statusCode >= 400 && statusCode < 500:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrBadRequest, message)
		}
		return fmt.Errorf("%w: HTTP %d", ErrBadRequest, statusCode)
	case statusCode >= 500:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrOverloaded, message)
		}
		return fmt.Errorf("%w: HTTP %d", ErrOverloaded, statusCode)
	default:
		return &GatewayError{Code: code, Message: string(body), Status: statusCode}
	}
}

// parseRetryAfter extracts the Retry-After header as a duration, supporting
// both the seconds and HTTP-date forms. Returns 0 when absent or unparseable.
func parseRetryAfter(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		return time.Until(t)
	}
	return 0
}
