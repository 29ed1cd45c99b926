package analysis

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

const requestTimeout = 30 * time.Second

// Client calls the inference service over HTTP with bearer auth.
type Client struct {
	baseURL     string
	token       string
	client      *http.Client
	retryConfig RetryConfig
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithRetryConfig overrides the default retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) { c.retryConfig = cfg }
}

// NewClient creates an inference-service client. Every request carries a
// 30-second timeout; the caller's context can shorten but not extend it.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		client:      &http.Client{Timeout: requestTimeout},
		retryConfig: DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Analyze runs the primary per-message analysis.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*Result, error) {
	return retryDo(ctx, c.retryConfig, func() (*Result, error) {
		var result Result
		if err := c.post(ctx, "/v1/analyze", req, &result); err != nil {
			return nil, err
		}
		return &result, nil
	})
}

// AnalyzeFollowupTiming asks for an AI-chosen follow-up delay.
func (c *Client) AnalyzeFollowupTiming(ctx context.Context, req FollowupTimingRequest) (*FollowupTiming, error) {
	return retryDo(ctx, c.retryConfig, func() (*FollowupTiming, error) {
		var timing FollowupTiming
		if err := c.post(ctx, "/v1/followup-timing", req, &timing); err != nil {
			return nil, err
		}
		return &timing, nil
	})
}

// GenerateRejection drafts a polite disqualification message.
func (c *Client) GenerateRejection(ctx context.Context, req RejectionRequest) (*Rejection, error) {
	return retryDo(ctx, c.retryConfig, func() (*Rejection, error) {
		var rej Rejection
		if err := c.post(ctx, "/v1/rejection-message", req, &rej); err != nil {
			return nil, err
		}
		return &rej, nil
	})
}

// HealthCheck probes the service. Used by the doctor command and startup.
func (c *Client) HealthCheck(ctx context.Context) (*Health, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return nil, fmt.Errorf("analysis: create health request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("analysis: health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("analysis: decode health response: %w", err)
	}
	return &health, nil
}

// post sends one JSON request and decodes the success envelope into out.
func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("analysis: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("analysis: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("analysis: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &HTTPError{
			Status:     resp.StatusCode,
			Body:       string(body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("analysis: decode response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("analysis: service error: %s", env.Error)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("analysis: decode data: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
