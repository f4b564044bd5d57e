package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient implements Responder against the generation service's REST API.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithAPIKey sets the Bearer key for the generation service.
func WithAPIKey(key string) Option {
	return func(r *HTTPClient) { r.apiKey = key }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *HTTPClient) { r.client = c }
}

// NewHTTPClient creates a Responder talking to the service at baseURL.
// The caller's context deadline bounds each call; the client timeout is a
// backstop for connections without one.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	r := &HTTPClient{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type generateResponse struct {
	Text string `json:"text"`
}

func (r *HTTPClient) Generate(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("responder: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("responder: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("responder: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("responder: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("responder: api error (status %d): %s", resp.StatusCode, string(body))
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("responder: unmarshal response: %w", err)
	}
	if out.Text == "" {
		return "", fmt.Errorf("responder: empty generation")
	}
	return out.Text, nil
}
