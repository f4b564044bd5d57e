package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PastorStudio/geminiaicrm-sub003/pkg/protocol"
)

// HTTPClient implements Transport against a messaging gateway's REST API.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	token   string
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPClient) { t.client = c }
}

// WithToken sets the Bearer token for gateway auth.
func WithToken(token string) HTTPOption {
	return func(t *HTTPClient) { t.token = token }
}

// NewHTTPClient creates a Transport talking to the gateway at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	t := &HTTPClient{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HTTPClient) ListChats(ctx context.Context, accountID int64) ([]protocol.ChatSummary, error) {
	var chats []protocol.ChatSummary
	url := fmt.Sprintf("%s/accounts/%d/chats", t.baseURL, accountID)
	if err := t.getJSON(ctx, url, &chats); err != nil {
		return nil, fmt.Errorf("transport: list chats: %w", err)
	}
	return chats, nil
}

func (t *HTTPClient) ListMessages(ctx context.Context, accountID int64, chatID string) ([]protocol.InboundMessage, error) {
	var msgs []protocol.InboundMessage
	url := fmt.Sprintf("%s/accounts/%d/chats/%s/messages", t.baseURL, accountID, chatID)
	if err := t.getJSON(ctx, url, &msgs); err != nil {
		return nil, fmt.Errorf("transport: list messages: %w", err)
	}
	return msgs, nil
}

func (t *HTTPClient) Send(ctx context.Context, accountID int64, chatID, text string) error {
	payload, err := json.Marshal(map[string]string{"body": text})
	if err != nil {
		return fmt.Errorf("transport: marshal send: %w", err)
	}

	url := fmt.Sprintf("%s/accounts/%d/chats/%s/messages", t.baseURL, accountID, chatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("transport: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	t.auth(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("transport: send failed (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (t *HTTPClient) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	t.auth(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway error (status %d): %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (t *HTTPClient) auth(req *http.Request) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
}
