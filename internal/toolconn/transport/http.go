package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// HTTPConfig configures a network transport: each JSON-RPC message is an
// HTTP POST to the provider endpoint.
type HTTPConfig struct {
	URL string

	// Headers are sent with every request (Authorization and the like).
	Headers map[string]string

	Logger *slog.Logger
}

// HTTPTransport posts JSON-RPC messages to a remote provider. A session
// header returned by the provider is echoed back for session affinity.
type HTTPTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger

	mu        sync.RWMutex
	sessionID string
}

// NewHTTPTransport creates a network transport for the given endpoint.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

// Send posts the request and decodes the response body.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	body, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal provider response: %w", err)
	}
	return &resp, nil
}

// Notify posts the notification. The body is discarded.
func (t *HTTPTransport) Notify(ctx context.Context, notif *Notification) error {
	_, err := t.post(ctx, notif)
	return err
}

// Close is a no-op; the pooled HTTP client needs no teardown.
func (t *HTTPTransport) Close() error {
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	t.mu.RLock()
	if t.sessionID != "" {
		httpReq.Header.Set("Mcp-Session", t.sessionID)
	}
	t.mu.RUnlock()

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post to %s: %w", t.url, err)
	}
	defer httpResp.Body.Close()

	if sid := httpResp.Header.Get("Mcp-Session"); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("provider returned %d: %s", httpResp.StatusCode, string(body))
	}
	return body, nil
}
