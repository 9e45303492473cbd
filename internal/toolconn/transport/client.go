package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
)

// protocolVersion is advertised during the initialize handshake.
const protocolVersion = "2024-11-05"

// ToolDefinition is one callable tool as returned by tools/list.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// PromptDefinition is one named prompt as returned by prompts/list.
// Only providers that advertise the prompts capability serve it.
type PromptDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ContentBlock is a single content item in a tools/call result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type toolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

type promptsListResult struct {
	Prompts []PromptDefinition `json:"prompts"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type serverCapabilities struct {
	Tools   *struct{} `json:"tools,omitempty"`
	Prompts *struct{} `json:"prompts,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      serverInfo         `json:"serverInfo"`
	Capabilities    serverCapabilities `json:"capabilities"`
}

// Client speaks the provider protocol over a Transport: the initialize
// handshake, then tools/list, tools/call, and prompts/list. A Client is
// bound to one provider and is safe for concurrent use.
type Client struct {
	providerID string
	transport  Transport
	logger     *slog.Logger
	nextID     atomic.Int64

	// Set once by Connect, read-only afterwards.
	serverName      string
	serverVersion   string
	supportsPrompts bool
}

// NewClient wraps a transport for the given provider.
func NewClient(providerID string, tr Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		providerID: providerID,
		transport:  tr,
		logger:     logger.With("provider", providerID),
	}
}

// Connect performs the initialize handshake and records the provider's
// advertised capabilities.
func (c *Client) Connect(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "valet",
			"version": "1.0",
		},
	}

	resp, err := c.send(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("unmarshal initialize result: %w", err)
	}
	c.serverName = result.ServerInfo.Name
	c.serverVersion = result.ServerInfo.Version
	c.supportsPrompts = result.Capabilities.Prompts != nil

	c.logger.Info("tool provider initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
		"prompts", c.supportsPrompts,
	)

	if err := c.transport.Notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	return nil
}

// ListTools calls tools/list. The health loop relies on this hitting the
// provider every time, so results are not cached here.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	resp, err := c.send(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes one tool and flattens the content blocks to a string.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	resp, err := c.send(ctx, "tools/call", params)
	if err != nil {
		return "", fmt.Errorf("tools/call %s: %w", name, err)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("unmarshal tools/call result: %w", err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("tool %s returned error: %s", name, text)
	}
	return text, nil
}

// SupportsPrompts reports whether the provider advertised the prompts
// capability during the handshake. Valid after Connect.
func (c *Client) SupportsPrompts() bool {
	return c.supportsPrompts
}

// ListPrompts calls prompts/list. Callers check SupportsPrompts first.
func (c *Client) ListPrompts(ctx context.Context) ([]PromptDefinition, error) {
	resp, err := c.send(ctx, "prompts/list", nil)
	if err != nil {
		return nil, fmt.Errorf("prompts/list: %w", err)
	}

	var result promptsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal prompts/list result: %w", err)
	}
	return result.Prompts, nil
}

// ServerName returns the provider's self-reported name. Valid after Connect.
func (c *Client) ServerName() string {
	return c.serverName
}

// Close shuts down the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) send(ctx context.Context, method string, params any) (*Response, error) {
	req := NewRequest(c.nextID.Add(1), method, params)
	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}

// flattenContent joins text blocks; non-text blocks become inline markers.
func flattenContent(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}
