package agent

import (
	"context"

	"valet/internal/toolconn/transport"
)

// LocalBroker is a ToolBroker that owns exactly one provider id, used for
// built-in tools served from inside the process.
type LocalBroker interface {
	ToolBroker
	ProviderID() string
}

// CompositeBroker merges the remote tool providers with built-in local
// brokers into one tool namespace. Local provider ids shadow remote ones.
type CompositeBroker struct {
	remote ToolBroker
	locals map[string]LocalBroker
}

// NewCompositeBroker combines a remote broker (may be nil) with local
// brokers.
func NewCompositeBroker(remote ToolBroker, locals ...LocalBroker) *CompositeBroker {
	c := &CompositeBroker{
		remote: remote,
		locals: make(map[string]LocalBroker, len(locals)),
	}
	for _, l := range locals {
		c.locals[l.ProviderID()] = l
	}
	return c
}

// ListAllTools returns every provider's tools, remote and local.
func (c *CompositeBroker) ListAllTools(ctx context.Context) map[string][]transport.ToolDefinition {
	merged := make(map[string][]transport.ToolDefinition)
	if c.remote != nil {
		for id, defs := range c.remote.ListAllTools(ctx) {
			merged[id] = defs
		}
	}
	for _, l := range c.locals {
		for id, defs := range l.ListAllTools(ctx) {
			merged[id] = defs
		}
	}
	return merged
}

// CallTool routes the call to the owning broker.
func (c *CompositeBroker) CallTool(ctx context.Context, providerID, name string, args map[string]any) (string, error) {
	if l, ok := c.locals[providerID]; ok {
		return l.CallTool(ctx, providerID, name, args)
	}
	if c.remote != nil {
		return c.remote.CallTool(ctx, providerID, name, args)
	}
	return "", &UnknownProviderError{ProviderID: providerID}
}

// UnknownProviderError reports a tool call against a provider no broker
// owns.
type UnknownProviderError struct {
	ProviderID string
}

func (e *UnknownProviderError) Error() string {
	return "unknown tool provider: " + e.ProviderID
}
