package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"valet/internal/toolconn/transport"
)

type mapBroker struct {
	tools map[string][]transport.ToolDefinition
	calls []string
}

func (b *mapBroker) ListAllTools(context.Context) map[string][]transport.ToolDefinition {
	return b.tools
}

func (b *mapBroker) CallTool(_ context.Context, providerID, name string, _ map[string]any) (string, error) {
	b.calls = append(b.calls, providerID+"/"+name)
	return fmt.Sprintf("%s result", name), nil
}

type localBroker struct {
	mapBroker
	id string
}

func (b *localBroker) ProviderID() string { return b.id }

func TestCompositeBrokerMergesAndRoutes(t *testing.T) {
	remote := &mapBroker{tools: map[string][]transport.ToolDefinition{
		"files": {{Name: "read"}},
	}}
	local := &localBroker{
		id: "tasks",
		mapBroker: mapBroker{tools: map[string][]transport.ToolDefinition{
			"tasks": {{Name: "set_tasks"}},
		}},
	}

	composite := NewCompositeBroker(remote, local)
	ctx := context.Background()

	tools := composite.ListAllTools(ctx)
	if len(tools) != 2 || len(tools["files"]) != 1 || len(tools["tasks"]) != 1 {
		t.Fatalf("merged tools = %+v", tools)
	}

	if _, err := composite.CallTool(ctx, "tasks", "set_tasks", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := composite.CallTool(ctx, "files", "read", nil); err != nil {
		t.Fatal(err)
	}
	if len(local.calls) != 1 || len(remote.calls) != 1 {
		t.Errorf("routing wrong: local=%v remote=%v", local.calls, remote.calls)
	}
}

func TestCompositeBrokerWithoutRemote(t *testing.T) {
	local := &localBroker{
		id: "tasks",
		mapBroker: mapBroker{tools: map[string][]transport.ToolDefinition{
			"tasks": {{Name: "list_tasks"}},
		}},
	}
	composite := NewCompositeBroker(nil, local)

	if _, err := composite.CallTool(context.Background(), "files", "read", nil); err == nil {
		t.Error("call to unowned provider succeeded")
	} else {
		var unknown *UnknownProviderError
		if !errors.As(err, &unknown) {
			t.Errorf("error = %v", err)
		}
	}
}
