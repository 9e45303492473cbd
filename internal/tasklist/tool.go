package tasklist

import (
	"context"
	"fmt"
	"strings"

	taskModels "valet/internal/domain/models/tasks"
	"valet/internal/flowctx"
	"valet/internal/toolconn/transport"
)

// ProviderID is the synthetic provider id the task-list tools are published
// under in the agent's tool namespace.
const ProviderID = "tasks"

// Broker exposes the task-list service as built-in agent tools. The active
// conversation comes from the flow context, so the model never has to pass
// a conversation id itself.
type Broker struct {
	service *Service
}

// NewBroker creates the task-list tool broker.
func NewBroker(service *Service) *Broker {
	return &Broker{service: service}
}

// ProviderID returns the broker's fixed provider id.
func (b *Broker) ProviderID() string { return ProviderID }

// ListAllTools returns the task-list tool definitions under the synthetic
// provider id.
func (b *Broker) ListAllTools(ctx context.Context) map[string][]transport.ToolDefinition {
	return map[string][]transport.ToolDefinition{
		ProviderID: {
			{
				Name:        "set_tasks",
				Description: "Replace the task list for the current conversation with new pending tasks, in order.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"titles": map[string]any{
							"type":        "array",
							"items":       map[string]any{"type": "string"},
							"description": "Task titles, one per task, in execution order",
						},
					},
					"required": []any{"titles"},
				},
			},
			{
				Name:        "update_task",
				Description: "Set a task's status to pending, in_progress, or done.",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"task_id": map[string]any{"type": "string"},
						"status":  map[string]any{"type": "string", "enum": []any{"pending", "in_progress", "done"}},
					},
					"required": []any{"task_id", "status"},
				},
			},
			{
				Name:        "list_tasks",
				Description: "Show the current conversation's task list.",
				InputSchema: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
		},
	}
}

// CallTool executes one task-list tool.
func (b *Broker) CallTool(ctx context.Context, providerID, name string, args map[string]any) (string, error) {
	if providerID != ProviderID {
		return "", fmt.Errorf("unknown provider %q", providerID)
	}
	conversationID := flowctx.ConversationID(ctx)
	if conversationID == "" {
		return "", fmt.Errorf("no active conversation in flow context")
	}

	switch name {
	case "set_tasks":
		titles, err := stringSlice(args["titles"])
		if err != nil {
			return "", fmt.Errorf("titles: %w", err)
		}
		list, err := b.service.SetList(ctx, conversationID, titles)
		if err != nil {
			return "", err
		}
		return renderTasks(list), nil

	case "update_task":
		taskID, _ := args["task_id"].(string)
		status, _ := args["status"].(string)
		if _, err := b.service.UpdateStatus(ctx, conversationID, taskID, status); err != nil {
			return "", err
		}
		list, err := b.service.List(ctx, conversationID)
		if err != nil {
			return "", err
		}
		return renderTasks(list), nil

	case "list_tasks":
		list, err := b.service.List(ctx, conversationID)
		if err != nil {
			return "", err
		}
		return renderTasks(list), nil

	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

func stringSlice(v any) ([]string, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array of strings")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected an array of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

// renderTasks formats the list the way the model reads it back.
func renderTasks(list []taskModels.Task) string {
	if len(list) == 0 {
		return "The task list is empty."
	}
	var b strings.Builder
	for i, task := range list {
		mark := " "
		switch task.Status {
		case taskModels.StatusInProgress:
			mark = ">"
		case taskModels.StatusDone:
			mark = "x"
		}
		fmt.Fprintf(&b, "%d. [%s] %s (id: %s)\n", i+1, mark, task.Title, task.ID)
	}
	return b.String()
}
