package tasks

import (
	"context"

	"valet/internal/domain/models/tasks"
)

// TaskRepository persists per-conversation task lists. The list is written
// as a unit: the in-memory cache is the concurrency-control boundary and
// always holds the authoritative ordering.
type TaskRepository interface {
	// ReplaceTasks atomically replaces the conversation's task list
	ReplaceTasks(ctx context.Context, conversationID string, list []tasks.Task) error

	// ListTasks retrieves the conversation's tasks in sort order
	ListTasks(ctx context.Context, conversationID string) ([]tasks.Task, error)
}
