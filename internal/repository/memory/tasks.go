package memory

import (
	"context"
	"sort"
	"sync"

	"valet/internal/domain/models/tasks"
)

// TaskStore is the in-memory TaskRepository.
type TaskStore struct {
	mu    sync.Mutex
	lists map[string][]tasks.Task
}

// NewTaskStore creates an empty in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{lists: make(map[string][]tasks.Task)}
}

// ReplaceTasks atomically replaces the conversation's task list.
func (s *TaskStore) ReplaceTasks(ctx context.Context, conversationID string, list []tasks.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := make([]tasks.Task, len(list))
	copy(clone, list)
	s.lists[conversationID] = clone
	return nil
}

// ListTasks retrieves the conversation's tasks in sort order.
func (s *TaskStore) ListTasks(ctx context.Context, conversationID string) ([]tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[conversationID]
	result := make([]tasks.Task, len(list))
	copy(result, list)
	sort.Slice(result, func(i, j int) bool {
		return result[i].SortOrder < result[j].SortOrder
	})
	return result, nil
}
