// Package tasklist manages the per-conversation task lists the agent keeps
// while working through multi-step requests. Lists live in a process-wide
// cache behind a single mutex; the repository is a write-through backing
// store and the cache is the concurrency-control boundary.
package tasklist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"valet/internal/domain"
	taskModels "valet/internal/domain/models/tasks"
	taskRepo "valet/internal/domain/repositories/tasks"
)

// Service is the task-list cache. The zero value is not usable; construct
// with NewService.
type Service struct {
	mu     sync.Mutex
	lists  map[string][]taskModels.Task
	repo   taskRepo.TaskRepository
	logger *slog.Logger
}

// NewService creates a task-list service. repo may be nil; the service then
// runs cache-only (dev and tests).
func NewService(repo taskRepo.TaskRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		lists:  make(map[string][]taskModels.Task),
		repo:   repo,
		logger: logger,
	}
}

// SetList replaces the conversation's task list with fresh pending tasks,
// one per title, in the given order.
func (s *Service) SetList(ctx context.Context, conversationID string, titles []string) ([]taskModels.Task, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}

	now := time.Now().UTC()
	list := make([]taskModels.Task, 0, len(titles))
	for i, title := range titles {
		list = append(list, taskModels.Task{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Title:          title,
			Status:         taskModels.StatusPending,
			SortOrder:      i,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persistLocked(ctx, conversationID, list); err != nil {
		return nil, err
	}
	s.lists[conversationID] = list
	return cloneTasks(list), nil
}

// List returns the conversation's tasks in order. A cache miss falls back
// to the repository and warms the cache.
func (s *Service) List(ctx context.Context, conversationID string) ([]taskModels.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if list, ok := s.lists[conversationID]; ok {
		return cloneTasks(list), nil
	}
	if s.repo == nil {
		return []taskModels.Task{}, nil
	}

	list, err := s.repo.ListTasks(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load tasks for %s: %w", conversationID, err)
	}
	s.lists[conversationID] = list
	return cloneTasks(list), nil
}

// UpdateStatus moves one task to a new status.
func (s *Service) UpdateStatus(ctx context.Context, conversationID, taskID, status string) (*taskModels.Task, error) {
	if !taskModels.ValidStatus(status) {
		return nil, fmt.Errorf("status %q: %w", status, domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[conversationID]
	idx := -1
	for i := range list {
		if list[i].ID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}

	updated := cloneTasks(list)
	updated[idx].Status = status
	updated[idx].UpdatedAt = time.Now().UTC()

	if err := s.persistLocked(ctx, conversationID, updated); err != nil {
		return nil, err
	}
	s.lists[conversationID] = updated

	task := updated[idx]
	return &task, nil
}

// Clear drops the conversation's task list.
func (s *Service) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persistLocked(ctx, conversationID, nil); err != nil {
		return err
	}
	delete(s.lists, conversationID)
	return nil
}

// persistLocked writes the list through to the repository. Called with the
// cache mutex held so writers stay serialized per process.
func (s *Service) persistLocked(ctx context.Context, conversationID string, list []taskModels.Task) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.ReplaceTasks(ctx, conversationID, list); err != nil {
		return fmt.Errorf("persist tasks for %s: %w", conversationID, err)
	}
	return nil
}

func cloneTasks(list []taskModels.Task) []taskModels.Task {
	out := make([]taskModels.Task, len(list))
	copy(out, list)
	return out
}
