package tasklist

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"valet/internal/domain"
	taskModels "valet/internal/domain/models/tasks"
	"valet/internal/flowctx"
	"valet/internal/repository/memory"
)

func newTestService(t *testing.T) (*Service, *memory.TaskStore) {
	t.Helper()
	store := memory.NewTaskStore()
	return NewService(store, slog.New(slog.DiscardHandler)), store
}

func TestSetListWritesThrough(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	list, err := svc.SetList(ctx, "conv-1", []string{"read the file", "fix the bug"})
	if err != nil {
		t.Fatalf("SetList: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d tasks, want 2", len(list))
	}
	if list[0].Status != taskModels.StatusPending || list[1].SortOrder != 1 {
		t.Errorf("unexpected tasks: %+v", list)
	}

	persisted, err := store.ListTasks(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 2 || persisted[0].Title != "read the file" {
		t.Errorf("repository not written through: %+v", persisted)
	}
}

func TestListWarmsCacheFromRepository(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTaskStore()
	seed := []taskModels.Task{
		{ID: "t1", ConversationID: "conv-1", Title: "seeded", Status: taskModels.StatusDone},
	}
	if err := store.ReplaceTasks(ctx, "conv-1", seed); err != nil {
		t.Fatal(err)
	}

	svc := NewService(store, slog.New(slog.DiscardHandler))
	list, err := svc.List(ctx, "conv-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Title != "seeded" {
		t.Fatalf("cache miss did not load from repository: %+v", list)
	}
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	list, err := svc.SetList(ctx, "conv-1", []string{"only task"})
	if err != nil {
		t.Fatal(err)
	}

	task, err := svc.UpdateStatus(ctx, "conv-1", list[0].ID, taskModels.StatusInProgress)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if task.Status != taskModels.StatusInProgress {
		t.Errorf("status = %q", task.Status)
	}

	persisted, _ := store.ListTasks(ctx, "conv-1")
	if persisted[0].Status != taskModels.StatusInProgress {
		t.Error("status change not written through")
	}

	if _, err := svc.UpdateStatus(ctx, "conv-1", "missing", taskModels.StatusDone); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing task error = %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "conv-1", list[0].ID, "abandoned"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad status error = %v", err)
	}
}

func TestClearDropsCacheAndRepository(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	if _, err := svc.SetList(ctx, "conv-1", []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Clear(ctx, "conv-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	list, _ := svc.List(ctx, "conv-1")
	if len(list) != 0 {
		t.Errorf("cache not cleared: %+v", list)
	}
	persisted, _ := store.ListTasks(ctx, "conv-1")
	if len(persisted) != 0 {
		t.Errorf("repository not cleared: %+v", persisted)
	}
}

func TestBrokerUsesFlowConversation(t *testing.T) {
	svc, _ := newTestService(t)
	broker := NewBroker(svc)
	ctx := flowctx.WithConversation(context.Background(), "conv-9")

	out, err := broker.CallTool(ctx, ProviderID, "set_tasks", map[string]any{
		"titles": []any{"step one", "step two"},
	})
	if err != nil {
		t.Fatalf("set_tasks: %v", err)
	}
	if !strings.Contains(out, "step one") || !strings.Contains(out, "2. [ ] step two") {
		t.Errorf("set_tasks output: %q", out)
	}

	list, _ := svc.List(ctx, "conv-9")
	out, err = broker.CallTool(ctx, ProviderID, "update_task", map[string]any{
		"task_id": list[0].ID,
		"status":  "done",
	})
	if err != nil {
		t.Fatalf("update_task: %v", err)
	}
	if !strings.Contains(out, "[x] step one") {
		t.Errorf("update_task output: %q", out)
	}
}

func TestBrokerRejectsMissingFlowContext(t *testing.T) {
	svc, _ := newTestService(t)
	broker := NewBroker(svc)

	if _, err := broker.CallTool(context.Background(), ProviderID, "list_tasks", nil); err == nil {
		t.Error("call without flow conversation succeeded")
	}

	ctx := flowctx.WithConversation(context.Background(), "conv-1")
	if _, err := broker.CallTool(ctx, ProviderID, "nonsense", nil); err == nil {
		t.Error("unknown tool accepted")
	}
	if _, err := broker.CallTool(ctx, "other", "list_tasks", nil); err == nil {
		t.Error("foreign provider accepted")
	}
}

func TestBrokerPublishesToolDefinitions(t *testing.T) {
	svc, _ := newTestService(t)
	broker := NewBroker(svc)

	tools := broker.ListAllTools(context.Background())
	defs, ok := tools[ProviderID]
	if !ok || len(defs) != 3 {
		t.Fatalf("tools = %+v", tools)
	}
}
