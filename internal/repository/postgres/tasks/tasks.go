package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	taskModels "valet/internal/domain/models/tasks"
	taskRepo "valet/internal/domain/repositories/tasks"
	"valet/internal/repository/postgres"
)

// PostgresTaskRepository implements the TaskRepository interface using
// PostgreSQL
type PostgresTaskRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewTaskRepository creates a new PostgresTaskRepository
func NewTaskRepository(config *postgres.RepositoryConfig) taskRepo.TaskRepository {
	return &PostgresTaskRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// ReplaceTasks atomically replaces the conversation's task list. Callers
// wrap this in a transaction when the delete and inserts must be atomic;
// the task cache serializes writers either way.
func (r *PostgresTaskRepository) ReplaceTasks(ctx context.Context, conversationID string, list []taskModels.Task) error {
	executor := postgres.GetExecutor(ctx, r.pool)

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE conversation_id = $1`, r.tables.Tasks)
	if _, err := executor.Exec(ctx, deleteQuery, conversationID); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, title, status, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.tables.Tasks)

	for _, task := range list {
		_, err := executor.Exec(ctx, insertQuery,
			task.ID,
			conversationID,
			task.Title,
			task.Status,
			task.SortOrder,
			task.CreatedAt,
			task.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert task %s: %w", task.ID, err)
		}
	}

	return nil
}

// ListTasks retrieves the conversation's tasks in sort order
func (r *PostgresTaskRepository) ListTasks(ctx context.Context, conversationID string) ([]taskModels.Task, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, title, status, sort_order, created_at, updated_at
		FROM %s
		WHERE conversation_id = $1
		ORDER BY sort_order ASC
	`, r.tables.Tasks)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	list := []taskModels.Task{}
	for rows.Next() {
		var task taskModels.Task
		err := rows.Scan(
			&task.ID,
			&task.ConversationID,
			&task.Title,
			&task.Status,
			&task.SortOrder,
			&task.CreatedAt,
			&task.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		list = append(list, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return list, nil
}
