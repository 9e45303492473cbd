package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"valet/internal/domain"
	chatModels "valet/internal/domain/models/chat"
	chatRepo "valet/internal/domain/repositories/chat"
	"valet/internal/repository/postgres"
)

// PostgresTimelineRepository implements the TimelineRepository interface
// using PostgreSQL
type PostgresTimelineRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewTimelineRepository creates a new PostgresTimelineRepository
func NewTimelineRepository(config *postgres.RepositoryConfig) chatRepo.TimelineRepository {
	return &PostgresTimelineRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// CreateMessage creates a single message row
func (r *PostgresTimelineRepository) CreateMessage(ctx context.Context, message *chatModels.ChatMessage) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, turn_id, role, content, created_at,
			replaced_by_message_id, is_edited, attached_paths, requested_skill_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		message.ID,
		message.ConversationID,
		message.TurnID,
		message.Role,
		message.Content,
		message.CreatedAt,
		message.ReplacedByMessageID,
		message.IsEdited,
		message.AttachedPaths,
		message.RequestedSkillIDs,
	)

	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	return nil
}

// GetMessage retrieves a message by ID
func (r *PostgresTimelineRepository) GetMessage(ctx context.Context, messageID string) (*chatModels.ChatMessage, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, turn_id, role, content, created_at,
			replaced_by_message_id, is_edited, attached_paths, requested_skill_ids
		FROM %s
		WHERE id = $1
	`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	message, err := scanMessage(executor.QueryRow(ctx, query, messageID))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get message: %w", err)
	}

	return message, nil
}

// GetLiveUserMessage retrieves the turn's live (non-replaced) user message
func (r *PostgresTimelineRepository) GetLiveUserMessage(ctx context.Context, turnID string) (*chatModels.ChatMessage, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, turn_id, role, content, created_at,
			replaced_by_message_id, is_edited, attached_paths, requested_skill_ids
		FROM %s
		WHERE turn_id = $1 AND role = $2 AND replaced_by_message_id IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	message, err := scanMessage(executor.QueryRow(ctx, query, turnID, chatModels.RoleUser))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("live user message for turn %s: %w", turnID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get live user message: %w", err)
	}

	return message, nil
}

// MarkMessageReplaced sets the replaced-by pointer on a user message
func (r *PostgresTimelineRepository) MarkMessageReplaced(ctx context.Context, messageID, replacedByMessageID string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET replaced_by_message_id = $1
		WHERE id = $2
	`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, replacedByMessageID, messageID)
	if err != nil {
		return fmt.Errorf("mark message replaced: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}

	return nil
}

// ListLiveMessages retrieves the conversation's live messages, oldest first
func (r *PostgresTimelineRepository) ListLiveMessages(ctx context.Context, conversationID string) ([]chatModels.ChatMessage, error) {
	return r.ListLiveMessagesSince(ctx, conversationID, nil)
}

// ListLiveMessagesSince retrieves live messages created strictly after the
// given time, oldest first. A nil since returns everything.
func (r *PostgresTimelineRepository) ListLiveMessagesSince(ctx context.Context, conversationID string, since *time.Time) ([]chatModels.ChatMessage, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, turn_id, role, content, created_at,
			replaced_by_message_id, is_edited, attached_paths, requested_skill_ids
		FROM %s
		WHERE conversation_id = $1
		  AND (role <> $2 OR replaced_by_message_id IS NULL)
	`, r.tables.Messages)
	args := []any{conversationID, chatModels.RoleUser}

	if since != nil {
		query += ` AND created_at > $3`
		args = append(args, *since)
	}
	query += ` ORDER BY created_at ASC`

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list live messages: %w", err)
	}
	defer rows.Close()

	var messages []chatModels.ChatMessage
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	if messages == nil {
		messages = []chatModels.ChatMessage{}
	}

	return messages, nil
}

// CreateAssistantContent persists one assistant-completion batch for a turn.
// Each row gets createdAt = base + i*1ms in segment order so that timeline
// sorting reproduces emission order even at coarse clock resolution.
func (r *PostgresTimelineRepository) CreateAssistantContent(ctx context.Context, conversationID, turnID string, segments []chatModels.AssistantSegment, base time.Time) error {
	executor := postgres.GetExecutor(ctx, r.pool)

	messageQuery := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, turn_id, role, content, created_at, is_edited)
		VALUES ($1, $2, $3, $4, $5, $6, false)
	`, r.tables.Messages)
	toolCallQuery := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, turn_id, tool_name, arguments, result, sort_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.tables.ToolCalls)
	thinkBlockQuery := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, turn_id, content, sort_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.tables.ThinkBlocks)

	toolOrder := 0
	thinkOrder := 0
	for i, segment := range segments {
		createdAt := base.Add(time.Duration(i) * time.Millisecond)

		switch {
		case segment.IsText:
			_, err := executor.Exec(ctx, messageQuery,
				uuid.NewString(), conversationID, turnID,
				chatModels.RoleAssistant, segment.Text, createdAt,
			)
			if err != nil {
				return fmt.Errorf("insert assistant message: %w", err)
			}
		case segment.IsThink:
			_, err := executor.Exec(ctx, thinkBlockQuery,
				uuid.NewString(), conversationID, turnID,
				segment.Text, thinkOrder, createdAt,
			)
			if err != nil {
				return fmt.Errorf("insert think block: %w", err)
			}
			thinkOrder++
		default:
			_, err := executor.Exec(ctx, toolCallQuery,
				uuid.NewString(), conversationID, turnID,
				segment.ToolName, segment.Arguments, segment.Result, toolOrder, createdAt,
			)
			if err != nil {
				return fmt.Errorf("insert tool call: %w", err)
			}
			toolOrder++
		}
	}

	return nil
}

// GetTurnTimeline retrieves a turn's messages, tool calls, and think blocks
// as one timeline, ordered by creation time
func (r *PostgresTimelineRepository) GetTurnTimeline(ctx context.Context, turnID string) ([]chatModels.TimelineItem, error) {
	items, err := r.loadTimeline(ctx, "turn_id", turnID, false)
	if err != nil {
		return nil, fmt.Errorf("turn %s timeline: %w", turnID, err)
	}
	return items, nil
}

// GetConversationTimeline retrieves the whole conversation's timeline (live
// messages only), ordered by creation time
func (r *PostgresTimelineRepository) GetConversationTimeline(ctx context.Context, conversationID string) ([]chatModels.TimelineItem, error) {
	items, err := r.loadTimeline(ctx, "conversation_id", conversationID, true)
	if err != nil {
		return nil, fmt.Errorf("conversation %s timeline: %w", conversationID, err)
	}
	return items, nil
}

// loadTimeline collects the three row kinds scoped by the given column and
// merges them in creation order.
func (r *PostgresTimelineRepository) loadTimeline(ctx context.Context, column, id string, liveOnly bool) ([]chatModels.TimelineItem, error) {
	executor := postgres.GetExecutor(ctx, r.pool)
	var items []chatModels.TimelineItem

	messageQuery := fmt.Sprintf(`
		SELECT id, conversation_id, turn_id, role, content, created_at,
			replaced_by_message_id, is_edited, attached_paths, requested_skill_ids
		FROM %s
		WHERE %s = $1
	`, r.tables.Messages, column)
	if liveOnly {
		messageQuery += fmt.Sprintf(` AND (role <> '%s' OR replaced_by_message_id IS NULL)`, chatModels.RoleUser)
	}

	rows, err := executor.Query(ctx, messageQuery, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, chatModels.TimelineItem{Message: message})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	toolCallQuery := fmt.Sprintf(`
		SELECT id, conversation_id, turn_id, tool_name, arguments, result, sort_order, created_at
		FROM %s
		WHERE %s = $1
	`, r.tables.ToolCalls, column)

	rows, err = executor.Query(ctx, toolCallQuery, id)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	for rows.Next() {
		var call chatModels.ToolCall
		err := rows.Scan(
			&call.ID,
			&call.ConversationID,
			&call.TurnID,
			&call.ToolName,
			&call.Arguments,
			&call.Result,
			&call.SortOrder,
			&call.CreatedAt,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		items = append(items, chatModels.TimelineItem{ToolCall: &call})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool calls: %w", err)
	}

	thinkBlockQuery := fmt.Sprintf(`
		SELECT id, conversation_id, turn_id, content, sort_order, created_at
		FROM %s
		WHERE %s = $1
	`, r.tables.ThinkBlocks, column)

	rows, err = executor.Query(ctx, thinkBlockQuery, id)
	if err != nil {
		return nil, fmt.Errorf("query think blocks: %w", err)
	}
	for rows.Next() {
		var block chatModels.ThinkBlock
		err := rows.Scan(
			&block.ID,
			&block.ConversationID,
			&block.TurnID,
			&block.Content,
			&block.SortOrder,
			&block.CreatedAt,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan think block: %w", err)
		}
		items = append(items, chatModels.TimelineItem{ThinkBlock: &block})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate think blocks: %w", err)
	}

	chatModels.SortTimeline(items)
	return items, nil
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*chatModels.ChatMessage, error) {
	var message chatModels.ChatMessage
	err := row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.TurnID,
		&message.Role,
		&message.Content,
		&message.CreatedAt,
		&message.ReplacedByMessageID,
		&message.IsEdited,
		&message.AttachedPaths,
		&message.RequestedSkillIDs,
	)
	if err != nil {
		return nil, err
	}
	return &message, nil
}
