package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"valet/internal/domain"
	chatModels "valet/internal/domain/models/chat"
	chatRepo "valet/internal/domain/repositories/chat"
	"valet/internal/repository/postgres"
)

// PostgresTurnRepository implements the TurnRepository interface using
// PostgreSQL
type PostgresTurnRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewTurnRepository creates a new PostgresTurnRepository
func NewTurnRepository(config *postgres.RepositoryConfig) chatRepo.TurnRepository {
	return &PostgresTurnRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// CreateTurn creates a new turn
func (r *PostgresTurnRepository) CreateTurn(ctx context.Context, turn *chatModels.ConversationTurn) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, is_thinking_mode, created_at)
		VALUES ($1, $2, $3, $4)
	`, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		turn.ID,
		turn.ConversationID,
		turn.IsThinkingMode,
		turn.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("create turn: %w", err)
	}

	return nil
}

// GetTurn retrieves a turn by ID
func (r *PostgresTurnRepository) GetTurn(ctx context.Context, turnID string) (*chatModels.ConversationTurn, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, is_thinking_mode, created_at
		FROM %s
		WHERE id = $1
	`, r.tables.Turns)

	var turn chatModels.ConversationTurn
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, turnID).Scan(
		&turn.ID,
		&turn.ConversationID,
		&turn.IsThinkingMode,
		&turn.CreatedAt,
	)

	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get turn: %w", err)
	}

	return &turn, nil
}

// ListTurns retrieves all turns for a conversation, oldest first
func (r *PostgresTurnRepository) ListTurns(ctx context.Context, conversationID string) ([]chatModels.ConversationTurn, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, is_thinking_mode, created_at
		FROM %s
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []chatModels.ConversationTurn
	for rows.Next() {
		var turn chatModels.ConversationTurn
		err := rows.Scan(
			&turn.ID,
			&turn.ConversationID,
			&turn.IsThinkingMode,
			&turn.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	if turns == nil {
		turns = []chatModels.ConversationTurn{}
	}

	return turns, nil
}

// DeleteTurnContent deletes a turn's assistant messages, tool calls, and
// think blocks. The turn row and its user messages survive.
func (r *PostgresTurnRepository) DeleteTurnContent(ctx context.Context, turnID string) error {
	executor := postgres.GetExecutor(ctx, r.pool)

	messagesQuery := fmt.Sprintf(`
		DELETE FROM %s WHERE turn_id = $1 AND role = $2
	`, r.tables.Messages)
	if _, err := executor.Exec(ctx, messagesQuery, turnID, chatModels.RoleAssistant); err != nil {
		return fmt.Errorf("delete turn assistant messages: %w", err)
	}

	toolCallsQuery := fmt.Sprintf(`
		DELETE FROM %s WHERE turn_id = $1
	`, r.tables.ToolCalls)
	if _, err := executor.Exec(ctx, toolCallsQuery, turnID); err != nil {
		return fmt.Errorf("delete turn tool calls: %w", err)
	}

	thinkBlocksQuery := fmt.Sprintf(`
		DELETE FROM %s WHERE turn_id = $1
	`, r.tables.ThinkBlocks)
	if _, err := executor.Exec(ctx, thinkBlocksQuery, turnID); err != nil {
		return fmt.Errorf("delete turn think blocks: %w", err)
	}

	return nil
}

// DeleteTurnsAfter deletes every turn of the conversation created strictly
// after the given time, together with all of their messages, tool calls,
// and think blocks.
func (r *PostgresTurnRepository) DeleteTurnsAfter(ctx context.Context, conversationID string, after time.Time) error {
	executor := postgres.GetExecutor(ctx, r.pool)

	laterTurns := fmt.Sprintf(`
		SELECT id FROM %s WHERE conversation_id = $1 AND created_at > $2
	`, r.tables.Turns)

	for _, table := range []string{r.tables.Messages, r.tables.ToolCalls, r.tables.ThinkBlocks} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE turn_id IN (%s)`, table, laterTurns)
		if _, err := executor.Exec(ctx, query, conversationID, after); err != nil {
			return fmt.Errorf("delete later turn rows from %s: %w", table, err)
		}
	}

	turnsQuery := fmt.Sprintf(`
		DELETE FROM %s WHERE conversation_id = $1 AND created_at > $2
	`, r.tables.Turns)
	if _, err := executor.Exec(ctx, turnsQuery, conversationID, after); err != nil {
		return fmt.Errorf("delete later turns: %w", err)
	}

	return nil
}
