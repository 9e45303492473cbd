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

// PostgresConversationRepository implements the ConversationRepository
// interface using PostgreSQL
type PostgresConversationRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewConversationRepository creates a new PostgresConversationRepository
func NewConversationRepository(config *postgres.RepositoryConfig) chatRepo.ConversationRepository {
	return &PostgresConversationRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// CreateConversation creates a new conversation
func (r *PostgresConversationRepository) CreateConversation(ctx context.Context, conversation *chatModels.Conversation) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_name, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.tables.Conversations)

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		conversation.ID,
		conversation.UserName,
		conversation.Title,
		conversation.CreatedAt,
		conversation.UpdatedAt,
	)

	if err != nil {
		if postgres.IsPgDuplicateError(err) {
			return fmt.Errorf("conversation %s: %w", conversation.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create conversation: %w", err)
	}

	return nil
}

// GetConversation retrieves a conversation by ID
func (r *PostgresConversationRepository) GetConversation(ctx context.Context, conversationID string) (*chatModels.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT id, user_name, title, created_at, updated_at, compressed_at, compressed_context
		FROM %s
		WHERE id = $1
	`, r.tables.Conversations)

	var conversation chatModels.Conversation
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, conversationID).Scan(
		&conversation.ID,
		&conversation.UserName,
		&conversation.Title,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
		&conversation.CompressedAt,
		&conversation.CompressedContext,
	)

	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	return &conversation, nil
}

// ListConversations retrieves all conversations for a user, newest first
func (r *PostgresConversationRepository) ListConversations(ctx context.Context, userName string) ([]chatModels.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT id, user_name, title, created_at, updated_at, compressed_at, compressed_context
		FROM %s
		WHERE user_name = $1
		ORDER BY updated_at DESC
	`, r.tables.Conversations)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, userName)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []chatModels.Conversation
	for rows.Next() {
		var conversation chatModels.Conversation
		err := rows.Scan(
			&conversation.ID,
			&conversation.UserName,
			&conversation.Title,
			&conversation.CreatedAt,
			&conversation.UpdatedAt,
			&conversation.CompressedAt,
			&conversation.CompressedContext,
		)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, conversation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	// Return empty slice instead of nil
	if conversations == nil {
		conversations = []chatModels.Conversation{}
	}

	return conversations, nil
}

// UpdateConversationTitle sets the conversation title
func (r *PostgresConversationRepository) UpdateConversationTitle(ctx context.Context, conversationID, title string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET title = $1, updated_at = $2
		WHERE id = $3
	`, r.tables.Conversations)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, title, time.Now().UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("update conversation title: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}

	return nil
}

// UpdateCompression stores the compressed context summary and the timestamp
// up to which messages are covered by it
func (r *PostgresConversationRepository) UpdateCompression(ctx context.Context, conversationID, summary string, compressedAt time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET compressed_context = $1, compressed_at = $2, updated_at = $3
		WHERE id = $4
	`, r.tables.Conversations)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, summary, compressedAt, time.Now().UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("update compression: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}

	return nil
}
