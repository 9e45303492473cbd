package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"valet/internal/domain"
	chatModels "valet/internal/domain/models/chat"
	chatRepo "valet/internal/domain/repositories/chat"
)

// ConversationService handles conversation lifecycle outside of turns:
// creation, listing, and ownership-checked lookup.
type ConversationService struct {
	conversations chatRepo.ConversationRepository
	logger        *slog.Logger
}

// NewConversationService creates a conversation service.
func NewConversationService(conversations chatRepo.ConversationRepository, logger *slog.Logger) *ConversationService {
	return &ConversationService{conversations: conversations, logger: logger}
}

// CreateConversation creates an empty conversation for the user. The title
// stays empty until the first message triggers title generation.
func (s *ConversationService) CreateConversation(ctx context.Context, userName string) (*chatModels.Conversation, error) {
	if userName == "" {
		return nil, fmt.Errorf("user name is required: %w", domain.ErrValidation)
	}

	now := time.Now().UTC()
	conversation := &chatModels.Conversation{
		ID:        uuid.NewString(),
		UserName:  userName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.conversations.CreateConversation(ctx, conversation); err != nil {
		return nil, err
	}

	s.logger.Info("conversation created", "conversation_id", conversation.ID, "user", userName)
	return conversation, nil
}

// ListConversations retrieves the user's conversations, newest first.
func (s *ConversationService) ListConversations(ctx context.Context, userName string) ([]chatModels.Conversation, error) {
	return s.conversations.ListConversations(ctx, userName)
}

// GetConversation retrieves one conversation, verifying ownership. A
// conversation belonging to someone else reads as not found.
func (s *ConversationService) GetConversation(ctx context.Context, conversationID, userName string) (*chatModels.Conversation, error) {
	conversation, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.UserName != userName {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	return conversation, nil
}
