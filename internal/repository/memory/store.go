// Package memory provides an in-memory implementation of the chat
// repositories. It backs tests and headless development runs; the postgres
// package is the durable implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"valet/internal/domain"
	"valet/internal/domain/models/chat"
)

// Store holds all chat rows in process memory behind one mutex. It
// implements ConversationRepository, TurnRepository, and
// TimelineRepository.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*chat.Conversation
	turns         map[string]*chat.ConversationTurn
	messages      map[string]*chat.ChatMessage
	toolCalls     map[string]*chat.ToolCall
	thinkBlocks   map[string]*chat.ThinkBlock
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*chat.Conversation),
		turns:         make(map[string]*chat.ConversationTurn),
		messages:      make(map[string]*chat.ChatMessage),
		toolCalls:     make(map[string]*chat.ToolCall),
		thinkBlocks:   make(map[string]*chat.ThinkBlock),
	}
}

// CreateConversation creates a new conversation.
func (s *Store) CreateConversation(ctx context.Context, conversation *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conversation.ID]; exists {
		return fmt.Errorf("conversation %s: %w", conversation.ID, domain.ErrConflict)
	}
	clone := *conversation
	s.conversations[conversation.ID] = &clone
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	clone := *conversation
	return &clone, nil
}

// ListConversations retrieves a user's conversations, newest first.
func (s *Store) ListConversations(ctx context.Context, userName string) ([]chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []chat.Conversation
	for _, conversation := range s.conversations {
		if conversation.UserName == userName {
			result = append(result, *conversation)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateConversationTitle sets the conversation title.
func (s *Store) UpdateConversationTitle(ctx context.Context, conversationID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	conversation.Title = title
	conversation.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateCompression stores the compression summary and mark.
func (s *Store) UpdateCompression(ctx context.Context, conversationID, summary string, compressedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	conversation.CompressedContext = &summary
	at := compressedAt
	conversation.CompressedAt = &at
	conversation.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateTurn creates a new turn.
func (s *Store) CreateTurn(ctx context.Context, turn *chat.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.turns[turn.ID]; exists {
		return fmt.Errorf("turn %s: %w", turn.ID, domain.ErrConflict)
	}
	clone := *turn
	s.turns[turn.ID] = &clone
	return nil
}

// GetTurn retrieves a turn by ID.
func (s *Store) GetTurn(ctx context.Context, turnID string) (*chat.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn, ok := s.turns[turnID]
	if !ok {
		return nil, fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
	}
	clone := *turn
	return &clone, nil
}

// ListTurns retrieves a conversation's turns, oldest first.
func (s *Store) ListTurns(ctx context.Context, conversationID string) ([]chat.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []chat.ConversationTurn
	for _, turn := range s.turns {
		if turn.ConversationID == conversationID {
			result = append(result, *turn)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteTurnContent deletes a turn's assistant messages, tool calls, and
// think blocks. The turn row and user messages survive.
func (s *Store) DeleteTurnContent(ctx context.Context, turnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteTurnContentLocked(turnID)
	return nil
}

// DeleteTurnsAfter deletes every turn created strictly after the given
// time, with all of their rows.
func (s *Store) DeleteTurnsAfter(ctx context.Context, conversationID string, after time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, turn := range s.turns {
		if turn.ConversationID != conversationID || !turn.CreatedAt.After(after) {
			continue
		}
		s.deleteTurnContentLocked(id)
		for msgID, message := range s.messages {
			if message.TurnID == id {
				delete(s.messages, msgID)
			}
		}
		delete(s.turns, id)
	}
	return nil
}

func (s *Store) deleteTurnContentLocked(turnID string) {
	for id, message := range s.messages {
		if message.TurnID == turnID && message.Role == chat.RoleAssistant {
			delete(s.messages, id)
		}
	}
	for id, call := range s.toolCalls {
		if call.TurnID == turnID {
			delete(s.toolCalls, id)
		}
	}
	for id, block := range s.thinkBlocks {
		if block.TurnID == turnID {
			delete(s.thinkBlocks, id)
		}
	}
}

// CreateMessage creates a single message row.
func (s *Store) CreateMessage(ctx context.Context, message *chat.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[message.ID]; exists {
		return fmt.Errorf("message %s: %w", message.ID, domain.ErrConflict)
	}
	clone := *message
	s.messages[message.ID] = &clone
	return nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*chat.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	clone := *message
	return &clone, nil
}

// GetLiveUserMessage retrieves the turn's live user message.
func (s *Store) GetLiveUserMessage(ctx context.Context, turnID string) (*chat.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, message := range s.messages {
		if message.TurnID == turnID && message.Role == chat.RoleUser && message.ReplacedByMessageID == nil {
			clone := *message
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("live user message for turn %s: %w", turnID, domain.ErrNotFound)
}

// MarkMessageReplaced sets the replaced-by pointer on a user message.
func (s *Store) MarkMessageReplaced(ctx context.Context, messageID, replacedByMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	message.ReplacedByMessageID = &replacedByMessageID
	return nil
}

// ListLiveMessages retrieves the conversation's live messages, oldest first.
func (s *Store) ListLiveMessages(ctx context.Context, conversationID string) ([]chat.ChatMessage, error) {
	return s.ListLiveMessagesSince(ctx, conversationID, nil)
}

// ListLiveMessagesSince retrieves live messages created strictly after the
// given time, oldest first.
func (s *Store) ListLiveMessagesSince(ctx context.Context, conversationID string, since *time.Time) ([]chat.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []chat.ChatMessage
	for _, message := range s.messages {
		if message.ConversationID != conversationID {
			continue
		}
		if message.Role == chat.RoleUser && message.ReplacedByMessageID != nil {
			continue
		}
		if since != nil && !message.CreatedAt.After(*since) {
			continue
		}
		result = append(result, *message)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CreateAssistantContent persists one assistant-completion batch. Rows get
// createdAt = base + i*1ms in segment order; tool calls and think blocks
// get per-kind monotonic sort orders starting at 0.
func (s *Store) CreateAssistantContent(ctx context.Context, conversationID, turnID string, segments []chat.AssistantSegment, base time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	toolOrder := 0
	thinkOrder := 0
	for i, segment := range segments {
		createdAt := base.Add(time.Duration(i) * time.Millisecond)
		switch {
		case segment.IsText:
			id := uuid.NewString()
			s.messages[id] = &chat.ChatMessage{
				ID:             id,
				ConversationID: conversationID,
				TurnID:         turnID,
				Role:           chat.RoleAssistant,
				Content:        segment.Text,
				CreatedAt:      createdAt,
			}
		case segment.IsThink:
			id := uuid.NewString()
			s.thinkBlocks[id] = &chat.ThinkBlock{
				ID:             id,
				ConversationID: conversationID,
				TurnID:         turnID,
				Content:        segment.Text,
				SortOrder:      thinkOrder,
				CreatedAt:      createdAt,
			}
			thinkOrder++
		default:
			id := uuid.NewString()
			s.toolCalls[id] = &chat.ToolCall{
				ID:             id,
				ConversationID: conversationID,
				TurnID:         turnID,
				ToolName:       segment.ToolName,
				Arguments:      segment.Arguments,
				Result:         segment.Result,
				SortOrder:      toolOrder,
				CreatedAt:      createdAt,
			}
			toolOrder++
		}
	}
	return nil
}

// GetTurnTimeline retrieves a turn's timeline ordered by creation time.
func (s *Store) GetTurnTimeline(ctx context.Context, turnID string) ([]chat.TimelineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []chat.TimelineItem
	for _, message := range s.messages {
		if message.TurnID == turnID {
			clone := *message
			items = append(items, chat.TimelineItem{Message: &clone})
		}
	}
	for _, call := range s.toolCalls {
		if call.TurnID == turnID {
			clone := *call
			items = append(items, chat.TimelineItem{ToolCall: &clone})
		}
	}
	for _, block := range s.thinkBlocks {
		if block.TurnID == turnID {
			clone := *block
			items = append(items, chat.TimelineItem{ThinkBlock: &clone})
		}
	}
	chat.SortTimeline(items)
	return items, nil
}

// GetConversationTimeline retrieves the conversation's timeline (live
// messages only) ordered by creation time.
func (s *Store) GetConversationTimeline(ctx context.Context, conversationID string) ([]chat.TimelineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []chat.TimelineItem
	for _, message := range s.messages {
		if message.ConversationID != conversationID {
			continue
		}
		if message.Role == chat.RoleUser && message.ReplacedByMessageID != nil {
			continue
		}
		clone := *message
		items = append(items, chat.TimelineItem{Message: &clone})
	}
	for _, call := range s.toolCalls {
		if call.ConversationID == conversationID {
			clone := *call
			items = append(items, chat.TimelineItem{ToolCall: &clone})
		}
	}
	for _, block := range s.thinkBlocks {
		if block.ConversationID == conversationID {
			clone := *block
			items = append(items, chat.TimelineItem{ThinkBlock: &clone})
		}
	}
	chat.SortTimeline(items)
	return items, nil
}
