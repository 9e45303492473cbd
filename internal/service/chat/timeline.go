package chat

import (
	"context"
	"fmt"

	chatModels "valet/internal/domain/models/chat"
	chatRepo "valet/internal/domain/repositories/chat"
)

// TimelineService is the read path: it loads persisted timelines and
// partitions them into display blocks, mirroring the write-path assembler's
// boundary rules.
type TimelineService struct {
	turns    chatRepo.TurnRepository
	timeline chatRepo.TimelineRepository
}

// NewTimelineService creates the read-path timeline service.
func NewTimelineService(turns chatRepo.TurnRepository, timeline chatRepo.TimelineRepository) *TimelineService {
	return &TimelineService{turns: turns, timeline: timeline}
}

// BuildDisplayBlocks returns the conversation's display blocks in timeline
// order. Conversations persisted before turn tracking have no turn rows; for
// those the raw-message bucket split is used instead.
func (s *TimelineService) BuildDisplayBlocks(ctx context.Context, conversationID string) ([]chatModels.DisplayBlock, error) {
	turns, err := s.turns.ListTurns(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}

	if len(turns) == 0 {
		items, err := s.timeline.GetConversationTimeline(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("load timeline: %w", err)
		}
		return SegmentRawMessages(items), nil
	}

	var blocks []chatModels.DisplayBlock
	for i := range turns {
		items, err := s.timeline.GetTurnTimeline(ctx, turns[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load turn %s timeline: %w", turns[i].ID, err)
		}
		blocks = append(blocks, SegmentTurnTimeline(items, turns[i].IsThinkingMode)...)
	}
	return blocks, nil
}
