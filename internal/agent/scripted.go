package agent

import (
	"context"
	"fmt"
	"strings"

	chatModels "valet/internal/domain/models/chat"
	chatSvc "valet/internal/domain/services/chat"
)

// Scripted is a deterministic AgentRunner and Summarizer for development
// and tests. It never calls a model: it echoes the prompt back word by word
// so the streaming path can be exercised offline.
type Scripted struct{}

// RunStreaming emits a short canned reply derived from the request text.
func (Scripted) RunStreaming(ctx context.Context, req *chatSvc.RunRequest) (<-chan chatModels.StreamEvent, error) {
	events := make(chan chatModels.StreamEvent, 10)
	go func() {
		defer close(events)

		send := func(update chatModels.StreamUpdate) bool {
			select {
			case <-ctx.Done():
				return false
			case events <- chatModels.StreamEvent{Update: &update}:
				return true
			}
		}

		if req.UseThinking {
			if !send(chatModels.ThinkUpdate("Considering: " + req.Text)) {
				return
			}
		}
		if !send(chatModels.TextUpdate("You said: ")) {
			return
		}
		for _, word := range strings.Fields(req.Text) {
			if !send(chatModels.TextUpdate(word + " ")) {
				return
			}
		}
	}()
	return events, nil
}

// GenerateTitle truncates the first message to a few words.
func (Scripted) GenerateTitle(_ context.Context, firstMessage string) (string, error) {
	words := strings.Fields(firstMessage)
	if len(words) > 5 {
		words = words[:5]
	}
	if len(words) == 0 {
		return "New conversation", nil
	}
	return strings.Join(words, " "), nil
}

// Summarize produces a fixed-format summary mentioning the span size.
func (Scripted) Summarize(_ context.Context, previousSummary string, messages []chatModels.ChatMessage) (string, error) {
	if previousSummary != "" {
		return fmt.Sprintf("%s Then %d more messages.", previousSummary, len(messages)), nil
	}
	return fmt.Sprintf("Conversation of %d messages.", len(messages)), nil
}
