package chat

import (
	"context"

	"valet/internal/domain/models/chat"
)

// RunRequest carries one user prompt into the agent runner, together with
// the token-bounded history the model should see. Summary holds the
// conversation's compressed context, when one exists.
type RunRequest struct {
	ConversationID    string
	Text              string
	UseThinking       bool
	AttachedPaths     []string
	RequestedSkillIDs []string
	Summary           string
	History           []chat.ChatMessage
}

// AgentRunner drives one model turn. The stream is finite and not
// restartable: one RunStreaming call is one logical model turn.
type AgentRunner interface {
	// RunStreaming starts a model turn and returns its event stream. The
	// channel is closed when the turn ends; a StreamEvent with a non-nil
	// Err terminates the stream.
	RunStreaming(ctx context.Context, req *RunRequest) (<-chan chat.StreamEvent, error)

	// GenerateTitle produces a short conversation title from the first
	// user message
	GenerateTitle(ctx context.Context, firstMessage string) (string, error)
}

// Summarizer folds a span of conversation history into a short summary.
type Summarizer interface {
	Summarize(ctx context.Context, previousSummary string, messages []chat.ChatMessage) (string, error)
}

// StreamSink is a push consumer of stream updates, used to mirror agent
// output to a live UI. Headless callers pass a no-op sink.
type StreamSink interface {
	OnNext(update chat.StreamUpdate)
}

// NopSink discards every update.
type NopSink struct{}

func (NopSink) OnNext(chat.StreamUpdate) {}

// Tokenizer counts tokens in a string.
type Tokenizer interface {
	CountTokens(text string) int
}

// CompactionEvents receives observability notifications around
// conversation compaction. Implementations must not block.
type CompactionEvents interface {
	CompactionStarted(conversationID string)
	CompactionCompleted(conversationID string)
	CompactionFailed(conversationID string, err error)
}

// NopCompactionEvents ignores all notifications.
type NopCompactionEvents struct{}

func (NopCompactionEvents) CompactionStarted(string)       {}
func (NopCompactionEvents) CompactionCompleted(string)     {}
func (NopCompactionEvents) CompactionFailed(string, error) {}
