package chat

// Stream update kinds
const (
	UpdateText     = "text"
	UpdateThink    = "think"
	UpdateToolCall = "tool_call"
)

// StreamUpdate is one incremental event from the agent runner: a run of reply
// text, a run of reasoning text, or a tool call. Tool updates come in two
// phases: first the call (name + arguments), then optionally a result-only
// update that attaches to the call already emitted.
type StreamUpdate struct {
	Kind      string  `json:"kind"`
	Text      string  `json:"text,omitempty"`
	ToolName  string  `json:"tool_name,omitempty"`
	Arguments *string `json:"arguments,omitempty"`
	Result    *string `json:"result,omitempty"`
}

// TextUpdate builds a reply-text update.
func TextUpdate(text string) StreamUpdate {
	return StreamUpdate{Kind: UpdateText, Text: text}
}

// ThinkUpdate builds a reasoning-text update.
func ThinkUpdate(text string) StreamUpdate {
	return StreamUpdate{Kind: UpdateThink, Text: text}
}

// ToolCallUpdate builds a tool-call update.
func ToolCallUpdate(name string, arguments, result *string) StreamUpdate {
	return StreamUpdate{Kind: UpdateToolCall, ToolName: name, Arguments: arguments, Result: result}
}

// IsResultOnly reports whether this tool update carries only a result. A
// result-only update merges into the most recently emitted tool segment
// instead of starting a new one.
func (u *StreamUpdate) IsResultOnly() bool {
	return u.Kind == UpdateToolCall && u.Result != nil && u.Arguments == nil
}

// StreamEvent is one element of the agent runner's event stream: either an
// update or a terminal error.
type StreamEvent struct {
	Update *StreamUpdate
	Err    error
}
