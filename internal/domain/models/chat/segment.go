package chat

// AssistantSegment is one unit of assembled assistant output: a text run, a
// think run, or a single tool call with its optional result. Segments are
// transient - the repository turns them into ChatMessage, ThinkBlock, and
// ToolCall rows when a turn completes.
type AssistantSegment struct {
	IsText    bool    `json:"is_text"`
	IsThink   bool    `json:"is_think"`
	Text      string  `json:"text"`
	ToolName  string  `json:"tool_name,omitempty"`
	Arguments *string `json:"arguments,omitempty"`
	Result    *string `json:"result,omitempty"`
}

// IsTool reports whether this segment is a tool-call segment.
func (s *AssistantSegment) IsTool() bool {
	return !s.IsText && !s.IsThink
}

// TextSegment builds a text segment.
func TextSegment(text string) AssistantSegment {
	return AssistantSegment{IsText: true, Text: text}
}

// ThinkSegment builds a reasoning segment.
func ThinkSegment(text string) AssistantSegment {
	return AssistantSegment{IsThink: true, Text: text}
}

// ToolSegment builds a tool-call segment.
func ToolSegment(name string, arguments, result *string) AssistantSegment {
	return AssistantSegment{ToolName: name, Arguments: arguments, Result: result}
}
