package chat

import (
	"strings"

	"valet/internal/domain/models/chat"
)

// AssembleSegments converts one turn's ordered stream updates into the
// segment list the repository persists. It is a pure function: the same
// update sequence always yields the same segments, however the stream was
// chunked.
//
// Boundary rules:
//   - consecutive Think updates accumulate into one think segment, flushed
//     before any Text or Tool update is processed
//   - consecutive Text updates accumulate into one text segment, flushed
//     before any Think or Tool update and at end of stream
//   - a result-only tool update (result set, arguments nil) merges into the
//     most recently emitted segment when that segment is a tool call,
//     otherwise it is dropped
//   - a tool update with neither name nor arguments is skipped
//   - at end of stream the think buffer flushes before the text buffer
//
// When useThinking is false all Think updates are discarded.
func AssembleSegments(updates []chat.StreamUpdate, useThinking bool) []chat.AssistantSegment {
	var segments []chat.AssistantSegment
	var thinkBuf, textBuf strings.Builder

	flushThink := func() {
		if thinkBuf.Len() > 0 {
			segments = append(segments, chat.ThinkSegment(thinkBuf.String()))
			thinkBuf.Reset()
		}
	}
	flushText := func() {
		if textBuf.Len() > 0 {
			segments = append(segments, chat.TextSegment(textBuf.String()))
			textBuf.Reset()
		}
	}

	for i := range updates {
		update := &updates[i]

		switch update.Kind {
		case chat.UpdateThink:
			if !useThinking {
				continue
			}
			flushText()
			thinkBuf.WriteString(update.Text)

		case chat.UpdateText:
			flushThink()
			textBuf.WriteString(update.Text)

		case chat.UpdateToolCall:
			flushThink()
			flushText()

			if update.IsResultOnly() {
				// Attach to the preceding tool call. If anything
				// else was emitted since, there is nothing to
				// attach to and the result is dropped.
				if n := len(segments); n > 0 && segments[n-1].IsTool() {
					segments[n-1].Result = update.Result
				}
				continue
			}

			if update.ToolName == "" && (update.Arguments == nil || *update.Arguments == "") {
				continue
			}
			segments = append(segments, chat.ToolSegment(update.ToolName, update.Arguments, update.Result))
		}
	}

	flushThink()
	flushText()

	return segments
}
