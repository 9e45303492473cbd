// Package agent adapts the Anthropic Messages API to the orchestrator's
// AgentRunner and Summarizer interfaces. One RunStreaming call drives one
// logical model turn, including any tool-use rounds against the connected
// tool providers.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	chatModels "valet/internal/domain/models/chat"
	chatSvc "valet/internal/domain/services/chat"
	"valet/internal/toolconn/transport"
)

const (
	// maxToolRounds bounds the tool-use loop within one logical turn.
	maxToolRounds = 8

	defaultMaxTokens     = 4096
	thinkingBudgetTokens = 2048

	// toolNameSep joins provider id and tool name into the flat tool
	// namespace the model sees.
	toolNameSep = "__"
)

const systemPrompt = `You are Valet, a personal assistant. You help with everyday tasks:
answering questions, working with files, planning, and using the connected
tools on the user's behalf. Be direct and concrete.`

// ToolBroker is the slice of the tool-connection manager the runner needs.
type ToolBroker interface {
	ListAllTools(ctx context.Context) map[string][]transport.ToolDefinition
	CallTool(ctx context.Context, providerID, name string, args map[string]any) (string, error)
}

// SkillResolver maps requested skill ids to system-prompt fragments.
type SkillResolver interface {
	ResolvePrompts(ids []string) []string
}

// Config holds the runner's model settings.
type Config struct {
	APIKey     string
	Model      string
	TitleModel string
	MaxTokens  int
	Logger     *slog.Logger
}

// Runner implements AgentRunner and Summarizer on the Anthropic API.
type Runner struct {
	client     *anthropic.Client
	tools      ToolBroker
	skills     SkillResolver
	model      string
	titleModel string
	maxTokens  int64
	logger     *slog.Logger
}

// NewRunner creates an Anthropic-backed agent runner. tools and skills may
// be nil; the runner then works without tool use or skill prompts.
func NewRunner(cfg Config, tools ToolBroker, skills SkillResolver) (*Runner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.TitleModel == "" {
		cfg.TitleModel = cfg.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Runner{
		client:     &client,
		tools:      tools,
		skills:     skills,
		model:      cfg.Model,
		titleModel: cfg.TitleModel,
		maxTokens:  int64(cfg.MaxTokens),
		logger:     cfg.Logger,
	}, nil
}

// RunStreaming starts one model turn and returns its event stream.
func (r *Runner) RunStreaming(ctx context.Context, req *chatSvc.RunRequest) (<-chan chatModels.StreamEvent, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		Messages:  r.buildMessages(req),
		MaxTokens: r.maxTokens,
		System:    r.buildSystem(req),
	}
	if req.UseThinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(thinkingBudgetTokens)
	}
	if r.tools != nil {
		params.Tools = r.buildTools(ctx)
	}

	// Buffered so the API reader is not lockstepped to the consumer.
	events := make(chan chatModels.StreamEvent, 10)
	go r.run(ctx, params, events)
	return events, nil
}

// run drives the tool-use loop: stream a model response, execute any tool
// calls, feed the results back, repeat until the model stops on its own.
func (r *Runner) run(ctx context.Context, params anthropic.MessageNewParams, events chan<- chatModels.StreamEvent) {
	defer close(events)

	for round := 0; round < maxToolRounds; round++ {
		message, ok := r.streamOnce(ctx, params, events)
		if !ok {
			return
		}
		if string(message.StopReason) != "tool_use" {
			return
		}

		params.Messages = append(params.Messages, message.ToParam())

		var results []anthropic.ContentBlockParamUnion
		for _, block := range message.Content {
			if block.Type != "tool_use" {
				continue
			}

			name := block.Name
			args := string(block.Input)
			update := chatModels.ToolCallUpdate(name, &args, nil)
			if !r.send(ctx, events, chatModels.StreamEvent{Update: &update}) {
				return
			}

			output, err := r.execTool(ctx, name, block.Input)
			isError := err != nil
			if err != nil {
				output = err.Error()
			}
			resultUpdate := chatModels.ToolCallUpdate("", nil, &output)
			if !r.send(ctx, events, chatModels.StreamEvent{Update: &resultUpdate}) {
				return
			}

			results = append(results, anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: block.ID,
					IsError:   anthropic.Bool(isError),
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: output}},
					},
				},
			})
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(results...))
	}

	r.send(ctx, events, chatModels.StreamEvent{
		Err: fmt.Errorf("model did not finish within %d tool rounds", maxToolRounds),
	})
}

// streamOnce consumes one Messages API stream, forwarding text and thinking
// deltas as updates. Tool-use blocks are not emitted here; the caller pairs
// each call with its result after execution.
func (r *Runner) streamOnce(ctx context.Context, params anthropic.MessageNewParams, events chan<- chatModels.StreamEvent) (*anthropic.Message, bool) {
	stream := r.client.Messages.NewStreaming(ctx, params)

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			r.send(ctx, events, chatModels.StreamEvent{Err: fmt.Errorf("accumulate message: %w", err)})
			return nil, false
		}

		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		var update chatModels.StreamUpdate
		switch delta.Delta.Type {
		case "text_delta":
			update = chatModels.TextUpdate(delta.Delta.Text)
		case "thinking_delta":
			update = chatModels.ThinkUpdate(delta.Delta.Thinking)
		default:
			continue
		}
		if !r.send(ctx, events, chatModels.StreamEvent{Update: &update}) {
			return nil, false
		}
	}

	if err := stream.Err(); err != nil {
		r.send(ctx, events, chatModels.StreamEvent{Err: fmt.Errorf("anthropic stream: %w", err)})
		return nil, false
	}
	return &message, true
}

// execTool routes one flat-namespaced tool call to its provider.
func (r *Runner) execTool(ctx context.Context, name string, input json.RawMessage) (string, error) {
	providerID, toolName, found := strings.Cut(name, toolNameSep)
	if !found {
		return "", fmt.Errorf("tool %q has no provider prefix", name)
	}

	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("parse arguments for %s: %w", name, err)
		}
	}

	r.logger.Debug("executing tool", "provider", providerID, "tool", toolName)
	return r.tools.CallTool(ctx, providerID, toolName, args)
}

// GenerateTitle produces a short conversation title from the first message.
func (r *Runner) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	prompt := fmt.Sprintf(
		"Write a title of at most five words for a conversation that starts with this message. Reply with the title only.\n\n%s",
		firstMessage,
	)

	message, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.titleModel),
		MaxTokens: 64,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}

	return strings.TrimSpace(firstText(message)), nil
}

// Summarize folds the given messages into the previous summary.
func (r *Runner) Summarize(ctx context.Context, previousSummary string, messages []chatModels.ChatMessage) (string, error) {
	var b strings.Builder
	b.WriteString("Summarize this conversation for use as compressed context in later turns. ")
	b.WriteString("Keep decisions, facts, names, and open items; drop pleasantries. Reply with the summary only.\n")
	if previousSummary != "" {
		b.WriteString("\nSummary of the earlier conversation:\n")
		b.WriteString(previousSummary)
		b.WriteString("\n")
	}
	b.WriteString("\nMessages:\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	message, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize conversation: %w", err)
	}

	summary := strings.TrimSpace(firstText(message))
	if summary == "" {
		return "", fmt.Errorf("summarizer returned empty text")
	}
	return summary, nil
}

// buildSystem assembles the system prompt: base prompt, compressed summary,
// then any requested skill fragments.
func (r *Runner) buildSystem(req *chatSvc.RunRequest) []anthropic.TextBlockParam {
	blocks := []anthropic.TextBlockParam{{Text: systemPrompt}}

	if req.Summary != "" {
		blocks = append(blocks, anthropic.TextBlockParam{
			Text: "Summary of the conversation so far:\n" + req.Summary,
		})
	}
	if r.skills != nil {
		for _, prompt := range r.skills.ResolvePrompts(req.RequestedSkillIDs) {
			blocks = append(blocks, anthropic.TextBlockParam{Text: prompt})
		}
	}
	return blocks
}

// buildMessages converts the trimmed history into API messages. The current
// user prompt is already the last live history message when the orchestrator
// calls in; it is appended only when missing (headless callers).
func (r *Runner) buildMessages(req *chatSvc.RunRequest) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, m := range req.History {
		switch m.Role {
		case chatModels.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case chatModels.RoleAssistant:
			if m.Content != "" {
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}

	last := len(req.History) - 1
	if last < 0 || req.History[last].Role != chatModels.RoleUser || req.History[last].Content != req.Text {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(promptText(req))))
	}
	return messages
}

// buildTools flattens every connected provider's tools into the model's
// tool namespace, prefixing each name with its provider id.
func (r *Runner) buildTools(ctx context.Context) []anthropic.ToolUnionParam {
	var tools []anthropic.ToolUnionParam
	for providerID, defs := range r.tools.ListAllTools(ctx) {
		for _, def := range defs {
			schema := anthropic.ToolInputSchemaParam{}
			if props, ok := def.InputSchema["properties"]; ok {
				schema.Properties = props
			}
			if req, ok := def.InputSchema["required"].([]any); ok {
				for _, f := range req {
					if s, ok := f.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}

			tools = append(tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        providerID + toolNameSep + def.Name,
					Description: anthropic.String(def.Description),
					InputSchema: schema,
				},
			})
		}
	}
	return tools
}

// send delivers one event unless the consumer is gone.
func (r *Runner) send(ctx context.Context, events chan<- chatModels.StreamEvent, event chatModels.StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- event:
		return true
	}
}

// promptText renders the user prompt with any attached file paths.
func promptText(req *chatSvc.RunRequest) string {
	if len(req.AttachedPaths) == 0 {
		return req.Text
	}
	var b strings.Builder
	b.WriteString(req.Text)
	b.WriteString("\n\nAttached files:")
	for _, p := range req.AttachedPaths {
		b.WriteString("\n- ")
		b.WriteString(p)
	}
	return b.String()
}

// firstText returns the first text block of a response message.
func firstText(message *anthropic.Message) string {
	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}
