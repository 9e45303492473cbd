package agent

import (
	"context"
	"strings"
	"testing"

	chatModels "valet/internal/domain/models/chat"
	chatSvc "valet/internal/domain/services/chat"
)

func testRunner(t *testing.T) *Runner {
	t.Helper()
	r, err := NewRunner(Config{APIKey: "test-key", Model: "test-model"}, nil, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func TestNewRunnerValidatesConfig(t *testing.T) {
	if _, err := NewRunner(Config{Model: "m"}, nil, nil); err == nil {
		t.Error("missing API key accepted")
	}
	if _, err := NewRunner(Config{APIKey: "k"}, nil, nil); err == nil {
		t.Error("missing model accepted")
	}
}

func TestBuildMessagesSkipsDuplicateCurrentPrompt(t *testing.T) {
	r := testRunner(t)

	req := &chatSvc.RunRequest{
		Text: "what next?",
		History: []chatModels.ChatMessage{
			{Role: chatModels.RoleUser, Content: "hello"},
			{Role: chatModels.RoleAssistant, Content: "hi there"},
			{Role: chatModels.RoleUser, Content: "what next?"},
		},
	}

	messages := r.buildMessages(req)
	if len(messages) != 3 {
		t.Fatalf("built %d messages, want 3", len(messages))
	}
}

func TestBuildMessagesAppendsPromptWhenHistoryLacksIt(t *testing.T) {
	r := testRunner(t)

	req := &chatSvc.RunRequest{
		Text: "fresh question",
		History: []chatModels.ChatMessage{
			{Role: chatModels.RoleUser, Content: "hello"},
			{Role: chatModels.RoleAssistant, Content: "hi there"},
		},
	}

	messages := r.buildMessages(req)
	if len(messages) != 3 {
		t.Fatalf("built %d messages, want 3", len(messages))
	}

	if got := r.buildMessages(&chatSvc.RunRequest{Text: "only"}); len(got) != 1 {
		t.Fatalf("empty history built %d messages, want 1", len(got))
	}
}

func TestBuildSystemIncludesSummaryAndSkills(t *testing.T) {
	r := testRunner(t)
	r.skills = staticSkills{"be brief", "cite sources"}

	blocks := r.buildSystem(&chatSvc.RunRequest{
		Summary:           "earlier we set up the repo",
		RequestedSkillIDs: []string{"concise", "research"},
	})

	if len(blocks) != 4 {
		t.Fatalf("built %d system blocks, want 4", len(blocks))
	}
	if !strings.Contains(blocks[1].Text, "earlier we set up the repo") {
		t.Errorf("summary block missing, got %q", blocks[1].Text)
	}
	if blocks[2].Text != "be brief" || blocks[3].Text != "cite sources" {
		t.Errorf("skill blocks wrong: %q, %q", blocks[2].Text, blocks[3].Text)
	}
}

func TestPromptTextRendersAttachments(t *testing.T) {
	got := promptText(&chatSvc.RunRequest{
		Text:          "summarize these",
		AttachedPaths: []string{"/tmp/a.txt", "/tmp/b.txt"},
	})
	if !strings.Contains(got, "summarize these") || !strings.Contains(got, "- /tmp/b.txt") {
		t.Errorf("prompt text missing parts: %q", got)
	}

	if got := promptText(&chatSvc.RunRequest{Text: "plain"}); got != "plain" {
		t.Errorf("plain prompt changed: %q", got)
	}
}

type staticSkills []string

func (s staticSkills) ResolvePrompts([]string) []string { return s }

func TestScriptedRunnerStreamsEcho(t *testing.T) {
	events, err := Scripted{}.RunStreaming(context.Background(), &chatSvc.RunRequest{
		Text:        "hello world",
		UseThinking: true,
	})
	if err != nil {
		t.Fatalf("RunStreaming: %v", err)
	}

	var text, think strings.Builder
	for event := range events {
		if event.Err != nil {
			t.Fatalf("stream error: %v", event.Err)
		}
		switch event.Update.Kind {
		case chatModels.UpdateText:
			text.WriteString(event.Update.Text)
		case chatModels.UpdateThink:
			think.WriteString(event.Update.Text)
		}
	}

	if got := strings.TrimSpace(text.String()); got != "You said: hello world" {
		t.Errorf("text = %q", got)
	}
	if think.Len() == 0 {
		t.Error("thinking requested but no think update arrived")
	}
}

func TestScriptedTitleAndSummary(t *testing.T) {
	title, err := Scripted{}.GenerateTitle(context.Background(), "please help me plan a long trip to norway")
	if err != nil {
		t.Fatal(err)
	}
	if title != "please help me plan a" {
		t.Errorf("title = %q", title)
	}

	summary, err := Scripted{}.Summarize(context.Background(), "Earlier stuff.", make([]chatModels.ChatMessage, 3))
	if err != nil {
		t.Fatal(err)
	}
	if summary != "Earlier stuff. Then 3 more messages." {
		t.Errorf("summary = %q", summary)
	}
}
