package skills

import (
	"testing"
)

func TestRegistryLoadsEmbeddedSkills(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if len(r.List()) == 0 {
		t.Fatal("no skills loaded")
	}

	s, ok := r.Get("concise")
	if !ok {
		t.Fatal("concise skill missing")
	}
	if s.Prompt == "" {
		t.Error("concise skill has empty prompt")
	}
}

func TestResolvePromptsSkipsUnknownIDs(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatal(err)
	}

	prompts := r.ResolvePrompts([]string{"concise", "deleted-skill", "code-review"})
	if len(prompts) != 2 {
		t.Fatalf("resolved %d prompts, want 2", len(prompts))
	}

	if got := r.ResolvePrompts(nil); got != nil {
		t.Errorf("nil ids resolved to %v", got)
	}
}
