// Package skills holds the named system-prompt fragments a user can attach
// to a message. Skills are defined in YAML embedded at build time; a
// message's requested skill ids resolve to prompt fragments through the
// registry.
package skills

import (
	"embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed config/*.yaml
var configFiles embed.FS

// Skill is one named prompt fragment.
type Skill struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Prompt      string `yaml:"prompt"`
}

type skillFile struct {
	Skills []Skill `yaml:"skills"`
}

// Registry manages the skill set loaded from the embedded YAML files.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Skill
	sorted []Skill
}

// NewRegistry creates a registry and loads the embedded skill definitions.
func NewRegistry() (*Registry, error) {
	r := &Registry{byID: make(map[string]*Skill)}
	if err := r.loadFile("config/skills.yaml"); err != nil {
		return nil, fmt.Errorf("failed to load skills: %w", err)
	}
	return r, nil
}

func (r *Registry) loadFile(name string) error {
	data, err := configFiles.ReadFile(name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	var file skillFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range file.Skills {
		s := file.Skills[i]
		if s.ID == "" {
			return fmt.Errorf("skill %d in %s has no id", i, name)
		}
		if _, dup := r.byID[s.ID]; dup {
			return fmt.Errorf("duplicate skill id %q in %s", s.ID, name)
		}
		r.byID[s.ID] = &s
		r.sorted = append(r.sorted, s)
	}
	return nil
}

// Get returns the skill with the given id.
func (r *Registry) Get(id string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// List returns all skills in definition order.
func (r *Registry) List() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, len(r.sorted))
	copy(out, r.sorted)
	return out
}

// ResolvePrompts maps requested skill ids to their prompt fragments, in
// request order. Unknown ids are skipped; a stale id on an old message
// must not fail the whole turn.
func (r *Registry) ResolvePrompts(ids []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var prompts []string
	for _, id := range ids {
		if s, ok := r.byID[id]; ok {
			prompts = append(prompts, s.Prompt)
		}
	}
	return prompts
}
