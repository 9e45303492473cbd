// Package toolconn maintains the set of remote tool-provider connections
// and exposes their aggregated callable tools. Each provider is driven
// through a small state machine with background health checks and an
// independent backoff task while reconnecting.
package toolconn

import (
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Provider transport kinds.
const (
	KindStdio = "stdio"
	KindHTTP  = "http"
)

// ProviderConfig describes one enabled tool provider.
type ProviderConfig struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"`

	// Stdio providers.
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`

	// HTTP providers.
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Validate rejects malformed configs before any connection attempt:
// stdio providers need a command, HTTP providers need a URL.
func (c ProviderConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.Kind, validation.Required, validation.In(KindStdio, KindHTTP)),
		validation.Field(&c.Command, validation.Required.When(c.Kind == KindStdio).Error("command is required for stdio providers")),
		validation.Field(&c.URL, validation.Required.When(c.Kind == KindHTTP).Error("url is required for http providers")),
	)
}

// ConfigError is the typed fail-fast error for a malformed provider
// config. It is returned before the provider enters the state machine.
type ConfigError struct {
	ProviderID string
	Err        error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %s: invalid config: %v", e.ProviderID, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type providerFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// LoadConfigFile reads provider configs from a YAML file. Every entry is
// validated; the first invalid one fails the load.
func LoadConfigFile(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider config: %w", err)
	}

	var file providerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse provider config: %w", err)
	}

	for _, p := range file.Providers {
		if err := p.Validate(); err != nil {
			return nil, &ConfigError{ProviderID: p.ID, Err: err}
		}
	}
	return file.Providers, nil
}
