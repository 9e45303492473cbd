package toolconn

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
providers:
  - id: files
    kind: stdio
    command: /usr/local/bin/files-server
    args: ["--root", "/home"]
  - id: search
    kind: http
    url: https://tools.example.com/rpc
    headers:
      Authorization: Bearer xyz
`)

	providers, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("loaded %d providers, want 2", len(providers))
	}
	if providers[0].ID != "files" || providers[0].Command != "/usr/local/bin/files-server" {
		t.Errorf("first provider = %+v", providers[0])
	}
	if providers[1].Kind != KindHTTP || providers[1].Headers["Authorization"] != "Bearer xyz" {
		t.Errorf("second provider = %+v", providers[1])
	}
}

func TestLoadConfigFileRejectsInvalidProvider(t *testing.T) {
	path := writeConfigFile(t, `
providers:
  - id: broken
    kind: stdio
`)

	_, err := LoadConfigFile(path)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if cfgErr.ProviderID != "broken" {
		t.Errorf("ProviderID = %q", cfgErr.ProviderID)
	}
}

func TestProviderConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr bool
	}{
		{"valid stdio", ProviderConfig{ID: "a", Kind: KindStdio, Command: "/bin/a"}, false},
		{"valid http", ProviderConfig{ID: "b", Kind: KindHTTP, URL: "https://b"}, false},
		{"stdio without command", ProviderConfig{ID: "a", Kind: KindStdio}, true},
		{"http without url", ProviderConfig{ID: "b", Kind: KindHTTP}, true},
		{"missing id", ProviderConfig{Kind: KindHTTP, URL: "https://b"}, true},
		{"unknown kind", ProviderConfig{ID: "c", Kind: "grpc"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
