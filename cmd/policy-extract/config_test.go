package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy-extract.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
input_dir: ./docs
output_dir: ./out
insurer: reliance
credentials:
  - key-one
  - key-two
cooldown_seconds: 90
max_attempts: 5
attempt_timeout_seconds: 30
concurrency: 4
gemini:
  model: gemini-2.5-pro
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.InputDir != "./docs" {
		t.Errorf("InputDir = %q, want ./docs", cfg.InputDir)
	}
	if cfg.Cooldown() != 90*time.Second {
		t.Errorf("Cooldown() = %v, want 90s", cfg.Cooldown())
	}
	if cfg.AttemptTimeout() != 30*time.Second {
		t.Errorf("AttemptTimeout() = %v, want 30s", cfg.AttemptTimeout())
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.Gemini.Model != "gemini-2.5-pro" {
		t.Errorf("Gemini.Model = %q, want gemini-2.5-pro", cfg.Gemini.Model)
	}
	if len(cfg.Credentials) != 2 {
		t.Errorf("Credentials = %d entries, want 2", len(cfg.Credentials))
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing input dir",
			content: "output_dir: ./out\ninsurer: reliance\ncredentials: [k]",
		},
		{
			name:    "missing output and redis",
			content: "input_dir: ./docs\ninsurer: reliance\ncredentials: [k]",
		},
		{
			name:    "missing insurer",
			content: "input_dir: ./docs\noutput_dir: ./out\ncredentials: [k]",
		},
		{
			name:    "missing credentials",
			content: "input_dir: ./docs\noutput_dir: ./out\ninsurer: reliance",
		},
		{
			name:    "invalid yaml",
			content: "input_dir: [unterminated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.content)); err == nil {
				t.Error("LoadConfig() error = nil, want validation error")
			}
		})
	}
}

func TestLoadConfig_RedisOnlyOutput(t *testing.T) {
	path := writeConfig(t, `
input_dir: ./docs
insurer: shriram
credentials: [k]
redis:
  addr: localhost:6379
`)
	if _, err := LoadConfig(path); err != nil {
		t.Errorf("LoadConfig() error = %v, want redis addr to satisfy output requirement", err)
	}
}

func TestConfig_SecretsFromFile(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "api_keys.txt")
	content := "# production keys\nkey-one\n\n  key-two  \n# disabled\n"
	if err := os.WriteFile(keysPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write keys: %v", err)
	}

	cfg := &Config{CredentialsFile: keysPath}
	secrets, err := cfg.Secrets()
	if err != nil {
		t.Fatalf("Secrets() error = %v", err)
	}
	if len(secrets) != 2 {
		t.Fatalf("Secrets() = %d entries, want 2", len(secrets))
	}
	if secrets[0] != "key-one" || secrets[1] != "key-two" {
		t.Errorf("Secrets() = %v, want trimmed keys in order", secrets)
	}
}

func TestConfig_SecretsInlineWins(t *testing.T) {
	cfg := &Config{
		CredentialsFile: "/does/not/exist",
		Credentials:     []string{"inline-key"},
	}
	secrets, err := cfg.Secrets()
	if err != nil {
		t.Fatalf("Secrets() error = %v", err)
	}
	if len(secrets) != 1 || secrets[0] != "inline-key" {
		t.Errorf("Secrets() = %v, want inline credentials", secrets)
	}
}

func TestConfig_SecretsEmptyFile(t *testing.T) {
	keysPath := filepath.Join(t.TempDir(), "api_keys.txt")
	if err := os.WriteFile(keysPath, []byte("# nothing here\n"), 0o600); err != nil {
		t.Fatalf("write keys: %v", err)
	}

	cfg := &Config{CredentialsFile: keysPath}
	if _, err := cfg.Secrets(); err == nil {
		t.Error("Secrets() error = nil, want error for empty credentials file")
	}
}
