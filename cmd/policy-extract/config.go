package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration for a batch run.
type Config struct {
	// CredentialsFile holds API secrets, one per line. Blank lines and
	// #-comments are skipped. Alternatively set Credentials inline.
	CredentialsFile string   `yaml:"credentials_file"`
	Credentials     []string `yaml:"credentials"`

	// InputDir holds one text document per work item; its lexically sorted
	// listing is the ordered backlog.
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`
	Insurer   string `yaml:"insurer"`

	StartIndex  int `yaml:"start_index"`
	Limit       int `yaml:"limit"`
	Concurrency int `yaml:"concurrency"`

	CooldownSeconds       int     `yaml:"cooldown_seconds"`
	MaxAttempts           int     `yaml:"max_attempts"`
	AttemptTimeoutSeconds int     `yaml:"attempt_timeout_seconds"`
	RequestsPerSecond     float64 `yaml:"requests_per_second"`

	Gemini struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"gemini"`

	// Redis switches persistence to a shared Redis store when Addr is set;
	// otherwise results land as JSON files under OutputDir.
	Redis struct {
		Addr   string `yaml:"addr"`
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`

	// MetricsAddr serves Prometheus metrics when set (e.g. ":9090").
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoadConfig reads and validates the YAML config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.InputDir == "" {
		return nil, fmt.Errorf("input_dir is required")
	}
	if cfg.OutputDir == "" && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("output_dir (or redis.addr) is required")
	}
	if cfg.Insurer == "" {
		return nil, fmt.Errorf("insurer is required")
	}
	if cfg.CredentialsFile == "" && len(cfg.Credentials) == 0 {
		return nil, fmt.Errorf("credentials_file or credentials is required")
	}
	return &cfg, nil
}

// Cooldown returns the configured cooldown window; zero when unset.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// AttemptTimeout returns the per-attempt deadline; zero when unset.
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutSeconds) * time.Second
}

// Secrets returns the ordered credential list from inline config or file.
func (c *Config) Secrets() ([]string, error) {
	if len(c.Credentials) > 0 {
		return c.Credentials, nil
	}

	f, err := os.Open(c.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("open credentials file: %w", err)
	}
	defer f.Close()

	var secrets []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		secrets = append(secrets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	if len(secrets) == 0 {
		return nil, fmt.Errorf("credentials file %s contains no secrets", c.CredentialsFile)
	}
	return secrets, nil
}
