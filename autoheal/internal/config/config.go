// CLAUDE:SUMMARY Defines healer config structs and parses YAML configuration files over defaults.
// Package config handles healer configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level healer configuration.
type Config struct {
	CandidateStrategy string        `yaml:"candidate_strategy"` // heuristic | generative | both
	ModelProvider     string        `yaml:"model_provider"`     // openai | ollama | none
	ModelEndpoint     string        `yaml:"model_endpoint"`
	ModelName         string        `yaml:"model_name"`
	ModelAPIKey       string        `yaml:"model_api_key"` // falls back to $OPENAI_API_KEY
	ModelTimeout      time.Duration `yaml:"model_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	MaxCandidates     int           `yaml:"max_candidates"`
	ActionTimeout     time.Duration `yaml:"action_timeout"`
	OperationTimeout  time.Duration `yaml:"operation_timeout"`
	StaleGenerations  uint64        `yaml:"stale_generations"`
	DryRun            bool          `yaml:"dry_run"`
	ProjectPath       string        `yaml:"project_path"`
	Report            ReportConfig  `yaml:"report"`
	Browser           BrowserConfig `yaml:"browser"`
}

// ReportConfig selects the record sinks.
type ReportConfig struct {
	Stdout   bool   `yaml:"stdout"`
	Markdown bool   `yaml:"markdown"`
	SQLite   string `yaml:"sqlite"`  // database path, empty disables
	Webhook  string `yaml:"webhook"` // URL, empty disables
}

// BrowserConfig controls the Chrome instance used by the CLI.
type BrowserConfig struct {
	Remote   string   `yaml:"remote"` // DevTools websocket URL; empty launches Chrome
	Headless bool     `yaml:"headless"`
	Stealth  bool     `yaml:"stealth"`
	Block    []string `yaml:"block"` // resource types not loaded: images, fonts, media
}

// Default returns the configuration used when no file is given:
// heuristic candidates only, one healing retry, dry-run verification.
func Default() Config {
	return Config{
		CandidateStrategy: "heuristic",
		ModelProvider:     "none",
		ModelTimeout:      20 * time.Second,
		MaxRetries:        1,
		MaxCandidates:     5,
		ActionTimeout:     5 * time.Second,
		OperationTimeout:  30 * time.Second,
		DryRun:            true,
		ProjectPath:       ".",
		Report:            ReportConfig{Markdown: true},
		Browser:           BrowserConfig{Headless: true, Stealth: true},
	}
}

// LoadFile reads a YAML configuration file. Keys absent from the file keep
// their Default value; unknown keys are ignored.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero or invalid values that have no meaningful zero.
// MaxRetries and DryRun are left alone: zero retries and no dry run are
// valid choices.
func (c *Config) ApplyDefaults() {
	c.CandidateStrategy = strings.ToLower(strings.TrimSpace(c.CandidateStrategy))
	if c.CandidateStrategy == "" {
		c.CandidateStrategy = "heuristic"
	}
	c.ModelProvider = strings.ToLower(strings.TrimSpace(c.ModelProvider))
	if c.ModelProvider == "" {
		c.ModelProvider = "none"
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = 20 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 5
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 5 * time.Second
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 30 * time.Second
	}
	if c.ProjectPath == "" {
		c.ProjectPath = "."
	}
	if c.ModelAPIKey == "" {
		c.ModelAPIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate rejects unknown enumerations.
func (c *Config) Validate() error {
	switch c.CandidateStrategy {
	case "heuristic", "generative", "both":
	default:
		return fmt.Errorf("config: candidate_strategy %q: want heuristic, generative or both", c.CandidateStrategy)
	}
	switch c.ModelProvider {
	case "none", "openai", "ollama":
	default:
		return fmt.Errorf("config: model_provider %q: want openai, ollama or none", c.ModelProvider)
	}
	if c.CandidateStrategy != "heuristic" && c.ModelProvider == "none" {
		return fmt.Errorf("config: candidate_strategy %q needs a model_provider", c.CandidateStrategy)
	}
	return nil
}
