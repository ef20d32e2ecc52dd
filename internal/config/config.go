package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// DefaultSearchTerms is used when no search terms are configured.
var DefaultSearchTerms = []string{
	"Swift", "iOS", "iPhone", "iPad", "SwiftUI", "Objective-C", "UIKit",
	"Core Data", "WatchOS", "tvOS", "macOS", "visionOS", "Vision Pro",
	"Xcode", "App Store", "Apple",
}

// Config is the immutable runtime configuration. It is loaded once at
// startup and handed to each component.
type Config struct {
	Slack    Slack    `koanf:"slack" yaml:"slack"`
	Search   Search   `koanf:"search" yaml:"search"`
	Analysis Analysis `koanf:"analysis" yaml:"analysis"`
	Digest   Digest   `koanf:"digest" yaml:"digest"`
	Database Database `koanf:"database" yaml:"database"`
	Schedule Schedule `koanf:"schedule" yaml:"schedule"`
	Logging  Logging  `koanf:"logging" yaml:"logging"`
	Server   Server   `koanf:"server" yaml:"server"`
	Metrics  Metrics  `koanf:"metrics" yaml:"metrics"`
	Archive  Archive  `koanf:"archive" yaml:"archive"`
}

type Slack struct {
	Token          string `koanf:"token" yaml:"token"`
	Channel        string `koanf:"channel" yaml:"channel"`
	APIURL         string `koanf:"api_url" yaml:"api_url"`
	TimeoutSeconds int    `koanf:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int    `koanf:"max_retries" yaml:"max_retries"`
}

type Search struct {
	Terms           []string `koanf:"terms" yaml:"terms"`
	MaxResults      int      `koanf:"max_results" yaml:"max_results"`
	Days            int      `koanf:"days" yaml:"days"`
	TimeoutSeconds  int      `koanf:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries      int      `koanf:"max_retries" yaml:"max_retries"`
	UserAgent       string   `koanf:"user_agent" yaml:"user_agent"`
	EnrichAbstracts bool     `koanf:"enrich_abstracts" yaml:"enrich_abstracts"`
}

type Analysis struct {
	Provider       string  `koanf:"provider" yaml:"provider"`
	Model          string  `koanf:"model" yaml:"model"`
	OpenAIBaseURL  string  `koanf:"openai_base_url" yaml:"openai_base_url"`
	OllamaURL      string  `koanf:"ollama_url" yaml:"ollama_url"`
	APIKey         string  `koanf:"api_key" yaml:"api_key"`
	MaxTokens      int     `koanf:"max_tokens" yaml:"max_tokens"`
	Temperature    float64 `koanf:"temperature" yaml:"temperature"`
	TimeoutSeconds int     `koanf:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int     `koanf:"max_retries" yaml:"max_retries"`
	MaxAttempts    int     `koanf:"max_attempts" yaml:"max_attempts"`
	Workers        int     `koanf:"workers" yaml:"workers"`
}

type Digest struct {
	MinScore    int `koanf:"min_score" yaml:"min_score"`
	MaxPapers   int `koanf:"max_papers" yaml:"max_papers"`
	TopKeywords int `koanf:"top_keywords" yaml:"top_keywords"`
	RollupDays  int `koanf:"rollup_days" yaml:"rollup_days"`
}

type Database struct {
	Path          string `koanf:"path" yaml:"path"`
	RetentionDays int    `koanf:"retention_days" yaml:"retention_days"`
}

type Schedule struct {
	At string `koanf:"at" yaml:"at"`
}

type Logging struct {
	Level      string `koanf:"level" yaml:"level"`
	File       string `koanf:"file" yaml:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups" yaml:"max_backups"`
}

type Server struct {
	Port int `koanf:"port" yaml:"port"`
}

type Metrics struct {
	PushgatewayURL string `koanf:"pushgateway_url" yaml:"pushgateway_url"`
	Job            string `koanf:"job" yaml:"job"`
}

type Archive struct {
	Bucket string `koanf:"bucket" yaml:"bucket"`
	Region string `koanf:"region" yaml:"region"`
	Prefix string `koanf:"prefix" yaml:"prefix"`
}

// New returns a Config populated with defaults. Search terms are left
// empty here and filled in by Load so a configured list replaces them
// instead of being merged element by element.
func New() *Config {
	return &Config{
		Slack: Slack{
			Channel:        "#general",
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
		Search: Search{
			MaxResults:      50,
			Days:            30,
			TimeoutSeconds:  30,
			MaxRetries:      3,
			UserAgent:       "paperdigest/1.0 (arXiv digest bot)",
			EnrichAbstracts: true,
		},
		Analysis: Analysis{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			OpenAIBaseURL:  "https://api.openai.com/v1",
			OllamaURL:      "http://localhost:11434",
			MaxTokens:      1000,
			Temperature:    0.3,
			TimeoutSeconds: 120,
			MaxRetries:     3,
			MaxAttempts:    2,
			Workers:        1,
		},
		Digest: Digest{
			MinScore:    5,
			MaxPapers:   3,
			TopKeywords: 5,
			RollupDays:  30,
		},
		Database: Database{
			Path:          "./data/papers.db",
			RetentionDays: 30,
		},
		Schedule: Schedule{At: "08:00"},
		Logging: Logging{
			Level:      "INFO",
			File:       "./logs/paperdigest.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Server:  Server{Port: 8000},
		Metrics: Metrics{Job: "paperdigest"},
		Archive: Archive{Region: "us-east-1", Prefix: "digests/"},
	}
}

var scheduleExpr = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Validate checks settings that must hold before any external call is made.
func (c *Config) Validate() error {
	var problems []string

	if c.Slack.Token == "" {
		problems = append(problems, "slack token is required (SLACK_BOT_TOKEN)")
	}
	if c.Slack.Channel == "" {
		problems = append(problems, "slack channel is required (SLACK_CHANNEL)")
	}
	switch strings.ToLower(c.Analysis.Provider) {
	case "openai":
		if c.Analysis.APIKey == "" {
			problems = append(problems, "openai api key is required (OPENAI_API_KEY)")
		}
	case "ollama":
	default:
		problems = append(problems, fmt.Sprintf("unknown analysis provider %q", c.Analysis.Provider))
	}
	if len(c.Search.Terms) == 0 {
		problems = append(problems, "at least one search term is required")
	}
	if c.Search.MaxResults <= 0 {
		problems = append(problems, "search max_results must be positive")
	}
	if c.Search.Days <= 0 {
		problems = append(problems, "search days must be positive")
	}
	if c.Digest.MinScore < 0 || c.Digest.MinScore > 10 {
		problems = append(problems, "digest min_score must be between 0 and 10")
	}
	if c.Digest.MaxPapers <= 0 {
		problems = append(problems, "digest max_papers must be positive")
	}
	if c.Analysis.Workers <= 0 {
		problems = append(problems, "analysis workers must be positive")
	}
	if c.Analysis.MaxAttempts <= 0 {
		problems = append(problems, "analysis max_attempts must be positive")
	}
	if c.Database.Path == "" {
		problems = append(problems, "database path is required (DATABASE_PATH)")
	}
	if !scheduleExpr.MatchString(c.Schedule.At) {
		problems = append(problems, fmt.Sprintf("schedule time %q is not HH:MM", c.Schedule.At))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	out.Search.Terms = append([]string(nil), c.Search.Terms...)
	out.Slack.Token = mask(c.Slack.Token)
	out.Analysis.APIKey = mask(c.Analysis.APIKey)
	return out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}

// ConfigDir returns the XDG config directory for paperdigest.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "paperdigest")
}

// ResolveConfigPath finds an optional config file following priority:
// explicit path > $PAPERDIGEST_CONFIG > ~/.config/paperdigest/config.yaml > ./paperdigest.yaml.
// An empty result means no file; env and defaults still apply.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv("PAPERDIGEST_CONFIG")
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("%w: config file not found: %s", ErrLoadConfig, explicit)
		}
		return explicit, nil
	}

	for _, candidate := range []string{
		filepath.Join(ConfigDir(), "config.yaml"),
		"paperdigest.yaml",
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
