package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DotenvFiles are loaded into the process environment before anything else.
// Variables already set in the environment win.
var DotenvFiles = []string{"config.env", ".env"}

// envKeys maps recognized environment variables to config keys.
var envKeys = map[string]string{
	"SLACK_BOT_TOKEN":     "slack.token",
	"SLACK_CHANNEL":       "slack.channel",
	"SLACK_API_URL":       "slack.api_url",
	"OPENAI_API_KEY":      "analysis.api_key",
	"OPENAI_BASE_URL":     "analysis.openai_base_url",
	"OLLAMA_URL":          "analysis.ollama_url",
	"ARXIV_MAX_RESULTS":   "search.max_results",
	"ARXIV_SEARCH_DAYS":   "search.days",
	"ARXIV_SEARCH_TERMS":  "search.terms",
	"MIN_RELEVANCE_SCORE": "digest.min_score",
	"MAX_DAILY_PAPERS":    "digest.max_papers",
	"DATABASE_PATH":       "database.path",
	"LOG_LEVEL":           "logging.level",
	"LOG_FILE":            "logging.file",

	"PAPERDIGEST_LLM_PROVIDER":     "analysis.provider",
	"PAPERDIGEST_LLM_MODEL":        "analysis.model",
	"PAPERDIGEST_ANALYSIS_WORKERS": "analysis.workers",
	"PAPERDIGEST_SCHEDULE_AT":      "schedule.at",
	"PAPERDIGEST_RETENTION_DAYS":   "database.retention_days",
	"PAPERDIGEST_SERVER_PORT":      "server.port",
	"PAPERDIGEST_PUSHGATEWAY_URL":  "metrics.pushgateway_url",
	"PAPERDIGEST_ARCHIVE_BUCKET":   "archive.bucket",
	"PAPERDIGEST_ARCHIVE_REGION":   "archive.region",
	"PAPERDIGEST_ARCHIVE_PREFIX":   "archive.prefix",
}

// Load builds a Config by layering, from low to high precedence:
//  1. defaults (New)
//  2. the YAML file at path, when path is not empty
//  3. environment variables, including those from DotenvFiles
//
// Load does not validate; commands that talk to external services call
// Validate before doing so.
func Load(path string) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrLoadConfig, path, err)
		}
	}

	envProvider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		mapped, ok := envKeys[key]
		if !ok || strings.TrimSpace(value) == "" {
			return "", nil
		}
		if mapped == "search.terms" {
			return mapped, splitList(value)
		}
		return mapped, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: reading environment: %v", ErrLoadConfig, err)
	}

	cfg := *New()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg.Search.Terms = cleanList(cfg.Search.Terms)
	if len(cfg.Search.Terms) == 0 {
		cfg.Search.Terms = append([]string(nil), DefaultSearchTerms...)
	}
	return &cfg, nil
}

func loadDotenv() error {
	for _, name := range DotenvFiles {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("%w: loading %s: %v", ErrLoadConfig, name, err)
		}
	}
	return nil
}

func splitList(value string) []string {
	return cleanList(strings.Split(value, ","))
}

func cleanList(items []string) []string {
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
