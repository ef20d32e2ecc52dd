package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/TobiSchelling/PaperDigest/internal/httputil"
)

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
	Name() string
}

// ErrNotConfigured is returned when a provider is asked to generate without
// the credentials or endpoint it needs.
var ErrNotConfigured = errors.New("llm provider not configured")

// Options configures a provider.
type Options struct {
	Provider     string
	Model        string
	BaseURL      string // OpenAI-compatible API root
	OllamaURL    string
	APIKey       string
	SystemPrompt string
	Temperature  float64
	Timeout      time.Duration
	MaxRetries   int
	Logger       *slog.Logger
}

func (o Options) httpClient() *http.Client {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model        string
	BaseURL      string
	SystemPrompt string
	Temperature  float64
	maxRetries   int
	client       *http.Client
	log          *slog.Logger
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(opts Options) *OllamaProvider {
	return &OllamaProvider{
		Model:        opts.Model,
		BaseURL:      strings.TrimRight(opts.OllamaURL, "/"),
		SystemPrompt: opts.SystemPrompt,
		Temperature:  opts.Temperature,
		maxRetries:   opts.MaxRetries,
		client:       opts.httpClient(),
		log:          opts.logger(),
	}
}

func (o *OllamaProvider) Name() string { return "ollama/" + o.Model }

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	o.log.Warn("ollama model not found", "model", o.Model)
	return false
}

// Generate sends a prompt to Ollama in JSON mode and returns the response.
func (o *OllamaProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body := map[string]any{
		"model":    o.Model,
		"messages": messages(o.SystemPrompt, prompt),
		"stream":   false,
		"format":   "json",
		"options": map[string]any{
			"num_predict": maxTokens,
			"temperature": o.Temperature,
		},
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := postJSON(ctx, o.client, o.maxRetries, o.BaseURL+"/api/chat", "", body, &result); err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	return result.Message.Content, nil
}

// OpenAIProvider talks to the OpenAI chat completions API, or any server
// exposing the same surface at BaseURL.
type OpenAIProvider struct {
	Model        string
	APIKey       string
	BaseURL      string
	SystemPrompt string
	Temperature  float64
	maxRetries   int
	client       *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(opts Options) *OpenAIProvider {
	base := opts.BaseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		Model:        opts.Model,
		APIKey:       opts.APIKey,
		BaseURL:      strings.TrimRight(base, "/"),
		SystemPrompt: opts.SystemPrompt,
		Temperature:  opts.Temperature,
		maxRetries:   opts.MaxRetries,
		client:       opts.httpClient(),
	}
}

func (o *OpenAIProvider) Name() string { return "openai/" + o.Model }

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate sends a prompt to OpenAI requesting a JSON object response.
func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("openai: %w", ErrNotConfigured)
	}

	body := map[string]any{
		"model":           o.Model,
		"messages":        messages(o.SystemPrompt, prompt),
		"max_tokens":      maxTokens,
		"temperature":     o.Temperature,
		"response_format": map[string]string{"type": "json_object"},
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := postJSON(ctx, o.client, o.maxRetries, o.BaseURL+"/chat/completions", o.APIKey, body, &result); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response")
	}
	return result.Choices[0].Message.Content, nil
}

func messages(system, prompt string) []map[string]string {
	var msgs []map[string]string
	if system != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": system})
	}
	return append(msgs, map[string]string{"role": "user", "content": prompt})
}

// APIError is a non-2xx answer from a provider after retries.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.StatusCode, e.Body)
}

func postJSON(ctx context.Context, client *http.Client, maxRetries int, url, bearer string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, maxRetries)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// CreateProvider creates an LLM provider based on configuration. Ollama
// falls back to OpenAI when it is not reachable. It returns nil when no
// provider is usable.
func CreateProvider(opts Options) Provider {
	log := opts.logger()

	if strings.ToLower(opts.Provider) == "ollama" {
		p := NewOllamaProvider(opts)
		if p.IsConfigured() {
			log.Info("using ollama", "model", opts.Model)
			return p
		}
		log.Warn("ollama not available, trying openai fallback")
	}

	p := NewOpenAIProvider(opts)
	if p.IsConfigured() {
		log.Info("using openai", "model", opts.Model, "base_url", p.BaseURL)
		return p
	}

	log.Error("no LLM provider available; check ollama is running or set OPENAI_API_KEY")
	return nil
}
