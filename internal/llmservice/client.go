package llmservice

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"doc-tutor/internal/config"
	"doc-tutor/internal/helper"
	"doc-tutor/internal/models"
)

var thinkTagRe = regexp.MustCompile(models.ThinkTag)

// GenerationConfig holds per-call sampling settings.
type GenerationConfig struct {
	Temperature float64
	MaxTokens   int
}

// Completer turns a prompt into completion text.
type Completer interface {
	Complete(ctx context.Context, prompt string, gen GenerationConfig) (string, error)
}

// NewModel creates the chat model for the configured provider.
func NewModel(ctx context.Context, cfg config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating completion client")

	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(OpenAIToken(cfg.Key)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	case config.ProviderGoogle:
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(cfg.Key),
			googleai.WithDefaultModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s llm: %w", cfg.Provider, err)
	}
	return model, nil
}

// Client calls an llms.Model with a per-attempt timeout and backoff retries.
type Client struct {
	model     llms.Model
	retry     config.RetryConfig
	timeout   time.Duration
	maxTokens int
}

func NewClient(model llms.Model, cfg config.LLMConfig, retry config.RetryConfig) *Client {
	return &Client{model: model, retry: retry, timeout: cfg.Timeout, maxTokens: cfg.MaxTokens}
}

// Complete sends prompt as a single human message and returns the first
// choice with reasoning tags removed.
func (c *Client) Complete(ctx context.Context, prompt string, gen GenerationConfig) (string, error) {
	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}

	opts := []llms.CallOption{llms.WithTemperature(gen.Temperature)}
	maxTokens := gen.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}

	start := time.Now()
	text, err := helper.Retry(ctx, c.retry, c.timeout, "generate_content", func(ctx context.Context) (string, error) {
		resp, err := c.model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("completion returned no choices")
		}
		return resp.Choices[0].Content, nil
	})
	if err != nil {
		return "", models.NewError(models.KindCompletionService, "completion service unavailable", err)
	}

	log.Debug().Int("prompt_chars", len(prompt)).Int("completion_chars", len(text)).
		Float64("temperature", gen.Temperature).Dur("took", time.Since(start)).Msg("Completion received")
	return StripThinking(text), nil
}

// OpenAIToken strips a "Bearer " prefix. OpenAI-compatible local servers
// ignore the token, but the client refuses to start without one.
func OpenAIToken(key string) string {
	key = strings.TrimPrefix(key, "Bearer ")
	if key == "" {
		return "placeholder"
	}
	return key
}

// StripThinking removes <think>...</think> blocks and surrounding whitespace.
func StripThinking(text string) string {
	return strings.TrimSpace(thinkTagRe.ReplaceAllString(text, ""))
}
