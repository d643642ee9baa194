package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGoogle = "googleai"

	ChunkerSemantic = "semantic"
	ChunkerWindow   = "window"
)

type Config struct {
	LLM      LLMConfig    `yaml:"llm"`
	EmbedLLM LLMConfig    `yaml:"embed_llm"`
	Retry    RetryConfig  `yaml:"retry"`
	RAG      RAGConfig    `yaml:"rag"`
	Server   ServerConfig `yaml:"server"`
	Log      LogConfig    `yaml:"log"`
}

// LLMConfig describes one provider endpoint. The completion and embedding
// services each get their own.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	BaseURL           string        `yaml:"base_url"`
	Key               string        `yaml:"key"`
	Model             string        `yaml:"model"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	BatchSize         int           `yaml:"batch_size"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type RAGConfig struct {
	Chunker              string  `yaml:"chunker"`
	MinDocumentChars     int     `yaml:"min_document_chars"`
	MaxChunkChars        int     `yaml:"max_chunk_chars"`
	MinChunkChars        int     `yaml:"min_chunk_chars"`
	BreakpointPercentile float64 `yaml:"breakpoint_percentile"`
	ChunkSize            int     `yaml:"chunk_size"`
	ChunkOverlap         int     `yaml:"chunk_overlap"`

	ExplainK              int     `yaml:"explain_k"`
	SummaryK              int     `yaml:"summary_k"`
	MMRLambda             float64 `yaml:"mmr_lambda"`
	FetchK                int     `yaml:"fetch_k"`
	QuizMinK              int     `yaml:"quiz_min_k"`
	QuizChunksPerQuestion int     `yaml:"quiz_chunks_per_question"`
	QuizMMRThreshold      int     `yaml:"quiz_mmr_threshold"`

	MaxContextChars  int `yaml:"max_context_chars"`
	QuizOptionCount  int `yaml:"quiz_option_count"`
	MaxFormatRetries int `yaml:"max_format_retries"`
}

type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Caller bool   `yaml:"caller"`
}

// LoadConfig reads the YAML file at path, applies .env and environment
// overrides, fills defaults and validates the result. A missing file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied. It passes
// Validate unchanged.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.Key = v
	}
	if v := os.Getenv("EMBED_API_KEY"); v != "" {
		c.EmbedLLM.Key = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		if c.LLM.Provider == ProviderGoogle && c.LLM.Key == "" {
			c.LLM.Key = v
		}
		if c.EmbedLLM.Provider == ProviderGoogle && c.EmbedLLM.Key == "" {
			c.EmbedLLM.Key = v
		}
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("EMBED_MODEL"); v != "" {
		c.EmbedLLM.Model = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderOllama
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModel(c.LLM.Provider, false)
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 120 * time.Second
	}

	if c.EmbedLLM.Provider == "" {
		c.EmbedLLM.Provider = c.LLM.Provider
	}
	if c.EmbedLLM.BaseURL == "" && c.EmbedLLM.Provider == c.LLM.Provider {
		c.EmbedLLM.BaseURL = c.LLM.BaseURL
	}
	if c.EmbedLLM.Model == "" {
		c.EmbedLLM.Model = defaultModel(c.EmbedLLM.Provider, true)
	}
	if c.EmbedLLM.Timeout == 0 {
		c.EmbedLLM.Timeout = 30 * time.Second
	}
	if c.EmbedLLM.BatchSize == 0 {
		c.EmbedLLM.BatchSize = 32
	}
	if c.EmbedLLM.Concurrency == 0 {
		c.EmbedLLM.Concurrency = 4
	}
	if c.EmbedLLM.RequestsPerSecond == 0 {
		c.EmbedLLM.RequestsPerSecond = 10
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 4
	}
	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = 200 * time.Millisecond
	}
	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = 5 * time.Second
	}

	r := &c.RAG
	if r.Chunker == "" {
		r.Chunker = ChunkerSemantic
	}
	if r.MinDocumentChars == 0 {
		r.MinDocumentChars = 50
	}
	if r.MaxChunkChars == 0 {
		r.MaxChunkChars = 2000
	}
	if r.MinChunkChars == 0 {
		r.MinChunkChars = 100
	}
	if r.BreakpointPercentile == 0 {
		r.BreakpointPercentile = 80
	}
	if r.ChunkSize == 0 {
		r.ChunkSize = 1000
	}
	if r.ExplainK == 0 {
		r.ExplainK = 5
	}
	if r.SummaryK == 0 {
		r.SummaryK = 8
	}
	if r.MMRLambda == 0 {
		r.MMRLambda = 0.3
	}
	if r.FetchK == 0 {
		r.FetchK = 20
	}
	if r.QuizMinK == 0 {
		r.QuizMinK = 3
	}
	if r.QuizChunksPerQuestion == 0 {
		r.QuizChunksPerQuestion = 1
	}
	if r.QuizMMRThreshold == 0 {
		r.QuizMMRThreshold = 5
	}
	if r.MaxContextChars == 0 {
		r.MaxContextChars = 12000
	}
	if r.QuizOptionCount == 0 {
		r.QuizOptionCount = 4
	}
	if r.MaxFormatRetries == 0 {
		r.MaxFormatRetries = 2
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 20 << 20
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

func defaultModel(provider string, embedding bool) string {
	switch provider {
	case ProviderOpenAI:
		if embedding {
			return "text-embedding-3-small"
		}
		return "gpt-4o-mini"
	case ProviderGoogle:
		if embedding {
			return "text-embedding-004"
		}
		return "gemini-1.5-flash"
	default:
		if embedding {
			return "nomic-embed-text"
		}
		return "llama3.1"
	}
}

// Validate checks provider names and numeric ranges.
func (c *Config) Validate() error {
	for name, llm := range map[string]LLMConfig{"llm": c.LLM, "embed_llm": c.EmbedLLM} {
		switch llm.Provider {
		case ProviderOpenAI, ProviderOllama, ProviderGoogle:
		default:
			return fmt.Errorf("invalid config: %s.provider %q is not one of openai, ollama, googleai", name, llm.Provider)
		}
		if llm.Timeout < 0 {
			return fmt.Errorf("invalid config: %s.timeout must be positive", name)
		}
	}
	if c.EmbedLLM.BatchSize < 1 || c.EmbedLLM.Concurrency < 1 || c.EmbedLLM.RequestsPerSecond <= 0 {
		return fmt.Errorf("invalid config: embed_llm batch_size, concurrency and requests_per_second must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("invalid config: retry.max_attempts must be at least 1")
	}

	r := c.RAG
	if r.Chunker != ChunkerSemantic && r.Chunker != ChunkerWindow {
		return fmt.Errorf("invalid config: rag.chunker %q is not one of semantic, window", r.Chunker)
	}
	if r.BreakpointPercentile <= 0 || r.BreakpointPercentile > 100 {
		return fmt.Errorf("invalid config: rag.breakpoint_percentile must be in (0, 100]")
	}
	if r.MMRLambda < 0 || r.MMRLambda > 1 {
		return fmt.Errorf("invalid config: rag.mmr_lambda must be in [0, 1]")
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return fmt.Errorf("invalid config: rag.chunk_overlap must be in [0, chunk_size)")
	}
	if r.MinChunkChars > r.MaxChunkChars {
		return fmt.Errorf("invalid config: rag.min_chunk_chars exceeds rag.max_chunk_chars")
	}
	if r.ExplainK < 1 || r.SummaryK < 1 || r.FetchK < 1 || r.QuizMinK < 1 || r.QuizChunksPerQuestion < 1 {
		return fmt.Errorf("invalid config: retrieval sizes must be positive")
	}
	if r.QuizOptionCount < 2 {
		return fmt.Errorf("invalid config: rag.quiz_option_count must be at least 2")
	}
	if r.MaxFormatRetries < 0 {
		return fmt.Errorf("invalid config: rag.max_format_retries must not be negative")
	}
	if r.MaxContextChars < 100 {
		return fmt.Errorf("invalid config: rag.max_context_chars must be at least 100")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	return nil
}

// Redacted returns a copy that is safe to log.
func (c Config) Redacted() Config {
	if c.LLM.Key != "" {
		c.LLM.Key = "***"
	}
	if c.EmbedLLM.Key != "" {
		c.EmbedLLM.Key = "***"
	}
	return c
}
