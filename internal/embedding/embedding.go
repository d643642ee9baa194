// Package embedding maps text to vectors through an external embedding provider.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"doc-tutor/internal/config"
	"doc-tutor/internal/helper"
	"doc-tutor/internal/llmservice"
	"doc-tutor/internal/models"
)

// NewClient creates the langchaingo embedder for the configured provider.
func NewClient(ctx context.Context, cfg config.LLMConfig) (embeddings.Embedder, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).
		Str("embedding_model", cfg.Model).Msg("Creating embedding client")

	var (
		client embeddings.EmbedderClient
		err    error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithEmbeddingModel(cfg.Model),
			openai.WithToken(llmservice.OpenAIToken(cfg.Key)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err = openai.New(opts...)
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		client, err = ollama.New(opts...)
	case config.ProviderGoogle:
		client, err = googleai.New(ctx,
			googleai.WithAPIKey(cfg.Key),
			googleai.WithDefaultEmbeddingModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s embedding client: %w", cfg.Provider, err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(max(cfg.BatchSize, 1)))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return embedder, nil
}

// Service wraps an embeddings.Embedder with batching, bounded concurrency,
// rate limiting, retries and output validation.
type Service struct {
	embedder    embeddings.Embedder
	batchSize   int
	concurrency int
	timeout     time.Duration
	limiter     *rate.Limiter
	retry       config.RetryConfig

	mu  sync.Mutex
	dim int
}

func NewService(embedder embeddings.Embedder, cfg config.LLMConfig, retry config.RetryConfig) *Service {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Service{
		embedder:    embedder,
		batchSize:   max(cfg.BatchSize, 1),
		concurrency: max(cfg.Concurrency, 1),
		timeout:     cfg.Timeout,
		limiter:     rate.NewLimiter(limit, max(cfg.Concurrency, 1)),
		retry:       retry,
	}
}

// Dimension returns the vector length seen so far, or 0 before the first call.
func (s *Service) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dim
}

func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.NewError(models.KindInvalidRequest, "cannot embed empty text", nil)
	}

	vec, err := helper.Retry(ctx, s.retry, s.timeout, "embed_query", func(ctx context.Context) ([]float32, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return s.embedder.EmbedQuery(ctx, text)
	})
	if err != nil {
		return nil, models.NewError(models.KindEmbeddingService, "embedding service unavailable", err)
	}
	if err := s.validate([][]float32{vec}); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch embeds texts in batches of batchSize with at most concurrency
// batches in flight. The result is returned only when every batch succeeded.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for lo := 0; lo < len(texts); lo += s.batchSize {
		hi := min(lo+s.batchSize, len(texts))
		batch := texts[lo:hi]
		offset := lo
		g.Go(func() error {
			vecs, err := helper.Retry(gctx, s.retry, s.timeout, "embed_documents", func(ctx context.Context) ([][]float32, error) {
				if err := s.limiter.Wait(ctx); err != nil {
					return nil, err
				}
				return s.embedder.EmbedDocuments(ctx, batch)
			})
			if err != nil {
				return err
			}
			if len(vecs) != len(batch) {
				return models.NewError(models.KindEmbeddingService,
					fmt.Sprintf("embedding provider returned %d vectors for %d texts", len(vecs), len(batch)), nil)
			}
			copy(out[offset:], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, models.Wrap(models.KindEmbeddingService, "embedding service unavailable", err)
	}
	if err := s.validate(out); err != nil {
		return nil, err
	}

	log.Debug().Int("texts", len(texts)).Int("batch_size", s.batchSize).
		Dur("took", time.Since(start)).Msg("Embedded batch")
	return out, nil
}

// validate checks that every vector is usable for cosine similarity and has
// the dimension of the first vector this service ever produced.
func (s *Service) validate(vecs [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, v := range vecs {
		if len(v) == 0 {
			return models.NewError(models.KindEmbeddingService, fmt.Sprintf("embedding %d is empty", i), nil)
		}
		if s.dim == 0 {
			s.dim = len(v)
		}
		if len(v) != s.dim {
			return models.NewError(models.KindEmbeddingService,
				fmt.Sprintf("embedding %d has dimension %d, expected %d", i, len(v), s.dim), nil)
		}
		var norm float64
		for _, x := range v {
			f := float64(x)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return models.NewError(models.KindEmbeddingService, fmt.Sprintf("embedding %d is not finite", i), nil)
			}
			norm += f * f
		}
		if norm == 0 {
			return models.NewError(models.KindEmbeddingService, fmt.Sprintf("embedding %d is a zero vector", i), nil)
		}
	}
	return nil
}
