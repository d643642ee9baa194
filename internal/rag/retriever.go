package rag

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"doc-tutor/internal/chromemdb"
	"doc-tutor/internal/config"
	"doc-tutor/internal/models"
)

// QueryEmbedder embeds a single query text.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever picks the context chunks for each task type.
type Retriever struct {
	embedder QueryEmbedder
	cfg      config.RAGConfig
}

func NewRetriever(embedder QueryEmbedder, cfg config.RAGConfig) *Retriever {
	return &Retriever{embedder: embedder, cfg: cfg}
}

// Retrieve returns chunks in rank order. params must already be validated.
func (r *Retriever) Retrieve(ctx context.Context, idx *chromemdb.Index, task models.TaskType, params models.TaskParams) ([]models.Chunk, error) {
	if idx.Len() == 0 {
		return nil, models.ErrNoSession()
	}

	switch task {
	case models.TaskExplain:
		q, err := r.embedder.Embed(ctx, params.Question)
		if err != nil {
			return nil, err
		}
		return idx.SimilaritySearch(ctx, q, r.cfg.ExplainK)

	case models.TaskSummary:
		seed := idx.Centroid()
		if seed == nil {
			log.Debug().Msg("Index centroid is degenerate, seeding summary with generic query")
			var err error
			if seed, err = r.embedder.Embed(ctx, models.SummaryQuery); err != nil {
				return nil, err
			}
		}
		return idx.MMRSearch(ctx, seed, r.cfg.SummaryK, r.cfg.MMRLambda, r.cfg.FetchK)

	case models.TaskQuiz:
		n := params.NumQuestions
		k := QuizK(n, r.cfg.QuizChunksPerQuestion, r.cfg.QuizMinK, idx.Len())
		if want := max(n*r.cfg.QuizChunksPerQuestion, r.cfg.QuizMinK); k < want {
			log.Warn().Int("requested_k", want).Int("k", k).Int("index_size", idx.Len()).
				Msg("Quiz retrieval clamped to index size")
		}
		anchor, err := r.embedder.Embed(ctx, models.QuizQuery)
		if err != nil {
			return nil, err
		}
		if n <= r.cfg.QuizMMRThreshold {
			return idx.SimilaritySearch(ctx, anchor, k)
		}
		return idx.MMRSearch(ctx, anchor, k, r.cfg.MMRLambda, r.cfg.FetchK)
	}
	return nil, models.NewError(models.KindInvalidRequest, fmt.Sprintf("unknown task %q", task), nil)
}

// QuizK scales the number of retrieved chunks with the number of questions,
// bounded below by minK and above by the index size.
func QuizK(n, perQuestion, minK, size int) int {
	k := max(n*perQuestion, minK)
	return max(min(k, size), 1)
}
