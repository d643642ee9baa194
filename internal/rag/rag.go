// Package rag wires session ingestion, retrieval, prompting and generation
// into the operations exposed to callers.
package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"doc-tutor/internal/chunker"
	"doc-tutor/internal/config"
	"doc-tutor/internal/embedding"
	"doc-tutor/internal/generator"
	"doc-tutor/internal/helper"
	"doc-tutor/internal/llmservice"
	"doc-tutor/internal/models"
	"doc-tutor/internal/parser"
	"doc-tutor/internal/prompt"
	"doc-tutor/internal/session"
)

// Service is the single entry point for uploads and tutoring tasks. Every
// error it returns is a *models.Error.
type Service struct {
	store     *session.Store
	retriever *Retriever
	prompts   *prompt.Builder
	generator *generator.Generator
	metrics   *Metrics
}

func NewService(cfg *config.Config, embedder *embedding.Service, llm llmservice.Completer, metrics *Metrics) (*Service, error) {
	c, err := chunker.New(cfg.RAG, embedder)
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	gen := generator.New(llm, cfg.LLM, cfg.RAG)
	gen.OnFormatRetry = metrics.formatRetry

	store := session.NewStore(c, embedder)
	store.OnChange = metrics.sessionChanged

	return &Service{
		store:     store,
		retriever: NewRetriever(embedder, cfg.RAG),
		prompts:   prompt.NewBuilder(cfg.RAG),
		generator: gen,
		metrics:   metrics,
	}, nil
}

// Upload extracts the text of a file and makes it the active session.
func (s *Service) Upload(ctx context.Context, filename string, data []byte) (status models.UploadStatus, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("upload", start, err) }()

	text, err := parser.Extract(filename, data)
	if err != nil {
		s.store.Clear()
		return models.UploadStatus{}, translate(err)
	}
	return s.ingest(ctx, filename, text)
}

// UploadText makes already extracted text the active session.
func (s *Service) UploadText(ctx context.Context, name, text string) (status models.UploadStatus, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("upload", start, err) }()
	return s.ingest(ctx, name, text)
}

func (s *Service) ingest(ctx context.Context, name, text string) (models.UploadStatus, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return models.UploadStatus{}, translate(err)
	}

	log.Info().Str("document", name).Int("chars", len(text)).Msg("Ingesting document")
	sess, err := s.store.StartSession(ctx, models.Document{ID: id, Name: name, Text: text})
	if err != nil {
		log.Error().Err(err).Str("document", name).Msg("Ingestion failed")
		return models.UploadStatus{}, translate(err)
	}

	return models.UploadStatus{
		SessionID: sess.ID,
		Document:  name,
		Chunks:    len(sess.Chunks),
		Message:   fmt.Sprintf("Document '%s' processed successfully into %d chunks.", name, len(sess.Chunks)),
		CreatedAt: sess.CreatedAt,
	}, nil
}

// Status returns the active session, or an empty-index error.
func (s *Service) Status() (*session.Session, error) {
	sess, err := s.store.Active()
	return sess, translate(err)
}

func (s *Service) Summary(ctx context.Context) (string, error) {
	res, err := s.run(ctx, models.TaskSummary, models.TaskParams{})
	return res.Text, err
}

func (s *Service) Explain(ctx context.Context, question string) (string, error) {
	res, err := s.run(ctx, models.TaskExplain, models.TaskParams{Question: question})
	return res.Text, err
}

func (s *Service) Quiz(ctx context.Context, difficulty string, n int) ([]models.QuizQuestion, error) {
	res, err := s.run(ctx, models.TaskQuiz, models.TaskParams{Difficulty: models.Difficulty(difficulty), NumQuestions: n})
	return res.Quiz, err
}

func (s *Service) run(ctx context.Context, task models.TaskType, params models.TaskParams) (res generator.Result, err error) {
	start := time.Now()
	defer func() { s.metrics.observe(string(task), start, err) }()
	logger := log.With().Str("task", string(task)).Logger()

	params, err = prompt.Validate(task, params)
	if err != nil {
		return res, translate(err)
	}
	sess, err := s.store.Active()
	if err != nil {
		return res, translate(err)
	}

	logger.Debug().Str("session_id", sess.ID).Msg("State: Retrieving")
	chunks, err := s.retriever.Retrieve(ctx, sess.Index, task, params)
	if err != nil {
		logger.Debug().Err(err).Msg("State: Failed")
		return res, translate(err)
	}

	logger.Debug().Int("chunks", len(chunks)).Msg("State: Prompting")
	p, err := s.prompts.Build(task, chunks, params)
	if err != nil {
		logger.Debug().Err(err).Msg("State: Failed")
		return res, translate(err)
	}

	res, err = s.generator.Generate(ctx, p, task, params)
	if err != nil {
		logger.Error().Err(err).Msg("Generation failed")
		return generator.Result{}, translate(err)
	}
	logger.Info().Int("chunks", len(chunks)).Int("attempts", res.Attempts).Dur("took", time.Since(start)).Msg("Request completed")
	return res, nil
}

// translate guarantees the returned error is a *models.Error.
func translate(err error) error {
	return models.Wrap(models.KindInternal, "unexpected failure", err)
}
