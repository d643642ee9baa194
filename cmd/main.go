package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"doc-tutor/internal/chunker"
	"doc-tutor/internal/config"
	"doc-tutor/internal/embedding"
	"doc-tutor/internal/helper"
	"doc-tutor/internal/llmservice"
	"doc-tutor/internal/models"
	"doc-tutor/internal/parser"
	"doc-tutor/internal/rag"
	"doc-tutor/internal/server"
)

const (
	configFilePath  = "./configs/config.yaml"
	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	serve := flag.Bool("serve", false, "Start the HTTP API")
	filePath := flag.String("file", "", "Path to the document file")
	summary := flag.Bool("summary", false, "Summarize the document")
	explain := flag.String("explain", "", "Question to be explained from the document")
	quiz := flag.Int("quiz", 0, "Number of quiz questions to generate")
	difficulty := flag.String("difficulty", "medium", "Quiz difficulty: easy, medium or hard")
	dryRun := flag.Bool("dry-run", false, "Extract and chunk the document only, no generation")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	helper.SetupLogger(cfg.Log)
	log.Debug().Interface("config", cfg.Redacted()).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serve {
		if err := runServer(ctx, cfg); err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
		return
	}

	if *filePath == "" {
		log.Fatal().Msg("Please provide either -serve or a document file using the -file flag")
	}
	if !*dryRun && !*summary && *explain == "" && *quiz == 0 {
		log.Fatal().Msg("Please provide at least one of -summary, -explain or -quiz, or use -dry-run")
	}

	if *dryRun {
		if err := chunkFile(ctx, cfg, *filePath); err != nil {
			log.Fatal().Err(err).Msg("Error chunking document")
		}
		return
	}

	if err := runTasks(ctx, cfg, *filePath, *summary, *explain, *quiz, *difficulty); err != nil {
		log.Fatal().Err(err).Msg("Error running tasks")
	}
}

func newService(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*rag.Service, error) {
	embedder, err := embedding.NewClient(ctx, cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}
	model, err := llmservice.NewModel(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("initializing llm: %w", err)
	}

	return rag.NewService(cfg,
		embedding.NewService(embedder, cfg.EmbedLLM, cfg.Retry),
		llmservice.NewClient(model, cfg.LLM, cfg.Retry),
		rag.NewMetrics(reg))
}

func runServer(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := newService(ctx, cfg, reg)
	if err != nil {
		return err
	}
	srv, err := server.NewServer(svc, cfg.Server, reg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runTasks(ctx context.Context, cfg *config.Config, filePath string, summary bool, explain string, quiz int, difficulty string) error {
	svc, err := newService(ctx, cfg, nil)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filePath, err)
	}
	status, err := svc.Upload(ctx, filepath.Base(filePath), data)
	if err != nil {
		return userError(err)
	}
	log.Info().Str("session_id", status.SessionID).Int("chunks", status.Chunks).Msg(status.Message)

	if summary {
		text, err := svc.Summary(ctx)
		if err != nil {
			return userError(err)
		}
		log.Info().Msg("Summary: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		fmt.Printf("%s\n\n", text)
	}

	if explain != "" {
		text, err := svc.Explain(ctx, explain)
		if err != nil {
			return userError(err)
		}
		log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		fmt.Printf("%s\n\n", explain)
		log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		fmt.Printf("%s\n\n", text)
	}

	if quiz != 0 {
		questions, err := svc.Quiz(ctx, difficulty, quiz)
		if err != nil {
			return userError(err)
		}
		log.Info().Msg("Quiz: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		helper.PrettyPrint(os.Stdout, questions)
	}
	return nil
}

// chunkFile prints the chunks a document would be split into.
func chunkFile(ctx context.Context, cfg *config.Config, filePath string) error {
	text, err := parser.ExtractFile(filePath)
	if err != nil {
		return err
	}

	embedder, err := embedding.NewClient(ctx, cfg.EmbedLLM)
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}
	c, err := chunker.New(cfg.RAG, embedding.NewService(embedder, cfg.EmbedLLM, cfg.Retry))
	if err != nil {
		return err
	}

	chunks, err := c.Chunk(ctx, filepath.Base(filePath), text)
	if err != nil {
		return err
	}
	log.Info().Int("chunks", len(chunks)).Msg("Chunked document")
	helper.PrettyPrint(os.Stdout, chunks)
	return nil
}

// userError keeps the user-facing message and logs the provider detail.
func userError(err error) error {
	var e *models.Error
	if errors.As(err, &e) {
		log.Debug().Err(err).Msg("Operation failed")
		return errors.New(e.UserMessage())
	}
	return err
}
