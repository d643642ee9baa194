// Package session owns the single active document index.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"doc-tutor/internal/chromemdb"
	"doc-tutor/internal/chunker"
	"doc-tutor/internal/helper"
	"doc-tutor/internal/models"
)

// Session is one ingested document and its index. It is never mutated after
// it has been installed.
type Session struct {
	ID        string
	Document  models.Document
	Index     *chromemdb.Index
	Chunks    []models.Chunk
	CreatedAt time.Time
}

// BatchEmbedder embeds chunk texts in order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Store serializes ingestions and publishes each finished session with a
// single pointer swap. Readers take a snapshot with Active and never block.
type Store struct {
	chunker  chunker.Chunker
	embedder BatchEmbedder

	// OnChange, if set, runs under the ingestion lock every time the active
	// session is replaced or removed. sess is nil when none remains.
	OnChange func(sess *Session)

	ingest sync.Mutex
	active atomic.Pointer[Session]
}

func NewStore(c chunker.Chunker, e BatchEmbedder) *Store {
	return &Store{chunker: c, embedder: e}
}

// StartSession chunks, embeds and indexes doc, then replaces the active
// session. On failure no session remains active.
func (s *Store) StartSession(ctx context.Context, doc models.Document) (*Session, error) {
	s.ingest.Lock()
	defer s.ingest.Unlock()

	start := time.Now()
	sess, err := s.build(ctx, doc)
	if err != nil {
		if prev := s.install(nil); prev != nil {
			log.Warn().Str("session_id", prev.ID).Str("document", prev.Document.Name).
				Msg("Ingestion failed, previous session discarded")
		}
		return nil, err
	}

	prev := s.install(sess)
	evt := log.Info().Str("session_id", sess.ID).Str("document", doc.Name).
		Int("chunks", len(sess.Chunks)).Dur("took", time.Since(start))
	if prev != nil {
		evt = evt.Str("replaced_session_id", prev.ID)
	}
	evt.Msg("Session started")
	return sess, nil
}

func (s *Store) build(ctx context.Context, doc models.Document) (*Session, error) {
	chunks, err := s.chunker.Chunk(ctx, doc.ID, doc.Text)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, models.Wrap(models.KindEmbeddingService, "failed to embed chunks", err)
	}
	if len(vectors) != len(chunks) {
		return nil, models.NewError(models.KindEmbeddingService, "embedder returned the wrong number of vectors", nil)
	}

	entries := make([]models.IndexEntry, len(chunks))
	for i := range chunks {
		entries[i] = models.IndexEntry{Chunk: chunks[i], Embedding: vectors[i]}
	}
	idx, err := chromemdb.Build(ctx, doc.ID, entries)
	if err != nil {
		return nil, err
	}

	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, models.NewError(models.KindInternal, "failed to create session id", err)
	}
	return &Session{
		ID:        id,
		Document:  doc,
		Index:     idx,
		Chunks:    chunks,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Active returns the current session or an empty-index error.
func (s *Store) Active() (*Session, error) {
	sess := s.active.Load()
	if sess == nil {
		return nil, models.ErrNoSession()
	}
	return sess, nil
}

// Clear removes the active session. It waits for an ingestion in flight, so
// the session that ingestion installs is removed too.
func (s *Store) Clear() {
	s.ingest.Lock()
	defer s.ingest.Unlock()

	if prev := s.install(nil); prev != nil {
		log.Info().Str("session_id", prev.ID).Msg("Session cleared")
	}
}

// install swaps in sess and returns the previous session. Callers hold ingest.
func (s *Store) install(sess *Session) *Session {
	prev := s.active.Swap(sess)
	if s.OnChange != nil {
		s.OnChange(sess)
	}
	return prev
}
