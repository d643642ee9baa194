package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-tutor/internal/chunker"
	"doc-tutor/internal/config"
	"doc-tutor/internal/embedding/embeddingtest"
	"doc-tutor/internal/models"
)

const (
	docA = "Photosynthesis converts light energy into chemical energy. Chlorophyll in the chloroplast absorbs light. " +
		"The light reactions split water and release oxygen. The Calvin cycle fixes carbon dioxide into glucose."
	docB = "The French Revolution began in 1789. The Estates-General was summoned by Louis XVI. " +
		"The storming of the Bastille became a symbol of the revolution. The monarchy was abolished in 1792."
)

// switchEmbedder embeds with a hash embedder until fail is set.
type switchEmbedder struct {
	hash *embeddingtest.Hash
	fail atomic.Bool
}

func (e *switchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.fail.Load() {
		return nil, errors.New("embedding provider timeout")
	}
	return e.hash.EmbedDocuments(ctx, texts)
}

func newTestStore(t *testing.T) (*Store, *switchEmbedder) {
	t.Helper()
	cfg := config.Default().RAG
	cfg.ChunkSize = 80
	cfg.MinDocumentChars = 20
	emb := &switchEmbedder{hash: embeddingtest.New()}
	return NewStore(chunker.NewWindow(cfg), emb), emb
}

func TestActive_NoSession(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Active()
	require.Error(t, err)
	assert.Equal(t, models.KindEmptyIndex, models.KindOf(err))
}

func TestStartSession(t *testing.T) {
	store, _ := newTestStore(t)

	sess, err := store.StartSession(context.Background(), models.Document{ID: "a", Name: "bio.txt", Text: docA})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "a", sess.Index.DocumentID())
	assert.Equal(t, len(sess.Chunks), sess.Index.Len())
	assert.Greater(t, len(sess.Chunks), 1)

	active, err := store.Active()
	require.NoError(t, err)
	assert.Same(t, sess, active)
}

func TestStartSession_ReplacesPrevious(t *testing.T) {
	store, emb := newTestStore(t)
	ctx := context.Background()

	first, err := store.StartSession(ctx, models.Document{ID: "a", Name: "bio.txt", Text: docA})
	require.NoError(t, err)
	second, err := store.StartSession(ctx, models.Document{ID: "b", Name: "history.txt", Text: docB})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	active, err := store.Active()
	require.NoError(t, err)
	assert.Equal(t, "b", active.Document.ID)

	query := emb.hash.Vector("chlorophyll light reactions photosynthesis")
	chunks, err := active.Index.SimilaritySearch(ctx, query, 100)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.Equal(t, "b", c.DocumentID)
		assert.NotContains(t, c.Text, "Chlorophyll")
	}
}

func TestStartSession_FailureDiscardsPrevious(t *testing.T) {
	store, emb := newTestStore(t)
	ctx := context.Background()

	_, err := store.StartSession(ctx, models.Document{ID: "a", Name: "bio.txt", Text: docA})
	require.NoError(t, err)

	emb.fail.Store(true)
	_, err = store.StartSession(ctx, models.Document{ID: "b", Name: "history.txt", Text: docB})
	require.Error(t, err)
	assert.Equal(t, models.KindEmbeddingService, models.KindOf(err))

	_, err = store.Active()
	assert.Equal(t, models.KindEmptyIndex, models.KindOf(err))
}

func TestStartSession_ChunkingFailure(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.StartSession(context.Background(), models.Document{ID: "a", Name: "tiny.txt", Text: "too short"})
	require.Error(t, err)
	assert.Equal(t, models.KindIngestion, models.KindOf(err))
}

func TestClear(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.StartSession(context.Background(), models.Document{ID: "a", Name: "bio.txt", Text: docA})
	require.NoError(t, err)

	store.Clear()
	_, err = store.Active()
	assert.Equal(t, models.KindEmptyIndex, models.KindOf(err))
	store.Clear()
}

func TestOnChange(t *testing.T) {
	store, emb := newTestStore(t)
	ctx := context.Background()
	var seen []*Session
	store.OnChange = func(sess *Session) { seen = append(seen, sess) }

	sess, err := store.StartSession(ctx, models.Document{ID: "a", Name: "bio.txt", Text: docA})
	require.NoError(t, err)
	emb.fail.Store(true)
	_, err = store.StartSession(ctx, models.Document{ID: "b", Name: "history.txt", Text: docB})
	require.Error(t, err)
	store.Clear()

	require.Len(t, seen, 3)
	assert.Same(t, sess, seen[0])
	assert.Nil(t, seen[1])
	assert.Nil(t, seen[2])
}

// gateEmbedder blocks its first call until release is closed.
type gateEmbedder struct {
	hash    *embeddingtest.Hash
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (e *gateEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.once.Do(func() {
		close(e.entered)
		<-e.release
	})
	return e.hash.EmbedDocuments(ctx, texts)
}

func TestClear_WaitsForIngestionInFlight(t *testing.T) {
	cfg := config.Default().RAG
	cfg.ChunkSize = 80
	cfg.MinDocumentChars = 20
	emb := &gateEmbedder{hash: embeddingtest.New(), entered: make(chan struct{}), release: make(chan struct{})}
	store := NewStore(chunker.NewWindow(cfg), emb)
	ctx := context.Background()

	ingested := make(chan error, 1)
	go func() {
		_, err := store.StartSession(ctx, models.Document{ID: "a", Name: "bio.txt", Text: docA})
		ingested <- err
	}()
	<-emb.entered

	cleared := make(chan struct{})
	go func() {
		store.Clear()
		close(cleared)
	}()
	close(emb.release)

	require.NoError(t, <-ingested)
	<-cleared
	_, err := store.Active()
	assert.Equal(t, models.KindEmptyIndex, models.KindOf(err))
}

func TestConcurrentReadsDuringIngestion(t *testing.T) {
	store, emb := newTestStore(t)
	ctx := context.Background()
	_, err := store.StartSession(ctx, models.Document{ID: "a", Name: "bio.txt", Text: docA})
	require.NoError(t, err)

	query := emb.hash.Vector("revolution light")
	stop := make(chan struct{})
	var wg sync.WaitGroup
	var mismatches atomic.Int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				sess, err := store.Active()
				if err != nil {
					mismatches.Add(1)
					continue
				}
				chunks, err := sess.Index.SimilaritySearch(ctx, query, 3)
				if err != nil {
					mismatches.Add(1)
					continue
				}
				for _, c := range chunks {
					if c.DocumentID != sess.Document.ID {
						mismatches.Add(1)
					}
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		doc := models.Document{ID: "b", Name: "history.txt", Text: docB}
		if i%2 == 1 {
			doc = models.Document{ID: "a", Name: "bio.txt", Text: docA}
		}
		_, err := store.StartSession(ctx, doc)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, mismatches.Load())
}
