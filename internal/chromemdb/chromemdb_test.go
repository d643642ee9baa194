package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-tutor/internal/models"
)

func entry(seq int, vec ...float32) models.IndexEntry {
	return models.IndexEntry{
		Chunk:     models.Chunk{Seq: seq, DocumentID: "doc-1", Text: fmt.Sprintf("chunk %d", seq)},
		Embedding: vec,
	}
}

func buildTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Build(context.Background(), "doc-1", []models.IndexEntry{
		entry(0, 1, 0, 0),
		entry(1, 0.9, 0.1, 0),
		entry(2, 0, 1, 0),
		entry(3, 0, 0, 1),
		entry(4, 2, 0, 0),
	})
	require.NoError(t, err)
	return idx
}

func seqs(chunks []models.Chunk) []int {
	out := make([]int, len(chunks))
	for i, c := range chunks {
		out[i] = c.Seq
	}
	return out
}

func TestBuild(t *testing.T) {
	idx := buildTestIndex(t)
	assert.Equal(t, 5, idx.Len())
	assert.Equal(t, "doc-1", idx.DocumentID())
	assert.Equal(t, 3, idx.Dimension())
}

func TestBuild_Errors(t *testing.T) {
	other := entry(1, 0, 1)
	other.Chunk.DocumentID = "doc-2"

	tests := []struct {
		name    string
		entries []models.IndexEntry
		kind    models.ErrorKind
	}{
		{"no entries", nil, models.KindIngestion},
		{"mixed dimensions", []models.IndexEntry{entry(0, 1, 0), entry(1, 1, 0, 0)}, models.KindInternal},
		{"duplicate seq", []models.IndexEntry{entry(0, 1, 0), entry(0, 0, 1)}, models.KindInternal},
		{"foreign chunk", []models.IndexEntry{entry(0, 1, 0), other}, models.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(context.Background(), "doc-1", tt.entries)
			require.Error(t, err)
			assert.Equal(t, tt.kind, models.KindOf(err))
		})
	}
}

func TestSimilaritySearch(t *testing.T) {
	idx := buildTestIndex(t)
	ctx := context.Background()

	got, err := idx.SimilaritySearch(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 1}, seqs(got))

	all, err := idx.SimilaritySearch(ctx, []float32{1, 0, 0}, 50)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 1, 2, 3}, seqs(all))
}

func TestSimilaritySearch_ExactlyKDistinct(t *testing.T) {
	idx := buildTestIndex(t)
	query := []float32{0.3, 0.5, 0.2}

	for k := 1; k <= idx.Len(); k++ {
		got, err := idx.SimilaritySearch(context.Background(), query, k)
		require.NoError(t, err)
		require.Len(t, got, k)

		seen := map[int]bool{}
		for _, c := range got {
			assert.False(t, seen[c.Seq], "duplicate chunk %d", c.Seq)
			seen[c.Seq] = true
		}
	}
}

func TestMMRSearch_Diversifies(t *testing.T) {
	idx := buildTestIndex(t)

	got, err := idx.MMRSearch(context.Background(), []float32{1, 0, 0}, 3, 0.3, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3}, seqs(got))
}

func TestMMRSearch_LambdaOneMatchesSimilarity(t *testing.T) {
	idx := buildTestIndex(t)
	ctx := context.Background()

	for _, query := range [][]float32{{1, 0, 0}, {0.3, 0.5, 0.2}, {0, 0, 1}} {
		for k := 1; k <= idx.Len(); k++ {
			sim, err := idx.SimilaritySearch(ctx, query, k)
			require.NoError(t, err)
			mmr, err := idx.MMRSearch(ctx, query, k, 1, idx.Len())
			require.NoError(t, err)
			assert.Equal(t, seqs(sim), seqs(mmr), "query %v k %d", query, k)
		}
	}
}

func TestMMRSearch_NoDuplicatesAndPoolBound(t *testing.T) {
	idx := buildTestIndex(t)

	got, err := idx.MMRSearch(context.Background(), []float32{1, 0, 0}, 10, 0, 2)
	require.NoError(t, err)
	require.Len(t, got, 5)

	seen := map[int]bool{}
	for _, c := range got {
		assert.False(t, seen[c.Seq])
		seen[c.Seq] = true
	}

	small, err := idx.MMRSearch(context.Background(), []float32{1, 0, 0}, 2, 0.5, 0)
	require.NoError(t, err)
	assert.Len(t, small, 2)
}

func TestSearch_Errors(t *testing.T) {
	idx := buildTestIndex(t)
	ctx := context.Background()

	_, err := idx.SimilaritySearch(ctx, []float32{1, 0}, 2)
	assert.Equal(t, models.KindInvalidRequest, models.KindOf(err))
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = idx.SimilaritySearch(ctx, []float32{1, 0, 0}, 0)
	assert.Equal(t, models.KindInvalidRequest, models.KindOf(err))

	_, err = idx.MMRSearch(ctx, []float32{1, 0, 0}, 2, 1.5, 5)
	assert.Equal(t, models.KindInvalidRequest, models.KindOf(err))

	_, err = idx.SimilaritySearch(ctx, []float32{0, 0, 0}, 2)
	assert.Equal(t, models.KindInvalidRequest, models.KindOf(err))

	var empty *Index
	_, err = empty.SimilaritySearch(ctx, []float32{1, 0, 0}, 2)
	assert.Equal(t, models.KindEmptyIndex, models.KindOf(err))
	_, err = empty.MMRSearch(ctx, []float32{1, 0, 0}, 2, 0.5, 5)
	assert.Equal(t, models.KindEmptyIndex, models.KindOf(err))
	assert.Zero(t, empty.Len())
	assert.Nil(t, empty.Centroid())
}

func TestCentroid(t *testing.T) {
	idx, err := Build(context.Background(), "doc-1", []models.IndexEntry{entry(0, 3, 0), entry(1, 0, 5)})
	require.NoError(t, err)
	c := idx.Centroid()
	require.Len(t, c, 2)
	assert.InDelta(t, 0.7071, c[0], 1e-3)
	assert.InDelta(t, 0.7071, c[1], 1e-3)

	opposite, err := Build(context.Background(), "doc-1", []models.IndexEntry{entry(0, 1, 0), entry(1, -1, 0)})
	require.NoError(t, err)
	assert.Nil(t, opposite.Centroid())
}

func TestConcurrentSearches(t *testing.T) {
	idx := buildTestIndex(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = idx.SimilaritySearch(context.Background(), []float32{1, 0, 0}, 3)
			} else {
				_, err = idx.MMRSearch(context.Background(), []float32{0, 1, 0}, 3, 0.3, 5)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}
