// Package chromemdb holds the per-session vector index on top of an
// in-memory chromem-go collection.
package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"doc-tutor/internal/helper"
	"doc-tutor/internal/models"
)

const collectionName = "chunks"

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Index is an immutable set of chunk embeddings for one document. It is safe
// for concurrent searches.
type Index struct {
	documentID string
	collection *chromem.Collection
	chunks     []models.Chunk
	vectors    [][]float32 // normalized, parallel to chunks
	bySeq      map[int]int
	dim        int
}

type scored struct {
	pos int
	sim float64
}

// Build creates a fresh in-memory collection and loads every entry into it.
func Build(ctx context.Context, documentID string, entries []models.IndexEntry) (*Index, error) {
	if len(entries) == 0 {
		return nil, models.NewError(models.KindIngestion, "document produced no chunks to index", nil)
	}

	idx := &Index{
		documentID: documentID,
		chunks:     make([]models.Chunk, len(entries)),
		vectors:    make([][]float32, len(entries)),
		bySeq:      make(map[int]int, len(entries)),
		dim:        len(entries[0].Embedding),
	}

	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		if len(e.Embedding) != idx.dim || idx.dim == 0 {
			return nil, models.NewError(models.KindInternal,
				fmt.Sprintf("entry %d has dimension %d, expected %d", e.Chunk.Seq, len(e.Embedding), idx.dim), ErrDimensionMismatch)
		}
		if e.Chunk.DocumentID != documentID {
			return nil, models.NewError(models.KindInternal,
				fmt.Sprintf("chunk %d belongs to document %q, not %q", e.Chunk.Seq, e.Chunk.DocumentID, documentID), nil)
		}
		if _, dup := idx.bySeq[e.Chunk.Seq]; dup {
			return nil, models.NewError(models.KindInternal, fmt.Sprintf("duplicate chunk seq %d", e.Chunk.Seq), nil)
		}

		idx.bySeq[e.Chunk.Seq] = i
		idx.chunks[i] = e.Chunk
		idx.vectors[i] = helper.Normalize(e.Embedding)
		docs[i] = chromem.Document{
			ID:      strconv.Itoa(e.Chunk.Seq),
			Content: e.Chunk.Text,
			Metadata: map[string]string{
				"seq":         strconv.Itoa(e.Chunk.Seq),
				"document_id": documentID,
			},
			Embedding: idx.vectors[i],
		}
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, models.NewError(models.KindInternal, "failed to create collection", err)
	}
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, models.NewError(models.KindInternal, "failed to add documents to collection", err)
	}
	idx.collection = collection

	log.Debug().Str("document_id", documentID).Int("entries", len(entries)).Int("dim", idx.dim).Msg("Built vector index")
	return idx, nil
}

func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.chunks)
}

func (idx *Index) DocumentID() string {
	if idx == nil {
		return ""
	}
	return idx.documentID
}

func (idx *Index) Dimension() int {
	if idx == nil {
		return 0
	}
	return idx.dim
}

// Centroid returns the normalized mean of all entry vectors, or nil when the
// mean is degenerate.
func (idx *Index) Centroid() []float32 {
	if idx.Len() == 0 {
		return nil
	}
	mean := make([]float32, idx.dim)
	for _, v := range idx.vectors {
		for i, x := range v {
			mean[i] += x
		}
	}
	for i := range mean {
		mean[i] /= float32(len(idx.vectors))
	}
	if helper.Norm(mean) < 1e-6 {
		return nil
	}
	return helper.Normalize(mean)
}

// SimilaritySearch returns the k chunks most similar to query, ties broken by
// ascending Seq. k is clamped to the index size.
func (idx *Index) SimilaritySearch(ctx context.Context, query []float32, k int) ([]models.Chunk, error) {
	if k <= 0 {
		return nil, models.NewError(models.KindInvalidRequest, fmt.Sprintf("k must be positive, got %d", k), nil)
	}
	ranked, err := idx.rank(ctx, query)
	if err != nil {
		return nil, err
	}
	k = min(k, len(ranked))

	out := make([]models.Chunk, k)
	for i := 0; i < k; i++ {
		out[i] = idx.chunks[ranked[i].pos]
	}
	return out, nil
}

// MMRSearch selects k chunks from the fetchK most similar ones, trading
// relevance to query against redundancy with already selected chunks.
// lambda=1 is pure relevance, lambda=0 pure diversity.
func (idx *Index) MMRSearch(ctx context.Context, query []float32, k int, lambda float64, fetchK int) ([]models.Chunk, error) {
	if k <= 0 {
		return nil, models.NewError(models.KindInvalidRequest, fmt.Sprintf("k must be positive, got %d", k), nil)
	}
	if lambda < 0 || lambda > 1 || math.IsNaN(lambda) {
		return nil, models.NewError(models.KindInvalidRequest, fmt.Sprintf("lambda must be in [0,1], got %v", lambda), nil)
	}
	ranked, err := idx.rank(ctx, query)
	if err != nil {
		return nil, err
	}

	pool := ranked[:min(max(fetchK, k), len(ranked))]
	k = min(k, len(pool))

	selected := make([]int, 0, k)
	used := make([]bool, len(pool))
	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i, c := range pool {
			if used[i] {
				continue
			}
			redundancy := 0.0
			if len(selected) > 0 {
				redundancy = math.Inf(-1)
				for _, s := range selected {
					redundancy = math.Max(redundancy, helper.Dot(idx.vectors[c.pos], idx.vectors[s]))
				}
			}
			score := lambda*c.sim - (1-lambda)*redundancy
			if best < 0 || score > bestScore ||
				(score == bestScore && idx.chunks[c.pos].Seq < idx.chunks[pool[best].pos].Seq) {
				best, bestScore = i, score
			}
		}
		used[best] = true
		selected = append(selected, pool[best].pos)
	}

	out := make([]models.Chunk, len(selected))
	for i, pos := range selected {
		out[i] = idx.chunks[pos]
	}
	return out, nil
}

// rank orders every entry by descending similarity to query, then ascending Seq.
func (idx *Index) rank(ctx context.Context, query []float32) ([]scored, error) {
	if idx.Len() == 0 {
		return nil, models.ErrNoSession()
	}
	if len(query) != idx.dim {
		return nil, models.NewError(models.KindInvalidRequest,
			fmt.Sprintf("query has dimension %d, index has %d", len(query), idx.dim), ErrDimensionMismatch)
	}
	if helper.Norm(query) == 0 {
		return nil, models.NewError(models.KindInvalidRequest, "query embedding is a zero vector", nil)
	}

	results, err := idx.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: helper.Normalize(query),
		NResults:       idx.collection.Count(),
	})
	if err != nil {
		return nil, models.NewError(models.KindInternal, "vector query failed", err)
	}

	ranked := make([]scored, 0, len(results))
	for _, r := range results {
		seq, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, models.NewError(models.KindInternal, fmt.Sprintf("unexpected document id %q", r.ID), err)
		}
		ranked = append(ranked, scored{pos: idx.bySeq[seq], sim: float64(r.Similarity)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].sim != ranked[j].sim {
			return ranked[i].sim > ranked[j].sim
		}
		return idx.chunks[ranked[i].pos].Seq < idx.chunks[ranked[j].pos].Seq
	})
	return ranked, nil
}
