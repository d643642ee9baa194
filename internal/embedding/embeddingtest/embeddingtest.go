// Package embeddingtest provides a deterministic embeddings.Embedder for tests.
package embeddingtest

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
)

const DefaultDim = 64

var _ embeddings.Embedder = (*Hash)(nil)

// Hash embeds text as a hashed bag of lowercase words. Texts that share words
// are similar, which is enough to exercise retrieval end to end.
type Hash struct {
	Dim int

	// FailFirst makes the first N provider calls return Err (or a default error).
	FailFirst int
	Err       error

	mu    sync.Mutex
	calls int
}

func New() *Hash {
	return &Hash{Dim: DefaultDim}
}

// Calls returns how many provider calls were made.
func (h *Hash) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func (h *Hash) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if err := h.call(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.Vector(t)
	}
	return out, nil
}

func (h *Hash) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if err := h.call(); err != nil {
		return nil, err
	}
	return h.Vector(text), nil
}

// Vector is the embedding for text without counting a provider call.
func (h *Hash) Vector(text string) []float32 {
	dim := h.Dim
	if dim <= 0 {
		dim = DefaultDim
	}
	v := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		v[f.Sum32()%uint32(dim)]++
	}
	nonZero := false
	for _, x := range v {
		if x != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		v[0] = 1
	}
	return v
}

func (h *Hash) call() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.Err != nil && h.FailFirst == 0 {
		return h.Err
	}
	if h.calls <= h.FailFirst {
		if h.Err != nil {
			return h.Err
		}
		return errTransient
	}
	return nil
}

var errTransient = errors.New("embedding provider: 503 service unavailable")

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true, "by": true,
	"do": true, "does": true, "for": true, "from": true, "how": true, "in": true, "into": true,
	"is": true, "it": true, "its": true, "of": true, "on": true, "or": true, "the": true, "this": true,
	"to": true, "what": true, "which": true, "with": true,
}
