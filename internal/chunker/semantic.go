package chunker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"doc-tutor/internal/config"
	"doc-tutor/internal/helper"
	"doc-tutor/internal/models"
)

const sentenceBuffer = 1

// Semantic places chunk boundaries where the embedding distance between
// neighbouring sentences is unusually large, i.e. where the topic shifts.
type Semantic struct {
	embedder    SentenceEmbedder
	percentile  float64
	maxChars    int
	minChars    int
	minDocChars int
}

func NewSemantic(embedder SentenceEmbedder, cfg config.RAGConfig) *Semantic {
	return &Semantic{
		embedder:    embedder,
		percentile:  cfg.BreakpointPercentile,
		maxChars:    cfg.MaxChunkChars,
		minChars:    cfg.MinChunkChars,
		minDocChars: cfg.MinDocumentChars,
	}
}

func (c *Semantic) Chunk(ctx context.Context, documentID, text string) ([]models.Chunk, error) {
	normalized, err := prepare(text, c.minDocChars)
	if err != nil {
		return nil, err
	}

	sentences := splitSentences(normalized)
	groups := []span{{0, len(normalized)}}
	if len(sentences) > 1 {
		breaks, err := c.breakpoints(ctx, normalized, sentences)
		if err != nil {
			return nil, err
		}
		groups = groupSentences(sentences, breaks)
	}

	groups = c.enforceMax(normalized, sentences, groups)
	groups = c.mergeSmall(groups)

	log.Debug().Int("sentences", len(sentences)).Int("chunks", len(groups)).
		Float64("percentile", c.percentile).Msg("Semantic chunking finished")
	return toChunks(documentID, normalized, groups), nil
}

// breakpoints returns, for every gap between sentence i and i+1, whether a
// chunk boundary belongs there.
func (c *Semantic) breakpoints(ctx context.Context, text string, sentences []span) ([]bool, error) {
	windows := make([]string, len(sentences))
	for i := range sentences {
		lo := max(0, i-sentenceBuffer)
		hi := min(len(sentences)-1, i+sentenceBuffer)
		windows[i] = strings.TrimSpace(text[sentences[lo].start:sentences[hi].end])
	}

	vectors, err := c.embedder.EmbedBatch(ctx, windows)
	if err != nil {
		return nil, models.Wrap(models.KindEmbeddingService, "failed to embed sentences for chunking", err)
	}
	if len(vectors) != len(windows) {
		return nil, models.NewError(models.KindEmbeddingService,
			fmt.Sprintf("embedder returned %d vectors for %d sentences", len(vectors), len(windows)), nil)
	}

	distances := make([]float64, len(vectors)-1)
	for i := range distances {
		distances[i] = 1 - helper.Cosine(vectors[i], vectors[i+1])
	}
	threshold := percentile(distances, c.percentile)

	breaks := make([]bool, len(distances))
	for i, d := range distances {
		breaks[i] = d > threshold
	}
	return breaks, nil
}

func groupSentences(sentences []span, breaks []bool) []span {
	var groups []span
	current := sentences[0]
	for i := 1; i < len(sentences); i++ {
		if breaks[i-1] {
			groups = append(groups, current)
			current = sentences[i]
			continue
		}
		current.end = sentences[i].end
	}
	return append(groups, current)
}

// enforceMax re-splits oversized groups at sentence boundaries. A single
// sentence longer than the limit falls back to window splitting.
func (c *Semantic) enforceMax(text string, sentences []span, groups []span) []span {
	if c.maxChars <= 0 {
		return groups
	}
	var out []span
	si := 0
	for _, g := range groups {
		if g.len() <= c.maxChars {
			out = append(out, g)
			continue
		}
		for si < len(sentences) && sentences[si].start < g.start {
			si++
		}
		current := span{g.start, g.start}
		for ; si < len(sentences) && sentences[si].end <= g.end; si++ {
			s := sentences[si]
			if s.len() > c.maxChars {
				if current.len() > 0 {
					out = append(out, current)
				}
				out = append(out, windowSpans(text, s.start, s.end, c.maxChars, 0)...)
				current = span{s.end, s.end}
				continue
			}
			if current.len()+s.len() > c.maxChars && current.len() > 0 {
				out = append(out, current)
				current = span{s.start, s.start}
			}
			current.end = s.end
		}
		if current.len() > 0 {
			out = append(out, current)
		}
	}
	return out
}

// mergeSmall folds groups shorter than minChars into a neighbour as long as
// the result stays within maxChars.
func (c *Semantic) mergeSmall(groups []span) []span {
	if c.minChars <= 0 || len(groups) < 2 {
		return groups
	}
	fits := func(a, b span) bool { return c.maxChars <= 0 || b.end-a.start <= c.maxChars }

	out := make([]span, 0, len(groups))
	for _, g := range groups {
		if n := len(out); n > 0 && (g.len() < c.minChars || out[n-1].len() < c.minChars) && fits(out[n-1], g) {
			out[n-1].end = g.end
			continue
		}
		out = append(out, g)
	}
	return out
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.Inf(1)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}
