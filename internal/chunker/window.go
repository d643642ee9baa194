package chunker

import (
	"context"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"doc-tutor/internal/config"
	"doc-tutor/internal/models"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 0
)

// Window is the fixed-size fallback chunker. Its boundaries ignore topic
// shifts, which lowers retrieval quality compared to Semantic.
type Window struct {
	maxChars     int
	overlapChars int
	minDocChars  int
}

func NewWindow(cfg config.RAGConfig) *Window {
	w := &Window{maxChars: cfg.ChunkSize, overlapChars: cfg.ChunkOverlap, minDocChars: cfg.MinDocumentChars}
	if w.maxChars <= 0 {
		w.maxChars = defaultChunkSize
		w.overlapChars = defaultChunkOverlap
	}
	log.Warn().Int("chunk_size", w.maxChars).Int("chunk_overlap", w.overlapChars).
		Msg("Using fixed-window chunker, retrieval quality is reduced compared to semantic chunking")
	return w
}

func (w *Window) Chunk(_ context.Context, documentID, text string) ([]models.Chunk, error) {
	normalized, err := prepare(text, w.minDocChars)
	if err != nil {
		return nil, err
	}
	return toChunks(documentID, normalized, windowSpans(normalized, 0, len(normalized), w.maxChars, w.overlapChars)), nil
}

// windowSpans covers content[from:to] with windows of at most maxChars,
// preferring to end each window after a space, newline or period found in its
// last 10%. Consecutive windows share about overlapChars bytes. Boundaries
// always fall on rune starts.
func windowSpans(content string, from, to, maxChars, overlapChars int) []span {
	if maxChars <= 0 || from >= to {
		return nil
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}

	var spans []span
	start := from
	for start < to {
		end := runeStartAtOrBefore(content, start, min(start+maxChars, to))
		if end == start {
			_, size := utf8.DecodeRuneInString(content[start:to])
			end = start + size
		}
		if end < to {
			lookBack := min(maxChars/10, end-start)
			for i := end - 1; i >= end-lookBack && i > start; i-- {
				if content[i] == ' ' || content[i] == '\n' || content[i] == '.' {
					end = i + 1
					break
				}
			}
		}
		spans = append(spans, span{start, end})
		if end >= to {
			break
		}
		next := runeStartAtOrBefore(content, start, end-overlapChars)
		if next <= start {
			next = end
		}
		start = next
	}
	return spans
}

// runeStartAtOrBefore moves i back to the nearest rune start, not past floor.
func runeStartAtOrBefore(content string, floor, i int) int {
	for i > floor && i < len(content) && !utf8.RuneStart(content[i]) {
		i--
	}
	return i
}
