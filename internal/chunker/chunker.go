// Package chunker splits extracted document text into retrieval units.
package chunker

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"doc-tutor/internal/config"
	"doc-tutor/internal/models"
)

var (
	hyphenBreakRe = regexp.MustCompile(models.HyphenBreakRegex)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// Chunker turns a document into ordered chunks.
type Chunker interface {
	Chunk(ctx context.Context, documentID, text string) ([]models.Chunk, error)
}

// SentenceEmbedder is the part of the embedder the semantic chunker needs.
type SentenceEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// New builds the chunker selected by cfg.Chunker.
func New(cfg config.RAGConfig, embedder SentenceEmbedder) (Chunker, error) {
	switch cfg.Chunker {
	case config.ChunkerSemantic, "":
		if embedder == nil {
			return nil, fmt.Errorf("semantic chunker requires an embedder")
		}
		return NewSemantic(embedder, cfg), nil
	case config.ChunkerWindow:
		return NewWindow(cfg), nil
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Chunker)
	}
}

// Normalize joins words hyphenated across line breaks and collapses every
// whitespace run into a single space.
func Normalize(text string) string {
	text = hyphenBreakRe.ReplaceAllString(text, "$1$2")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func prepare(text string, minChars int) (string, error) {
	normalized := Normalize(text)
	if normalized == "" {
		return "", models.NewError(models.KindIngestion, "document contains no text", nil)
	}
	if n := utf8.RuneCountInString(normalized); n < minChars {
		return "", models.NewError(models.KindIngestion,
			fmt.Sprintf("document is too short (%d characters, need at least %d)", n, minChars), nil)
	}
	return normalized, nil
}

type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

// splitSentences cuts text after sentence-ending punctuation. Every span keeps
// its trailing whitespace, so the spans tile text exactly.
func splitSentences(text string) []span {
	var spans []span
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		j := i + 1
		for j < len(text) && strings.IndexByte(".!?\"')]", text[j]) >= 0 {
			j++
		}
		if j < len(text) && text[j] != ' ' {
			// decimal point or abbreviation without a following space
			i = j - 1
			continue
		}
		for j < len(text) && text[j] == ' ' {
			j++
		}
		spans = append(spans, span{start, j})
		start = j
		i = j - 1
	}
	if start < len(text) {
		spans = append(spans, span{start, len(text)})
	}
	return spans
}

func toChunks(documentID, text string, spans []span) []models.Chunk {
	chunks := make([]models.Chunk, 0, len(spans))
	for _, s := range spans {
		chunks = append(chunks, models.Chunk{
			Seq:        len(chunks),
			DocumentID: documentID,
			Text:       text[s.start:s.end],
			Start:      s.start,
			End:        s.end,
		})
	}
	log.Debug().Str("document_id", documentID).Int("chunks", len(chunks)).Msg("Chunked document")
	return chunks
}
