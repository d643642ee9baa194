// Package prompt validates task parameters and renders the prompt for each task.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"doc-tutor/internal/config"
	"doc-tutor/internal/models"
)

type Builder struct {
	maxContextChars int
	optionCount     int
}

func NewBuilder(cfg config.RAGConfig) *Builder {
	return &Builder{maxContextChars: cfg.MaxContextChars, optionCount: cfg.QuizOptionCount}
}

// Validate checks params for task and returns them normalized: the question
// trimmed and the difficulty in canonical casing.
func Validate(task models.TaskType, params models.TaskParams) (models.TaskParams, error) {
	switch task {
	case models.TaskSummary:
		if params != (models.TaskParams{}) {
			return params, models.NewError(models.KindInvalidRequest, "summary takes no parameters", nil)
		}
		return params, nil

	case models.TaskExplain:
		q := strings.TrimSpace(params.Question)
		if q == "" {
			return params, models.NewError(models.KindInvalidRequest, "question must not be empty", nil)
		}
		if n := utf8.RuneCountInString(q); n > models.MaxQuestionChars {
			return params, models.NewError(models.KindInvalidRequest,
				fmt.Sprintf("question is too long (%d characters, max %d)", n, models.MaxQuestionChars), nil)
		}
		return models.TaskParams{Question: q}, nil

	case models.TaskQuiz:
		d, err := models.ParseDifficulty(string(params.Difficulty))
		if err != nil {
			return params, err
		}
		if params.NumQuestions < models.MinQuizQuestions || params.NumQuestions > models.MaxQuizQuestions {
			return params, models.NewError(models.KindInvalidRequest,
				fmt.Sprintf("num_questions must be between %d and %d (got %d)",
					models.MinQuizQuestions, models.MaxQuizQuestions, params.NumQuestions), nil)
		}
		return models.TaskParams{Difficulty: d, NumQuestions: params.NumQuestions}, nil
	}
	return params, models.NewError(models.KindInvalidRequest, fmt.Sprintf("unknown task %q", task), nil)
}

// Build renders the prompt for task from the retrieved chunks in rank order.
func (b *Builder) Build(task models.TaskType, chunks []models.Chunk, params models.TaskParams) (string, error) {
	params, err := Validate(task, params)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", models.NewError(models.KindEmptyIndex, "no context retrieved for the request", nil)
	}

	sources := b.Context(chunks)
	switch task {
	case models.TaskSummary:
		return fmt.Sprintf(models.SummaryPromptTemplate, sources), nil
	case models.TaskExplain:
		return fmt.Sprintf(models.ExplainPromptTemplate, sources, params.Question), nil
	default:
		return fmt.Sprintf(models.QuizPromptTemplate,
			params.NumQuestions, params.Difficulty, b.optionCount, optionPlaceholders(b.optionCount), sources), nil
	}
}

// Context joins the chunks as numbered sources within the character budget.
// Lower-ranked chunks are dropped first. A top chunk that alone exceeds the
// budget is truncated.
func (b *Builder) Context(chunks []models.Chunk) string {
	var sb strings.Builder
	used := 0
	for i, c := range chunks {
		block := fmt.Sprintf(models.SourceMarker, i+1, c.Seq) + c.Text
		sep := ""
		if i > 0 {
			sep = models.ContextSeparator
		}
		if b.maxContextChars > 0 && used+len(sep)+len(block) > b.maxContextChars {
			if i == 0 {
				block = truncate(block, b.maxContextChars)
				sb.WriteString(block)
				log.Warn().Int("seq", c.Seq).Int("budget", b.maxContextChars).Msg("Top chunk truncated to fit context budget")
			} else {
				log.Debug().Int("kept", i).Int("dropped", len(chunks)-i).Msg("Context budget reached")
			}
			break
		}
		sb.WriteString(sep)
		sb.WriteString(block)
		used += len(sep) + len(block)
	}
	return sb.String()
}

// Correction appends a corrective instruction naming the defect to the
// original prompt.
func Correction(original, reason string) string {
	return fmt.Sprintf(models.CorrectionPromptTemplate, strings.TrimRight(original, "\n"), reason)
}

func optionPlaceholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = `"..."`
	}
	return strings.Join(parts, ", ")
}

// truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
