// Package generator turns prompts into validated task output.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"doc-tutor/internal/config"
	"doc-tutor/internal/llmservice"
	"doc-tutor/internal/models"
	"doc-tutor/internal/prompt"
)

const explainTemperature = 0.2

var codeFenceRe = regexp.MustCompile(models.CodeFenceRegex)

// Result is the output of one task. Quiz is set only for quiz tasks.
type Result struct {
	Text     string
	Quiz     []models.QuizQuestion
	Attempts int
}

type Generator struct {
	llm         llmservice.Completer
	temperature float64
	optionCount int
	maxRetries  int

	// OnFormatRetry is called before every corrective re-prompt.
	OnFormatRetry func(task models.TaskType)
}

func New(llm llmservice.Completer, llmCfg config.LLMConfig, ragCfg config.RAGConfig) *Generator {
	return &Generator{
		llm:         llm,
		temperature: llmCfg.Temperature,
		optionCount: ragCfg.QuizOptionCount,
		maxRetries:  max(ragCfg.MaxFormatRetries, 0),
	}
}

// Generate completes prompt and validates the output for task. Invalid output
// is retried with a corrective instruction at most maxRetries times.
func (g *Generator) Generate(ctx context.Context, basePrompt string, task models.TaskType, params models.TaskParams) (Result, error) {
	gen := llmservice.GenerationConfig{Temperature: g.temperature}
	if task == models.TaskExplain {
		gen.Temperature = explainTemperature
	}

	current := basePrompt
	var lastErr error
	for attempt := 1; attempt <= g.maxRetries+1; attempt++ {
		log.Debug().Str("task", string(task)).Int("attempt", attempt).Msg("State: Generating")
		text, err := g.llm.Complete(ctx, current, gen)
		if err != nil {
			log.Debug().Str("task", string(task)).Err(err).Msg("State: Failed")
			return Result{}, err
		}

		log.Debug().Str("task", string(task)).Int("attempt", attempt).Msg("State: Validating")
		res, err := g.validate(text, task, params)
		if err == nil {
			res.Attempts = attempt
			log.Debug().Str("task", string(task)).Int("attempts", attempt).Msg("State: Done")
			return res, nil
		}

		lastErr = err
		log.Warn().Str("task", string(task)).Int("attempt", attempt).Err(err).Msg("Model output rejected")
		if attempt <= g.maxRetries {
			if g.OnFormatRetry != nil {
				g.OnFormatRetry(task)
			}
			current = prompt.Correction(basePrompt, err.Error())
		}
	}

	log.Debug().Str("task", string(task)).Msg("State: Failed")
	return Result{}, models.NewError(models.KindGenerationFormat,
		fmt.Sprintf("model output was invalid after %d attempts", g.maxRetries+1), lastErr)
}

func (g *Generator) validate(text string, task models.TaskType, params models.TaskParams) (Result, error) {
	if task != models.TaskQuiz {
		text = llmservice.StripThinking(text)
		if text == "" {
			return Result{}, errors.New("the response was empty")
		}
		return Result{Text: text}, nil
	}

	quiz, err := ParseQuiz(text, params.NumQuestions, g.optionCount)
	if err != nil {
		return Result{}, err
	}
	return Result{Quiz: quiz}, nil
}

// ParseQuiz decodes a strict JSON array of questions, optionally wrapped in a
// markdown code fence, and validates it. A surplus of questions is truncated
// to n; a deficit is an error.
func ParseQuiz(raw string, n, optionCount int) ([]models.QuizQuestion, error) {
	body := llmservice.StripThinking(raw)
	if m := codeFenceRe.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}
	if body == "" {
		return nil, errors.New("the response was empty, a JSON array is required")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	var questions []models.QuizQuestion
	if err := dec.Decode(&questions); err != nil {
		return nil, fmt.Errorf("the response is not a valid JSON array of questions: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("the response has extra content after the JSON array")
	}

	if len(questions) < n {
		return nil, fmt.Errorf("expected %d questions, got %d", n, len(questions))
	}
	if len(questions) > n {
		log.Warn().Int("requested", n).Int("received", len(questions)).Msg("Truncating surplus quiz questions")
		questions = questions[:n]
	}

	for i := range questions {
		q, err := validateQuestion(questions[i], optionCount)
		if err != nil {
			return nil, fmt.Errorf("question %d: %v", i+1, err)
		}
		questions[i] = q
	}
	return questions, nil
}

func validateQuestion(q models.QuizQuestion, optionCount int) (models.QuizQuestion, error) {
	out := models.QuizQuestion{Question: strings.TrimSpace(q.Question)}
	if out.Question == "" {
		return out, errors.New("question text is empty")
	}
	if len(q.Options) != optionCount {
		return out, fmt.Errorf("has %d options, expected exactly %d", len(q.Options), optionCount)
	}

	seen := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		o = strings.TrimSpace(o)
		if o == "" {
			return out, errors.New("has an empty option")
		}
		if seen[o] {
			return out, fmt.Errorf("has duplicate option %q", o)
		}
		seen[o] = true
		out.Options = append(out.Options, o)
	}

	answer := strings.TrimSpace(q.Answer)
	if !seen[answer] {
		return out, fmt.Errorf("answer %q is not one of the options", answer)
	}
	out.Answer = answer
	return out, nil
}
