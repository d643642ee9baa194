package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-tutor/internal/config"
	"doc-tutor/internal/llmservice"
	"doc-tutor/internal/llmservice/llmtest"
	"doc-tutor/internal/models"
)

func quizJSON(n int) string {
	qs := make([]models.QuizQuestion, n)
	for i := range qs {
		qs[i] = models.QuizQuestion{
			Question: fmt.Sprintf("Question %d about photosynthesis?", i+1),
			Options:  []string{"Oxygen", "Glucose", "Nitrogen", "Helium"},
			Answer:   "Glucose",
		}
	}
	b, _ := json.Marshal(qs)
	return string(b)
}

func newTestGenerator(model *llmtest.Scripted) *Generator {
	cfg := config.Default()
	client := llmservice.NewClient(model, cfg.LLM,
		config.RetryConfig{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond})
	return New(client, cfg.LLM, cfg.RAG)
}

var quizParams = models.TaskParams{Difficulty: models.Medium, NumQuestions: 3}

func TestGenerate_Text(t *testing.T) {
	model := llmtest.New("<think>plan</think>Chlorophyll absorbs light.", "A summary.")
	g := newTestGenerator(model)

	res, err := g.Generate(context.Background(), "explain prompt", models.TaskExplain, models.TaskParams{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "Chlorophyll absorbs light.", res.Text)
	assert.Equal(t, 1, res.Attempts)

	res, err = g.Generate(context.Background(), "summary prompt", models.TaskSummary, models.TaskParams{})
	require.NoError(t, err)
	assert.Equal(t, "A summary.", res.Text)

	calls := model.Calls()
	assert.InDelta(t, explainTemperature, calls[0].Options.Temperature, 1e-9)
	assert.InDelta(t, config.Default().LLM.Temperature, calls[1].Options.Temperature, 1e-9)
}

func TestGenerate_EmptyTextFails(t *testing.T) {
	model := llmtest.New("  ", "<think>only thoughts</think>", "")
	g := newTestGenerator(model)

	_, err := g.Generate(context.Background(), "summary prompt", models.TaskSummary, models.TaskParams{})
	require.Error(t, err)
	assert.Equal(t, models.KindGenerationFormat, models.KindOf(err))
	assert.Len(t, model.Calls(), 3)
}

func TestGenerate_Quiz(t *testing.T) {
	model := llmtest.New("```json\n" + quizJSON(3) + "\n```")
	g := newTestGenerator(model)

	res, err := g.Generate(context.Background(), "quiz prompt", models.TaskQuiz, quizParams)
	require.NoError(t, err)
	require.Len(t, res.Quiz, 3)
	for _, q := range res.Quiz {
		assert.Len(t, q.Options, 4)
		assert.Contains(t, q.Options, q.Answer)
	}
}

func TestGenerate_QuizTruncatesSurplus(t *testing.T) {
	g := newTestGenerator(llmtest.New(quizJSON(5)))

	res, err := g.Generate(context.Background(), "quiz prompt", models.TaskQuiz, quizParams)
	require.NoError(t, err)
	require.Len(t, res.Quiz, 3)
	assert.Equal(t, "Question 1 about photosynthesis?", res.Quiz[0].Question)
	assert.Equal(t, "Question 3 about photosynthesis?", res.Quiz[2].Question)
}

func TestGenerate_QuizRetriesDeficit(t *testing.T) {
	model := llmtest.New(quizJSON(2), quizJSON(3))
	g := newTestGenerator(model)
	retries := 0
	g.OnFormatRetry = func(models.TaskType) { retries++ }

	res, err := g.Generate(context.Background(), "quiz prompt", models.TaskQuiz, quizParams)
	require.NoError(t, err)
	assert.Len(t, res.Quiz, 3)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, retries)

	calls := model.Calls()
	require.Len(t, calls, 2)
	assert.True(t, strings.HasPrefix(calls[1].Prompt, "quiz prompt"))
	assert.Contains(t, calls[1].Prompt, "expected 3 questions, got 2")
}

func TestGenerate_QuizGivesUpAfterRetries(t *testing.T) {
	model := llmtest.New("Sure! Here is your quiz.", "not json", `{"question": "x"}`, quizJSON(3))
	g := newTestGenerator(model)

	_, err := g.Generate(context.Background(), "quiz prompt", models.TaskQuiz, quizParams)
	require.Error(t, err)
	assert.Equal(t, models.KindGenerationFormat, models.KindOf(err))
	assert.Len(t, model.Calls(), 3)
}

func TestGenerate_CompletionErrorIsNotRetriedAsFormat(t *testing.T) {
	model := &llmtest.Scripted{Respond: func(int, string) (string, error) { return "", errors.New("503") }}
	g := newTestGenerator(model)

	_, err := g.Generate(context.Background(), "quiz prompt", models.TaskQuiz, quizParams)
	require.Error(t, err)
	assert.Equal(t, models.KindCompletionService, models.KindOf(err))
	assert.Len(t, model.Calls(), 1)
}

func TestParseQuiz_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "   ", "empty"},
		{"prose", "Here are the questions", "not a valid JSON array"},
		{"object", `{"questions": []}`, "not a valid JSON array"},
		{"unknown field", `[{"question":"q","options":["a","b","c","d"],"answer":"a","explanation":"x"}]`, "not a valid JSON array"},
		{"trailing text", `[{"question":"q","options":["a","b","c","d"],"answer":"a"}] hope this helps`, "extra content"},
		{"too few options", `[{"question":"q","options":["a","b","c"],"answer":"a"}]`, "has 3 options"},
		{"duplicate options", `[{"question":"q","options":["a","b","b","d"],"answer":"a"}]`, "duplicate option"},
		{"empty option", `[{"question":"q","options":["a","","c","d"],"answer":"a"}]`, "empty option"},
		{"answer not an option", `[{"question":"q","options":["a","b","c","d"],"answer":"e"}]`, "not one of the options"},
		{"blank question", `[{"question":" ","options":["a","b","c","d"],"answer":"a"}]`, "question text is empty"},
		{"deficit", `[]`, "expected 1 questions, got 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuiz(tt.raw, 1, 4)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseQuiz_TrimsAndMatchesAnswer(t *testing.T) {
	raw := "<think>hmm</think>\n```\n" +
		`[{"question":"  Where do light reactions occur? ","options":[" Thylakoid ","Stroma","Nucleus","Cytoplasm"],"answer":"Thylakoid  "}]` +
		"\n```"
	got, err := ParseQuiz(raw, 1, 4)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Where do light reactions occur?", got[0].Question)
	assert.Equal(t, []string{"Thylakoid", "Stroma", "Nucleus", "Cytoplasm"}, got[0].Options)
	assert.Equal(t, "Thylakoid", got[0].Answer)
}
