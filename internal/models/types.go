package models

import (
	"fmt"
	"strings"
	"time"
)

// Document is the extracted text of one upload.
type Document struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"-"`
}

// Chunk is an immutable span of the normalized document text.
type Chunk struct {
	Seq        int    `json:"seq"`
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// IndexEntry pairs a chunk with its embedding.
type IndexEntry struct {
	Chunk     Chunk
	Embedding []float32
}

// QuizQuestion is a validated multiple-choice question.
type QuizQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

// UploadStatus is returned to the caller after a successful upload.
type UploadStatus struct {
	SessionID string    `json:"session_id"`
	Document  string    `json:"document"`
	Chunks    int       `json:"chunks"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type TaskType string

const (
	TaskSummary TaskType = "summary"
	TaskExplain TaskType = "explain"
	TaskQuiz    TaskType = "quiz"
)

type Difficulty string

const (
	Easy   Difficulty = "Easy"
	Medium Difficulty = "Medium"
	Hard   Difficulty = "Hard"
)

// ParseDifficulty accepts any casing of Easy, Medium or Hard.
func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return Easy, nil
	case "medium":
		return Medium, nil
	case "hard":
		return Hard, nil
	}
	return "", NewError(KindInvalidRequest, fmt.Sprintf("difficulty must be one of Easy, Medium, Hard (got %q)", s), nil)
}

// TaskParams carries the per-request inputs of a task.
type TaskParams struct {
	Question     string
	Difficulty   Difficulty
	NumQuestions int
}
