package models

const (
	ThinkTag         = `(?s)<think>.*?</think>`
	CodeFenceRegex   = "(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?```$"
	HyphenBreakRegex = `(\w+)-\n(\w+)`
	ContextSeparator = "\n---\n"
	SourceMarker     = "[Source %d | chunk %d]\n"

	// CannotAnswer is the sentence the model must use when the context lacks the answer.
	CannotAnswer = "Based on the provided document, I cannot answer this question."

	MinQuizQuestions = 1
	MaxQuizQuestions = 20
	MaxQuestionChars = 2000
)

// Generic queries used when a task has no user text to embed.
const (
	SummaryQuery = "overall content, main topics and key conclusions of the document"
	QuizQuery    = "key concepts, definitions, processes and important facts"
)

var (
	SummaryPromptTemplate = `You are an expert AI tutor. Write a clear, well-structured summary of the document below.
Cover every major topic that appears in the context, not only the first one, and keep the
terminology used by the document. Use only the information in the context.

CONTEXT:
%s

SUMMARY:
`

	ExplainPromptTemplate = `You are an expert AI tutor. Your task is to answer the user's question based *only* on the provided document context.

Provide a detailed, clear, and helpful answer. If the information to answer the question is not present in the context, you MUST state:
"` + CannotAnswer + `"
Do not add any information that is not from the context.

CONTEXT:
%s

QUESTION:
%s

ANSWER:
`

	QuizPromptTemplate = `You are an expert AI tutor creating a multiple-choice quiz from the document context below.

Create exactly %d questions of %s difficulty. Every question must have exactly %d options and
exactly one correct answer. The "answer" value must be copied character for character from one of
the "options". Base every question only on the context.

Respond with ONLY a JSON array and nothing else, using this shape:
[{"question": "...", "options": [%s], "answer": "..."}]

CONTEXT:
%s
`

	CorrectionPromptTemplate = `%s

Your previous response could not be used: %s
Respond again with ONLY the JSON array described above. Do not include explanations or markdown.
`
)
