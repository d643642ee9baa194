// Package llmtest provides a scripted llms.Model for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

var _ llms.Model = (*Scripted)(nil)

var ErrExhausted = errors.New("llmtest: no scripted response left")

// Call is one recorded request.
type Call struct {
	Prompt  string
	Options llms.CallOptions
}

// Scripted answers each call with the next entry of Responses. When Respond
// is set it is used instead.
type Scripted struct {
	Responses []string
	Errs      []error
	Respond   func(n int, prompt string) (string, error)

	mu    sync.Mutex
	calls []Call
}

func New(responses ...string) *Scripted {
	return &Scripted{Responses: responses}
}

func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Scripted) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	var sb strings.Builder
	for _, m := range messages {
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
	}
	prompt := sb.String()

	s.mu.Lock()
	n := len(s.calls)
	s.calls = append(s.calls, Call{Prompt: prompt, Options: opts})
	s.mu.Unlock()

	text, err := s.next(n, prompt)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func (s *Scripted) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

func (s *Scripted) next(n int, prompt string) (string, error) {
	if s.Respond != nil {
		return s.Respond(n, prompt)
	}
	if n < len(s.Errs) && s.Errs[n] != nil {
		return "", s.Errs[n]
	}
	if n >= len(s.Responses) {
		return "", ErrExhausted
	}
	return s.Responses[n], nil
}
