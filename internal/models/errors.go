package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure that crosses the pipeline boundary.
type ErrorKind string

const (
	KindIngestion         ErrorKind = "ingestion"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	KindCorruptFile       ErrorKind = "corrupt_file"
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindEmbeddingService  ErrorKind = "embedding_service"
	KindCompletionService ErrorKind = "completion_service"
	KindEmptyIndex        ErrorKind = "empty_index"
	KindGenerationFormat  ErrorKind = "generation_format"
	KindInternal          ErrorKind = "internal"
)

// User-facing categories.
const (
	CategoryNoDocument         = "no_document"
	CategoryServiceUnavailable = "service_unavailable"
	CategoryBadInput           = "bad_input"
	CategoryGenerationFailed   = "generation_failed"
	CategoryInternal           = "internal"
)

// Error is the structured error returned by the exposed operations.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure came from a transient provider issue.
func (e *Error) Retryable() bool {
	return e.Kind == KindEmbeddingService || e.Kind == KindCompletionService
}

// Category maps the kind to the class of message shown to users.
func (e *Error) Category() string {
	switch e.Kind {
	case KindEmptyIndex:
		return CategoryNoDocument
	case KindEmbeddingService, KindCompletionService:
		return CategoryServiceUnavailable
	case KindIngestion, KindUnsupportedFormat, KindCorruptFile, KindInvalidRequest:
		return CategoryBadInput
	case KindGenerationFormat:
		return CategoryGenerationFailed
	default:
		return CategoryInternal
	}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ErrNoSession is returned whenever an operation needs a document and none is loaded.
func ErrNoSession() *Error {
	return NewError(KindEmptyIndex, "no document loaded, please upload a document first", nil)
}

// Wrap keeps an existing *Error in err's chain and otherwise classifies err
// with kind and msg.
func Wrap(kind ErrorKind, msg string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewError(kind, msg, err)
}

// UserMessage is the text safe to show to end users. Provider details stay
// in the wrapped error.
func (e *Error) UserMessage() string {
	switch e.Category() {
	case CategoryServiceUnavailable:
		return "Temporary service issue, please try again."
	case CategoryGenerationFailed:
		return "The model did not produce a valid response, please try again."
	case CategoryInternal:
		return "An internal error occurred."
	default:
		return e.Message
	}
}
