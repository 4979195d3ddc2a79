package rag

import (
	"errors"
	"fmt"
)

// Error categories. Callers match them with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
)

var (
	ErrProfileNotFound  = fmt.Errorf("profile %w", ErrNotFound)
	ErrResourceNotFound = fmt.Errorf("resource %w", ErrNotFound)
	ErrJobNotFound      = fmt.Errorf("job %w", ErrNotFound)

	ErrRAGDisabled      = fmt.Errorf("%w: rag is not enabled for this profile", ErrValidation)
	ErrNoEmbeddingModel = fmt.Errorf("%w: profile has no embedding model configured", ErrValidation)
	ErrNoResources      = fmt.Errorf("%w: profile has no resources to index", ErrValidation)

	ErrIndexingInProgress = errors.New("indexing already in progress")
	ErrJobFinished        = errors.New("job already finished")
)

// ExternalServiceError wraps a failure of the embedding or vector backend.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func embeddingError(op string, err error) error {
	return &ExternalServiceError{Service: "embedding", Op: op, Err: err}
}

func vectorError(op string, err error) error {
	return &ExternalServiceError{Service: "vectorstore", Op: op, Err: err}
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
