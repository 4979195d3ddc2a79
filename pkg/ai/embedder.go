package ai

import (
	"context"
	"fmt"
)

// Backend produces an embedding for one text with the given model.
type Backend interface {
	EmbedText(ctx context.Context, model, text string) ([]float32, error)
}

// BatchBackend optionally embeds several texts in one request.
type BatchBackend interface {
	EmbedTexts(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Pinger optionally reports whether the backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Embedding is a single vector produced by a model.
type Embedding struct {
	Vector     []float32 `json:"vector"`
	ModelID    string    `json:"modelId"`
	Dimensions int       `json:"dimensions"`
}

// BatchEmbedding holds one vector per input text, in input order.
type BatchEmbedding struct {
	Vectors    [][]float32 `json:"vectors"`
	ModelID    string      `json:"modelId"`
	Dimensions int         `json:"dimensions"`
}

// Error wraps a backend failure with the model that was requested.
type Error struct {
	Model string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding model %s: %v", e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
