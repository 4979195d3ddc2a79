package rag

import (
	"context"

	"personaai/pkg/ai"
)

// Embedder is the subset of *ai.Provider the pipeline depends on.
type Embedder interface {
	ResolveModel(modelID string) string
	Dimensions(modelID string) int
	GenerateEmbedding(ctx context.Context, text, modelID string) (ai.Embedding, error)
	GenerateEmbeddings(ctx context.Context, texts []string, modelID string) (ai.BatchEmbedding, error)
}

var _ Embedder = (*ai.Provider)(nil)
