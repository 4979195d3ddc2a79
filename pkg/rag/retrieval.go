package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"personaai/pkg/domain"
	"personaai/pkg/store"
	"personaai/pkg/vectorstore"
)

const (
	DefaultTopK                = 5
	DefaultSimilarityThreshold = 0.7
)

const augmentTemplate = `Use the following context from the user's knowledge base to answer the question. If the context does not contain the answer, say so and answer from general knowledge.

Context:
%s

Question: %s`

// SearchResult is one retrieved chunk.
type SearchResult struct {
	Content  string          `json:"content"`
	Score    float64         `json:"score"`
	Metadata domain.Metadata `json:"metadata"`
}

// RetrieverConfig wires a Retriever.
type RetrieverConfig struct {
	Store    store.Store
	Embedder Embedder
	Vectors  vectorstore.Store
	Logger   *slog.Logger
}

// Retriever answers similarity queries against a profile's index.
type Retriever struct {
	store    store.Store
	embedder Embedder
	vectors  vectorstore.Store
	logger   *slog.Logger
}

func NewRetriever(cfg RetrieverConfig) (*Retriever, error) {
	if cfg.Store == nil || cfg.Embedder == nil || cfg.Vectors == nil {
		return nil, fmt.Errorf("retriever requires store, embedder and vector store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		store:    cfg.Store,
		embedder: cfg.Embedder,
		vectors:  cfg.Vectors,
		logger:   logger,
	}, nil
}

// SearchSimilar returns the profile's chunks most similar to query. Profiles
// without RAG or without a ready index yield no results. topK <= 0 falls back
// to the profile setting, then DefaultTopK.
func (r *Retriever) SearchSimilar(ctx context.Context, profileID, query string, topK int) ([]SearchResult, error) {
	profile, ok, err := r.store.GetProfile(strings.TrimSpace(profileID))
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if !ok {
		return nil, ErrProfileNotFound
	}
	if strings.TrimSpace(query) == "" {
		return nil, validationError("query required")
	}
	return r.search(ctx, profile, query, topK)
}

func (r *Retriever) search(ctx context.Context, profile domain.Profile, query string, topK int) ([]SearchResult, error) {
	if !profile.RAGEnabled || profile.IndexStatus != domain.IndexReady {
		return []SearchResult{}, nil
	}
	k := topK
	if k <= 0 {
		k = profile.RAGSettings.TopK
	}
	if k <= 0 {
		k = DefaultTopK
	}
	// Zero means unset. A negative threshold disables filtering.
	threshold := profile.RAGSettings.SimilarityThreshold
	if threshold == 0 {
		threshold = DefaultSimilarityThreshold
	}

	model := r.embedder.ResolveModel(profile.EmbeddingModelID)
	emb, err := r.embedder.GenerateEmbedding(ctx, query, model)
	if err != nil {
		return nil, embeddingError("generate", err)
	}
	hits, err := r.vectors.Search(ctx, vectorstore.CollectionName(profile.ID, model), emb.Vector, k, threshold)
	if err != nil {
		return nil, vectorError("search", err)
	}
	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		meta := hit.Payload.Metadata.Clone()
		meta["resourceId"] = hit.Payload.ResourceID
		meta["chunkId"] = hit.Payload.ChunkID
		results = append(results, SearchResult{
			Content:  hit.Payload.Content,
			Score:    hit.Score,
			Metadata: meta,
		})
	}
	return results, nil
}

// AugmentPrompt prefixes message with retrieved context. It is best effort:
// on any error, or when nothing relevant is found, message is returned as is.
func (r *Retriever) AugmentPrompt(ctx context.Context, profile domain.Profile, message string) string {
	if !profile.RAGEnabled || profile.IndexStatus != domain.IndexReady || strings.TrimSpace(message) == "" {
		return message
	}
	results, err := r.search(ctx, profile, message, 0)
	if err != nil {
		r.logger.Warn("prompt augmentation skipped", "profile_id", profile.ID, "err", err)
		return message
	}
	if len(results) == 0 {
		return message
	}
	blocks := make([]string, 0, len(results))
	for _, res := range results {
		blocks = append(blocks, fmt.Sprintf("[Relevance: %d%%]\n%s", int(math.Round(res.Score*100)), res.Content))
	}
	return fmt.Sprintf(augmentTemplate, strings.Join(blocks, "\n\n"), message)
}
