package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"personaai/pkg/domain"
)

func TestSearchSimilarRanksIndexedContent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addProfile(t, "p1")
	target := env.addText(t, "p1", "bread baking with sourdough")
	env.addText(t, "p1", "xyz")
	env.indexAndWait(t, "p1")

	results, err := env.ret.SearchSimilar(context.Background(), "p1", "bread baking with sourdough", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected only the matching chunk above threshold, got %d", len(results))
	}
	got := results[0]
	if got.Content != "bread baking with sourdough" || got.Score < 0.99 {
		t.Fatalf("unexpected top result: %+v", got)
	}
	if got.Metadata["resourceId"] != target.ID || got.Metadata["chunkId"] == "" {
		t.Fatalf("unexpected metadata: %+v", got.Metadata)
	}
	if got.Metadata["source"] != "test" || got.Metadata["startChar"] != "0" {
		t.Fatalf("resource and chunk metadata should be merged: %+v", got.Metadata)
	}
}

func TestSearchSimilarTopKDefaults(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addProfile(t, "p1")
	for i := 0; i < 7; i++ {
		env.addText(t, "p1", "same words everywhere")
	}
	env.indexAndWait(t, "p1")
	ctx := context.Background()

	results, err := env.ret.SearchSimilar(ctx, "p1", "same words everywhere", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != DefaultTopK {
		t.Fatalf("expected %d results, got %d", DefaultTopK, len(results))
	}
	if results, _ = env.ret.SearchSimilar(ctx, "p1", "same words everywhere", 3); len(results) != 3 {
		t.Fatalf("explicit topK should win, got %d", len(results))
	}

	p := env.profile(t, "p1")
	p.RAGSettings.TopK = 2
	if err := env.store.SaveProfile(p); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	if results, _ = env.ret.SearchSimilar(ctx, "p1", "same words everywhere", 0); len(results) != 2 {
		t.Fatalf("profile topK should apply, got %d", len(results))
	}
}

func TestSearchSimilarHonorsNegativeThreshold(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addProfile(t, "p1")
	env.addText(t, "p1", "bread baking with sourdough")
	env.addText(t, "p1", "xyz")
	env.indexAndWait(t, "p1")
	ctx := context.Background()

	p := env.profile(t, "p1")
	p.RAGSettings.SimilarityThreshold = -1
	if err := env.store.SaveProfile(p); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	results, err := env.ret.SearchSimilar(ctx, "p1", "bread baking with sourdough", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("negative threshold should keep every chunk, got %d", len(results))
	}

	p.RAGSettings.SimilarityThreshold = 0
	if err := env.store.SaveProfile(p); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	if results, _ = env.ret.SearchSimilar(ctx, "p1", "bread baking with sourdough", 0); len(results) != 1 {
		t.Fatalf("unset threshold should fall back to the default, got %d", len(results))
	}
}

func TestSearchSimilarRequiresReadyIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addProfile(t, "p1")
	env.addText(t, "p1", "content")
	env.indexAndWait(t, "p1")
	ctx := context.Background()

	if err := env.store.SetIndexStatus("p1", domain.IndexStale); err != nil {
		t.Fatalf("set status: %v", err)
	}
	results, err := env.ret.SearchSimilar(ctx, "p1", "content", 0)
	if err != nil || len(results) != 0 {
		t.Fatalf("stale index should yield no results, got %d (%v)", len(results), err)
	}
	if _, err := env.ret.SearchSimilar(ctx, "missing", "content", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSearchSimilarPropagatesEmbeddingErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addProfile(t, "p1")
	env.addText(t, "p1", "content")
	env.indexAndWait(t, "p1")
	env.backend.setFailOn("boom")

	_, err := env.ret.SearchSimilar(context.Background(), "p1", "boom", 0)
	var ext *ExternalServiceError
	if !errors.As(err, &ext) || ext.Service != "embedding" {
		t.Fatalf("expected embedding service error, got %v", err)
	}
}

func TestAugmentPrompt(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addProfile(t, "p1")
	env.addText(t, "p1", "the office wifi password is on the fridge")
	env.indexAndWait(t, "p1")
	ctx := context.Background()
	profile := env.profile(t, "p1")

	msg := "the office wifi password is on the fridge"
	out := env.ret.AugmentPrompt(ctx, profile, msg)
	if out == msg {
		t.Fatalf("expected augmented prompt")
	}
	if !strings.Contains(out, "[Relevance: 100%]\nthe office wifi password is on the fridge") || !strings.HasSuffix(out, msg) {
		t.Fatalf("unexpected augmented prompt: %q", out)
	}

	if got := env.ret.AugmentPrompt(ctx, profile, "qqq"); got != "qqq" {
		t.Fatalf("no results should leave message unchanged, got %q", got)
	}

	stale := profile
	stale.IndexStatus = domain.IndexStale
	if got := env.ret.AugmentPrompt(ctx, stale, msg); got != msg {
		t.Fatalf("stale index should leave message unchanged")
	}

	disabled := profile
	disabled.RAGEnabled = false
	if got := env.ret.AugmentPrompt(ctx, disabled, msg); got != msg {
		t.Fatalf("disabled rag should leave message unchanged")
	}

	env.backend.setFailOn("wifi")
	if got := env.ret.AugmentPrompt(ctx, profile, msg); got != msg {
		t.Fatalf("embedding failure should be swallowed")
	}
	env.backend.setFailOn("")

	env.vectors.searchErr = errors.New("search down")
	if got := env.ret.AugmentPrompt(ctx, profile, msg); got != msg {
		t.Fatalf("vector failure should be swallowed")
	}
}
