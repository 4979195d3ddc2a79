package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeBackend struct {
	dim     int
	calls   int
	batches int
	err     error
	pingErr error
}

func (f *fakeBackend) EmbedText(_ context.Context, _ string, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v := make([]float32, f.dim)
	v[0] = float32(len(text))
	return v, nil
}

func (f *fakeBackend) Ping(context.Context) error { return f.pingErr }

type fakeBatchBackend struct {
	fakeBackend
}

func (f *fakeBatchBackend) EmbedTexts(ctx context.Context, model string, texts []string) ([][]float32, error) {
	f.batches++
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := f.fakeBackend.EmbedText(ctx, model, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func TestResolveModel(t *testing.T) {
	p, err := NewProvider(&fakeBackend{dim: 768}, ProviderConfig{DefaultModel: "nomic-embed-text"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	cases := map[string]string{
		"":                  "nomic-embed-text",
		"default":           "nomic-embed-text",
		"local-embedding":   "nomic-embed-text",
		"  ":                "nomic-embed-text",
		"mxbai-embed-large": "mxbai-embed-large",
	}
	for in, want := range cases {
		if got := p.ResolveModel(in); got != want {
			t.Fatalf("ResolveModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDimensions(t *testing.T) {
	p, err := NewProvider(&fakeBackend{dim: 768}, ProviderConfig{
		DefaultModel: "nomic-embed-text",
		Dimensions:   map[string]int{"custom-model": 256},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	cases := map[string]int{
		"nomic-embed-text":          768,
		"nomic-embed-text:latest":   768,
		"mxbai-embed-large":         1024,
		"all-minilm":                384,
		"gemini-embedding-001":      3072,
		"models/text-embedding-004": 768,
		"text-embedding-3-small":    1536,
		"custom-model":              256,
		"unknown-model":             DefaultDimensions,
		"":                          768,
	}
	for model, want := range cases {
		if got := p.Dimensions(model); got != want {
			t.Fatalf("Dimensions(%q) = %d, want %d", model, got, want)
		}
	}
}

func TestGenerateEmbedding(t *testing.T) {
	backend := &fakeBackend{dim: 768}
	p, _ := NewProvider(backend, ProviderConfig{})
	emb, err := p.GenerateEmbedding(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if emb.ModelID != "nomic-embed-text" || emb.Dimensions != 768 || len(emb.Vector) != 768 {
		t.Fatalf("unexpected embedding: model=%s dims=%d len=%d", emb.ModelID, emb.Dimensions, len(emb.Vector))
	}
}

func TestGenerateEmbeddingWrapsBackendError(t *testing.T) {
	cause := errors.New("connection refused")
	p, _ := NewProvider(&fakeBackend{dim: 768, err: cause}, ProviderConfig{DefaultModel: "nomic-embed-text"})
	_, err := p.GenerateEmbedding(context.Background(), "hello", "")
	if err == nil {
		t.Fatalf("expected error")
	}
	var aiErr *Error
	if !errors.As(err, &aiErr) || aiErr.Model != "nomic-embed-text" {
		t.Fatalf("expected *Error with model, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "nomic-embed-text") || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestGenerateEmbeddingRejectsWrongDimensions(t *testing.T) {
	p, _ := NewProvider(&fakeBackend{dim: 384}, ProviderConfig{DefaultModel: "nomic-embed-text"})
	if _, err := p.GenerateEmbedding(context.Background(), "hello", ""); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestGenerateEmbeddingsUsesBatchBackend(t *testing.T) {
	backend := &fakeBatchBackend{fakeBackend{dim: 768}}
	p, _ := NewProvider(backend, ProviderConfig{})
	out, err := p.GenerateEmbeddings(context.Background(), []string{"a", "bb", "ccc"}, "nomic-embed-text")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if backend.batches != 1 {
		t.Fatalf("expected one batch call, got %d", backend.batches)
	}
	if len(out.Vectors) != 3 || out.Vectors[2][0] != 3 {
		t.Fatalf("vectors out of order: %+v", out.Vectors)
	}
}

func TestGenerateEmbeddingsSequentialFallback(t *testing.T) {
	backend := &fakeBackend{dim: 768}
	p, _ := NewProvider(backend, ProviderConfig{})
	out, err := p.GenerateEmbeddings(context.Background(), []string{"a", "bb"}, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if backend.calls != 2 || len(out.Vectors) != 2 {
		t.Fatalf("expected 2 sequential calls, got %d", backend.calls)
	}
	empty, err := p.GenerateEmbeddings(context.Background(), nil, "")
	if err != nil || len(empty.Vectors) != 0 {
		t.Fatalf("expected empty batch, got %v %v", empty, err)
	}
}

func TestIsAvailablePingsEveryCall(t *testing.T) {
	backend := &fakeBackend{dim: 768}
	p, _ := NewProvider(backend, ProviderConfig{})
	if !p.IsAvailable(context.Background()) {
		t.Fatalf("expected available")
	}
	backend.pingErr = errors.New("down")
	if p.IsAvailable(context.Background()) {
		t.Fatalf("expected unavailable after backend went down")
	}
}
