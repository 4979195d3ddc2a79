package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
)

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	// DefaultModel replaces empty and legacy placeholder model ids.
	DefaultModel string
	// Dimensions extends or overrides the built-in model dimension table.
	Dimensions map[string]int
	// RequestsPerSecond paces backend calls; 0 disables pacing.
	RequestsPerSecond float64
	Burst             int
	Logger            *slog.Logger
}

// Provider resolves models and turns text into vectors through a Backend.
type Provider struct {
	backend      Backend
	defaultModel string
	dims         map[string]int
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// NewProvider wraps backend with model resolution and dimension checks.
func NewProvider(backend Backend, cfg ProviderConfig) (*Provider, error) {
	if backend == nil {
		return nil, fmt.Errorf("embedding backend required")
	}
	defaultModel := strings.TrimSpace(cfg.DefaultModel)
	if defaultModel == "" {
		defaultModel = "nomic-embed-text"
	}
	dims := make(map[string]int, len(knownDimensions)+len(cfg.Dimensions))
	for k, v := range knownDimensions {
		dims[k] = v
	}
	for k, v := range cfg.Dimensions {
		if v > 0 {
			dims[strings.ToLower(strings.TrimSpace(k))] = v
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		backend:      backend,
		defaultModel: defaultModel,
		dims:         dims,
		logger:       logger,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return p, nil
}

// DefaultModel returns the configured default model id.
func (p *Provider) DefaultModel() string { return p.defaultModel }

// ResolveModel substitutes the default model for empty or legacy ids.
func (p *Provider) ResolveModel(modelID string) string {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" || IsLegacyModel(modelID) {
		return p.defaultModel
	}
	return modelID
}

// Dimensions returns the vector size produced by modelID.
func (p *Provider) Dimensions(modelID string) int {
	if dim, ok := lookupDimensions(p.dims, p.ResolveModel(modelID)); ok {
		return dim
	}
	return DefaultDimensions
}

// GenerateEmbedding embeds a single text.
func (p *Provider) GenerateEmbedding(ctx context.Context, text, modelID string) (Embedding, error) {
	model := p.ResolveModel(modelID)
	if err := p.wait(ctx); err != nil {
		return Embedding{}, &Error{Model: model, Err: err}
	}
	vector, err := p.backend.EmbedText(ctx, model, text)
	if err != nil {
		return Embedding{}, &Error{Model: model, Err: err}
	}
	dim := p.Dimensions(model)
	if err := checkDimensions(vector, dim); err != nil {
		return Embedding{}, &Error{Model: model, Err: err}
	}
	return Embedding{Vector: vector, ModelID: model, Dimensions: dim}, nil
}

// GenerateEmbeddings embeds texts in order, in one request when the backend
// supports batching.
func (p *Provider) GenerateEmbeddings(ctx context.Context, texts []string, modelID string) (BatchEmbedding, error) {
	model := p.ResolveModel(modelID)
	dim := p.Dimensions(model)
	out := BatchEmbedding{ModelID: model, Dimensions: dim}
	if len(texts) == 0 {
		return out, nil
	}

	var vectors [][]float32
	if batch, ok := p.backend.(BatchBackend); ok {
		if err := p.wait(ctx); err != nil {
			return out, &Error{Model: model, Err: err}
		}
		v, err := batch.EmbedTexts(ctx, model, texts)
		if err != nil {
			return out, &Error{Model: model, Err: err}
		}
		if len(v) != len(texts) {
			return out, &Error{Model: model, Err: fmt.Errorf("got %d vectors for %d texts", len(v), len(texts))}
		}
		vectors = v
	} else {
		vectors = make([][]float32, 0, len(texts))
		for _, text := range texts {
			if err := p.wait(ctx); err != nil {
				return out, &Error{Model: model, Err: err}
			}
			v, err := p.backend.EmbedText(ctx, model, text)
			if err != nil {
				return out, &Error{Model: model, Err: err}
			}
			vectors = append(vectors, v)
		}
	}

	for i, v := range vectors {
		if err := checkDimensions(v, dim); err != nil {
			return out, &Error{Model: model, Err: fmt.Errorf("text %d: %w", i, err)}
		}
	}
	out.Vectors = vectors
	return out, nil
}

// IsAvailable pings the backend. The result is never cached.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	pinger, ok := p.backend.(Pinger)
	if !ok {
		return true
	}
	if err := pinger.Ping(ctx); err != nil {
		p.logger.Debug("embedding backend unavailable", "err", err)
		return false
	}
	return true
}

func (p *Provider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func checkDimensions(vector []float32, want int) error {
	if len(vector) != want {
		return fmt.Errorf("expected %d dimensions, got %d", want, len(vector))
	}
	return nil
}
