package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	gormlogger "gorm.io/gorm/logger"

	"personaai/internal/ratelimit"
	"personaai/internal/servicetoken"
	"personaai/pkg/ai"
	"personaai/pkg/chunking"
	"personaai/pkg/queue"
	"personaai/pkg/rag"
	"personaai/pkg/storage"
	"personaai/pkg/store"
	"personaai/pkg/vectorstore"
	"personaai/services/rag/internal/config"
	"personaai/services/rag/internal/server"
)

const shutdownTimeout = 15 * time.Second

// App wires the RAG service components from configuration.
type App struct {
	cfg    config.FileConfig
	logger *slog.Logger

	store     store.Store
	provider  *ai.Provider
	indexer   *rag.Indexer
	retriever *rag.Retriever
	queue     *queue.RedisJobQueue
	handler   http.Handler

	closers []func() error
}

// New builds every component. Call Close when done, even if Run is never
// called.
func New(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	var (
		gormStore *store.GormStore
		err       error
	)
	if cfg.DatabaseURL != "" {
		gormStore, err = store.NewGormStore(cfg.DatabaseURL, store.WithLogLevel(gormlogger.Warn))
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		a.closers = append(a.closers, gormStore.Close)
		a.store = gormStore
	} else {
		logger.Warn("no database url configured, using in-memory store")
		a.store = store.NewMemoryStore()
	}

	files, err := newFileStorage(cfg)
	if err != nil {
		return err
	}

	backend, err := newEmbeddingBackend(cfg)
	if err != nil {
		return err
	}
	a.provider, err = ai.NewProvider(backend, ai.ProviderConfig{
		DefaultModel:      cfg.EmbeddingModel,
		Dimensions:        cfg.EmbeddingDimensions,
		RequestsPerSecond: cfg.EmbeddingRequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("init embedding provider: %w", err)
	}

	vcfg := vectorstore.Config{
		Backend: cfg.VectorBackend,
		Qdrant: vectorstore.QdrantConfig{
			URL:    cfg.QdrantURL,
			APIKey: cfg.QdrantAPIKey,
		},
	}
	if gormStore != nil {
		vcfg.DB = gormStore.DB()
	}
	vectors, err := vectorstore.Open(ctx, vcfg, logger)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}

	var dispatcher rag.Dispatcher
	if cfg.QueueEnabled {
		a.queue, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.QueueName,
			Group:      cfg.QueueGroup,
			MaxRetries: cfg.QueueMaxRetries,
			RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("init redis queue: %w", err)
		}
		a.closers = append(a.closers, a.queue.Close)
		dispatcher = rag.NewQueueDispatcher(a.queue)
	}

	a.indexer, err = rag.NewIndexer(rag.IndexerConfig{
		Store:      a.store,
		Files:      files,
		Embedder:   a.provider,
		Vectors:    vectors,
		Chunker:    chunking.New(chunking.WithChunkSize(cfg.ChunkSize), chunking.WithOverlap(cfg.ChunkOverlap)),
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("init indexer: %w", err)
	}
	a.retriever, err = rag.NewRetriever(rag.RetrieverConfig{
		Store:    a.store,
		Embedder: a.provider,
		Vectors:  vectors,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("init retriever: %w", err)
	}
	return nil
}

// Indexer exposes the indexing service.
func (a *App) Indexer() *rag.Indexer { return a.indexer }

// Retriever exposes the retrieval service.
func (a *App) Retriever() *rag.Retriever { return a.retriever }

// Handler builds the HTTP handler, including internal auth and the index
// start limiter.
func (a *App) Handler() (http.Handler, error) {
	if a.handler != nil {
		return a.handler, nil
	}
	verifier, err := servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
		Secret:         a.cfg.InternalTokenSecret,
		Audience:       a.cfg.InternalTokenAudience,
		AllowedIssuers: a.cfg.InternalTokenIssuers,
	})
	if err != nil {
		return nil, fmt.Errorf("init internal token verifier: %w", err)
	}
	limiter, err := a.newIndexLimiter()
	if err != nil {
		return nil, err
	}
	srvCfg := server.Config{
		Indexer:    a.indexer,
		Retriever:  a.retriever,
		Profiles:   a.store,
		Embeddings: a.provider,
		Verifier:   verifier,
	}
	if limiter != nil {
		srvCfg.IndexLimiter = limiter
	}
	if a.queue != nil {
		srvCfg.Deliveries = a.queue
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		return nil, fmt.Errorf("init server: %w", err)
	}
	a.handler = srv.Router()
	return a.handler, nil
}

// Run serves HTTP and, when enabled, consumes the index queue until ctx ends.
func (a *App) Run(ctx context.Context) error {
	handler, err := a.Handler()
	if err != nil {
		return err
	}
	addr := ":" + a.cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("rag server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.queue != nil {
		g.Go(func() error {
			a.logger.Info("index queue consumer started", "stream", a.cfg.QueueName, "concurrency", a.cfg.QueueConcurrency)
			return a.queue.Run(gctx, a.cfg.QueueConcurrency, a.indexer.HandleTask)
		})
	}
	err = g.Wait()
	a.indexer.Wait()
	return err
}

// Close waits for in-process jobs and releases connections.
func (a *App) Close() {
	if a.indexer != nil {
		a.indexer.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close resource failed", "err", err)
		}
	}
	a.closers = nil
}

func (a *App) newIndexLimiter() (ratelimit.Limiter, error) {
	limit := a.cfg.IndexRateLimitPerMinute
	if limit < 0 {
		return nil, nil
	}
	if a.cfg.RedisAddr != "" {
		l, err := ratelimit.NewRedisFixedWindowLimiter(a.cfg.RedisAddr, a.cfg.RedisPassword, "rag:ratelimit:", limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init index rate limiter: %w", err)
		}
		a.closers = append(a.closers, l.Close)
		return l, nil
	}
	l, err := ratelimit.NewMemoryFixedWindowLimiter(limit, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("init index rate limiter: %w", err)
	}
	return l, nil
}

func newFileStorage(cfg config.FileConfig) (storage.FileStorage, error) {
	switch cfg.StorageBackend {
	case "minio":
		s, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Prefix:    cfg.MinioPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init minio storage: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewFileStore(cfg.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return s, nil
	}
}

func newEmbeddingBackend(cfg config.FileConfig) (ai.Backend, error) {
	timeout := time.Duration(cfg.EmbeddingTimeoutSeconds) * time.Second
	switch cfg.EmbeddingProvider {
	case "gemini":
		c, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		if cfg.EmbeddingBaseURL != "" {
			c = c.WithBaseURL(cfg.EmbeddingBaseURL)
		}
		return c, nil
	case "openai":
		return ai.NewOpenAICompatClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey), nil
	case "http":
		return ai.NewHTTPClient(cfg.EmbeddingBaseURL, timeout), nil
	case "ollama", "":
		return ai.NewOllamaClient(cfg.EmbeddingBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.EmbeddingProvider)
	}
}
