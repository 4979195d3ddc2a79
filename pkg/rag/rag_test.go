package rag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"personaai/pkg/ai"
	"personaai/pkg/domain"
	"personaai/pkg/storage"
	"personaai/pkg/store"
	"personaai/pkg/vectorstore"
)

const testModel = "nomic-embed-text"

// charBackend embeds text as a 768-dim rune frequency vector, so identical
// texts score 1 and texts sharing no characters score 0.
type charBackend struct {
	mu     sync.Mutex
	failOn string

	slowOn  string
	entered chan struct{}
	release chan struct{}
}

func (b *charBackend) EmbedText(ctx context.Context, _ string, text string) ([]float32, error) {
	b.mu.Lock()
	failOn, slowOn := b.failOn, b.slowOn
	b.mu.Unlock()
	if failOn != "" && strings.Contains(text, failOn) {
		return nil, errors.New("embedding backend unavailable")
	}
	if slowOn != "" && strings.Contains(text, slowOn) {
		b.entered <- struct{}{}
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	v := make([]float32, ai.DefaultDimensions)
	for _, r := range strings.ToLower(text) {
		v[int(r)%len(v)]++
	}
	return v, nil
}

func (b *charBackend) setFailOn(s string) {
	b.mu.Lock()
	b.failOn = s
	b.mu.Unlock()
}

type faultyVectors struct {
	vectorstore.Store
	ensureErr error
	searchErr error
}

func (f *faultyVectors) EnsureCollection(ctx context.Context, name string, size int) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}
	return f.Store.EnsureCollection(ctx, name, size)
}

func (f *faultyVectors) Search(ctx context.Context, collection string, vector []float32, limit int, threshold float64) ([]vectorstore.Hit, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.Store.Search(ctx, collection, vector, limit, threshold)
}

// holdDispatcher records jobs without running them.
type holdDispatcher struct {
	mu   sync.Mutex
	jobs []domain.IndexingJob
}

func (d *holdDispatcher) Dispatch(_ context.Context, job domain.IndexingJob) error {
	d.mu.Lock()
	d.jobs = append(d.jobs, job)
	d.mu.Unlock()
	return nil
}

type testEnv struct {
	store   *store.MemoryStore
	files   *storage.FileStore
	memory  *vectorstore.Memory
	vectors *faultyVectors
	backend *charBackend
	ix      *Indexer
	ret     *Retriever
}

func newTestEnv(t *testing.T, dispatcher Dispatcher) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	backend := &charBackend{}
	provider, err := ai.NewProvider(backend, ai.ProviderConfig{DefaultModel: testModel, Logger: logger})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	env := &testEnv{
		store:   store.NewMemoryStore(),
		files:   files,
		memory:  vectorstore.NewMemory(),
		backend: backend,
	}
	env.vectors = &faultyVectors{Store: env.memory}
	env.ix, err = NewIndexer(IndexerConfig{
		Store:      env.store,
		Files:      files,
		Embedder:   provider,
		Vectors:    env.vectors,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	env.ret, err = NewRetriever(RetrieverConfig{
		Store:    env.store,
		Embedder: provider,
		Vectors:  env.vectors,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	return env
}

func (e *testEnv) addProfile(t *testing.T, id string, mutate ...func(*domain.Profile)) domain.Profile {
	t.Helper()
	p := domain.Profile{
		ID:               id,
		Name:             "profile " + id,
		RAGEnabled:       true,
		EmbeddingModelID: testModel,
		IndexStatus:      domain.IndexNone,
	}
	for _, fn := range mutate {
		fn(&p)
	}
	if err := e.store.SaveProfile(p); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	return p
}

func (e *testEnv) addText(t *testing.T, profileID, text string) domain.Resource {
	t.Helper()
	res, err := e.ix.AddTextResource(context.Background(), profileID, text, domain.Metadata{"source": "test"})
	if err != nil {
		t.Fatalf("add text resource: %v", err)
	}
	return res
}

func (e *testEnv) profile(t *testing.T, id string) domain.Profile {
	t.Helper()
	p, ok, err := e.store.GetProfile(id)
	if err != nil || !ok {
		t.Fatalf("get profile %s: ok=%v err=%v", id, ok, err)
	}
	return p
}

func (e *testEnv) resource(t *testing.T, id string) domain.Resource {
	t.Helper()
	r, ok, err := e.store.GetResource(id)
	if err != nil || !ok {
		t.Fatalf("get resource %s: ok=%v err=%v", id, ok, err)
	}
	return r
}

func (e *testEnv) indexAndWait(t *testing.T, profileID string) domain.IndexingJob {
	t.Helper()
	job, err := e.ix.StartIndexing(context.Background(), profileID)
	if err != nil {
		t.Fatalf("start indexing: %v", err)
	}
	e.ix.Wait()
	job, err = e.ix.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return job
}

func (e *testEnv) collectionSize(profileID string) int {
	return e.memory.Count(vectorstore.CollectionName(profileID, testModel))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
