// Package rag turns profile resources into searchable vectors and retrieves
// them to augment chat prompts.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"personaai/internal/util"
	"personaai/pkg/chunking"
	"personaai/pkg/domain"
	"personaai/pkg/storage"
	"personaai/pkg/store"
	"personaai/pkg/vectorstore"
)

// IndexerConfig wires the Indexer's collaborators. Store, Files, Embedder
// and Vectors are required.
type IndexerConfig struct {
	Store    store.Store
	Files    storage.FileStorage
	Embedder Embedder
	Vectors  vectorstore.Store
	Chunker  *chunking.Chunker
	// Dispatcher schedules jobs; nil runs them on in-process goroutines.
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

// Indexer owns the indexing job lifecycle for profiles.
type Indexer struct {
	store      store.Store
	files      storage.FileStorage
	embedder   Embedder
	vectors    vectorstore.Store
	chunker    *chunking.Chunker
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	startMu sync.Mutex

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewIndexer validates cfg and builds an Indexer.
func NewIndexer(cfg IndexerConfig) (*Indexer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Files == nil {
		return nil, fmt.Errorf("file storage required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if cfg.Vectors == nil {
		return nil, fmt.Errorf("vector store required")
	}
	chunker := cfg.Chunker
	if chunker == nil {
		chunker = chunking.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ix := &Indexer{
		store:    cfg.Store,
		files:    cfg.Files,
		embedder: cfg.Embedder,
		vectors:  cfg.Vectors,
		chunker:  chunker,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		running:  make(map[string]context.CancelFunc),
	}
	ix.dispatcher = cfg.Dispatcher
	if ix.dispatcher == nil {
		ix.dispatcher = inProcessDispatcher{ix: ix}
	}
	return ix, nil
}

// StartIndexing validates the profile, records a pending job and hands it to
// the dispatcher. It returns as soon as the job is scheduled.
func (ix *Indexer) StartIndexing(ctx context.Context, profileID string) (domain.IndexingJob, error) {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return domain.IndexingJob{}, validationError("profile id required")
	}

	ix.startMu.Lock()
	defer ix.startMu.Unlock()

	profile, err := ix.loadProfile(profileID)
	if err != nil {
		return domain.IndexingJob{}, err
	}
	if !profile.RAGEnabled {
		return domain.IndexingJob{}, ErrRAGDisabled
	}
	if strings.TrimSpace(profile.EmbeddingModelID) == "" {
		return domain.IndexingJob{}, ErrNoEmbeddingModel
	}
	resources, err := ix.store.ListResources(profileID)
	if err != nil {
		return domain.IndexingJob{}, fmt.Errorf("list resources: %w", err)
	}
	if len(resources) == 0 {
		return domain.IndexingJob{}, ErrNoResources
	}
	if err := ix.ensureNoActiveJob(profileID); err != nil {
		return domain.IndexingJob{}, err
	}

	now := ix.now()
	job := domain.IndexingJob{
		ID:         util.NewID(),
		ProfileID:  profileID,
		Status:     domain.JobPending,
		TotalSteps: len(resources),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := ix.store.SaveJob(job); err != nil {
		return domain.IndexingJob{}, fmt.Errorf("save job: %w", err)
	}
	if err := ix.store.SetIndexStatus(profileID, domain.IndexPending); err != nil {
		return domain.IndexingJob{}, fmt.Errorf("set index status: %w", err)
	}
	if err := ix.dispatcher.Dispatch(ctx, job); err != nil {
		_ = ix.failJob(job.ID, profileID, fmt.Errorf("dispatch job: %w", err))
		return domain.IndexingJob{}, fmt.Errorf("dispatch job: %w", err)
	}
	util.LoggerFromContext(ctx).Info("indexing job started", "job_id", job.ID, "profile_id", profileID, "resources", len(resources))
	return job, nil
}

func (ix *Indexer) ensureNoActiveJob(profileID string) error {
	jobs, err := ix.store.ListJobs(profileID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	for _, j := range jobs {
		if j.Status.Active() {
			return ErrIndexingInProgress
		}
	}
	return nil
}

// RunJob processes a job to a terminal state. Outcomes are recorded on the
// job and profile; the returned error only reports that the outcome could
// not be recorded or that ctx ended before a cancel was requested.
func (ix *Indexer) RunJob(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ix.track(jobID, cancel)
	defer ix.untrack(jobID)

	job, ok, err := ix.store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	logger := ix.logger.With("job_id", job.ID, "profile_id", job.ProfileID)
	if job.CancelRequested {
		return ix.cancelJob(job.ID, job.ProfileID)
	}

	profile, ok, err := ix.store.GetProfile(job.ProfileID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	if !ok {
		return ix.failJob(job.ID, job.ProfileID, ErrProfileNotFound)
	}
	resources, err := ix.store.ListResources(profile.ID)
	if err != nil {
		return ix.failJob(job.ID, profile.ID, fmt.Errorf("list resources: %w", err))
	}
	total := len(resources)
	job, err = ix.store.UpdateJob(job.ID, func(j *domain.IndexingJob) {
		if j.Status.Terminal() {
			return
		}
		j.Status = domain.JobProcessing
		j.TotalSteps = total
		j.UpdatedAt = ix.now()
	})
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	if job.Status.Terminal() {
		return nil
	}
	if err := ix.store.SetIndexStatus(profile.ID, domain.IndexProcessing); err != nil {
		return fmt.Errorf("set index status: %w", err)
	}

	model := ix.embedder.ResolveModel(profile.EmbeddingModelID)
	size := ix.embedder.Dimensions(model)
	collection := vectorstore.CollectionName(profile.ID, model)
	if err := ix.vectors.EnsureCollection(ctx, collection, size); err != nil {
		if ix.cancelRequested(job.ID) {
			return ix.cancelJob(job.ID, profile.ID)
		}
		return ix.failJob(job.ID, profile.ID, vectorError("ensure collection "+collection, err))
	}
	logger.Info("indexing resources", "model", model, "collection", collection, "resources", total)

	succeeded, failed := 0, 0
	for i, res := range resources {
		if ix.cancelRequested(job.ID) {
			return ix.cancelJob(job.ID, profile.ID)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		chunks, err := ix.indexResource(ctx, res, model, collection)
		if err != nil {
			if ix.cancelRequested(job.ID) {
				return ix.cancelJob(job.ID, profile.ID)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			logger.Warn("index resource failed", "resource_id", res.ID, "err", err)
		} else {
			succeeded++
			logger.Debug("resource indexed", "resource_id", res.ID, "chunks", chunks)
		}
		processed := i + 1
		if _, err := ix.store.UpdateJob(job.ID, func(j *domain.IndexingJob) {
			j.ProcessedSteps = processed
			if p := domain.ComputeProgress(processed, total); p > j.Progress {
				j.Progress = p
			}
			j.SucceededResources = succeeded
			j.FailedResources = failed
			j.UpdatedAt = ix.now()
		}); err != nil {
			logger.Warn("update job progress failed", "err", err)
		}
	}

	if _, err := ix.store.UpdateJob(job.ID, func(j *domain.IndexingJob) {
		j.Status = domain.JobCompleted
		j.ProcessedSteps = total
		j.TotalSteps = total
		j.Progress = 100
		j.SucceededResources = succeeded
		j.FailedResources = failed
		j.UpdatedAt = ix.now()
	}); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if err := ix.store.SetIndexStatus(profile.ID, domain.IndexReady); err != nil {
		return fmt.Errorf("set index status: %w", err)
	}
	logger.Info("indexing job completed", "succeeded", succeeded, "failed", failed)
	return nil
}

// indexResource replaces the resource's index and returns the chunk count.
func (ix *Indexer) indexResource(ctx context.Context, res domain.Resource, model, collection string) (int, error) {
	text, err := ix.readContent(ctx, res)
	if err != nil {
		return 0, fmt.Errorf("read content: %w", err)
	}
	ix.dropResourceIndex(ctx, res)
	if res.Indexed {
		if err := ix.store.SetResourceIndexed(res.ID, false); err != nil {
			return 0, fmt.Errorf("clear resource indexed: %w", err)
		}
	}

	pieces := ix.chunker.Chunk(text)
	if len(pieces) == 0 {
		return 0, fmt.Errorf("resource %s has no indexable text", res.ID)
	}
	now := ix.now()
	chunks := make([]domain.ResourceChunk, 0, len(pieces))
	texts := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		meta := piece.Meta.Metadata()
		meta["chunkIndex"] = strconv.Itoa(piece.Index)
		chunks = append(chunks, domain.ResourceChunk{
			ID:         util.NewID(),
			ResourceID: res.ID,
			ProfileID:  res.ProfileID,
			ChunkIndex: piece.Index,
			Content:    piece.Content,
			Metadata:   meta,
			CreatedAt:  now,
		})
		texts = append(texts, piece.Content)
	}
	if err := ix.store.SaveChunks(chunks); err != nil {
		return 0, fmt.Errorf("save chunks: %w", err)
	}

	if err := ix.embedAndUpsert(ctx, res, chunks, texts, model, collection); err != nil {
		ix.dropResourceIndex(ctx, res)
		return 0, err
	}
	if err := ix.store.SetResourceIndexed(res.ID, true); err != nil {
		return 0, fmt.Errorf("mark resource indexed: %w", err)
	}
	return len(chunks), nil
}

func (ix *Indexer) embedAndUpsert(ctx context.Context, res domain.Resource, chunks []domain.ResourceChunk, texts []string, model, collection string) error {
	batch, err := ix.embedder.GenerateEmbeddings(ctx, texts, model)
	if err != nil {
		return embeddingError("generate", err)
	}
	if len(batch.Vectors) != len(chunks) {
		return embeddingError("generate", fmt.Errorf("got %d vectors for %d chunks", len(batch.Vectors), len(chunks)))
	}
	now := ix.now()
	points := make([]vectorstore.Point, 0, len(chunks))
	rows := make([]domain.ResourceEmbedding, 0, len(chunks))
	for i, chunk := range chunks {
		pointID := vectorstore.PointID(chunk.ID, model)
		points = append(points, vectorstore.Point{
			ID:     pointID,
			Vector: batch.Vectors[i],
			Payload: vectorstore.Payload{
				ChunkID:    chunk.ID,
				ResourceID: res.ID,
				ProfileID:  res.ProfileID,
				Content:    chunk.Content,
				ModelID:    model,
				Metadata:   res.Metadata.Merge(chunk.Metadata),
			},
		})
		rows = append(rows, domain.ResourceEmbedding{
			ID:        util.NewID(),
			ChunkID:   chunk.ID,
			ProfileID: res.ProfileID,
			ModelID:   model,
			VectorID:  pointID,
			CreatedAt: now,
		})
	}
	if err := ix.vectors.Upsert(ctx, collection, points); err != nil {
		return vectorError("upsert", err)
	}
	if err := ix.store.SaveEmbeddings(rows); err != nil {
		return fmt.Errorf("save embeddings: %w", err)
	}
	return nil
}

func (ix *Indexer) readContent(ctx context.Context, res domain.Resource) (string, error) {
	if res.Type == domain.ResourceText {
		return ix.files.ReadFileAsText(ctx, res.StoragePath)
	}
	data, err := ix.files.ReadFile(ctx, res.StoragePath)
	if err != nil {
		return "", err
	}
	return chunking.CleanText(chunking.ExtractText(data, res.MimeType)), nil
}

// CancelIndexing requests cancellation of a pending or processing job. A
// pending job is cancelled right away; a running one stops before its next
// resource. A processing job with no runner left in this process (in-process
// dispatch only) is cancelled right away as well.
func (ix *Indexer) CancelIndexing(ctx context.Context, jobID string) (domain.IndexingJob, error) {
	var finished, cancelledNow bool
	job, err := ix.store.UpdateJob(jobID, func(j *domain.IndexingJob) {
		if j.Status.Terminal() {
			finished = true
			return
		}
		j.CancelRequested = true
		if j.Status == domain.JobPending || (j.Status == domain.JobProcessing && ix.orphaned(j.ID)) {
			j.Status = domain.JobCancelled
			cancelledNow = true
		}
		j.UpdatedAt = ix.now()
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.IndexingJob{}, ErrJobNotFound
	}
	if err != nil {
		return domain.IndexingJob{}, fmt.Errorf("update job: %w", err)
	}
	if finished {
		return job, ErrJobFinished
	}
	if cancelledNow {
		if err := ix.store.SetIndexStatus(job.ProfileID, domain.IndexStale); err != nil {
			return job, fmt.Errorf("set index status: %w", err)
		}
	}
	ix.mu.Lock()
	cancel := ix.running[jobID]
	ix.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	util.LoggerFromContext(ctx).Info("indexing job cancel requested", "job_id", jobID, "profile_id", job.ProfileID)
	return job, nil
}

// GetJob returns a job by id.
func (ix *Indexer) GetJob(_ context.Context, jobID string) (domain.IndexingJob, error) {
	job, ok, err := ix.store.GetJob(jobID)
	if err != nil {
		return domain.IndexingJob{}, fmt.Errorf("load job: %w", err)
	}
	if !ok {
		return domain.IndexingJob{}, ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns the profile's jobs, newest first.
func (ix *Indexer) ListJobs(_ context.Context, profileID string) ([]domain.IndexingJob, error) {
	if _, err := ix.loadProfile(profileID); err != nil {
		return nil, err
	}
	return ix.store.ListJobs(profileID)
}

// Wait blocks until every job started on an in-process goroutine returns.
func (ix *Indexer) Wait() {
	ix.wg.Wait()
}

func (ix *Indexer) loadProfile(profileID string) (domain.Profile, error) {
	profile, ok, err := ix.store.GetProfile(profileID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if !ok {
		return domain.Profile{}, ErrProfileNotFound
	}
	return profile, nil
}

func (ix *Indexer) cancelRequested(jobID string) bool {
	job, ok, err := ix.store.GetJob(jobID)
	if err != nil || !ok {
		return false
	}
	return job.CancelRequested
}

func (ix *Indexer) cancelJob(jobID, profileID string) error {
	if _, err := ix.store.UpdateJob(jobID, func(j *domain.IndexingJob) {
		j.Status = domain.JobCancelled
		j.UpdatedAt = ix.now()
	}); err != nil {
		return fmt.Errorf("mark job cancelled: %w", err)
	}
	if err := ix.store.SetIndexStatus(profileID, domain.IndexStale); err != nil {
		return fmt.Errorf("set index status: %w", err)
	}
	ix.logger.Info("indexing job cancelled", "job_id", jobID, "profile_id", profileID)
	return nil
}

func (ix *Indexer) failJob(jobID, profileID string, cause error) error {
	ix.logger.Error("indexing job failed", "job_id", jobID, "profile_id", profileID, "err", cause)
	if _, err := ix.store.UpdateJob(jobID, func(j *domain.IndexingJob) {
		j.Status = domain.JobFailed
		j.Error = cause.Error()
		j.UpdatedAt = ix.now()
	}); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if err := ix.store.SetIndexStatus(profileID, domain.IndexError); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("set index status: %w", err)
	}
	return nil
}

// orphaned reports whether a processing job has no runner. In-process runners
// register before marking the job processing, so a missing entry means the
// runner is gone. Queue workers may live in other processes and never count.
func (ix *Indexer) orphaned(jobID string) bool {
	if _, ok := ix.dispatcher.(inProcessDispatcher); !ok {
		return false
	}
	ix.mu.Lock()
	_, running := ix.running[jobID]
	ix.mu.Unlock()
	return !running
}

func (ix *Indexer) track(jobID string, cancel context.CancelFunc) {
	ix.mu.Lock()
	ix.running[jobID] = cancel
	ix.mu.Unlock()
}

func (ix *Indexer) untrack(jobID string) {
	ix.mu.Lock()
	delete(ix.running, jobID)
	ix.mu.Unlock()
}
