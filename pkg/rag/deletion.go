package rag

import (
	"context"
	"fmt"
	"path"
	"strings"

	"personaai/internal/util"
	"personaai/pkg/domain"
	"personaai/pkg/vectorstore"
)

// AddResource registers a resource whose content already sits in file
// storage. A ready profile becomes stale; no re-index is started.
func (ix *Indexer) AddResource(ctx context.Context, res domain.Resource) (domain.Resource, error) {
	res.ProfileID = strings.TrimSpace(res.ProfileID)
	res.StoragePath = strings.TrimSpace(res.StoragePath)
	if res.ProfileID == "" {
		return domain.Resource{}, validationError("profile id required")
	}
	if res.StoragePath == "" {
		return domain.Resource{}, validationError("storage path required")
	}
	switch res.Type {
	case domain.ResourceFile, domain.ResourceText:
	case "":
		res.Type = domain.ResourceFile
	default:
		return domain.Resource{}, validationError(fmt.Sprintf("unknown resource type %q", res.Type))
	}
	profile, err := ix.loadProfile(res.ProfileID)
	if err != nil {
		return domain.Resource{}, err
	}
	if res.ID == "" {
		res.ID = util.NewID()
	}
	res.Indexed = false
	res.CreatedAt = ix.now()
	if err := ix.store.SaveResource(res); err != nil {
		return domain.Resource{}, fmt.Errorf("save resource: %w", err)
	}
	ix.markStale(ctx, profile)
	return res, nil
}

// AddTextResource stores pasted text under the profile and registers it as a
// text resource.
func (ix *Indexer) AddTextResource(ctx context.Context, profileID, text string, metadata domain.Metadata) (domain.Resource, error) {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return domain.Resource{}, validationError("profile id required")
	}
	if strings.TrimSpace(text) == "" {
		return domain.Resource{}, validationError("text required")
	}
	if _, err := ix.loadProfile(profileID); err != nil {
		return domain.Resource{}, err
	}
	id := util.NewID()
	storagePath := path.Join("profiles", profileID, "text", id+".txt")
	if err := ix.files.Save(ctx, storagePath, strings.NewReader(text), int64(len(text)), "text/plain; charset=utf-8"); err != nil {
		return domain.Resource{}, fmt.Errorf("store text: %w", err)
	}
	res, err := ix.AddResource(ctx, domain.Resource{
		ID:          id,
		ProfileID:   profileID,
		Type:        domain.ResourceText,
		StoragePath: storagePath,
		MimeType:    "text/plain",
		Size:        int64(len(text)),
		Metadata:    metadata,
	})
	if err != nil {
		_ = ix.files.Delete(ctx, storagePath)
		return domain.Resource{}, err
	}
	return res, nil
}

// RemoveResource drops the resource's index and deletes it. Stored content
// of text resources is deleted too; file content belongs to the uploader.
func (ix *Indexer) RemoveResource(ctx context.Context, resourceID string) error {
	res, err := ix.loadResource(resourceID)
	if err != nil {
		return err
	}
	ix.dropResourceIndex(ctx, res)
	if err := ix.store.DeleteResource(res.ID); err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}
	if res.Type == domain.ResourceText {
		if err := ix.files.Delete(ctx, res.StoragePath); err != nil {
			ix.logger.Warn("delete resource content failed", "resource_id", res.ID, "path", res.StoragePath, "err", err)
		}
	}
	if profile, ok, err := ix.store.GetProfile(res.ProfileID); err == nil && ok {
		ix.markStale(ctx, profile)
	}
	return nil
}

// DeleteResourceIndex removes every chunk, embedding and vector of a
// resource and marks it not indexed.
func (ix *Indexer) DeleteResourceIndex(ctx context.Context, resourceID string) error {
	res, err := ix.loadResource(resourceID)
	if err != nil {
		return err
	}
	ix.dropResourceIndex(ctx, res)
	if err := ix.store.SetResourceIndexed(res.ID, false); err != nil {
		return fmt.Errorf("mark resource unindexed: %w", err)
	}
	return nil
}

// DeleteProfileIndex drops the index of every resource of the profile and
// its vector collection, leaving the profile with no index.
func (ix *Indexer) DeleteProfileIndex(ctx context.Context, profileID string) error {
	profile, err := ix.loadProfile(profileID)
	if err != nil {
		return err
	}
	if err := ix.ensureNoActiveJob(profile.ID); err != nil {
		return err
	}
	resources, err := ix.store.ListResources(profile.ID)
	if err != nil {
		return fmt.Errorf("list resources: %w", err)
	}
	for _, res := range resources {
		ix.dropResourceIndex(ctx, res)
		if err := ix.store.SetResourceIndexed(res.ID, false); err != nil {
			ix.logger.Warn("mark resource unindexed failed", "resource_id", res.ID, "err", err)
		}
	}
	model := ix.embedder.ResolveModel(profile.EmbeddingModelID)
	if err := ix.vectors.DeleteCollection(ctx, vectorstore.CollectionName(profile.ID, model)); err != nil {
		return vectorError("delete collection", err)
	}
	if err := ix.store.SetIndexStatus(profile.ID, domain.IndexNone); err != nil {
		return fmt.Errorf("set index status: %w", err)
	}
	return nil
}

// dropResourceIndex deletes vectors, embedding rows and chunk rows of a
// resource. Each step is independent; failures are logged and skipped.
func (ix *Indexer) dropResourceIndex(ctx context.Context, res domain.Resource) {
	logger := ix.logger.With("resource_id", res.ID, "profile_id", res.ProfileID)
	chunks, err := ix.store.ListChunks(res.ID)
	if err != nil {
		logger.Warn("list chunks failed", "err", err)
		return
	}
	for _, chunk := range chunks {
		embeddings, err := ix.store.ListEmbeddings(chunk.ID)
		if err != nil {
			logger.Warn("list embeddings failed", "chunk_id", chunk.ID, "err", err)
			continue
		}
		for _, emb := range embeddings {
			collection := vectorstore.CollectionName(res.ProfileID, emb.ModelID)
			if err := ix.vectors.DeleteVectors(ctx, collection, []string{emb.VectorID}); err != nil {
				logger.Warn("delete vector failed", "chunk_id", chunk.ID, "vector_id", emb.VectorID, "err", err)
			}
			if err := ix.store.DeleteEmbedding(emb.ID); err != nil {
				logger.Warn("delete embedding failed", "chunk_id", chunk.ID, "embedding_id", emb.ID, "err", err)
			}
		}
		if err := ix.store.DeleteChunk(chunk.ID); err != nil {
			logger.Warn("delete chunk failed", "chunk_id", chunk.ID, "err", err)
		}
	}
}

func (ix *Indexer) markStale(ctx context.Context, profile domain.Profile) {
	if profile.IndexStatus != domain.IndexReady {
		return
	}
	if err := ix.store.SetIndexStatus(profile.ID, domain.IndexStale); err != nil {
		util.LoggerFromContext(ctx).Warn("mark index stale failed", "profile_id", profile.ID, "err", err)
	}
}

func (ix *Indexer) loadResource(resourceID string) (domain.Resource, error) {
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return domain.Resource{}, validationError("resource id required")
	}
	res, ok, err := ix.store.GetResource(resourceID)
	if err != nil {
		return domain.Resource{}, fmt.Errorf("load resource: %w", err)
	}
	if !ok {
		return domain.Resource{}, ErrResourceNotFound
	}
	return res, nil
}
