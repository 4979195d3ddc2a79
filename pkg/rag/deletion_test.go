package rag

import (
	"context"
	"errors"
	"testing"

	"personaai/pkg/domain"
	"personaai/pkg/storage"
)

func TestAddResourceMarksReadyProfileStale(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addProfile(t, "p1")
	env.addText(t, "p1", "first")
	env.indexAndWait(t, "p1")

	env.addText(t, "p1", "second")
	if p := env.profile(t, "p1"); p.IndexStatus != domain.IndexStale {
		t.Fatalf("expected stale after add, got %s", p.IndexStatus)
	}
	jobs, _ := env.store.ListJobs("p1")
	if len(jobs) != 1 {
		t.Fatalf("adding a resource must not start indexing, got %d jobs", len(jobs))
	}
}

func TestAddResourceValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addProfile(t, "p1")
	ctx := context.Background()

	if _, err := env.ix.AddResource(ctx, domain.Resource{ProfileID: "p1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing path, got %v", err)
	}
	if _, err := env.ix.AddResource(ctx, domain.Resource{ProfileID: "p1", StoragePath: "a", Type: "video"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for type, got %v", err)
	}
	if _, err := env.ix.AddResource(ctx, domain.Resource{ProfileID: "nope", StoragePath: "a"}); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected profile not found, got %v", err)
	}
	if _, err := env.ix.AddTextResource(ctx, "p1", "   ", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty text, got %v", err)
	}
	res, err := env.ix.AddResource(ctx, domain.Resource{ProfileID: "p1", StoragePath: "uploads/a.md"})
	if err != nil {
		t.Fatalf("add resource: %v", err)
	}
	if res.ID == "" || res.Type != domain.ResourceFile || res.Indexed {
		t.Fatalf("unexpected resource: %+v", res)
	}
	if p := env.profile(t, "p1"); p.IndexStatus != domain.IndexNone {
		t.Fatalf("profile without index must stay none, got %s", p.IndexStatus)
	}
}

func TestRemoveResourceCascades(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addProfile(t, "p1")
	keep := env.addText(t, "p1", "keep this note")
	drop := env.addText(t, "p1", "drop this note")
	env.indexAndWait(t, "p1")
	before := env.collectionSize("p1")

	if err := env.ix.RemoveResource(context.Background(), drop.ID); err != nil {
		t.Fatalf("remove resource: %v", err)
	}
	if _, ok, _ := env.store.GetResource(drop.ID); ok {
		t.Fatalf("resource should be deleted")
	}
	if chunks, _ := env.store.ListChunks(drop.ID); len(chunks) != 0 {
		t.Fatalf("chunks should be deleted, got %d", len(chunks))
	}
	if got := env.collectionSize("p1"); got != before-1 {
		t.Fatalf("expected %d points, got %d", before-1, got)
	}
	if _, err := env.files.ReadFile(context.Background(), drop.StoragePath); !errors.Is(err, storage.ErrFileNotFound) {
		t.Fatalf("stored text should be deleted, got %v", err)
	}
	if !env.resource(t, keep.ID).Indexed {
		t.Fatalf("other resources keep their index")
	}
	if p := env.profile(t, "p1"); p.IndexStatus != domain.IndexStale {
		t.Fatalf("expected stale after remove, got %s", p.IndexStatus)
	}
	if err := env.ix.RemoveResource(context.Background(), drop.ID); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteResourceIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addProfile(t, "p1")
	res := env.addText(t, "p1", "an indexed note")
	env.indexAndWait(t, "p1")

	chunks, _ := env.store.ListChunks(res.ID)
	if len(chunks) == 0 {
		t.Fatalf("expected chunks before delete")
	}
	if err := env.ix.DeleteResourceIndex(context.Background(), res.ID); err != nil {
		t.Fatalf("delete resource index: %v", err)
	}
	for _, c := range chunks {
		if embs, _ := env.store.ListEmbeddings(c.ID); len(embs) != 0 {
			t.Fatalf("embeddings should be deleted for chunk %s", c.ID)
		}
	}
	if after, _ := env.store.ListChunks(res.ID); len(after) != 0 {
		t.Fatalf("chunks should be deleted, got %d", len(after))
	}
	if got := env.collectionSize("p1"); got != 0 {
		t.Fatalf("vectors should be deleted, got %d", got)
	}
	if env.resource(t, res.ID).Indexed {
		t.Fatalf("resource should be marked not indexed")
	}
}

func TestDeleteProfileIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addProfile(t, "p1")
	env.addText(t, "p1", "one")
	env.addText(t, "p1", "two")
	env.indexAndWait(t, "p1")

	if err := env.ix.DeleteProfileIndex(context.Background(), "p1"); err != nil {
		t.Fatalf("delete profile index: %v", err)
	}
	chunks, embeddings := env.store.Counts()
	if chunks != 0 || embeddings != 0 {
		t.Fatalf("expected no rows, got %d chunks %d embeddings", chunks, embeddings)
	}
	if got := env.collectionSize("p1"); got != 0 {
		t.Fatalf("collection should be gone, got %d points", got)
	}
	if p := env.profile(t, "p1"); p.IndexStatus != domain.IndexNone {
		t.Fatalf("expected none, got %s", p.IndexStatus)
	}
	resources, _ := env.store.ListResources("p1")
	if len(resources) != 2 {
		t.Fatalf("resources themselves are kept, got %d", len(resources))
	}
}
