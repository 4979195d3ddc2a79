// Package vectorstore persists embedding vectors per collection and answers
// cosine similarity queries over them.
package vectorstore

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sync"

	"personaai/pkg/domain"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrInvalidCollection  = errors.New("invalid collection")
)

// Payload is stored next to every vector.
type Payload struct {
	ChunkID    string          `json:"chunk_id"`
	ResourceID string          `json:"resource_id"`
	ProfileID  string          `json:"profile_id"`
	Content    string          `json:"content"`
	ModelID    string          `json:"model_id"`
	Metadata   domain.Metadata `json:"metadata,omitempty"`
}

// Point is one vector with its opaque id.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Hit is a search result; ID is the opaque id given to Upsert.
type Hit struct {
	ID      string
	Score   float64
	Payload Payload
}

// Store is implemented by every vector backend.
type Store interface {
	// EnsureCollection creates the collection if it does not exist yet.
	EnsureCollection(ctx context.Context, name string, size int) error
	// Upsert inserts or replaces points by id.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns hits with score >= scoreThreshold, best first. A missing
	// collection yields no hits.
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float64) ([]Hit, error)
	DeleteVectors(ctx context.Context, collection string, ids []string) error
	// DeleteCollection is a no-op for missing collections.
	DeleteCollection(ctx context.Context, name string) error
}

// Pinger is implemented by networked stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

var unsafeCollectionChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// CollectionName isolates vectors per profile and embedding model.
func CollectionName(profileID, modelID string) string {
	return "profile_" + profileID + "_" + unsafeCollectionChars.ReplaceAllString(modelID, "_")
}

// PointID is the opaque id of a chunk's vector for a model.
func PointID(chunkID, modelID string) string {
	return chunkID + "_" + modelID
}

// CosineSimilarity returns dot(a,b)/(|a||b|), or 0 when either norm is zero
// or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// collectionCache remembers collections known to exist so EnsureCollection
// can skip the backend round trip. Creation and deletion are idempotent on
// the backend, so a stale entry at worst costs one extra call.
type collectionCache struct {
	mu    sync.Mutex
	known map[string]int
}

func newCollectionCache() *collectionCache {
	return &collectionCache{known: make(map[string]int)}
}

func (c *collectionCache) has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.known[name]
	return ok
}

func (c *collectionCache) add(name string, size int) {
	c.mu.Lock()
	c.known[name] = size
	c.mu.Unlock()
}

func (c *collectionCache) remove(name string) {
	c.mu.Lock()
	delete(c.known, name)
	c.mu.Unlock()
}
