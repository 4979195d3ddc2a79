package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory keeps vectors in process and scores every point on each query.
// It is meant for tests and small knowledge bases only.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	mu     sync.RWMutex
	size   int
	points map[string]Point
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memoryCollection)}
}

func (m *Memory) collection(name string) *memoryCollection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collections[name]
}

func (m *Memory) EnsureCollection(_ context.Context, name string, size int) error {
	if name == "" || size <= 0 {
		return fmt.Errorf("%w: name=%q size=%d", ErrInvalidCollection, name, size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return nil
	}
	m.collections[name] = &memoryCollection{size: size, points: make(map[string]Point)}
	return nil
}

func (m *Memory) Upsert(_ context.Context, collection string, points []Point) error {
	c := m.collection(collection)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	for _, p := range points {
		if len(p.Vector) != c.size {
			return fmt.Errorf("%w: point %s has %d, collection %s wants %d", ErrDimensionMismatch, p.ID, len(p.Vector), collection, c.size)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range points {
		stored := p
		stored.Vector = append([]float32(nil), p.Vector...)
		stored.Payload.Metadata = p.Payload.Metadata.Clone()
		c.points[p.ID] = stored
	}
	return nil
}

func (m *Memory) Search(_ context.Context, collection string, vector []float32, limit int, scoreThreshold float64) ([]Hit, error) {
	c := m.collection(collection)
	if c == nil || limit <= 0 {
		return []Hit{}, nil
	}
	c.mu.RLock()
	hits := make([]Hit, 0, len(c.points))
	for id, p := range c.points {
		score := CosineSimilarity(vector, p.Vector)
		if score < scoreThreshold {
			continue
		}
		payload := p.Payload
		payload.Metadata = p.Payload.Metadata.Clone()
		hits = append(hits, Hit{ID: id, Score: score, Payload: payload})
	}
	c.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *Memory) DeleteVectors(_ context.Context, collection string, ids []string) error {
	c := m.collection(collection)
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.points, id)
	}
	return nil
}

func (m *Memory) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.collections, name)
	m.mu.Unlock()
	return nil
}

// Count returns the number of points in a collection.
func (m *Memory) Count(collection string) int {
	c := m.collection(collection)
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.points)
}
