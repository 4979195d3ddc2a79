package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySearchRanksAndFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.EnsureCollection(ctx, "c", 2))
	require.NoError(t, m.EnsureCollection(ctx, "c", 2))
	require.NoError(t, m.Upsert(ctx, "c", []Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: Payload{Content: "a"}},
		{ID: "b", Vector: []float32{1, 1}, Payload: Payload{Content: "b"}},
		{ID: "c", Vector: []float32{0, 1}, Payload: Payload{Content: "c"}},
	}))

	hits, err := m.Search(ctx, "c", []float32{1, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "b", hits[1].ID)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	hits, err = m.Search(ctx, "c", []float32{1, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestMemorySearchThresholdAboveOne(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.EnsureCollection(ctx, "c", 2))
	require.NoError(t, m.Upsert(ctx, "c", []Point{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{2, 0}},
	}))

	hits, err := m.Search(ctx, "c", []float32{1, 0}, 10, 1.1)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemorySearchMissingCollection(t *testing.T) {
	hits, err := NewMemory().Search(context.Background(), "missing", []float32{1}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryUpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.EnsureCollection(ctx, "c", 2))
	require.NoError(t, m.Upsert(ctx, "c", []Point{{ID: "a", Vector: []float32{1, 0}, Payload: Payload{Content: "old"}}}))
	require.NoError(t, m.Upsert(ctx, "c", []Point{{ID: "a", Vector: []float32{0, 1}, Payload: Payload{Content: "new"}}}))
	assert.Equal(t, 1, m.Count("c"))

	hits, err := m.Search(ctx, "c", []float32{0, 1}, 5, 0.9)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new", hits[0].Payload.Content)
}

func TestMemoryUpsertValidates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	err := m.Upsert(ctx, "missing", []Point{{ID: "a", Vector: []float32{1}}})
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	require.NoError(t, m.EnsureCollection(ctx, "c", 3))
	err = m.Upsert(ctx, "c", []Point{{ID: "a", Vector: []float32{1, 2}}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, m.Count("c"))
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.EnsureCollection(ctx, "c", 1))
	require.NoError(t, m.Upsert(ctx, "c", []Point{{ID: "a", Vector: []float32{1}}, {ID: "b", Vector: []float32{1}}}))

	require.NoError(t, m.DeleteVectors(ctx, "c", []string{"a", "unknown"}))
	assert.Equal(t, 1, m.Count("c"))
	require.NoError(t, m.DeleteVectors(ctx, "missing", []string{"a"}))

	require.NoError(t, m.DeleteCollection(ctx, "c"))
	require.NoError(t, m.DeleteCollection(ctx, "c"))
	assert.Equal(t, 0, m.Count("c"))
}

func TestMemoryConcurrentUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.EnsureCollection(ctx, "c", 2))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = m.Upsert(ctx, "c", []Point{{ID: fmt.Sprintf("%d-%d", i, j), Vector: []float32{1, float32(j)}}})
				_, _ = m.Search(ctx, "c", []float32{1, 1}, 5, 0)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 400, m.Count("c"))
}
