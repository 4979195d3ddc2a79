package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "profile_p1_nomic-embed-text", CollectionName("p1", "nomic-embed-text"))
	assert.Equal(t, "profile_p1_nomic-embed-text_latest", CollectionName("p1", "nomic-embed-text:latest"))
	assert.Equal(t, "profile_p1_models_text-embedding-004", CollectionName("p1", "models/text-embedding-004"))
}

func TestCollectionNameSeparatesModels(t *testing.T) {
	assert.NotEqual(t, CollectionName("p1", "all-minilm"), CollectionName("p1", "bge-m3"))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 1}))
}

func TestPointUUIDDeterministic(t *testing.T) {
	a := PointUUID("chunk-1_nomic-embed-text")
	assert.Equal(t, a, PointUUID("chunk-1_nomic-embed-text"))
	assert.NotEqual(t, a, PointUUID("chunk-2_nomic-embed-text"))
	assert.Len(t, a, 36)
}

func TestPointID(t *testing.T) {
	assert.Equal(t, "c1_all-minilm", PointID("c1", "all-minilm"))
}
