package vectorstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAutoFallsBackToMemory(t *testing.T) {
	s, err := Open(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	s, err = Open(context.Background(), Config{Qdrant: QdrantConfig{URL: srv.URL}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
}

func TestOpenAutoPrefersReachableQdrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"collections":[]}}`))
	}))
	defer srv.Close()
	s, err := Open(context.Background(), Config{Qdrant: QdrantConfig{URL: srv.URL}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Qdrant{}, s)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "faiss"}, nil)
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Backend: BackendPgVector}, nil)
	assert.Error(t, err)
}
