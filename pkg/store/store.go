package store

import (
	"errors"

	"personaai/pkg/domain"
)

// ErrNotFound is returned by mutations that target a missing record.
var ErrNotFound = errors.New("record not found")

// Store defines persistence for profiles, resources, chunks, embeddings and
// indexing jobs. Lookups report absence with a false flag rather than an error.
type Store interface {
	// profiles
	SaveProfile(domain.Profile) error
	GetProfile(id string) (domain.Profile, bool, error)
	SetIndexStatus(profileID string, status domain.IndexStatus) error

	// resources
	SaveResource(domain.Resource) error
	GetResource(id string) (domain.Resource, bool, error)
	ListResources(profileID string) ([]domain.Resource, error)
	SetResourceIndexed(id string, indexed bool) error
	DeleteResource(id string) error

	// chunks, ordered by chunk index
	SaveChunks([]domain.ResourceChunk) error
	ListChunks(resourceID string) ([]domain.ResourceChunk, error)
	DeleteChunk(id string) error

	// embeddings
	SaveEmbeddings([]domain.ResourceEmbedding) error
	ListEmbeddings(chunkID string) ([]domain.ResourceEmbedding, error)
	DeleteEmbedding(id string) error

	// jobs
	SaveJob(domain.IndexingJob) error
	GetJob(id string) (domain.IndexingJob, bool, error)
	// ListJobs returns the profile's jobs, newest first.
	ListJobs(profileID string) ([]domain.IndexingJob, error)
	// UpdateJob applies fn to the stored job atomically and returns the result.
	UpdateJob(id string, fn func(*domain.IndexingJob)) (domain.IndexingJob, error)
}
