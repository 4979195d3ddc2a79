package store

import (
	"sort"
	"sync"
	"time"

	"personaai/pkg/domain"
)

// MemoryStore keeps everything in process. Used by tests and single-node
// deployments without Postgres.
type MemoryStore struct {
	mu         sync.RWMutex
	profiles   map[string]domain.Profile
	resources  map[string]domain.Resource
	order      []string                            // resource insertion order
	chunks     map[string]domain.ResourceChunk     // chunk ID -> chunk
	embeddings map[string]domain.ResourceEmbedding // embedding ID -> embedding
	jobs       map[string]domain.IndexingJob
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:   make(map[string]domain.Profile),
		resources:  make(map[string]domain.Resource),
		chunks:     make(map[string]domain.ResourceChunk),
		embeddings: make(map[string]domain.ResourceEmbedding),
		jobs:       make(map[string]domain.IndexingJob),
	}
}

// SaveProfile stores or replaces a profile.
func (m *MemoryStore) SaveProfile(p domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
	return nil
}

func (m *MemoryStore) GetProfile(id string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	return p, ok, nil
}

// SetIndexStatus updates only the profile's index status.
func (m *MemoryStore) SetIndexStatus(profileID string, status domain.IndexStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[profileID]
	if !ok {
		return ErrNotFound
	}
	p.IndexStatus = status
	p.UpdatedAt = time.Now().UTC()
	m.profiles[profileID] = p
	return nil
}

// SaveResource stores or replaces a resource and tracks insertion order.
func (m *MemoryStore) SaveResource(r domain.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.resources[r.ID]; !exists {
		m.order = append(m.order, r.ID)
	}
	r.Metadata = r.Metadata.Clone()
	m.resources[r.ID] = r
	return nil
}

func (m *MemoryStore) GetResource(id string) (domain.Resource, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[id]
	return r, ok, nil
}

// ListResources returns a profile's resources in insertion order.
func (m *MemoryStore) ListResources(profileID string) ([]domain.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Resource, 0)
	for _, id := range m.order {
		if r, ok := m.resources[id]; ok && r.ProfileID == profileID {
			res = append(res, r)
		}
	}
	return res, nil
}

func (m *MemoryStore) SetResourceIndexed(id string, indexed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return ErrNotFound
	}
	r.Indexed = indexed
	m.resources[id] = r
	return nil
}

// DeleteResource removes the resource row only; callers clean up its index first.
func (m *MemoryStore) DeleteResource(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resources, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return nil
}

func (m *MemoryStore) SaveChunks(chunks []domain.ResourceChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		c.Metadata = c.Metadata.Clone()
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *MemoryStore) ListChunks(resourceID string) ([]domain.ResourceChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ResourceChunk, 0)
	for _, c := range m.chunks {
		if c.ResourceID == resourceID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ChunkIndex < res[j].ChunkIndex })
	return res, nil
}

func (m *MemoryStore) DeleteChunk(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, id)
	return nil
}

func (m *MemoryStore) SaveEmbeddings(embeddings []domain.ResourceEmbedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range embeddings {
		m.embeddings[e.ID] = e
	}
	return nil
}

func (m *MemoryStore) ListEmbeddings(chunkID string) ([]domain.ResourceEmbedding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ResourceEmbedding, 0)
	for _, e := range m.embeddings {
		if e.ChunkID == chunkID {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *MemoryStore) DeleteEmbedding(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.embeddings, id)
	return nil
}

func (m *MemoryStore) SaveJob(j domain.IndexingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

func (m *MemoryStore) GetJob(id string) (domain.IndexingJob, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok, nil
}

func (m *MemoryStore) ListJobs(profileID string) ([]domain.IndexingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.IndexingJob, 0)
	for _, j := range m.jobs {
		if j.ProfileID == profileID {
			res = append(res, j)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func (m *MemoryStore) UpdateJob(id string, fn func(*domain.IndexingJob)) (domain.IndexingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.IndexingJob{}, ErrNotFound
	}
	fn(&j)
	j.UpdatedAt = time.Now().UTC()
	m.jobs[id] = j
	return j, nil
}

// Counts reports how many chunks and embeddings are stored.
func (m *MemoryStore) Counts() (chunks, embeddings int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), len(m.embeddings)
}
