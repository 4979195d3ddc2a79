package domain

import (
	"strconv"
	"time"
)

// IndexStatus tracks the state of a profile's knowledge base index.
type IndexStatus string

const (
	IndexNone       IndexStatus = "none"
	IndexPending    IndexStatus = "pending"
	IndexProcessing IndexStatus = "processing"
	IndexReady      IndexStatus = "ready"
	IndexStale      IndexStatus = "stale"
	IndexError      IndexStatus = "error"
)

// JobStatus represents the lifecycle of an indexing job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Active reports whether the job is queued or running.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobProcessing
}

type ResourceType string

const (
	ResourceFile ResourceType = "file"
	ResourceText ResourceType = "text"
)

// Metadata is a flat string map attached to resources and chunks.
type Metadata map[string]string

// Clone returns a copy that can be mutated independently.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge returns a new map with other's entries layered over m's.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// RAGSettings are the per-profile retrieval knobs.
type RAGSettings struct {
	TopK                int     `json:"topK"`
	SimilarityThreshold float64 `json:"similarityThreshold"`
}

// Profile is a persona with an optional private knowledge base.
type Profile struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	SystemPrompt     string      `json:"systemPrompt,omitempty"`
	RAGEnabled       bool        `json:"ragEnabled"`
	EmbeddingModelID string      `json:"embeddingModelId,omitempty"`
	RAGSettings      RAGSettings `json:"ragSettings"`
	IndexStatus      IndexStatus `json:"indexStatus"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// Resource is a user supplied document or pasted text owned by a profile.
type Resource struct {
	ID          string       `json:"id"`
	ProfileID   string       `json:"profileId"`
	Type        ResourceType `json:"type"`
	StoragePath string       `json:"storagePath"`
	MimeType    string       `json:"mimeType"`
	Size        int64        `json:"size"`
	Indexed     bool         `json:"indexed"`
	Metadata    Metadata     `json:"metadata,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// ChunkMeta records where a chunk came from in the cleaned resource text.
// Offsets are in runes.
type ChunkMeta struct {
	StartChar      int `json:"startChar"`
	EndChar        int `json:"endChar"`
	Length         int `json:"length"`
	OriginalLength int `json:"originalLength,omitempty"`
}

// Metadata flattens the chunk position into string metadata.
func (c ChunkMeta) Metadata() Metadata {
	m := Metadata{
		"startChar": strconv.Itoa(c.StartChar),
		"endChar":   strconv.Itoa(c.EndChar),
		"length":    strconv.Itoa(c.Length),
	}
	if c.OriginalLength > 0 {
		m["originalLength"] = strconv.Itoa(c.OriginalLength)
	}
	return m
}

// TextChunk is a transient slice of text produced by the chunker.
type TextChunk struct {
	Index   int       `json:"index"`
	Content string    `json:"content"`
	Meta    ChunkMeta `json:"metadata"`
}

// ResourceChunk is a persisted chunk of a resource.
type ResourceChunk struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resourceId"`
	ProfileID  string    `json:"profileId"`
	ChunkIndex int       `json:"chunkIndex"`
	Content    string    `json:"content"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ResourceEmbedding points a chunk at its vector in the vector store.
type ResourceEmbedding struct {
	ID        string    `json:"id"`
	ChunkID   string    `json:"chunkId"`
	ProfileID string    `json:"profileId"`
	ModelID   string    `json:"modelId"`
	VectorID  string    `json:"vectorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// IndexingJob tracks one asynchronous indexing run for a profile.
type IndexingJob struct {
	ID                 string    `json:"id"`
	ProfileID          string    `json:"profileId"`
	Status             JobStatus `json:"status"`
	TotalSteps         int       `json:"totalSteps"`
	ProcessedSteps     int       `json:"processedSteps"`
	Progress           int       `json:"progress"`
	Error              string    `json:"error,omitempty"`
	SucceededResources int       `json:"succeededResources"`
	FailedResources    int       `json:"failedResources"`
	CancelRequested    bool      `json:"cancelRequested,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// ComputeProgress returns round(processed/total*100), clamped to [0, 100].
func ComputeProgress(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := (processed*200 + total) / (2 * total)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
