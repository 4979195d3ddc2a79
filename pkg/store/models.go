package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ProfileModel struct {
	ID                  string `gorm:"primaryKey"`
	Name                string `gorm:"not null"`
	SystemPrompt        string `gorm:"type:text"`
	RAGEnabled          bool   `gorm:"not null;default:false"`
	EmbeddingModelID    string
	TopK                int
	SimilarityThreshold float64
	IndexStatus         string    `gorm:"not null;default:none"`
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}

type ResourceModel struct {
	ID          string `gorm:"primaryKey"`
	ProfileID   string `gorm:"not null;index"`
	Type        string `gorm:"not null"`
	StoragePath string `gorm:"not null"`
	MimeType    string
	Size        int64
	Indexed     bool           `gorm:"not null;default:false"`
	Metadata    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null;index"`
}

type ChunkModel struct {
	ID         string         `gorm:"primaryKey"`
	ResourceID string         `gorm:"not null;index:idx_chunk_resource_index,priority:1"`
	ProfileID  string         `gorm:"not null;index"`
	ChunkIndex int            `gorm:"not null;index:idx_chunk_resource_index,priority:2"`
	Content    string         `gorm:"type:text;not null"`
	Metadata   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null"`
}

type EmbeddingModel struct {
	ID        string    `gorm:"primaryKey"`
	ChunkID   string    `gorm:"not null;index"`
	ProfileID string    `gorm:"not null;index"`
	ModelID   string    `gorm:"not null"`
	VectorID  string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type JobModel struct {
	ID                 string `gorm:"primaryKey"`
	ProfileID          string `gorm:"not null;index"`
	Status             string `gorm:"not null;index"`
	TotalSteps         int
	ProcessedSteps     int
	Progress           int
	ErrorMessage       string `gorm:"type:text"`
	SucceededResources int
	FailedResources    int
	CancelRequested    bool
	CreatedAt          time.Time `gorm:"not null;index"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (ProfileModel) TableName() string { return "profiles" }
func (ResourceModel) TableName() string { return "resources" }
func (ChunkModel) TableName() string { return "resource_chunks" }
func (EmbeddingModel) TableName() string { return "resource_embeddings" }
func (JobModel) TableName() string { return "indexing_jobs" }
