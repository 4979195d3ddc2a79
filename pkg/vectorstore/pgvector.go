package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"personaai/pkg/domain"
)

// VectorCollectionModel records the declared size of a pgvector collection.
type VectorCollectionModel struct {
	Name       string `gorm:"primaryKey"`
	Dimensions int    `gorm:"not null"`
	CreatedAt  time.Time
}

func (VectorCollectionModel) TableName() string { return "vector_collections" }

// VectorPointModel is one stored vector. The embedding column is untyped so
// collections of different sizes can share the table.
type VectorPointModel struct {
	Collection string          `gorm:"primaryKey"`
	PointID    string          `gorm:"primaryKey"`
	Embedding  pgvector.Vector `gorm:"type:vector;not null"`
	ChunkID    string          `gorm:"index"`
	ResourceID string          `gorm:"index"`
	ProfileID  string          `gorm:"index"`
	ModelID    string
	Content    string         `gorm:"type:text"`
	Metadata   datatypes.JSON `gorm:"type:jsonb"`
	UpdatedAt  time.Time
}

func (VectorPointModel) TableName() string { return "vector_points" }

// PgVector stores vectors in Postgres with the pgvector extension, sharing
// the relational store's connection.
type PgVector struct {
	db    *gorm.DB
	known *collectionCache
}

// NewPgVector migrates the vector tables on db.
func NewPgVector(db *gorm.DB) (*PgVector, error) {
	if db == nil {
		return nil, errors.New("pgvector: db required")
	}
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("create pgvector extension: %w", err)
	}
	if err := db.AutoMigrate(&VectorCollectionModel{}, &VectorPointModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate vector tables: %w", err)
	}
	return &PgVector{db: db, known: newCollectionCache()}, nil
}

func (s *PgVector) EnsureCollection(ctx context.Context, name string, size int) error {
	if name == "" || size <= 0 {
		return fmt.Errorf("%w: name=%q size=%d", ErrInvalidCollection, name, size)
	}
	if s.known.has(name) {
		return nil
	}
	model := VectorCollectionModel{Name: name, Dimensions: size, CreatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	s.known.add(name, size)
	return nil
}

func (s *PgVector) dimensions(ctx context.Context, name string) (int, error) {
	var model VectorCollectionModel
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return 0, err
	}
	return model.Dimensions, nil
}

func (s *PgVector) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	size, err := s.dimensions(ctx, collection)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	models := make([]VectorPointModel, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != size {
			return fmt.Errorf("%w: point %s has %d, collection %s wants %d", ErrDimensionMismatch, p.ID, len(p.Vector), collection, size)
		}
		meta, err := json.Marshal(p.Payload.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		models = append(models, VectorPointModel{
			Collection: collection,
			PointID:    p.ID,
			Embedding:  pgvector.NewVector(p.Vector),
			ChunkID:    p.Payload.ChunkID,
			ResourceID: p.Payload.ResourceID,
			ProfileID:  p.Payload.ProfileID,
			ModelID:    p.Payload.ModelID,
			Content:    p.Payload.Content,
			Metadata:   datatypes.JSON(meta),
			UpdatedAt:  now,
		})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "point_id"}},
		UpdateAll: true,
	}).Create(&models).Error
}

type pgHit struct {
	VectorPointModel
	Score float64
}

func (s *PgVector) Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float64) ([]Hit, error) {
	if limit <= 0 {
		return []Hit{}, nil
	}
	vec := pgvector.NewVector(vector)
	var rows []pgHit
	err := s.db.WithContext(ctx).Model(&VectorPointModel{}).
		Select("*, 1 - (embedding <=> ?) AS score", vec).
		Where("collection = ? AND vector_dims(embedding) = ?", collection, len(vector)).
		Where("1 - (embedding <=> ?) >= ?", vec, scoreThreshold).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		var meta domain.Metadata
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &meta); err != nil {
				return nil, fmt.Errorf("decode metadata for point %s: %w", r.PointID, err)
			}
		}
		hits = append(hits, Hit{
			ID:    r.PointID,
			Score: r.Score,
			Payload: Payload{
				ChunkID:    r.ChunkID,
				ResourceID: r.ResourceID,
				ProfileID:  r.ProfileID,
				Content:    r.Content,
				ModelID:    r.ModelID,
				Metadata:   meta,
			},
		})
	}
	return hits, nil
}

func (s *PgVector) DeleteVectors(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("collection = ? AND point_id IN ?", collection, ids).
		Delete(&VectorPointModel{}).Error
}

func (s *PgVector) DeleteCollection(ctx context.Context, name string) error {
	s.known.remove(name)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ?", name).Delete(&VectorPointModel{}).Error; err != nil {
			return err
		}
		return tx.Where("name = ?", name).Delete(&VectorCollectionModel{}).Error
	})
}

// Ping checks the database connection.
func (s *PgVector) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
