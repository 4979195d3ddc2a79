package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"personaai/pkg/domain"
)

const migrateLockID int64 = 51723409

type GormStoreOptions struct {
	LogLevel gormlogger.LogLevel
}

type GormStoreOption func(*GormStoreOptions)

// WithLogLevel sets the gorm logger level (default Warn).
func WithLogLevel(level gormlogger.LogLevel) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.LogLevel = level
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{LogLevel: gormlogger.Warn}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ProfileModel{}, &ResourceModel{}, &ChunkModel{}, &EmbeddingModel{}, &JobModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// Jobs left running by a crashed process can never finish.
		if err := tx.Model(&JobModel{}).
			Where("status IN ?", []string{string(domain.JobPending), string(domain.JobProcessing)}).
			Where("updated_at < ?", time.Now().UTC().Add(-24*time.Hour)).
			Updates(map[string]any{"status": string(domain.JobFailed), "error_message": "abandoned", "updated_at": time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("fail abandoned jobs: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// DB exposes the connection so other components can share it.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveProfile upserts a profile.
func (s *GormStore) SaveProfile(p domain.Profile) error {
	model := profileToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
}

func (s *GormStore) GetProfile(id string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.Where("id = ?", id).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

func (s *GormStore) SetIndexStatus(profileID string, status domain.IndexStatus) error {
	res := s.db.Model(&ProfileModel{}).Where("id = ?", profileID).Updates(map[string]any{
		"index_status": string(status),
		"updated_at":   time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) SaveResource(r domain.Resource) error {
	model, err := resourceToModel(r)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
}

func (s *GormStore) GetResource(id string) (domain.Resource, bool, error) {
	var model ResourceModel
	if err := s.db.Where("id = ?", id).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Resource{}, false, nil
		}
		return domain.Resource{}, false, err
	}
	return resourceFromModel(model), true, nil
}

func (s *GormStore) ListResources(profileID string) ([]domain.Resource, error) {
	var models []ResourceModel
	if err := s.db.Where("profile_id = ?", profileID).Order("created_at asc, id asc").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Resource, 0, len(models))
	for _, m := range models {
		res = append(res, resourceFromModel(m))
	}
	return res, nil
}

func (s *GormStore) SetResourceIndexed(id string, indexed bool) error {
	res := s.db.Model(&ResourceModel{}).Where("id = ?", id).Update("indexed", indexed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteResource(id string) error {
	return s.db.Where("id = ?", id).Delete(&ResourceModel{}).Error
}

func (s *GormStore) SaveChunks(chunks []domain.ResourceChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	models := make([]ChunkModel, 0, len(chunks))
	for _, c := range chunks {
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return err
		}
		models = append(models, ChunkModel{
			ID:         c.ID,
			ResourceID: c.ResourceID,
			ProfileID:  c.ProfileID,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			Metadata:   meta,
			CreatedAt:  c.CreatedAt,
		})
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).CreateInBatches(models, 200).Error
}

func (s *GormStore) ListChunks(resourceID string) ([]domain.ResourceChunk, error) {
	var models []ChunkModel
	if err := s.db.Where("resource_id = ?", resourceID).Order("chunk_index asc").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ResourceChunk, 0, len(models))
	for _, m := range models {
		res = append(res, domain.ResourceChunk{
			ID:         m.ID,
			ResourceID: m.ResourceID,
			ProfileID:  m.ProfileID,
			ChunkIndex: m.ChunkIndex,
			Content:    m.Content,
			Metadata:   decodeMetadata(m.Metadata),
			CreatedAt:  m.CreatedAt,
		})
	}
	return res, nil
}

func (s *GormStore) DeleteChunk(id string) error {
	return s.db.Where("id = ?", id).Delete(&ChunkModel{}).Error
}

func (s *GormStore) SaveEmbeddings(embeddings []domain.ResourceEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	models := make([]EmbeddingModel, 0, len(embeddings))
	for _, e := range embeddings {
		models = append(models, EmbeddingModel{
			ID:        e.ID,
			ChunkID:   e.ChunkID,
			ProfileID: e.ProfileID,
			ModelID:   e.ModelID,
			VectorID:  e.VectorID,
			CreatedAt: e.CreatedAt,
		})
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).CreateInBatches(models, 200).Error
}

func (s *GormStore) ListEmbeddings(chunkID string) ([]domain.ResourceEmbedding, error) {
	var models []EmbeddingModel
	if err := s.db.Where("chunk_id = ?", chunkID).Order("id asc").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ResourceEmbedding, 0, len(models))
	for _, m := range models {
		res = append(res, domain.ResourceEmbedding{
			ID:        m.ID,
			ChunkID:   m.ChunkID,
			ProfileID: m.ProfileID,
			ModelID:   m.ModelID,
			VectorID:  m.VectorID,
			CreatedAt: m.CreatedAt,
		})
	}
	return res, nil
}

func (s *GormStore) DeleteEmbedding(id string) error {
	return s.db.Where("id = ?", id).Delete(&EmbeddingModel{}).Error
}

func (s *GormStore) SaveJob(j domain.IndexingJob) error {
	model := jobToModel(j)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
}

func (s *GormStore) GetJob(id string) (domain.IndexingJob, bool, error) {
	var model JobModel
	if err := s.db.Where("id = ?", id).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.IndexingJob{}, false, nil
		}
		return domain.IndexingJob{}, false, err
	}
	return jobFromModel(model), true, nil
}

func (s *GormStore) ListJobs(profileID string) ([]domain.IndexingJob, error) {
	var models []JobModel
	if err := s.db.Where("profile_id = ?", profileID).Order("created_at desc, id desc").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.IndexingJob, 0, len(models))
	for _, m := range models {
		res = append(res, jobFromModel(m))
	}
	return res, nil
}

// UpdateJob locks the row for the duration of fn.
func (s *GormStore) UpdateJob(id string, fn func(*domain.IndexingJob)) (domain.IndexingJob, error) {
	var out domain.IndexingJob
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model JobModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		job := jobFromModel(model)
		fn(&job)
		job.UpdatedAt = time.Now().UTC()
		updated := jobToModel(job)
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		out = job
		return nil
	})
	return out, err
}

func profileToModel(p domain.Profile) ProfileModel {
	status := string(p.IndexStatus)
	if status == "" {
		status = string(domain.IndexNone)
	}
	return ProfileModel{
		ID:                  p.ID,
		Name:                p.Name,
		SystemPrompt:        p.SystemPrompt,
		RAGEnabled:          p.RAGEnabled,
		EmbeddingModelID:    p.EmbeddingModelID,
		TopK:                p.RAGSettings.TopK,
		SimilarityThreshold: p.RAGSettings.SimilarityThreshold,
		IndexStatus:         status,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	return domain.Profile{
		ID:               m.ID,
		Name:             m.Name,
		SystemPrompt:     m.SystemPrompt,
		RAGEnabled:       m.RAGEnabled,
		EmbeddingModelID: m.EmbeddingModelID,
		RAGSettings: domain.RAGSettings{
			TopK:                m.TopK,
			SimilarityThreshold: m.SimilarityThreshold,
		},
		IndexStatus: domain.IndexStatus(m.IndexStatus),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func resourceToModel(r domain.Resource) (ResourceModel, error) {
	meta, err := encodeMetadata(r.Metadata)
	if err != nil {
		return ResourceModel{}, err
	}
	return ResourceModel{
		ID:          r.ID,
		ProfileID:   r.ProfileID,
		Type:        string(r.Type),
		StoragePath: r.StoragePath,
		MimeType:    r.MimeType,
		Size:        r.Size,
		Indexed:     r.Indexed,
		Metadata:    meta,
		CreatedAt:   r.CreatedAt,
	}, nil
}

func resourceFromModel(m ResourceModel) domain.Resource {
	return domain.Resource{
		ID:          m.ID,
		ProfileID:   m.ProfileID,
		Type:        domain.ResourceType(m.Type),
		StoragePath: m.StoragePath,
		MimeType:    m.MimeType,
		Size:        m.Size,
		Indexed:     m.Indexed,
		Metadata:    decodeMetadata(m.Metadata),
		CreatedAt:   m.CreatedAt,
	}
}

func jobToModel(j domain.IndexingJob) JobModel {
	return JobModel{
		ID:                 j.ID,
		ProfileID:          j.ProfileID,
		Status:             string(j.Status),
		TotalSteps:         j.TotalSteps,
		ProcessedSteps:     j.ProcessedSteps,
		Progress:           j.Progress,
		ErrorMessage:       j.Error,
		SucceededResources: j.SucceededResources,
		FailedResources:    j.FailedResources,
		CancelRequested:    j.CancelRequested,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
	}
}

func jobFromModel(m JobModel) domain.IndexingJob {
	return domain.IndexingJob{
		ID:                 m.ID,
		ProfileID:          m.ProfileID,
		Status:             domain.JobStatus(m.Status),
		TotalSteps:         m.TotalSteps,
		ProcessedSteps:     m.ProcessedSteps,
		Progress:           m.Progress,
		Error:              m.ErrorMessage,
		SucceededResources: m.SucceededResources,
		FailedResources:    m.FailedResources,
		CancelRequested:    m.CancelRequested,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func encodeMetadata(meta domain.Metadata) (datatypes.JSON, error) {
	if len(meta) == 0 {
		return datatypes.JSON("{}"), nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func decodeMetadata(raw datatypes.JSON) domain.Metadata {
	if len(raw) == 0 {
		return nil
	}
	var meta domain.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil || len(meta) == 0 {
		return nil
	}
	return meta
}
