package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	LogsDir  string `yaml:"logsDir"`

	// DatabaseURL selects the postgres store; empty keeps everything in memory.
	DatabaseURL string `yaml:"databaseURL"`

	StorageBackend string `yaml:"storageBackend"`
	StorageDir     string `yaml:"storageDir"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	MinioPrefix    string `yaml:"minioPrefix"`

	VectorBackend string `yaml:"vectorBackend"`
	QdrantURL     string `yaml:"qdrantURL"`
	QdrantAPIKey  string `yaml:"qdrantAPIKey"`

	EmbeddingProvider          string         `yaml:"embeddingProvider"`
	EmbeddingBaseURL           string         `yaml:"embeddingBaseURL"`
	EmbeddingAPIKey            string         `yaml:"embeddingAPIKey"`
	GeminiAPIKey               string         `yaml:"geminiAPIKey"`
	EmbeddingModel             string         `yaml:"embeddingModel"`
	EmbeddingDimensions        map[string]int `yaml:"embeddingDimensions"`
	EmbeddingRequestsPerSecond float64        `yaml:"embeddingRequestsPerSecond"`
	EmbeddingTimeoutSeconds    int            `yaml:"embeddingTimeoutSeconds"`

	ChunkSize    int `yaml:"chunkSize"`
	ChunkOverlap int `yaml:"chunkOverlap"`

	RedisAddr              string `yaml:"redisAddr"`
	RedisPassword          string `yaml:"redisPassword"`
	QueueEnabled           bool   `yaml:"queueEnabled"`
	QueueName              string `yaml:"queueName"`
	QueueGroup             string `yaml:"queueGroup"`
	QueueConcurrency       int    `yaml:"queueConcurrency"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds"`

	InternalTokenSecret     string   `yaml:"internalTokenSecret"`
	InternalTokenAudience   string   `yaml:"internalTokenAudience"`
	InternalTokenIssuers    []string `yaml:"internalTokenIssuers"`
	// IndexRateLimitPerMinute caps index starts per profile; negative disables.
	IndexRateLimitPerMinute int      `yaml:"indexRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Override with environment variables
func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("LOGS_DIR"); v != "" {
		cfg.LogsDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("QDRANT_URL"); v != "" {
		cfg.QdrantURL = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.QdrantAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("RAG_INTERNAL_TOKEN_SECRET"); v != "" {
		cfg.InternalTokenSecret = v
	}
	if v := os.Getenv("RAG_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("RAG_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkOverlap = n
		}
	}
	if v := os.Getenv("RAG_QUEUE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.QueueEnabled = enabled
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	cfg.VectorBackend = strings.ToLower(strings.TrimSpace(cfg.VectorBackend))
	cfg.EmbeddingProvider = strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))
	if cfg.Port == "" {
		cfg.Port = "8086"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "local"
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = "data/resources"
	}
	if cfg.VectorBackend == "" {
		cfg.VectorBackend = "auto"
	}
	if cfg.EmbeddingProvider == "" {
		cfg.EmbeddingProvider = "ollama"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.EmbeddingTimeoutSeconds <= 0 {
		cfg.EmbeddingTimeoutSeconds = 60
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 500
	}
	if cfg.ChunkOverlap == 0 && cfg.ChunkSize > 50 {
		cfg.ChunkOverlap = 50
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "rag:index"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "rag-indexer"
	}
	if cfg.QueueConcurrency <= 0 {
		cfg.QueueConcurrency = 1
	}
	if cfg.InternalTokenAudience == "" {
		cfg.InternalTokenAudience = "rag"
	}
	if len(cfg.InternalTokenIssuers) == 0 {
		cfg.InternalTokenIssuers = []string{"persona-api"}
	}
	if cfg.IndexRateLimitPerMinute == 0 {
		cfg.IndexRateLimitPerMinute = 6
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.ChunkSize <= 0 {
		return errors.New("config: chunkSize must be > 0 (set in config.yaml or RAG_CHUNK_SIZE)")
	}
	if cfg.ChunkOverlap < 0 {
		return errors.New("config: chunkOverlap must be >= 0 (set in config.yaml or RAG_CHUNK_OVERLAP)")
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return errors.New("config: chunkOverlap must be smaller than chunkSize")
	}
	if strings.TrimSpace(cfg.InternalTokenSecret) == "" {
		return errors.New("config: internal service auth requires RAG_INTERNAL_TOKEN_SECRET")
	}
	switch cfg.StorageBackend {
	case "local":
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required when storageBackend=minio")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q (local, minio)", cfg.StorageBackend)
	}
	switch cfg.VectorBackend {
	case "auto", "memory":
	case "qdrant":
		if cfg.QdrantURL == "" {
			return errors.New("config: qdrantURL is required when vectorBackend=qdrant (set in config.yaml or QDRANT_URL)")
		}
	case "pgvector":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required when vectorBackend=pgvector")
		}
	default:
		return fmt.Errorf("config: unknown vectorBackend %q (auto, qdrant, pgvector, memory)", cfg.VectorBackend)
	}
	switch cfg.EmbeddingProvider {
	case "ollama":
	case "openai", "http":
		if cfg.EmbeddingBaseURL == "" {
			return fmt.Errorf("config: embeddingBaseURL is required when embeddingProvider=%s", cfg.EmbeddingProvider)
		}
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return errors.New("config: geminiAPIKey is required when embeddingProvider=gemini (set in config.yaml or GEMINI_API_KEY)")
		}
	default:
		return fmt.Errorf("config: unknown embeddingProvider %q (ollama, gemini, openai, http)", cfg.EmbeddingProvider)
	}
	if cfg.EmbeddingRequestsPerSecond < 0 {
		return errors.New("config: embeddingRequestsPerSecond must be >= 0")
	}
	if cfg.QueueEnabled && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when queueEnabled=true (set in config.yaml or REDIS_ADDR)")
	}
	return nil
}
