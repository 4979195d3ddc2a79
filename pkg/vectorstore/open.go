package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	BackendAuto     = "auto"
	BackendQdrant   = "qdrant"
	BackendPgVector = "pgvector"
	BackendMemory   = "memory"
)

// Config selects and configures a vector backend.
type Config struct {
	Backend string
	Qdrant  QdrantConfig
	// DB is required by the pgvector backend.
	DB *gorm.DB
	// ProbeTimeout bounds the reachability check done in auto mode.
	ProbeTimeout time.Duration
}

// Open builds the configured backend. In auto mode Qdrant is used when a URL
// is configured and answers, otherwise the in-memory store.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendAuto
	}
	switch backend {
	case BackendQdrant:
		q, err := NewQdrant(cfg.Qdrant)
		if err != nil {
			return nil, err
		}
		return q, nil
	case BackendPgVector:
		pg, err := NewPgVector(cfg.DB)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case BackendMemory:
		logger.Warn("using in-memory vector store; vectors are lost on restart")
		return NewMemory(), nil
	case BackendAuto:
		if strings.TrimSpace(cfg.Qdrant.URL) != "" {
			q, err := NewQdrant(cfg.Qdrant)
			if err != nil {
				return nil, err
			}
			timeout := cfg.ProbeTimeout
			if timeout <= 0 {
				timeout = 3 * time.Second
			}
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			err = q.Ping(probeCtx)
			if err == nil {
				logger.Info("using qdrant vector store", "url", cfg.Qdrant.URL)
				return q, nil
			}
			logger.Warn("qdrant unreachable, falling back to in-memory vector store", "url", cfg.Qdrant.URL, "err", err)
		} else {
			logger.Warn("no qdrant url configured, using in-memory vector store")
		}
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
