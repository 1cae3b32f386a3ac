package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/gocontext-ingest/internal/config"
)

// New opens the backend selected by cfg.Provider.
func New(cfg config.VectorStoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "", "chromem":
		return NewChromemStore(cfg.Path, cfg.Compress, logger)
	case "qdrant":
		return NewQdrantStore(QdrantConfig{Host: cfg.QdrantHost, Port: cfg.QdrantPort}, logger)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", cfg.Provider)
	}
}
