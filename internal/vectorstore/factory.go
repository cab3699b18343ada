package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/cmssearch/internal/config"
	"go.uber.org/zap"
)

// NewIndex creates an Index based on the configuration.
//
// The Provider field selects the implementation:
//   - "chromem" (default): embedded ChromemIndex, no external service
//   - "qdrant": QdrantIndex against a Qdrant server
//
// dimension must match the embedding provider's output.
//
// Example usage:
//
//	idx, err := vectorstore.NewIndex(cfg.VectorStore, provider.Dimension(), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer idx.Close()
func NewIndex(cfg config.VectorStoreConfig, dimension int, logger *zap.Logger) (Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "chromem", "":
		idx, err := NewChromemIndex(ChromemConfig{
			Path:      cfg.ChromemPath,
			Compress:  cfg.ChromemCompress,
			IndexName: cfg.IndexName,
			Dimension: dimension,
		}, logger.Named("chromem"))
		if err != nil {
			return nil, fmt.Errorf("creating chromem index: %w", err)
		}
		return idx, nil

	case "qdrant":
		idx, err := NewQdrantIndex(QdrantConfig{
			Host:      cfg.QdrantHost,
			Port:      cfg.QdrantPort,
			APIKey:    cfg.QdrantAPIKey.Value(),
			UseTLS:         cfg.QdrantUseTLS,
			IndexName:      cfg.IndexName,
			Dimension:      dimension,
			RequestTimeout: cfg.QdrantTimeout.Duration(),
		}, logger.Named("qdrant"))
		if err != nil {
			return nil, fmt.Errorf("creating qdrant index: %w", err)
		}
		return idx, nil

	default:
		return nil, fmt.Errorf("%w: unsupported vector store provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
