package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cmssearch/internal/config"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Embedder generates vectors for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is the interface for embedding providers.
type Provider interface {
	Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Falls back to 384 if model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "base"):
		return 768
	case strings.Contains(lower, "large"):
		return 1024
	default:
		return 384
	}
}

// NewProvider creates an embedding provider from application configuration.
// The returned provider records generation metrics on meter; a nil meter uses
// the global provider.
func NewProvider(cfg config.EmbeddingsConfig, meter metric.Meter, logger *zap.Logger) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "fastembed", "":
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: expandHome(cfg.CacheDir),
		})
	case "tei":
		p, err = NewTEIClient(TEIConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey.Value(),
			Timeout: cfg.Timeout.Duration(),
		})
	case "openai":
		p, err = NewOpenAIProvider(OpenAIConfig{
			Model:   cfg.Model,
			APIKey:  cfg.APIKey.Value(),
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout.Duration(),
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Dimension > 0 {
		p = &fixedDimension{Provider: p, dimension: cfg.Dimension}
	}
	return Instrument(p, cfg.Provider, cfg.Model, NewMetrics(meter, logger)), nil
}

type fixedDimension struct {
	Provider
	dimension int
}

func (f *fixedDimension) Dimension() int { return f.dimension }

// Instrument wraps p so every call is recorded in m.
func Instrument(p Provider, provider, model string, m *Metrics) Provider {
	return &instrumented{Provider: p, provider: provider, model: model, metrics: m}
}

type instrumented struct {
	Provider
	provider string
	model    string
	metrics  *Metrics
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := i.Provider.EmbedDocuments(ctx, texts)
	i.metrics.RecordGeneration(ctx, i.provider, i.model, "embed_documents", time.Since(start), len(texts), err)
	return vectors, err
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vector, err := i.Provider.EmbedQuery(ctx, text)
	i.metrics.RecordGeneration(ctx, i.provider, i.model, "embed_query", time.Since(start), 1, err)
	return vector, err
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
