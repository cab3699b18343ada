package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const backendChromem = "chromem"

// metadataKey holds the JSON-encoded metadata map. chromem only stores
// string metadata, so typed values (booleans, numbers, string slices) round
// trip through this key while scalar copies stay filterable.
const metadataKey = "_meta"

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("cmssearch.vectorstore.chromem")

// errNoEmbeddingFunc is returned if chromem is ever asked to embed text.
// Records always arrive with vectors.
var errNoEmbeddingFunc = errors.New("chromem index stores precomputed vectors only")

// ChromemConfig holds configuration for chromem-go embedded vector database.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps the index in
	// memory only.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// IndexName is the chromem collection name.
	// Default: "cms_content"
	IndexName string

	// Dimension is the expected embedding dimension.
	// Must match the embedder's output dimension.
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.IndexName == "" {
		c.IndexName = "cms_content"
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return ValidateIndexName(c.IndexName)
}

// ChromemIndex implements Index using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies. Search is exhaustive cosine similarity, which is fast enough
// for CMS-sized corpora (thousands of entries).
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger
}

// NewChromemIndex opens or creates a chromem index.
func NewChromemIndex(config ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	db, err := openChromemDB(&config)
	if err != nil {
		return nil, err
	}

	// A non-nil embedding func is required; chromem falls back to OpenAI on nil.
	collection, err := db.GetOrCreateCollection(config.IndexName, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", config.IndexName, err)
	}

	logger.Info("chromem index initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
		zap.Int("dimension", config.Dimension),
		zap.String("index", config.IndexName),
		zap.Int("records", collection.Count()),
	)

	return &ChromemIndex{
		db:         db,
		collection: collection,
		config:     config,
		logger:     logger,
	}, nil
}

// openChromemDB returns an in-memory DB for an empty path, otherwise a
// persistent one. config.Path is replaced with the expanded path.
func openChromemDB(config *ChromemConfig) (*chromem.DB, error) {
	if config.Path == "" {
		return chromem.NewDB(), nil
	}
	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}
	config.Path = path
	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}
	return db, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// expandPath expands ~ to home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Upsert inserts or replaces records.
func (s *ChromemIndex) Upsert(ctx context.Context, records []Record) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()
	defer func(start time.Time) { observe(backendChromem, "upsert", start, err) }(time.Now())

	span.SetAttributes(attribute.Int("record_count", len(records)))

	if len(records) == 0 {
		return nil
	}
	if err = validateRecords(records, s.config.Dimension); err != nil {
		span.RecordError(err)
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		md, encErr := encodeChromemMetadata(r.Metadata)
		if encErr != nil {
			err = fmt.Errorf("record %q: %w", r.ID, encErr)
			return err
		}
		content, _ := r.Metadata["snippet"].(string)
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   content,
			Metadata:  md,
			Embedding: r.Vector,
		}
	}

	// Concurrency of 1 since embeddings are precomputed
	if err = s.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = fmt.Errorf("adding documents: %w", err)
		return err
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted records to chromem",
		zap.String("index", s.config.IndexName),
		zap.Int("count", len(records)),
	)
	return nil
}

// Delete removes records by ID. Missing IDs are ignored.
func (s *ChromemIndex) Delete(ctx context.Context, ids []string) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Delete")
	defer span.End()
	defer func(start time.Time) { observe(backendChromem, "delete", start, err) }(time.Now())

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	if err = s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = fmt.Errorf("deleting documents: %w", err)
		return err
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("deleted records from chromem",
		zap.String("index", s.config.IndexName),
		zap.Strings("ids", ids),
	)
	return nil
}

// Query returns the topK nearest records satisfying filter.
//
// chromem's where clause only supports equality, so filters with several
// values per field are applied after an exhaustive query.
func (s *ChromemIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) (matches []Match, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Query")
	defer span.End()
	defer func(start time.Time) { observe(backendChromem, "query", start, err) }(time.Now())

	span.SetAttributes(
		attribute.Int("top_k", topK),
		attribute.String("filter", filter.String()),
	)

	if topK <= 0 {
		err = fmt.Errorf("topK must be positive, got %d", topK)
		return nil, err
	}
	if len(vector) != s.config.Dimension {
		err = fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.config.Dimension)
		return nil, err
	}

	if s.db.GetCollection(s.config.IndexName, noEmbedding) == nil {
		err = ErrIndexNotFound
		span.SetStatus(codes.Error, "index not found")
		return nil, err
	}

	count := s.collection.Count()
	if count == 0 {
		return []Match{}, nil
	}

	where, exact := filter.exact()
	n := min(topK, count)
	if !exact {
		where = nil
		n = count
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = fmt.Errorf("querying index %s: %w", s.config.IndexName, err)
		return nil, err
	}

	matches = make([]Match, 0, min(topK, len(results)))
	for _, r := range results {
		md := decodeChromemMetadata(r.Metadata)
		if !exact && !filter.Matches(md) {
			continue
		}
		matches = append(matches, Match{ID: r.ID, Score: r.Similarity, Metadata: md})
		if len(matches) == topK {
			break
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Describe returns index statistics.
func (s *ChromemIndex) Describe(ctx context.Context) (stats Stats, err error) {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.Describe")
	defer span.End()
	defer func(start time.Time) { observe(backendChromem, "describe", start, err) }(time.Now())

	stats = Stats{
		Name:      s.config.IndexName,
		Count:     s.collection.Count(),
		Dimension: s.config.Dimension,
		Backend:   backendChromem,
	}
	RecordsTotal.WithLabelValues(backendChromem, stats.Name).Set(float64(stats.Count))
	span.SetAttributes(attribute.Int("record_count", stats.Count))
	return stats, nil
}

// Close is a no-op; chromem-go persists every write immediately.
func (s *ChromemIndex) Close() error {
	s.logger.Info("chromem index closed")
	return nil
}

// encodeChromemMetadata flattens scalar values to strings for where clauses
// and stores the full typed map under metadataKey.
func encodeChromemMetadata(metadata map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	out[metadataKey] = string(raw)
	return out, nil
}

func decodeChromemMetadata(stored map[string]string) map[string]any {
	if raw, ok := stored[metadataKey]; ok {
		var md map[string]any
		if err := json.Unmarshal([]byte(raw), &md); err == nil {
			return md
		}
	}
	md := make(map[string]any, len(stored))
	for k, v := range stored {
		if k != metadataKey {
			md[k] = v
		}
	}
	return md
}

// Ensure ChromemIndex implements Index.
var _ Index = (*ChromemIndex)(nil)
