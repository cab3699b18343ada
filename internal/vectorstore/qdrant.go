package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const backendQdrant = "qdrant"

// keyField is the payload field holding the record key. Qdrant point IDs
// must be UUIDs or integers, so keys are mapped to name-based UUIDs.
const keyField = "_key"

// pointNamespace seeds the name-based point IDs.
var pointNamespace = uuid.MustParse("5b0f3c2e-8d1a-4f6b-9a57-0c2e7d4b1f90")

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("cmssearch.vectorstore.qdrant")

// QdrantConfig holds configuration for Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT HTTP REST port).
	// Default: 6334 (gRPC), not 6333 (HTTP)
	Port int

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string

	// UseTLS enables TLS encryption for gRPC connection.
	UseTLS bool

	// IndexName is the collection holding CMS records.
	// Default: "cms_content"
	IndexName string

	// Dimension is the dimensionality of embeddings.
	// MUST match the embedding provider output.
	Dimension int

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry (exponential backoff).
	// Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// RequestTimeout bounds each attempt of a request, so a hung server
	// cannot stall a webhook or bulk job.
	// Default: 10 seconds
	RequestTimeout time.Duration
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return ValidateIndexName(c.IndexName)
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.IndexName == "" {
		c.IndexName = "cms_content"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024 // 50MB
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for network timeouts, temporary unavailability.
// Returns false for invalid arguments, not found, permission denied.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// qdrantAPI is the subset of *qdrant.Client used by QdrantIndex.
type qdrantAPI interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// QdrantIndex implements Index on a Qdrant collection over gRPC.
//
// Record keys are stored in the "_key" payload field; the point ID is a
// UUIDv5 of the key so upserts of the same key replace the same point.
type QdrantIndex struct {
	client qdrantAPI
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantIndex connects to Qdrant and ensures the collection exists.
//
// Returns an error if the configuration is invalid, the server is
// unreachable or the collection cannot be created.
func NewQdrantIndex(config QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	idx, err := newQdrantIndex(client, config, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

func newQdrantIndex(client qdrantAPI, config QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	idx := &QdrantIndex{client: client, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := idx.healthCheck(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}

	logger.Info("qdrant index initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("index", config.IndexName),
		zap.Int("dimension", config.Dimension),
	)
	return idx, nil
}

// healthCheck performs a health check on the Qdrant connection.
func (s *QdrantIndex) healthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.HealthCheck")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("health check failed: %w", err)
	}

	span.SetStatus(codes.Ok, "healthy")
	return nil
}

func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.EnsureCollection")
	defer span.End()

	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func(ctx context.Context) error {
		ok, err := s.client.CollectionExists(ctx, s.config.IndexName)
		exists = ok
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("checking collection %s: %w", s.config.IndexName, err)
	}
	if exists {
		return nil
	}

	err = s.retryOperation(ctx, "create_collection", func(ctx context.Context) error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.IndexName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.config.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", s.config.IndexName, err)
	}
	s.logger.Info("created qdrant collection", zap.String("index", s.config.IndexName))
	return nil
}

// retryOperation retries an operation with exponential backoff. Each
// attempt runs under its own RequestTimeout.
func (s *QdrantIndex) retryOperation(ctx context.Context, operationName string, operation func(context.Context) error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := s.attempt(ctx, operation)
		if err == nil {
			return nil
		}

		if !IsTransientError(err) {
			return err
		}

		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		s.logger.Debug("retrying qdrant operation",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantIndex) attempt(ctx context.Context, operation func(context.Context) error) error {
	if s.config.RequestTimeout <= 0 {
		return operation(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()
	return operation(ctx)
}

// PointID returns the Qdrant point ID for a record key.
func PointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

// Upsert inserts or replaces records in one request.
func (s *QdrantIndex) Upsert(ctx context.Context, records []Record) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()
	defer func(start time.Time) { observe(backendQdrant, "upsert", start, err) }(time.Now())

	span.SetAttributes(
		attribute.Int("record_count", len(records)),
		attribute.String("index", s.config.IndexName),
	)

	if len(records) == 0 {
		return nil
	}
	if err = validateRecords(records, s.config.Dimension); err != nil {
		span.RecordError(err)
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload, convErr := toPayload(r.ID, r.Metadata)
		if convErr != nil {
			err = fmt.Errorf("record %q: %w", r.ID, convErr)
			return err
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(r.ID)),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		}
	}

	err = s.retryOperation(ctx, "upsert", func(ctx context.Context) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.IndexName,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = s.wrap("upserting points", err)
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Delete removes records by key. Missing keys are ignored.
func (s *QdrantIndex) Delete(ctx context.Context, ids []string) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Delete")
	defer span.End()
	defer func(start time.Time) { observe(backendQdrant, "delete", start, err) }(time.Now())

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(PointID(id))
	}

	err = s.retryOperation(ctx, "delete", func(ctx context.Context) error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.IndexName,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelector(pointIDs...),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = s.wrap("deleting points", err)
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns the topK nearest records satisfying filter.
func (s *QdrantIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) (matches []Match, err error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Query")
	defer span.End()
	defer func(start time.Time) { observe(backendQdrant, "query", start, err) }(time.Now())

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

	var results []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "query", func(ctx context.Context) error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.IndexName,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         toQdrantFilter(filter),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = s.wrap("querying points", err)
		return nil, err
	}

	matches = make([]Match, 0, len(results))
	for _, point := range results {
		md := fromPayload(point.GetPayload())
		id, _ := md[keyField].(string)
		delete(md, keyField)
		matches = append(matches, Match{ID: id, Score: point.GetScore(), Metadata: md})
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Describe returns collection statistics.
func (s *QdrantIndex) Describe(ctx context.Context) (stats Stats, err error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Describe")
	defer span.End()
	defer func(start time.Time) { observe(backendQdrant, "describe", start, err) }(time.Now())

	var info *qdrant.CollectionInfo
	err = s.retryOperation(ctx, "get_collection_info", func(ctx context.Context) error {
		res, err := s.client.GetCollectionInfo(ctx, s.config.IndexName)
		if err != nil {
			return err
		}
		info = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = s.wrap("getting collection info", err)
		return Stats{}, err
	}

	stats = Stats{
		Name:      s.config.IndexName,
		Count:     int(info.GetPointsCount()),
		Dimension: s.config.Dimension,
		Backend:   backendQdrant,
	}
	RecordsTotal.WithLabelValues(backendQdrant, stats.Name).Set(float64(stats.Count))
	span.SetAttributes(attribute.Int("point_count", stats.Count))
	span.SetStatus(codes.Ok, "success")
	return stats, nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantIndex) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *QdrantIndex) wrap(op string, err error) error {
	if isNotFound(err) || errors.Is(err, ErrIndexNotFound) {
		return fmt.Errorf("%s in %s: %w", op, s.config.IndexName, ErrIndexNotFound)
	}
	return fmt.Errorf("%s in %s: %w", op, s.config.IndexName, err)
}

func toQdrantFilter(f Filter) *qdrant.Filter {
	if f.Empty() {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		must = append(must, qdrant.NewMatchKeywords(c.Field, c.Values...))
	}
	return &qdrant.Filter{Must: must}
}

// toPayload converts metadata to Qdrant values. String slices become lists.
func toPayload(key string, metadata map[string]any) (map[string]*qdrant.Value, error) {
	in := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		if ss, ok := v.([]string); ok {
			list := make([]any, len(ss))
			for i, s := range ss {
				list[i] = s
			}
			v = list
		}
		in[k] = v
	}
	in[keyField] = key
	return qdrant.TryValueMap(in)
}

func fromPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if val, ok := fromValue(v); ok {
			out[k] = val
		}
	}
	return out
}

func fromValue(v *qdrant.Value) (any, bool) {
	switch val := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue, true
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue, true
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue, true
	case *qdrant.Value_BoolValue:
		return val.BoolValue, true
	case *qdrant.Value_ListValue:
		items := val.ListValue.GetValues()
		strs := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.GetKind().(*qdrant.Value_StringValue); ok {
				strs = append(strs, s.StringValue)
			}
		}
		return strs, true
	default:
		return nil, false
	}
}

// Ensure QdrantIndex implements Index.
var _ Index = (*QdrantIndex)(nil)
