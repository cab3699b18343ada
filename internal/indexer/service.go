// Package indexer keeps the vector index in step with CMS entries.
//
// Reindex turns one entry into an indexed record: extract text and images,
// map the content type, optionally caption the primary image, embed, and
// upsert under "{uid}_{locale}". Remove deletes the record. Bulk helpers
// page through the CMS and reindex entries one by one, continuing past
// per-entry failures.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/cmssearch/internal/content"
	"github.com/fyrsmithlabs/cmssearch/internal/logging"
	"github.com/fyrsmithlabs/cmssearch/internal/vectorstore"
	"github.com/fyrsmithlabs/cmssearch/internal/vision"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// SnippetLength is the number of characters of text kept in metadata.
const SnippetLength = 300

var (
	// ErrEmbedding wraps embedding provider failures.
	ErrEmbedding = errors.New("embedding failed")

	// ErrIndex wraps vector index failures.
	ErrIndex = errors.New("index write failed")

	// ErrInvalidEntry is returned for entries without a uid.
	ErrInvalidEntry = errors.New("invalid entry")
)

var tracer = otel.Tracer("cmssearch.indexer")

// Embedder produces document-mode embeddings.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Analyzer captions images. *vision.Analyzer satisfies it.
type Analyzer interface {
	Enabled() bool
	Analyze(ctx context.Context, imageURL string, c vision.Context) vision.Result
}

// Outcome describes what Reindex did.
type Outcome struct {
	Key           string
	MappedType    content.Category
	Skipped       bool
	ImageCount    int
	ImageAnalyzed bool
}

// Service is the single writer of the vector index.
type Service struct {
	embedder Embedder
	index    vectorstore.Index
	analyzer Analyzer
	logger   *logging.Logger
	metrics  *Metrics
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now for date defaults.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service. A nil analyzer disables image captions.
func New(embedder Embedder, index vectorstore.Index, analyzer Analyzer, opts ...Option) *Service {
	if analyzer == nil {
		analyzer = vision.Disabled()
	}
	s := &Service{
		embedder: embedder,
		index:    index,
		analyzer: analyzer,
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("indexer")
	return s
}

// Reindex indexes one entry. Entries with too little text are skipped
// without calling the embedding provider; that is not an error.
func (s *Service) Reindex(ctx context.Context, entry content.Entry, contentTypeRaw, locale string) (out Outcome, err error) {
	doc := content.Extract(entry, contentTypeRaw, locale)
	out = Outcome{Key: doc.Key(), MappedType: doc.MappedType, ImageCount: len(doc.ImageURLs)}

	ctx = logging.WithEntry(ctx, logging.EntryRef{ContentType: contentTypeRaw, UID: doc.UID, Locale: locale})
	ctx, span := tracer.Start(ctx, "Indexer.Reindex")
	defer span.End()
	span.SetAttributes(
		attribute.String("entry.key", out.Key),
		attribute.String("entry.type", string(doc.MappedType)),
	)

	start := time.Now()
	defer func() {
		result := resultIndexed
		switch {
		case err != nil:
			result = resultFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case out.Skipped:
			result = resultSkipped
		}
		s.metrics.record(ctx, opReindex, result, time.Since(start))
	}()

	if doc.UID == "" {
		return out, fmt.Errorf("%w: missing uid", ErrInvalidEntry)
	}

	if !doc.Indexable() {
		s.logger.Info(ctx, "no content to index, skipping", zap.Int("text_length", len([]rune(doc.Text))))
		out.Skipped = true
		return out, nil
	}

	input := doc.Text
	var caption string
	if primary := doc.PrimaryImage(); primary != "" && s.analyzer.Enabled() {
		res := s.analyzer.Analyze(ctx, primary, vision.Context{Title: entry.Title()})
		if res.OK {
			caption = res.Caption
			input = doc.Text + " Image description: " + caption
			out.ImageAnalyzed = true
		}
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, []string{input})
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return out, fmt.Errorf("%w: provider returned %d vectors", ErrEmbedding, len(vectors))
	}

	record := vectorstore.Record{
		ID:       out.Key,
		Vector:   vectors[0],
		Metadata: s.buildMetadata(entry, doc, caption),
	}
	if err := s.index.Upsert(ctx, []vectorstore.Record{record}); err != nil {
		return out, fmt.Errorf("%w: %w", ErrIndex, err)
	}

	s.logger.Info(ctx, "entry indexed",
		zap.String("type", string(doc.MappedType)),
		zap.Int("images", len(doc.ImageURLs)),
		zap.Bool("image_analyzed", out.ImageAnalyzed),
	)
	return out, nil
}

// Remove deletes the record for uid and locale. Missing records are ignored.
func (s *Service) Remove(ctx context.Context, uid, locale string) (err error) {
	key := content.Key(uid, locale)
	ctx = logging.WithEntry(ctx, logging.EntryRef{UID: uid, Locale: locale})
	ctx, span := tracer.Start(ctx, "Indexer.Remove")
	defer span.End()
	span.SetAttributes(attribute.String("entry.key", key))

	start := time.Now()
	defer func() {
		result := resultRemoved
		if err != nil {
			result = resultFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.record(ctx, opRemove, result, time.Since(start))
	}()

	if uid == "" {
		return fmt.Errorf("%w: missing uid", ErrInvalidEntry)
	}
	if err := s.index.Delete(ctx, []string{key}); err != nil {
		return fmt.Errorf("%w: %w", ErrIndex, err)
	}
	s.logger.Info(ctx, "entry removed from index", zap.String("key", key))
	return nil
}

// buildMetadata assembles the record metadata. Optional fields are omitted
// rather than stored empty.
func (s *Service) buildMetadata(entry content.Entry, doc content.Document, caption string) map[string]any {
	now := s.now().UTC().Format(time.RFC3339)

	title := entry.Title()
	if title == "" {
		title = "Untitled"
	}
	updatedAt := firstNonEmpty(entry.String("updated_at"), now)
	url := firstNonEmpty(entry.String("url"), "#"+doc.UID)
	category := firstNonEmpty(entry.Label("category"), doc.ContentTypeRaw)
	tags := content.Tags(entry)
	if tags == nil {
		tags = []string{}
	}
	hasImages := len(doc.ImageURLs) > 0

	md := map[string]any{
		"id":                 doc.UID,
		"title":              title,
		"type":               string(doc.MappedType),
		"content_type_uid":   doc.ContentTypeRaw,
		"snippet":            content.Snippet(doc.Text, SnippetLength),
		"locale":             doc.Locale,
		"date":               firstNonEmpty(entry.String("updated_at"), entry.String("created_at"), now),
		"updated_at":         updatedAt,
		"url":                url,
		"tags":               tags,
		"category":           category,
		"image_count":        len(doc.ImageURLs),
		"has_images":         hasImages,
		"visual_match":       hasImages,
		"multimodal_content": hasImages,
	}

	if hasImages {
		md["primary_image"] = doc.PrimaryImage()
		md["all_images"] = append([]string(nil), doc.ImageURLs...)
	}
	if caption != "" {
		md["image_analysis"] = caption
		md["image_analyzed"] = true
	}
	if v, ok := optionalValue(entry.Field("price")); ok {
		md["price"] = v
	}
	if v, ok := optionalValue(entry.Field("duration")); ok {
		md["duration"] = v
	}
	if author := entry.Label("author"); author != "" {
		md["author"] = author
	}
	return md
}

// optionalValue keeps truthy numbers as numbers and renders other truthy
// scalars as text.
func optionalValue(v content.Value) (any, bool) {
	if !v.Truthy() {
		return nil, false
	}
	switch raw := v.Raw().(type) {
	case float64, int, int64:
		return raw, true
	}
	if s, ok := v.Scalar(); ok && s != "" {
		return s, true
	}
	return nil, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
