// Package search answers semantic queries against the vector index.
//
// A query is classified as visual or not, embedded in query mode, and
// matched against the index with optional type and locale filters. Matches
// are mapped to Results, sorted by relevance, and annotated with image
// statistics.
package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cmssearch/internal/logging"
	"github.com/fyrsmithlabs/cmssearch/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	// DefaultTopK is the number of neighbors requested from the index.
	DefaultTopK = 20

	// DefaultTimeout bounds a whole search, embedding included.
	DefaultTimeout = 45 * time.Second
)

var (
	// ErrEmptyQuery is returned for blank queries before any provider call.
	ErrEmptyQuery = errors.New("query is required and must be a non-empty string")

	// ErrEmbedding wraps query embedding failures.
	ErrEmbedding = errors.New("failed to generate query embedding")

	// ErrIndexQuery wraps vector index failures. Errors that are also
	// vectorstore.ErrIndexNotFound match both.
	ErrIndexQuery = errors.New("failed to query vector index")
)

var tracer = otel.Tracer("cmssearch.search")

// QueryEmbedder produces query-mode embeddings.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Request is a search request.
type Request struct {
	Query        string   `json:"query"`
	ContentTypes []string `json:"contentTypes"`
	Locales      []string `json:"locales"`
}

// Filters echoes the applied filters; each is a list or "all".
type Filters struct {
	ContentTypes any `json:"contentTypes"`
	Locales      any `json:"locales"`
}

// Response is a complete search answer.
type Response struct {
	Results       []Result `json:"results"`
	Query         string   `json:"query"`
	TotalResults  int      `json:"totalResults"`
	SearchTime    int64    `json:"searchTime"`
	SearchContext Context  `json:"searchContext"`
	Filters       Filters  `json:"filters"`
}

// Processor runs searches.
type Processor struct {
	embedder QueryEmbedder
	index    vectorstore.Index
	logger   *logging.Logger
	metrics  *Metrics
	topK     int
	timeout  time.Duration
	now      func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithTopK overrides DefaultTopK. Non-positive values are ignored.
func WithTopK(k int) Option {
	return func(p *Processor) {
		if k > 0 {
			p.topK = k
		}
	}
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a Processor.
func NewProcessor(embedder QueryEmbedder, index vectorstore.Index, opts ...Option) *Processor {
	p := &Processor{
		embedder: embedder,
		index:    index,
		logger:   logging.NewNop(),
		topK:     DefaultTopK,
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("search")
	return p
}

// Search runs one query.
func (p *Processor) Search(ctx context.Context, req Request) (resp *Response, err error) {
	query := strings.TrimSpace(req.Query)
	class := Classify(req.Query)

	ctx, span := tracer.Start(ctx, "Processor.Search")
	defer span.End()
	span.SetAttributes(
		attribute.Bool("query.visual", class.IsVisual),
		attribute.StringSlice("filter.content_types", req.ContentTypes),
		attribute.StringSlice("filter.locales", req.Locales),
	)

	start := p.now()
	outcome := outcomeOK
	defer func() {
		n := 0
		if resp != nil {
			n = resp.TotalResults
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		p.metrics.record(ctx, outcome, class.IsVisual, n, p.now().Sub(start))
	}()

	if query == "" {
		outcome = outcomeInvalid
		return nil, ErrEmptyQuery
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.logger.Debug(ctx, "processing query",
		zap.String("query", query),
		zap.Strings("content_types", req.ContentTypes),
		zap.Strings("locales", req.Locales),
		zap.Bool("visual", class.IsVisual),
		zap.Float64("visual_confidence", class.Confidence),
	)

	vector, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		outcome = outcomeEmbedding
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vector) == 0 {
		outcome = outcomeEmbedding
		return nil, fmt.Errorf("%w: empty vector", ErrEmbedding)
	}

	filter := vectorstore.Filter{}.In("type", req.ContentTypes...).In("locale", req.Locales...)
	matches, err := p.index.Query(ctx, vector, p.topK, filter)
	if err != nil {
		outcome = outcomeIndex
		return nil, fmt.Errorf("%w: %w", ErrIndexQuery, err)
	}

	now := p.now()
	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = toResult(i, m, now)
	}
	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.Relevance > b.Relevance:
			return -1
		case a.Relevance < b.Relevance:
			return 1
		default:
			return 0
		}
	})
	searchContext := Annotate(results, class)

	p.logger.Info(ctx, "search complete",
		zap.Int("results", len(results)),
		zap.Int("multimodal_results", searchContext.MultimodalResultsCount),
		zap.String("filter", filter.String()),
	)

	return &Response{
		Results:       results,
		Query:         req.Query,
		TotalResults:  len(results),
		SearchTime:    now.UnixMilli(),
		SearchContext: searchContext,
		Filters: Filters{
			ContentTypes: allOr(req.ContentTypes),
			Locales:      allOr(req.Locales),
		},
	}, nil
}

func allOr(values []string) any {
	if len(values) == 0 {
		return "all"
	}
	return values
}
