package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fyrsmithlabs/cmssearch/internal/telemetry"
	"github.com/fyrsmithlabs/cmssearch/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		query      string
		visual     bool
		confidence float64
		keywords   []string
	}{
		{"quarterly earnings report", false, 0, []string{}},
		{"", false, 0, []string{}},
		{"red sneakers", true, 2.0 / 3, []string{"red", "sneakers"}},
		{"RED Sneakers", true, 2.0 / 3, []string{"red", "sneakers"}},
		{"shoe", true, 1.0 / 3, []string{"shoe"}},
		{"red shoes", true, 2.0 / 3, []string{"red", "shoes"}},
		{"shoe and shoes", true, 2.0 / 3, []string{"shoe", "shoes"}},
		{"blue leather boots with logo", true, 1, []string{"blue", "logo", "leather", "boots"}},
		{"colored", true, 1.0 / 3, []string{"colored"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := Classify(tt.query)
			assert.Equal(t, tt.visual, got.IsVisual)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
			assert.Equal(t, tt.keywords, got.Keywords)
		})
	}
}

func TestClassify_ConfidenceBounds(t *testing.T) {
	for _, q := range []string{"", "red", "red blue", "red blue green", "red blue green yellow black"} {
		c := Classify(q)
		assert.GreaterOrEqual(t, c.Confidence, 0.0, q)
		assert.LessOrEqual(t, c.Confidence, 1.0, q)
		assert.Equal(t, len(c.Keywords) > 0, c.IsVisual, q)
	}
}

// staticIndex returns canned matches and records the last query.
type staticIndex struct {
	vectorstore.Index
	matches []vectorstore.Match
	err     error
	topK    int
	filter  vectorstore.Filter
	calls   int
}

func (s *staticIndex) Query(_ context.Context, _ []float32, topK int, f vectorstore.Filter) ([]vectorstore.Match, error) {
	s.calls++
	s.topK = topK
	s.filter = f
	return s.matches, s.err
}

type fakeEmbedder struct {
	calls int
	text  string
	err   error
	block bool
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	e.text = text
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0}, nil
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newProcessor(emb QueryEmbedder, idx vectorstore.Index, opts ...Option) *Processor {
	return NewProcessor(emb, idx, append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func TestSearch_EmptyQuery(t *testing.T) {
	for _, q := range []string{"", "   ", "\t\n"} {
		emb := &fakeEmbedder{}
		idx := &staticIndex{}
		_, err := newProcessor(emb, idx).Search(context.Background(), Request{Query: q})
		assert.ErrorIs(t, err, ErrEmptyQuery)
		assert.Zero(t, emb.calls)
		assert.Zero(t, idx.calls)
	}
}

func TestSearch_FiltersAndTopK(t *testing.T) {
	emb := &fakeEmbedder{}
	idx := &staticIndex{}
	resp, err := newProcessor(emb, idx).Search(context.Background(), Request{
		Query:        "  running shoes ",
		ContentTypes: []string{"product", "article"},
		Locales:      []string{"en-us"},
	})
	require.NoError(t, err)

	assert.Equal(t, "running shoes", emb.text)
	assert.Equal(t, DefaultTopK, idx.topK)
	assert.Equal(t, vectorstore.Filter{Conditions: []vectorstore.Condition{
		{Field: "type", Values: []string{"product", "article"}},
		{Field: "locale", Values: []string{"en-us"}},
	}}, idx.filter)
	assert.Equal(t, []string{"product", "article"}, resp.Filters.ContentTypes)
	assert.Equal(t, []string{"en-us"}, resp.Filters.Locales)
	assert.Empty(t, resp.Results)
	assert.Equal(t, "  running shoes ", resp.Query)
}

func TestSearch_NoFilters(t *testing.T) {
	idx := &staticIndex{}
	resp, err := newProcessor(&fakeEmbedder{}, idx, WithTopK(5)).Search(context.Background(), Request{Query: "news"})
	require.NoError(t, err)
	assert.True(t, idx.filter.Empty())
	assert.Equal(t, 5, idx.topK)
	assert.Equal(t, "all", resp.Filters.ContentTypes)
	assert.Equal(t, "all", resp.Filters.Locales)
	assert.Equal(t, fixedNow.UnixMilli(), resp.SearchTime)
}

func TestSearch_MappingDefaultsAndClamp(t *testing.T) {
	idx := &staticIndex{matches: []vectorstore.Match{
		{ID: "a_en-us", Score: -0.2, Metadata: map[string]any{}},
		{ID: "b_en-us", Score: 1.3, Metadata: map[string]any{
			"title":            "Boots",
			"type":             "product",
			"content_type_uid": "shoe_catalog",
			"snippet":          "Sturdy boots",
			"locale":           "de-de",
			"tags":             "winter, outdoor",
			"date":             "2025-01-01T00:00:00Z",
			"url":              "/boots",
			"price":            120.0,
		}},
		{ID: "c_en-us", Score: 0.5, Metadata: map[string]any{"description": "from description", "tags": []any{"x"}}},
	}}
	resp, err := newProcessor(&fakeEmbedder{}, idx).Search(context.Background(), Request{Query: "boots"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	top := resp.Results[0]
	assert.Equal(t, "b_en-us", top.ID)
	assert.Equal(t, 1.0, top.Similarity)
	assert.Equal(t, 1.0, top.Relevance)
	assert.Equal(t, "Boots", top.Title)
	assert.Equal(t, "product", top.Type)
	assert.Equal(t, "shoe_catalog", top.ContentTypeUID)
	assert.Equal(t, []string{"winter", "outdoor"}, top.Tags)
	assert.Equal(t, 120.0, top.Price)

	mid := resp.Results[1]
	assert.Equal(t, "c_en-us", mid.ID)
	assert.Equal(t, "from description", mid.Snippet)
	assert.Equal(t, "Result 3", mid.Title)
	assert.Equal(t, []string{"x"}, mid.Tags)

	last := resp.Results[2]
	assert.Equal(t, "a_en-us", last.ID)
	assert.Equal(t, 0.0, last.Similarity)
	assert.Equal(t, 0.0, last.Relevance)
	assert.Equal(t, "Result 1", last.Title)
	assert.Equal(t, "article", last.Type)
	assert.Equal(t, "article", last.ContentTypeUID)
	assert.Equal(t, "No description available", last.Snippet)
	assert.Equal(t, "en-us", last.Locale)
	assert.Equal(t, []string{}, last.Tags)
	assert.Equal(t, "2025-06-01", last.Date)
	assert.Nil(t, last.Price)
}

func TestSearch_StableOrderOnTies(t *testing.T) {
	var matches []vectorstore.Match
	for i := 0; i < 6; i++ {
		matches = append(matches, vectorstore.Match{ID: fmt.Sprintf("m%d", i), Score: 1.5})
	}
	resp, err := newProcessor(&fakeEmbedder{}, &staticIndex{matches: matches}).Search(context.Background(), Request{Query: "x"})
	require.NoError(t, err)
	for i, r := range resp.Results {
		assert.Equal(t, fmt.Sprintf("m%d", i), r.ID)
	}
}

func TestSearch_Errors(t *testing.T) {
	t.Run("embedding", func(t *testing.T) {
		idx := &staticIndex{}
		_, err := newProcessor(&fakeEmbedder{err: errors.New("401")}, idx).Search(context.Background(), Request{Query: "q"})
		assert.ErrorIs(t, err, ErrEmbedding)
		assert.NotErrorIs(t, err, ErrIndexQuery)
		assert.Zero(t, idx.calls)
	})
	t.Run("index", func(t *testing.T) {
		_, err := newProcessor(&fakeEmbedder{}, &staticIndex{err: errors.New("unavailable")}).Search(context.Background(), Request{Query: "q"})
		assert.ErrorIs(t, err, ErrIndexQuery)
		assert.NotErrorIs(t, err, vectorstore.ErrIndexNotFound)
	})
	t.Run("index not found", func(t *testing.T) {
		_, err := newProcessor(&fakeEmbedder{}, &staticIndex{err: vectorstore.ErrIndexNotFound}).Search(context.Background(), Request{Query: "q"})
		assert.ErrorIs(t, err, ErrIndexQuery)
		assert.ErrorIs(t, err, vectorstore.ErrIndexNotFound)
	})
	t.Run("timeout", func(t *testing.T) {
		_, err := newProcessor(&fakeEmbedder{block: true}, &staticIndex{}, WithTimeout(10*time.Millisecond)).Search(context.Background(), Request{Query: "q"})
		assert.ErrorIs(t, err, ErrEmbedding)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSearch_Metrics(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	m, err := NewMetrics(tel.Meter("test"))
	require.NoError(t, err)
	p := newProcessor(&fakeEmbedder{}, &staticIndex{}, WithMetrics(m))

	_, err = p.Search(context.Background(), Request{Query: "red"})
	require.NoError(t, err)
	_, err = p.Search(context.Background(), Request{Query: " "})
	require.Error(t, err)

	assert.Equal(t, int64(2), tel.CounterValue(t, "cmssearch.search.queries_total"))
}

func TestAnnotate(t *testing.T) {
	results := []Result{
		{ID: "primary-only", metadata: map[string]any{"primary_image": "https://a/1.jpg", "visual_match": true}},
		{ID: "both", metadata: map[string]any{
			"primary_image":  "https://b/1.jpg",
			"all_images":     []any{"https://b/1.jpg", "https://b/2.jpg"},
			"image_analysis": "two shoes",
		}},
		{ID: "array-only", metadata: map[string]any{"all_images": []string{"https://c/1.jpg", "https://c/2.jpg", "https://c/3.jpg"}}},
		{ID: "none", metadata: map[string]any{"title": "text only"}},
	}
	ctx := Annotate(results, Classification{IsVisual: true, Confidence: 1.0 / 3, Keywords: []string{"red"}})

	assert.True(t, results[0].HasImages)
	assert.Equal(t, "https://a/1.jpg", results[0].PrimaryImage)
	assert.Equal(t, 1, results[0].ImageCount)
	assert.True(t, results[0].VisualQueryMatch)

	assert.True(t, results[1].HasImages)
	assert.Equal(t, 2, results[1].ImageCount)
	assert.True(t, results[1].ImageAnalyzed)

	assert.True(t, results[2].HasImages)
	assert.Equal(t, "https://c/1.jpg", results[2].PrimaryImage)
	assert.Equal(t, 3, results[2].ImageCount)

	assert.False(t, results[3].HasImages)
	assert.Zero(t, results[3].ImageCount)

	assert.Equal(t, 3, ctx.MultimodalResultsCount)
	assert.Equal(t, 1+2+3, ctx.TotalImagesFound)
	assert.Equal(t, 1, ctx.AnalyzedImageCount)
	assert.True(t, ctx.HasMultimodalResults)
	assert.True(t, ctx.IsVisual)
	assert.Equal(t, []string{"red"}, ctx.Keywords)
}

func TestAnnotate_IndexedEntryCountsOnce(t *testing.T) {
	results := []Result{{ID: "p1_en-us", metadata: map[string]any{
		"primary_image": "https://cdn.example.com/assets/shoe.jpg",
		"all_images":    []any{"https://cdn.example.com/assets/shoe.jpg"},
		"has_images":    true,
	}}}
	ctx := Annotate(results, Classify("red shoes"))

	assert.Equal(t, 1, results[0].ImageCount)
	assert.Equal(t, 1, ctx.TotalImagesFound)
	assert.Equal(t, 1, ctx.MultimodalResultsCount)
}

func TestAnnotate_Empty(t *testing.T) {
	ctx := Annotate(nil, Classify("report"))
	assert.False(t, ctx.HasMultimodalResults)
	assert.Zero(t, ctx.TotalImagesFound)
}

func TestSearch_ChromemRoundTrip(t *testing.T) {
	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{Dimension: 3}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []vectorstore.Record{
		{ID: "p1_en-us", Vector: []float32{1, 0, 0}, Metadata: map[string]any{
			"title":         "Red Running Shoes",
			"type":          "product",
			"locale":        "en-us",
			"primary_image": "https://cdn.example.com/assets/shoe.jpg",
			"all_images":    []string{"https://cdn.example.com/assets/shoe.jpg"},
			"has_images":    true,
			"visual_match":  true,
		}},
		{ID: "a1_fr-fr", Vector: []float32{0.9, 0.1, 0}, Metadata: map[string]any{"title": "Article", "type": "article", "locale": "fr-fr"}},
	}))

	resp, err := newProcessor(&fakeEmbedder{}, idx).Search(ctx, Request{Query: "red shoes", ContentTypes: []string{"product"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "p1_en-us", resp.Results[0].ID)
	assert.True(t, resp.Results[0].HasImages)
	assert.True(t, resp.SearchContext.IsVisual)
	assert.GreaterOrEqual(t, resp.SearchContext.MultimodalResultsCount, 1)
}
