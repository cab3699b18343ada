package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/cmssearch/internal/content"
	"github.com/fyrsmithlabs/cmssearch/internal/logging"
	"github.com/fyrsmithlabs/cmssearch/internal/telemetry"
	"github.com/fyrsmithlabs/cmssearch/internal/vectorstore"
	"github.com/fyrsmithlabs/cmssearch/internal/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const dim = 8

// countingEmbedder returns a deterministic vector per text and counts calls.
type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	texts []string
	err   error
}

func (e *countingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.texts = append(e.texts, texts...)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dim)
		for j, r := range t {
			v[j%dim] += float32(r%17) + 1
		}
		out[i] = v
	}
	return out, nil
}

type fakeAnalyzer struct {
	enabled bool
	caption string
	urls    []string
}

func (a *fakeAnalyzer) Enabled() bool { return a.enabled }

func (a *fakeAnalyzer) Analyze(_ context.Context, url string, _ vision.Context) vision.Result {
	a.urls = append(a.urls, url)
	if a.caption == "" {
		return vision.Result{SourceImageURL: url}
	}
	return vision.Result{SourceImageURL: url, Caption: a.caption, OK: true}
}

// failingIndex wraps an Index and fails writes.
type failingIndex struct {
	vectorstore.Index
	err error
}

func (f failingIndex) Upsert(context.Context, []vectorstore.Record) error { return f.err }
func (f failingIndex) Delete(context.Context, []string) error             { return f.err }

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newIndex(t *testing.T) *vectorstore.ChromemIndex {
	t.Helper()
	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{Dimension: dim}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func newService(t *testing.T, emb Embedder, idx vectorstore.Index, an Analyzer, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(emb, idx, an, opts...)
}

func productEntry() content.Entry {
	return content.Entry{
		"uid":         "blt1",
		"title":       "Trail Runner",
		"description": "A lightweight <b>running</b> shoe for rough terrain.",
		"tags":        []any{"shoes", map[string]any{"name": "outdoor"}},
		"price":       89.5,
		"updated_at":  "2025-01-02T03:04:05Z",
		"image":       map[string]any{"url": "http://images.contentstack.io/v3/assets/shoe.png"},
	}
}

// lookup returns the stored metadata for key by querying with the vector
// the embedder produced for it.
func lookup(t *testing.T, idx vectorstore.Index, emb *countingEmbedder, key string) map[string]any {
	t.Helper()
	vecs, err := emb.EmbedDocuments(context.Background(), []string{emb.texts[0]})
	require.NoError(t, err)
	matches, err := idx.Query(context.Background(), vecs[0], 10, vectorstore.Filter{})
	require.NoError(t, err)
	for _, m := range matches {
		if m.ID == key {
			return m.Metadata
		}
	}
	t.Fatalf("key %s not found", key)
	return nil
}

func TestReindex_ShortTextSkipsEmbedding(t *testing.T) {
	emb := &countingEmbedder{}
	idx := newIndex(t)
	logger := logging.NewTestLogger()
	svc := newService(t, emb, idx, nil, WithLogger(logger.Logger))

	out, err := svc.Reindex(context.Background(), content.Entry{"uid": "blt2", "title": "Hi"}, "article", "en-us")
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, 0, emb.calls)

	stats, err := idx.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
	logger.AssertLogged(t, zapcore.InfoLevel, "no content to index")
}

func TestReindex_MetadataWithImagesAndCaption(t *testing.T) {
	emb := &countingEmbedder{}
	idx := newIndex(t)
	an := &fakeAnalyzer{enabled: true, caption: "A grey trail shoe with orange laces."}
	svc := newService(t, emb, idx, an)

	out, err := svc.Reindex(context.Background(), productEntry(), "product_catalog", "en-us")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Key: "blt1_en-us", MappedType: content.Product, ImageCount: 1, ImageAnalyzed: true}, out)

	assert.Equal(t, []string{"https://images.contentstack.io/v3/assets/shoe.png"}, an.urls)
	require.Len(t, emb.texts, 1)
	assert.True(t, strings.HasSuffix(emb.texts[0], " Image description: A grey trail shoe with orange laces."))

	md := lookup(t, idx, emb, "blt1_en-us")
	assert.Equal(t, "blt1", md["id"])
	assert.Equal(t, "Trail Runner", md["title"])
	assert.Equal(t, "product", md["type"])
	assert.Equal(t, "product_catalog", md["content_type_uid"])
	assert.Equal(t, "en-us", md["locale"])
	assert.Equal(t, "2025-01-02T03:04:05Z", md["date"])
	assert.Equal(t, "#blt1", md["url"])
	assert.Equal(t, []any{"shoes", "outdoor"}, md["tags"])
	assert.Equal(t, "product_catalog", md["category"])
	assert.InDelta(t, 89.5, md["price"], 1e-9)
	assert.Equal(t, "https://images.contentstack.io/v3/assets/shoe.png", md["primary_image"])
	assert.Equal(t, true, md["has_images"])
	assert.Equal(t, true, md["image_analyzed"])
	assert.Equal(t, "A grey trail shoe with orange laces.", md["image_analysis"])
	assert.Equal(t, true, md["visual_match"])
	assert.Equal(t, true, md["multimodal_content"])
	assert.NotContains(t, md["snippet"], "<b>")
}

func TestReindex_NoOptionalKeys(t *testing.T) {
	emb := &countingEmbedder{}
	idx := newIndex(t)
	svc := newService(t, emb, idx, &fakeAnalyzer{enabled: true, caption: "unused"})

	entry := content.Entry{"uid": "blt3", "title": "Plain article", "body": "Nothing but words in this article body."}
	_, err := svc.Reindex(context.Background(), entry, "blog_post", "fr-fr")
	require.NoError(t, err)

	md := lookup(t, idx, emb, "blt3_fr-fr")
	for _, key := range []string{"primary_image", "all_images", "price", "duration", "author", "image_analysis", "image_analyzed"} {
		assert.NotContains(t, md, key)
	}
	assert.Equal(t, false, md["has_images"])
	assert.InDelta(t, 0, md["image_count"], 0)
	assert.Equal(t, []any{}, md["tags"])
	assert.Equal(t, fixedNow.Format(time.RFC3339), md["date"])
	assert.Equal(t, "article", md["type"])
	for k, v := range md {
		assert.NotNil(t, v, k)
	}
}

func TestReindex_AnalyzerDisabledOrFailing(t *testing.T) {
	for name, an := range map[string]*fakeAnalyzer{
		"disabled":   {enabled: false, caption: "never"},
		"no caption": {enabled: true},
	} {
		t.Run(name, func(t *testing.T) {
			emb := &countingEmbedder{}
			svc := newService(t, emb, newIndex(t), an)

			out, err := svc.Reindex(context.Background(), productEntry(), "product", "en-us")
			require.NoError(t, err)
			assert.False(t, out.ImageAnalyzed)
			assert.NotContains(t, emb.texts[0], "Image description")
		})
	}
}

func TestReindex_EmbeddingFailure(t *testing.T) {
	emb := &countingEmbedder{err: errors.New("provider down")}
	idx := newIndex(t)
	svc := newService(t, emb, idx, nil)

	_, err := svc.Reindex(context.Background(), productEntry(), "product", "en-us")
	assert.ErrorIs(t, err, ErrEmbedding)

	stats, err := idx.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
}

func TestReindex_IndexFailure(t *testing.T) {
	svc := newService(t, &countingEmbedder{}, failingIndex{err: errors.New("disk full")}, nil)

	_, err := svc.Reindex(context.Background(), productEntry(), "product", "en-us")
	assert.ErrorIs(t, err, ErrIndex)

	assert.ErrorIs(t, svc.Remove(context.Background(), "blt1", "en-us"), ErrIndex)
}

func TestReindex_FailuresKeepCause(t *testing.T) {
	emb := &countingEmbedder{err: fmt.Errorf("embedding request: %w", context.DeadlineExceeded)}
	svc := newService(t, emb, newIndex(t), nil)

	_, err := svc.Reindex(context.Background(), productEntry(), "product", "en-us")
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	svc = newService(t, &countingEmbedder{}, failingIndex{err: context.Canceled}, nil)
	_, err = svc.Reindex(context.Background(), productEntry(), "product", "en-us")
	assert.ErrorIs(t, err, ErrIndex)
	assert.ErrorIs(t, err, context.Canceled)

	err = svc.Remove(context.Background(), "blt1", "en-us")
	assert.ErrorIs(t, err, ErrIndex)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReindex_MissingUID(t *testing.T) {
	svc := newService(t, &countingEmbedder{}, newIndex(t), nil)
	_, err := svc.Reindex(context.Background(), content.Entry{"title": "No uid but long enough"}, "article", "en-us")
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestReindexRemove_RoundTrip(t *testing.T) {
	emb := &countingEmbedder{}
	idx := newIndex(t)
	tel := telemetry.NewTestTelemetry()
	m, err := NewMetrics(tel.Meter("test"))
	require.NoError(t, err)
	svc := newService(t, emb, idx, nil, WithMetrics(m))
	ctx := context.Background()

	_, err = svc.Reindex(ctx, productEntry(), "product", "en-us")
	require.NoError(t, err)
	_, err = svc.Reindex(ctx, productEntry(), "product", "en-us")
	require.NoError(t, err)

	stats, err := idx.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count, "reindex replaces the record under the same key")

	require.NoError(t, svc.Remove(ctx, "blt1", "en-us"))
	require.NoError(t, svc.Remove(ctx, "blt1", "en-us"), "removing a missing key is not an error")

	stats, err = idx.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
	assert.Equal(t, int64(4), tel.CounterValue(t, "cmssearch.indexer.operations_total"))
}
