package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/cmssearch/internal/cms"
	"github.com/fyrsmithlabs/cmssearch/internal/config"
	"github.com/fyrsmithlabs/cmssearch/internal/content"
	"github.com/fyrsmithlabs/cmssearch/internal/indexer"
	"github.com/fyrsmithlabs/cmssearch/internal/logging"
	"github.com/fyrsmithlabs/cmssearch/internal/search"
	"github.com/fyrsmithlabs/cmssearch/internal/vectorstore"
	"github.com/fyrsmithlabs/cmssearch/internal/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const (
	testDim      = 16
	testUser     = "contentstack_webhook"
	testPassword = "s3cret-webhook-pass"
)

// wordEmbedder hashes words into buckets so texts sharing words are close.
type wordEmbedder struct {
	err error
}

func (e wordEmbedder) vector(text string) []float32 {
	v := make([]float32, testDim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,!?")))
		v[h.Sum32()%testDim]++
	}
	v[0] += 0.01
	return v
}

func (e wordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

// fakeSource serves entries keyed by content type and uid.
type fakeSource struct {
	entries map[string]map[string]content.Entry
	err     error
}

func (f *fakeSource) uids(contentType string) []string {
	var uids []string
	for uid := range f.entries[contentType] {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

func (f *fakeSource) FetchEntry(_ context.Context, contentType, uid, _ string) (content.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.entries[contentType][uid]
	if !ok {
		return nil, &cms.Error{StatusCode: http.StatusNotFound, Message: "entry not found", Op: "fetch entry"}
	}
	return e, nil
}

func (f *fakeSource) QueryEntries(_ context.Context, contentType string, opts cms.QueryOptions) (*cms.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	page := &cms.Page{}
	for _, uid := range f.uids(contentType) {
		if opts.Limit > 0 && len(page.Entries) >= opts.Limit {
			break
		}
		page.Entries = append(page.Entries, f.entries[contentType][uid])
	}
	return page, nil
}

func (f *fakeSource) ContentTypes(context.Context) ([]cms.ContentType, error) {
	var out []cms.ContentType
	for ct := range f.entries {
		out = append(out, cms.ContentType{UID: ct})
	}
	return out, nil
}

func (f *fakeSource) EachEntry(ctx context.Context, contentType, _ string, _, limit int, fn func(content.Entry) error) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for _, uid := range f.uids(contentType) {
		if limit > 0 && n >= limit {
			break
		}
		if err := fn(f.entries[contentType][uid]); err != nil {
			return n, err
		}
		n++
	}
	return n, ctx.Err()
}

type fakeAnalyzer struct {
	caption string
}

func (a fakeAnalyzer) Enabled() bool { return true }

func (a fakeAnalyzer) Analyze(_ context.Context, url string, _ vision.Context) vision.Result {
	return vision.Result{SourceImageURL: url, Caption: a.caption, OK: a.caption != ""}
}

type fakeSearcher struct {
	err error
}

func (f fakeSearcher) Search(context.Context, search.Request) (*search.Response, error) {
	return nil, f.err
}

type testEnv struct {
	server *Server
	index  *vectorstore.ChromemIndex
	source *fakeSource
	logger *logging.TestLogger
}

type envOption func(*config.Config, *Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{Dimension: testDim}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	emb := wordEmbedder{}
	logger := logging.NewTestLogger()
	source := &fakeSource{entries: map[string]map[string]content.Entry{}}

	cfg := config.Default()
	cfg.Webhook.Password = config.Secret(testPassword)
	cfg.Sync.RatePerSecond = 0

	deps := Deps{
		Searcher: search.NewProcessor(emb, idx),
		Indexer:  indexer.New(emb, idx, nil),
		Source:   source,
		Index:    idx,
		Logger:   logger.Logger,
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	server, err := NewServer(cfg, deps)
	require.NoError(t, err)
	return &testEnv{server: server, index: idx, source: source, logger: logger}
}

func (e *testEnv) do(t *testing.T, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.SetBasicAuth(testUser, testPassword)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) count(t *testing.T) int {
	t.Helper()
	stats, err := e.index.Describe(context.Background())
	require.NoError(t, err)
	return stats.Count
}

func assertErrorBody(t *testing.T, rec *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[ErrorResponse](t, rec)
	assert.Contains(t, body.Error, msg)
	assert.NotEmpty(t, body.Details)
	assert.NotEmpty(t, body.Timestamp)
}

const publishBody = `{"module":"entry","event":"publish","data":{"entry":{"uid":"blt1","title":"Winter Boots","description":"Warm leather boots for snowy days.","content_type_uid":"product","locale":"en-us"}}}`

func TestNewServer(t *testing.T) {
	t.Run("requires collaborators", func(t *testing.T) {
		_, err := NewServer(nil, Deps{})
		assert.Error(t, err)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{Dimension: testDim}, nil)
		require.NoError(t, err)
		s, err := NewServer(nil, Deps{
			Searcher: search.NewProcessor(wordEmbedder{}, idx),
			Indexer:  indexer.New(wordEmbedder{}, idx, nil),
			Index:    idx,
		})
		require.NoError(t, err)
		assert.Equal(t, 5000, s.cfg.Server.Port)
	})

	t.Run("warns when webhook password is missing", func(t *testing.T) {
		env := newTestEnv(t, func(cfg *config.Config, _ *Deps) { cfg.Webhook.Password = "" })
		env.logger.AssertLogged(t, zapcore.WarnLevel, "webhook password not configured")
	})
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "OK", resp.Status)
	assert.Equal(t, "US", resp.Region)
	assert.False(t, resp.Features.ImageAnalysis)
	assert.True(t, resp.Features.SemanticSearch)
	assert.True(t, resp.Features.CMSSync)
	assert.NotEmpty(t, resp.Timestamp)
}

func TestHandleWebhookTest(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/webhook/test", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decode[WebhookInfoResponse](t, rec)
	assert.Equal(t, "Webhook endpoint is active", resp.Status)
	assert.Contains(t, resp.SupportedEvents, "entry.unpublish")
	assert.Contains(t, resp.AssetEventsHandled, "asset.delete")
}

func TestWebhook_Authentication(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/webhook/contentstack", publishBody, false)
	assertErrorBody(t, rec, http.StatusUnauthorized, "Unauthorized")

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/contentstack", strings.NewReader(publishBody))
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(testUser, "wrong")
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, env.count(t))

	env.logger.AssertNoSecrets(t)
	assert.NotContains(t, rec.Body.String(), "wrong")
}

func TestWebhook_NoPasswordRejectsEverything(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config, _ *Deps) { cfg.Webhook.Password = "" })

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/contentstack", strings.NewReader(publishBody))
	req.SetBasicAuth(testUser, "")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_PublishThenUnpublish(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/webhook/contentstack", publishBody, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ack := decode[WebhookAck](t, rec)
	assert.True(t, ack.Success)
	assert.Equal(t, "Webhook processed successfully", ack.Message)
	assert.Equal(t, "reindex", ack.Action)
	assert.Equal(t, "blt1", ack.EntryUID)
	assert.Equal(t, "product", ack.ContentType)
	assert.Equal(t, 1, env.count(t))

	unpublish := strings.Replace(publishBody, `"event":"publish"`, `"event":"entry.unpublish"`, 1)
	rec = env.do(t, http.MethodPost, "/api/webhook/contentstack", unpublish, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "remove", decode[WebhookAck](t, rec).Action)
	assert.Equal(t, 0, env.count(t))

	rec = env.do(t, http.MethodPost, "/api/webhook/contentstack", unpublish, true)
	assert.Equal(t, http.StatusOK, rec.Code, "removing twice is not an error")
}

func TestWebhook_NoOps(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/webhook/contentstack", `{"module":"asset","event":"publish","data":{"uid":"asset1"}}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	ack := decode[AssetAck](t, rec)
	assert.Equal(t, "Asset webhook received but not processed", ack.Message)
	assert.Equal(t, "asset1", ack.AssetUID)

	unknown := strings.Replace(publishBody, `"event":"publish"`, `"event":"entry.archive"`, 1)
	rec = env.do(t, http.MethodPost, "/api/webhook/contentstack", unknown, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignore", decode[WebhookAck](t, rec).Action)
	assert.Equal(t, 0, env.count(t))
}

func TestWebhook_BadPayload(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{
		`{"event":"publish"}`,
		`{"event":"publish","data":{"title":"no uid or content type"}}`,
		`not json`,
	} {
		rec := env.do(t, http.MethodPost, "/api/webhook/contentstack", body, true)
		assertErrorBody(t, rec, http.StatusBadRequest, "Unrecognized webhook payload")
	}
}

func TestWebhook_IndexingFailure(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, d *Deps) {
		idx := d.Index.(vectorstore.Index)
		d.Indexer = indexer.New(wordEmbedder{err: errors.New("provider down")}, idx, nil)
	})
	rec := env.do(t, http.MethodPost, "/api/webhook/contentstack", publishBody, true)
	assertErrorBody(t, rec, http.StatusInternalServerError, "Webhook processing failed")
}

func TestWebhook_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config, _ *Deps) {
		cfg.Webhook.RateLimit = 0.001
		cfg.Webhook.RateBurst = 2
	})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, env.do(t, http.MethodGet, "/api/debug/product", "", true).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestHandleSearch_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"empty query", search.ErrEmptyQuery, http.StatusBadRequest, "Query is required"},
		{"index not found", fmt.Errorf("%w: %w", search.ErrIndexQuery, vectorstore.ErrIndexNotFound), http.StatusNotFound, "index not found"},
		{"embedding", fmt.Errorf("%w: timeout", search.ErrEmbedding), http.StatusServiceUnavailable, "Failed to generate embeddings"},
		{"index", fmt.Errorf("%w: unavailable", search.ErrIndexQuery), http.StatusServiceUnavailable, "Failed to search vector index"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "Search failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(_ *config.Config, d *Deps) { d.Searcher = fakeSearcher{err: tt.err} })
			rec := env.do(t, http.MethodPost, "/search", `{"query":"boots"}`, false)
			assertErrorBody(t, rec, tt.status, tt.msg)
		})
	}
}

func TestHandleSearch_Validation(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{`{"query":"   "}`, `{}`, `{"query":42}`} {
		rec := env.do(t, http.MethodPost, "/search", body, false)
		assertErrorBody(t, rec, http.StatusBadRequest, "Query is required")
		assert.Equal(t, "Query is required and must be a non-empty string", decode[ErrorResponse](t, rec).Error)
	}
}

func TestHandleAnalyzeImage(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/analyze-image", `{"imageUrl":"https://x/y.jpg"}`, false)
		assertErrorBody(t, rec, http.StatusServiceUnavailable, "Image analysis not available")
	})

	withAnalyzer := func(caption string) envOption {
		return func(_ *config.Config, d *Deps) { d.Analyzer = fakeAnalyzer{caption: caption} }
	}

	t.Run("missing url", func(t *testing.T) {
		env := newTestEnv(t, withAnalyzer("x"))
		rec := env.do(t, http.MethodPost, "/analyze-image", `{"query":"red"}`, false)
		assertErrorBody(t, rec, http.StatusBadRequest, "Image URL is required")
	})

	t.Run("caption", func(t *testing.T) {
		env := newTestEnv(t, withAnalyzer("A red shoe."))
		rec := env.do(t, http.MethodPost, "/analyze-image", `{"imageUrl":"https://x/y.jpg","query":"red"}`, false)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[AnalyzeImageResponse](t, rec)
		assert.Equal(t, "A red shoe.", resp.Analysis)
		require.NotNil(t, resp.Query)
		assert.Equal(t, "red", *resp.Query)
	})

	t.Run("analysis failed", func(t *testing.T) {
		env := newTestEnv(t, withAnalyzer(""))
		rec := env.do(t, http.MethodPost, "/analyze-image", `{"imageUrl":"https://x/y.jpg"}`, false)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[AnalyzeImageResponse](t, rec)
		assert.Equal(t, "Unable to analyze image", resp.Analysis)
		assert.Nil(t, resp.Query)
	})
}

func TestHandleReindex(t *testing.T) {
	env := newTestEnv(t)
	env.source.entries["article"] = map[string]content.Entry{
		"a1": {"uid": "a1", "title": "Release notes", "body": "Everything that changed in this release."},
	}

	rec := env.do(t, http.MethodPost, "/api/reindex/article/missing", "", true)
	assertErrorBody(t, rec, http.StatusNotFound, "Entry not found")

	rec = env.do(t, http.MethodPost, "/api/reindex/article/a1", `{"locale":"fr-fr"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ReindexResponse](t, rec)
	assert.Equal(t, "Entry reindexed successfully", resp.Message)
	assert.Equal(t, content.Article, resp.MappedType)
	assert.Equal(t, "fr-fr", resp.Locale)
	assert.Equal(t, "Release notes", resp.Title)
	assert.Equal(t, 1, env.count(t))

	env.source.err = fmt.Errorf("fetch: %w", cms.ErrUnavailable)
	rec = env.do(t, http.MethodPost, "/api/reindex/article/a1", "", true)
	assertErrorBody(t, rec, http.StatusServiceUnavailable, "CMS unavailable")
}

func TestHandleReindex_CMSNotConfigured(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, d *Deps) { d.Source = nil })
	for _, path := range []string{"/api/reindex/article/a1", "/api/reindex-content-type/article"} {
		rec := env.do(t, http.MethodPost, path, "", true)
		assertErrorBody(t, rec, http.StatusServiceUnavailable, "CMS access not configured")
	}
}

func TestHandleReindexContentType(t *testing.T) {
	env := newTestEnv(t)
	env.source.entries["product"] = map[string]content.Entry{
		"p1": {"uid": "p1", "title": "Trail Runner", "description": "Light shoes for trails."},
		"p2": {"uid": "p2", "title": "Hi"},
		"p3": {"uid": "p3", "title": "Road Runner", "description": "Cushioned shoes for roads."},
	}

	rec := env.do(t, http.MethodPost, "/api/reindex-content-type/empty", `{}`, true)
	assertErrorBody(t, rec, http.StatusNotFound, "No entries found")

	rec = env.do(t, http.MethodPost, "/api/reindex-content-type/product", `{"limit":10}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[BulkReindexResponse](t, rec)
	assert.Equal(t, "Bulk reindex completed", resp.Message)
	assert.Equal(t, 3, resp.TotalEntries)
	assert.Equal(t, 2, resp.SuccessCount)
	assert.Equal(t, 1, resp.SkippedCount)
	assert.Equal(t, 0, resp.ErrorCount)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, 2, env.count(t))
}

func TestHandleIndexStats(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/index/stats", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[IndexStatsResponse](t, rec)
	assert.False(t, resp.HasData)
	assert.Equal(t, testDim, resp.IndexStats.Dimension)

	env.do(t, http.MethodPost, "/api/webhook/contentstack", publishBody, true)
	resp = decode[IndexStatsResponse](t, env.do(t, http.MethodGet, "/api/index/stats", "", false))
	assert.True(t, resp.HasData)
	assert.Equal(t, 1, resp.IndexStats.Count)
}

func TestHandleDebug(t *testing.T) {
	env := newTestEnv(t)
	env.source.entries["product"] = map[string]content.Entry{
		"p1": {
			"uid":          "p1",
			"title":        "Red Running Shoes",
			"_version":     3,
			"image":        "https://images.contentstack.io/v3/assets/shoe.jpg",
			"manual":       map[string]any{"url": "https://assets.example.com/manual.pdf"},
			"product_type": "shoe",
		},
	}

	rec := env.do(t, http.MethodGet, "/api/debug/product/p1", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[DebugEntryResponse](t, rec)
	assert.Equal(t, content.Product, resp.Analysis.MappedType)
	assert.Equal(t, []string{"https://images.contentstack.io/v3/assets/shoe.jpg"}, resp.Analysis.ExtractedImages)
	assert.NotContains(t, resp.Analysis.AllFields, "_version")
	assert.Contains(t, resp.Analysis.AllFields, "product_type")
	require.NotEmpty(t, resp.Analysis.ImageFieldAnalysis)
	assert.True(t, resp.Analysis.ImageFieldAnalysis[0].Accepted)

	rec = env.do(t, http.MethodGet, "/api/debug/product", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[DebugContentTypeResponse](t, rec)
	assert.Equal(t, 1, list.TotalEntries)

	rec = env.do(t, http.MethodGet, "/api/debug/product/p1", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/nope", "", false)
	assertErrorBody(t, rec, http.StatusNotFound, "Not Found")
}

// A product with an image is published, then found by a visual query.
func TestEndToEnd_VisualProductSearch(t *testing.T) {
	env := newTestEnv(t)
	env.source.entries["product"] = map[string]content.Entry{
		"p1": {
			"uid":              "p1",
			"title":            "Red Running Shoes",
			"image":            "https://cdn.example.com/assets/shoe.jpg",
			"content_type_uid": "product",
		},
	}

	rec := env.do(t, http.MethodPost, "/api/reindex/product/p1", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, content.Product, decode[ReindexResponse](t, rec).MappedType)

	rec = env.do(t, http.MethodPost, "/search", `{"query":"red shoes"}`, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[search.Response](t, rec)

	require.NotEmpty(t, resp.Results)
	top := resp.Results[0]
	assert.Equal(t, "p1_en-us", top.ID)
	assert.Equal(t, "product", top.Type)
	assert.True(t, top.HasImages)
	assert.Equal(t, "https://cdn.example.com/assets/shoe.jpg", top.PrimaryImage)
	assert.True(t, resp.SearchContext.IsVisual)
	assert.GreaterOrEqual(t, resp.SearchContext.MultimodalResultsCount, 1)
	assert.Equal(t, "all", resp.Filters.ContentTypes)
}
