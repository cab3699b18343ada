package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/cmssearch/internal/cms"
	"github.com/fyrsmithlabs/cmssearch/internal/content"
	"github.com/fyrsmithlabs/cmssearch/internal/indexer"
	"github.com/fyrsmithlabs/cmssearch/internal/search"
	"github.com/fyrsmithlabs/cmssearch/internal/vectorstore"
	"github.com/fyrsmithlabs/cmssearch/internal/vision"
	"github.com/fyrsmithlabs/cmssearch/internal/webhook"
	"github.com/labstack/echo/v4"
)

const (
	defaultLocale    = "en-us"
	defaultBulkLimit = 100
	debugSampleSize  = 3
)

const msgQueryRequired = "Query is required and must be a non-empty string"

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "OK",
		Timestamp: s.timestamp(),
		Region:    s.cfg.CMS.Region,
		Features: HealthFeatures{
			SemanticSearch:     true,
			ImageAnalysis:      s.analyzer.Enabled(),
			MultimodalSearch:   true,
			WebhookIntegration: true,
			CMSSync:            s.source != nil,
		},
	})
}

func (s *Server) handleSearch(c echo.Context) error {
	var req search.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgQueryRequired).SetInternal(err)
	}

	resp, err := s.searcher.Search(c.Request().Context(), req)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, resp)
	case errors.Is(err, search.ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, msgQueryRequired).SetInternal(err)
	case errors.Is(err, vectorstore.ErrIndexNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Vector index not found. Please check the index name.").SetInternal(err)
	case errors.Is(err, search.ErrEmbedding):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Failed to generate embeddings. Please check the embedding provider.").SetInternal(err)
	case errors.Is(err, search.ErrIndexQuery):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Failed to search vector index. Please check the vector store configuration.").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Search failed").SetInternal(err)
	}
}

func (s *Server) handleAnalyzeImage(c echo.Context) error {
	if !s.analyzer.Enabled() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Image analysis not available. Vision API key not configured.")
	}
	var req AnalyzeImageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Image URL is required")
	}

	res := s.analyzer.Analyze(c.Request().Context(), req.ImageURL, vision.Context{Query: req.Query})
	analysis := res.Caption
	if !res.OK {
		analysis = "Unable to analyze image"
	}
	var query *string
	if req.Query != "" {
		query = &req.Query
	}
	return c.JSON(http.StatusOK, AnalyzeImageResponse{
		Analysis:  analysis,
		ImageURL:  req.ImageURL,
		Query:     query,
		Timestamp: s.timestamp(),
	})
}

func (s *Server) handleWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Unable to read request body").SetInternal(err)
	}

	res, err := s.dispatcher.Dispatch(c.Request().Context(), webhook.Parse(body))
	if err != nil {
		if errors.Is(err, webhook.ErrUnrecognized) {
			return echo.NewHTTPError(http.StatusBadRequest, "Unrecognized webhook payload structure").SetInternal(err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Webhook processing failed").SetInternal(err)
	}

	if res.AssetUID != "" || (res.EntryUID == "" && res.Action == webhook.ActionIgnore) {
		return c.JSON(http.StatusOK, AssetAck{
			Success:  true,
			Message:  "Asset webhook received but not processed",
			Event:    res.Event,
			AssetUID: res.AssetUID,
		})
	}
	return c.JSON(http.StatusOK, WebhookAck{
		Success:     true,
		Message:     "Webhook processed successfully",
		Event:       res.Event,
		Action:      string(res.Action),
		EntryUID:    res.EntryUID,
		ContentType: res.ContentType,
		Locale:      res.Locale,
		Skipped:     res.Skipped,
		Timestamp:   s.timestamp(),
	})
}

func (s *Server) handleWebhookTest(c echo.Context) error {
	return c.JSON(http.StatusOK, WebhookInfoResponse{
		Status:             "Webhook endpoint is active",
		Timestamp:          s.timestamp(),
		Authentication:     "Basic Auth required",
		SupportedEvents:    webhook.SupportedEvents,
		AssetEventsHandled: webhook.AssetEvents,
	})
}

func (s *Server) handleReindex(c echo.Context) error {
	if s.source == nil {
		return errCMSNotConfigured()
	}
	contentType := c.Param("contentType")
	uid := c.Param("entryUid")
	req, err := bindReindex(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	entry, err := s.source.FetchEntry(ctx, contentType, uid, req.Locale)
	if err != nil {
		return cmsError(err, "Entry not found")
	}

	out, err := s.indexer.Reindex(ctx, entry, contentType, req.Locale)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Manual reindex failed").SetInternal(err)
	}

	title := entry.Title()
	if title == "" {
		title = "Untitled"
	}
	message := "Entry reindexed successfully"
	if out.Skipped {
		message = "Entry has no content to index"
	}
	return c.JSON(http.StatusOK, ReindexResponse{
		Success:     true,
		Message:     message,
		EntryUID:    uid,
		ContentType: contentType,
		MappedType:  out.MappedType,
		Locale:      req.Locale,
		Title:       title,
		Skipped:     out.Skipped,
	})
}

func (s *Server) handleReindexContentType(c echo.Context) error {
	if s.source == nil {
		return errCMSNotConfigured()
	}
	contentType := c.Param("contentType")
	req, err := bindReindex(c)
	if err != nil {
		return err
	}
	if req.Limit <= 0 {
		req.Limit = defaultBulkLimit
	}

	tally, err := s.indexer.ReindexContentType(c.Request().Context(), s.source, contentType, indexer.BulkOptions{
		Locale:        req.Locale,
		PageSize:      s.cfg.Sync.PageSize,
		Limit:         req.Limit,
		RatePerSecond: s.cfg.Sync.RatePerSecond,
	})
	if err != nil {
		return cmsError(err, "Content type not found")
	}
	if tally.Total == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "No entries found").
			SetInternal(errors.New("content type " + contentType + " has no entries"))
	}

	errs := tally.Errors
	if errs == nil {
		errs = []indexer.ItemError{}
	}
	return c.JSON(http.StatusOK, BulkReindexResponse{
		Success:        true,
		Message:        "Bulk reindex completed",
		ContentType:    contentType,
		Locale:         req.Locale,
		TotalEntries:   tally.Total,
		SuccessCount:   tally.Processed,
		ErrorCount:     tally.Failed,
		SkippedCount:   tally.Skipped,
		ImagesAnalyzed: tally.ImagesAnalyzed,
		Errors:         errs,
	})
}

func (s *Server) handleIndexStats(c echo.Context) error {
	stats, err := s.index.Describe(c.Request().Context())
	if err != nil {
		if errors.Is(err, vectorstore.ErrIndexNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Vector index not found").SetInternal(err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to check index stats").SetInternal(err)
	}
	return c.JSON(http.StatusOK, IndexStatsResponse{
		Status:     "success",
		IndexStats: stats,
		HasData:    stats.Count > 0,
	})
}

func (s *Server) handleDebugEntry(c echo.Context) error {
	if s.source == nil {
		return errCMSNotConfigured()
	}
	contentType := c.Param("contentType")
	uid := c.Param("entryUid")
	locale := c.QueryParam("locale")
	if locale == "" {
		locale = defaultLocale
	}

	entry, err := s.source.FetchEntry(c.Request().Context(), contentType, uid, locale)
	if err != nil {
		return cmsError(err, "Entry not found")
	}
	return c.JSON(http.StatusOK, DebugEntryResponse{
		Status:      "success",
		ContentType: contentType,
		EntryUID:    uid,
		Analysis:    debugEntry(entry, contentType, locale),
		Entry:       entry,
	})
}

func (s *Server) handleDebugContentType(c echo.Context) error {
	if s.source == nil {
		return errCMSNotConfigured()
	}
	contentType := c.Param("contentType")
	locale := c.QueryParam("locale")
	if locale == "" {
		locale = defaultLocale
	}

	page, err := s.source.QueryEntries(c.Request().Context(), contentType, cms.QueryOptions{Locale: locale, Limit: debugSampleSize})
	if err != nil {
		return cmsError(err, "Content type not found")
	}
	analysis := make([]EntryDebug, 0, len(page.Entries))
	for _, entry := range page.Entries {
		analysis = append(analysis, debugEntry(entry, contentType, entry.Locale(locale)))
	}
	return c.JSON(http.StatusOK, DebugContentTypeResponse{
		Status:       "success",
		ContentType:  contentType,
		TotalEntries: len(analysis),
		Analysis:     analysis,
	})
}

func debugEntry(entry content.Entry, contentType, locale string) EntryDebug {
	doc := content.Extract(entry, contentType, locale)
	fields := make([]string, 0, len(entry))
	for _, k := range entry.SortedKeys() {
		if !strings.HasPrefix(k, "_") {
			fields = append(fields, k)
		}
	}
	images := doc.ImageURLs
	if images == nil {
		images = []string{}
	}
	return EntryDebug{
		UID:                doc.UID,
		Title:              entry.Title(),
		MappedType:         doc.MappedType,
		ExtractedImages:    images,
		AllFields:          fields,
		ImageFieldAnalysis: content.InspectImageFields(entry),
		TextLength:         len([]rune(doc.Text)),
		Indexable:          doc.Indexable(),
	}
}

// bindReindex reads the optional reindex body. An empty body is allowed.
func bindReindex(c echo.Context) (ReindexRequest, error) {
	var req ReindexRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
		}
	}
	if req.Locale == "" {
		req.Locale = defaultLocale
	}
	return req, nil
}

func errCMSNotConfigured() error {
	return echo.NewHTTPError(http.StatusServiceUnavailable, "CMS access not configured").SetInternal(cms.ErrNotConfigured)
}

// cmsError maps CMS failures to HTTP errors.
func cmsError(err error, notFound string) error {
	switch {
	case errors.Is(err, cms.ErrEntryNotFound):
		return echo.NewHTTPError(http.StatusNotFound, notFound).SetInternal(err)
	case errors.Is(err, cms.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "CMS unavailable").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "CMS request failed").SetInternal(err)
	}
}
