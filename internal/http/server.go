// Package http provides the cmssearch HTTP API.
package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/cmssearch/internal/cms"
	"github.com/fyrsmithlabs/cmssearch/internal/config"
	"github.com/fyrsmithlabs/cmssearch/internal/content"
	"github.com/fyrsmithlabs/cmssearch/internal/indexer"
	"github.com/fyrsmithlabs/cmssearch/internal/logging"
	"github.com/fyrsmithlabs/cmssearch/internal/search"
	"github.com/fyrsmithlabs/cmssearch/internal/vectorstore"
	"github.com/fyrsmithlabs/cmssearch/internal/vision"
	"github.com/fyrsmithlabs/cmssearch/internal/webhook"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Searcher answers search requests. *search.Processor satisfies it.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// ImageAnalyzer captions images. *vision.Analyzer satisfies it.
type ImageAnalyzer interface {
	Enabled() bool
	Analyze(ctx context.Context, imageURL string, c vision.Context) vision.Result
}

// EntryIndexer writes the index. *indexer.Service satisfies it.
type EntryIndexer interface {
	webhook.Indexer
	ReindexContentType(ctx context.Context, src indexer.Source, contentType string, opts indexer.BulkOptions) (indexer.Tally, error)
}

// EntrySource reads entries from the CMS. *cms.Client satisfies it.
type EntrySource interface {
	indexer.Source
	FetchEntry(ctx context.Context, contentType, uid, locale string) (content.Entry, error)
	QueryEntries(ctx context.Context, contentType string, opts cms.QueryOptions) (*cms.Page, error)
}

// IndexDescriber reports index statistics. Every vectorstore.Index satisfies it.
type IndexDescriber interface {
	Describe(ctx context.Context) (vectorstore.Stats, error)
}

// Deps are the collaborators behind the API. Source may be nil, in which
// case the routes that read from the CMS answer 503.
type Deps struct {
	Searcher Searcher
	Analyzer ImageAnalyzer
	Indexer  EntryIndexer
	Source   EntrySource
	Index    IndexDescriber
	Metrics  *HTTPMetrics
	Logger   *logging.Logger
}

// Server provides HTTP endpoints for cmssearch.
type Server struct {
	echo       *echo.Echo
	cfg        *config.Config
	searcher   Searcher
	analyzer   ImageAnalyzer
	indexer    EntryIndexer
	dispatcher *webhook.Dispatcher
	source     EntrySource
	index      IndexDescriber
	metrics    *HTTPMetrics
	logger     *logging.Logger
	now        func() time.Time
}

// NewServer creates a new HTTP server.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Searcher == nil || deps.Indexer == nil || deps.Index == nil {
		return nil, fmt.Errorf("searcher, indexer and index are required")
	}
	if deps.Analyzer == nil {
		deps.Analyzer = vision.Disabled()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:       e,
		cfg:        cfg,
		searcher:   deps.Searcher,
		analyzer:   deps.Analyzer,
		indexer:    deps.Indexer,
		dispatcher: webhook.NewDispatcher(deps.Indexer, logger),
		source:     deps.Source,
		index:      deps.Index,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        time.Now,
	}
	e.HTTPErrorHandler = s.errorHandler

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	e.Use(deps.Metrics.MetricsMiddleware())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.CORSOrigins}))
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	if !cfg.Webhook.Password.IsSet() {
		logger.Warn(context.Background(), "webhook password not configured, authenticated routes will reject every request")
	}

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/search", s.handleSearch)
	s.echo.POST("/analyze-image", s.handleAnalyzeImage)

	s.echo.GET("/api/webhook/test", s.handleWebhookTest)
	s.echo.GET("/api/index/stats", s.handleIndexStats)

	auth := s.echo.Group("/api", s.rateLimiter(), s.basicAuth())
	auth.POST("/webhook/contentstack", s.handleWebhook)
	auth.POST("/reindex/:contentType/:entryUid", s.handleReindex)
	auth.POST("/reindex-content-type/:contentType", s.handleReindexContentType)
	auth.GET("/debug/:contentType", s.handleDebugContentType)
	auth.GET("/debug/:contentType/:entryUid", s.handleDebugEntry)
}

// basicAuth checks webhook credentials in constant time. With no password
// configured every request is rejected.
func (s *Server) basicAuth() echo.MiddlewareFunc {
	wantUser := []byte(s.cfg.Webhook.Username)
	wantPass := []byte(s.cfg.Webhook.Password.Value())
	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Realm: "cmssearch",
		Validator: func(user, pass string, c echo.Context) (bool, error) {
			if len(wantPass) == 0 {
				s.metrics.RecordAuthFailure(c.Request().Context(), authReasonNotConfigured)
				return false, nil
			}
			userOK := subtle.ConstantTimeCompare([]byte(user), wantUser) == 1
			passOK := subtle.ConstantTimeCompare([]byte(pass), wantPass) == 1
			if !userOK || !passOK {
				s.metrics.RecordAuthFailure(c.Request().Context(), authReasonInvalid)
				s.logger.Warn(c.Request().Context(), "authentication failed: invalid credentials",
					zap.String("remote_ip", c.RealIP()),
				)
				return false, nil
			}
			return true, nil
		},
	})
}

// rateLimiter limits authenticated routes per client IP. A zero rate
// disables limiting.
func (s *Server) rateLimiter() echo.MiddlewareFunc {
	if s.cfg.Webhook.RateLimit <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(s.cfg.Webhook.RateLimit),
		Burst:     s.cfg.Webhook.RateBurst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			s.metrics.RecordRateLimited(c.Request().Context())
			return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests").SetInternal(err)
		},
	})
}

// errorHandler renders every error as {error, details, timestamp}.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := ErrorResponse{Error: "Internal server error", Timestamp: s.timestamp()}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		body.Error = fmt.Sprint(he.Message)
		if he.Internal != nil {
			body.Details = he.Internal.Error()
		}
	} else {
		body.Details = err.Error()
	}
	if body.Details == "" {
		body.Details = body.Error
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", zap.Int("status", status), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Warn(c.Request().Context(), "writing error response", zap.Error(err))
	}
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// ServeHTTP lets the server be driven by httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
