package main

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cmssearch/internal/cms"
	"github.com/fyrsmithlabs/cmssearch/internal/config"
	"github.com/fyrsmithlabs/cmssearch/internal/embeddings"
	httpserver "github.com/fyrsmithlabs/cmssearch/internal/http"
	"github.com/fyrsmithlabs/cmssearch/internal/indexer"
	"github.com/fyrsmithlabs/cmssearch/internal/logging"
	"github.com/fyrsmithlabs/cmssearch/internal/search"
	"github.com/fyrsmithlabs/cmssearch/internal/telemetry"
	"github.com/fyrsmithlabs/cmssearch/internal/vectorstore"
	"github.com/fyrsmithlabs/cmssearch/internal/vision"
)

// app holds every long-lived dependency of a command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	embedder  embeddings.Provider
	index     vectorstore.Index
	analyzer  *vision.Analyzer
	source    *cms.Client // nil when CMS credentials are missing
	indexer   *indexer.Service
	searcher  *search.Processor
}

// newApp loads configuration and wires the dependencies in order:
//  1. config and telemetry
//  2. logger (with an OTEL core when telemetry is on)
//  3. embedding provider and vector index
//  4. image analyzer and CMS client
//  5. indexer and query processor
//
// On error everything built so far is released.
func newApp(ctx context.Context, configPath string) (_ *app, err error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging, a.telemetry.Enabled())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.logger, err = logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	if terr := a.telemetry.Err(); terr != nil {
		a.logger.Warn(ctx, "telemetry degraded", zap.Error(terr))
	}

	zl := a.logger.Underlying()
	a.embedder, err = embeddings.NewProvider(cfg.Embeddings, a.telemetry.Meter("cmssearch/embeddings"), zl)
	if err != nil {
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}

	a.index, err = vectorstore.NewIndex(cfg.VectorStore, a.embedder.Dimension(), zl)
	if err != nil {
		return nil, fmt.Errorf("initializing vector index: %w", err)
	}

	visionMetrics, err := vision.NewMetrics(a.telemetry.Meter("cmssearch/vision"))
	if err != nil {
		return nil, fmt.Errorf("initializing vision metrics: %w", err)
	}
	a.analyzer, err = vision.New(cfg.Vision, a.logger, visionMetrics)
	if err != nil {
		return nil, fmt.Errorf("initializing image analyzer: %w", err)
	}

	a.source, err = cms.New(cfg.CMS)
	switch {
	case errors.Is(err, cms.ErrNotConfigured):
		a.logger.Warn(ctx, "cms access not configured, reindex and sync are unavailable", zap.Error(err))
		a.source, err = nil, nil
	case err != nil:
		return nil, fmt.Errorf("initializing cms client: %w", err)
	}

	indexMetrics, err := indexer.NewMetrics(a.telemetry.Meter("cmssearch/indexer"))
	if err != nil {
		return nil, fmt.Errorf("initializing indexer metrics: %w", err)
	}
	a.indexer = indexer.New(a.embedder, a.index, a.analyzer,
		indexer.WithLogger(a.logger),
		indexer.WithMetrics(indexMetrics),
	)

	searchMetrics, err := search.NewMetrics(a.telemetry.Meter("cmssearch/search"))
	if err != nil {
		return nil, fmt.Errorf("initializing search metrics: %w", err)
	}
	a.searcher = search.NewProcessor(a.embedder, a.index,
		search.WithTopK(cfg.Search.TopK),
		search.WithTimeout(cfg.Search.Timeout.Duration()),
		search.WithLogger(a.logger),
		search.WithMetrics(searchMetrics),
	)

	a.logger.Info(ctx, "dependencies initialized",
		zap.String("embeddings_provider", cfg.Embeddings.Provider),
		zap.String("vectorstore_provider", cfg.VectorStore.Provider),
		zap.String("index", cfg.VectorStore.IndexName),
		zap.Bool("image_analysis", a.analyzer.Enabled()),
		zap.Bool("cms_configured", a.source != nil),
		zap.Bool("telemetry", a.telemetry.Enabled()),
	)
	return a, nil
}

// requireSource fails commands that need the CMS when it is not configured.
func (a *app) requireSource() error {
	if a.source == nil {
		return fmt.Errorf("%w: set cms.api_key, cms.delivery_token and cms.environment", cms.ErrNotConfigured)
	}
	return nil
}

// newServer builds the HTTP API over the app's dependencies.
func (a *app) newServer() (*httpserver.Server, error) {
	deps := httpserver.Deps{
		Searcher: a.searcher,
		Analyzer: a.analyzer,
		Indexer:  a.indexer,
		Index:    a.index,
		Metrics:  httpserver.NewHTTPMetrics(a.telemetry.Meter("cmssearch/http"), a.logger.Underlying()),
		Logger:   a.logger,
	}
	// A nil *cms.Client must stay a nil interface.
	if a.source != nil {
		deps.Source = a.source
	}
	return httpserver.NewServer(a.cfg, deps)
}

// Close releases resources in reverse order of construction.
func (a *app) Close(ctx context.Context) {
	if a.index != nil {
		if err := a.index.Close(); err != nil && a.logger != nil {
			a.logger.Warn(ctx, "closing vector index", zap.Error(err))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil && a.logger != nil {
			a.logger.Warn(ctx, "closing embeddings provider", zap.Error(err))
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil && a.logger != nil {
		a.logger.Warn(ctx, "shutting down telemetry", zap.Error(err))
	}
	if a.logger != nil {
		_ = a.logger.Sync() // Best-effort sync
	}
}
