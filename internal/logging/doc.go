// Package logging provides structured logging with OpenTelemetry integration.
//
// The package wraps Zap with:
//   - A Trace level (-2, below Debug) for payload dumps
//   - Stdout output plus an optional OpenTelemetry bridge
//   - Context field injection (trace_id, request.id, entry.*)
//   - Secret redaction by field name and value pattern
//   - Per-level sampling where errors are never sampled
//
// # Usage
//
//	cfg, err := logging.FromAppConfig(appCfg.Logging, appCfg.Telemetry.Enabled)
//	logger, err := logging.NewLogger(cfg, otelLoggerProvider)
//	defer logger.Sync()
//
//	ctx = logging.WithEntry(ctx, logging.EntryRef{ContentType: "article", UID: "blt1", Locale: "en-us"})
//	logger.Info(ctx, "entry indexed", zap.Int("images", 2))
//
// produces
//
//	{"level":"info","msg":"entry indexed","service":"cmssearch",
//	 "entry.content_type":"article","entry.uid":"blt1","entry.locale":"en-us","images":2}
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	svc := indexer.New(..., tl.Logger)
//	tl.AssertLogged(t, zapcore.WarnLevel, "image analysis failed")
//	tl.AssertNoSecrets(t)
package logging
