// Package vision captions images with a multimodal language model so that
// visual content can be embedded alongside entry text.
//
// Analysis is optional. An Analyzer built with Disabled never touches the
// network, and an enabled Analyzer degrades to an absent Result when the model
// keeps failing; callers never see an error.
package vision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cmssearch/internal/config"
	"github.com/fyrsmithlabs/cmssearch/internal/logging"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Generator is the subset of a langchaingo model used for captioning.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Context tailors the prompt to the entry being indexed or the query being served.
type Context struct {
	Title string
	Query string
}

// Result is the outcome of one analysis. OK is false when analysis was
// disabled, failed after retries, or produced no text.
type Result struct {
	SourceImageURL string
	Caption        string
	OK             bool
}

// Options tune an enabled Analyzer.
type Options struct {
	MaxTokens         int
	Temperature       float64
	Attempts          int
	Backoff           time.Duration
	RateLimitWait     time.Duration
	Timeout           time.Duration
	RequestsPerSecond float64

	Logger  *logging.Logger
	Metrics *Metrics
}

// DefaultOptions returns the production retry and pacing settings.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Vision)
}

// OptionsFromConfig converts application configuration into Options.
func OptionsFromConfig(cfg config.VisionConfig) Options {
	return Options{
		MaxTokens:         cfg.MaxTokens,
		Temperature:       cfg.Temperature,
		Attempts:          cfg.Attempts,
		Backoff:           cfg.Backoff.Duration(),
		RateLimitWait:     cfg.RateLimitWait.Duration(),
		Timeout:           cfg.Timeout.Duration(),
		RequestsPerSecond: cfg.RequestsPerSecond,
	}
}

// Analyzer captions images.
type Analyzer struct {
	gen     Generator
	opts    Options
	limiter *rate.Limiter
	logger  *logging.Logger
	metrics *Metrics
	sleep   func(context.Context, time.Duration) error
}

// Disabled returns an Analyzer that never calls a model.
func Disabled() *Analyzer {
	return &Analyzer{logger: logging.NewNop()}
}

// Enabled returns an Analyzer backed by gen.
func Enabled(gen Generator, opts Options) *Analyzer {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Analyzer{
		gen:     gen,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("vision"),
		metrics: opts.Metrics,
		sleep:   sleep,
	}
}

// New builds an Analyzer from configuration, using the OpenAI chat API when
// an API key is configured and returning Disabled otherwise.
func New(cfg config.VisionConfig, logger *logging.Logger, metrics *Metrics) (*Analyzer, error) {
	if !cfg.Enabled() {
		return Disabled(), nil
	}

	clientOpts := []openai.Option{
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}

	opts := OptionsFromConfig(cfg)
	opts.Logger = logger
	opts.Metrics = metrics
	return Enabled(llm, opts), nil
}

// Enabled reports whether the Analyzer will call a model.
func (a *Analyzer) Enabled() bool {
	return a != nil && a.gen != nil
}

// Analyze captions the image at imageURL. It retries transient failures and
// returns an absent Result, never an error, when the model cannot help.
func (a *Analyzer) Analyze(ctx context.Context, imageURL string, c Context) Result {
	absent := Result{SourceImageURL: imageURL}
	if !a.Enabled() || imageURL == "" {
		return absent
	}

	start := time.Now()
	messages := []llms.MessageContent{{
		Role: schema.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.TextContent{Text: Prompt(c)},
			llms.ImageURLContent{URL: imageURL},
		},
	}}

	for attempt := 1; attempt <= a.opts.Attempts; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			a.metrics.RecordAnalysis(ctx, outcomeCanceled, time.Since(start))
			return absent
		}

		caption, err := a.generate(ctx, messages)
		if err == nil {
			if caption == "" {
				a.logger.Debug(ctx, "image analysis returned no content", zap.String("image_url", imageURL))
				a.metrics.RecordAnalysis(ctx, outcomeEmpty, time.Since(start))
				return absent
			}
			a.metrics.RecordAnalysis(ctx, outcomeOK, time.Since(start))
			return Result{SourceImageURL: imageURL, Caption: caption, OK: true}
		}

		a.logger.Warn(ctx, "image analysis attempt failed",
			zap.String("image_url", imageURL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", a.opts.Attempts),
			zap.Error(err))

		if attempt == a.opts.Attempts {
			break
		}
		// Rate-limited attempts back off longer before the next try.
		wait := a.opts.Backoff
		if isRateLimited(err) {
			wait += a.opts.RateLimitWait
		}
		if a.sleep(ctx, wait) != nil {
			break
		}
	}

	a.metrics.RecordAnalysis(ctx, outcomeFailed, time.Since(start))
	return absent
}

func (a *Analyzer) generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	var callOpts []llms.CallOption
	if a.opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(a.opts.MaxTokens))
	}
	callOpts = append(callOpts, llms.WithTemperature(a.opts.Temperature))

	resp, err := a.gen.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// Prompt builds the captioning instruction for c.
func Prompt(c Context) string {
	var b strings.Builder
	b.WriteString("Analyze this image")
	if title := strings.TrimSpace(c.Title); title != "" {
		fmt.Fprintf(&b, " for a content item titled %q", title)
	}
	if query := strings.TrimSpace(c.Query); query != "" {
		fmt.Fprintf(&b, " in the context of the search query %q", query)
	}
	b.WriteString(". Describe the key visual elements including colors, objects, text, patterns, materials, style, and overall composition. Focus on details that would be useful for search and discovery.")
	return b.String()
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
