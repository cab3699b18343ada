package indexer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/fyrsmithlabs/cmssearch/internal/cms"
	"github.com/fyrsmithlabs/cmssearch/internal/content"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxReportedErrors caps the per-entry errors kept in a Tally.
const maxReportedErrors = 10

// Source pages through CMS entries. *cms.Client satisfies it.
type Source interface {
	ContentTypes(ctx context.Context) ([]cms.ContentType, error)
	EachEntry(ctx context.Context, contentType, locale string, pageSize, limit int, fn func(content.Entry) error) (int, error)
}

// BulkOptions controls a bulk reindex.
type BulkOptions struct {
	Locale   string
	PageSize int

	// Limit caps the entries visited per content type. Zero means all.
	Limit int

	// RatePerSecond paces reindexing. Zero means unpaced.
	RatePerSecond float64
}

// ItemError records one failed entry.
type ItemError struct {
	UID   string `json:"uid"`
	Error string `json:"error"`
}

// Tally summarizes a bulk run.
type Tally struct {
	Total          int         `json:"totalEntries"`
	Processed      int         `json:"processed"`
	Failed         int         `json:"failed"`
	Skipped        int         `json:"skipped"`
	ImagesAnalyzed int         `json:"imagesAnalyzed"`
	Errors         []ItemError `json:"errors,omitempty"`
}

// Add merges o into t.
func (t *Tally) Add(o Tally) {
	t.Total += o.Total
	t.Processed += o.Processed
	t.Failed += o.Failed
	t.Skipped += o.Skipped
	t.ImagesAnalyzed += o.ImagesAnalyzed
	for _, e := range o.Errors {
		t.addError(e)
	}
}

func (t *Tally) addError(e ItemError) {
	if len(t.Errors) < maxReportedErrors {
		t.Errors = append(t.Errors, e)
	}
}

// ReindexContentType reindexes the entries of one content type in order,
// continuing past per-entry failures. The returned error is non-nil only
// when the CMS itself fails or ctx is canceled.
func (s *Service) ReindexContentType(ctx context.Context, src Source, contentType string, opts BulkOptions) (Tally, error) {
	if opts.Locale == "" {
		opts.Locale = "en-us"
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	var tally Tally
	total, err := src.EachEntry(ctx, contentType, opts.Locale, opts.PageSize, opts.Limit, func(entry content.Entry) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		locale := entry.Locale(opts.Locale)
		out, err := s.Reindex(ctx, entry, contentType, locale)
		switch {
		case err != nil:
			tally.Failed++
			tally.addError(ItemError{UID: entry.UID(), Error: err.Error()})
			s.logger.Warn(ctx, "bulk reindex entry failed",
				zap.String("content_type", contentType),
				zap.String("uid", entry.UID()),
				zap.Error(err),
			)
		case out.Skipped:
			tally.Skipped++
		default:
			tally.Processed++
			if out.ImageAnalyzed {
				tally.ImagesAnalyzed++
			}
		}
		return nil
	})
	tally.Total = total
	if err != nil {
		return tally, fmt.Errorf("reindexing %s: %w", contentType, err)
	}

	s.logger.Info(ctx, "content type reindexed",
		zap.String("content_type", contentType),
		zap.Int("total", tally.Total),
		zap.Int("processed", tally.Processed),
		zap.Int("failed", tally.Failed),
		zap.Int("skipped", tally.Skipped),
		zap.Int("images_analyzed", tally.ImagesAnalyzed),
	)
	return tally, nil
}

// SyncReport is the result of Sync.
type SyncReport struct {
	// ContentTypes are the requested types present in the stack, in request order.
	ContentTypes []string `json:"contentTypes"`

	// Missing are requested types the stack does not define.
	Missing []string         `json:"missing,omitempty"`
	PerType map[string]Tally `json:"perType"`
	Tally   Tally            `json:"tally"`
}

// Sync reindexes every requested content type that exists in the stack. A
// content type whose listing fails is logged and counted as zero work; the
// run continues with the next type. Only cancellation aborts the run.
func (s *Service) Sync(ctx context.Context, src Source, contentTypes []string, opts BulkOptions) (*SyncReport, error) {
	available, err := src.ContentTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing content types: %w", err)
	}
	known := make([]string, 0, len(available))
	for _, ct := range available {
		known = append(known, ct.UID)
	}

	report := &SyncReport{PerType: make(map[string]Tally)}
	for _, ct := range contentTypes {
		if slices.Contains(known, ct) {
			report.ContentTypes = append(report.ContentTypes, ct)
		} else {
			report.Missing = append(report.Missing, ct)
		}
	}
	if len(report.Missing) > 0 {
		s.logger.Warn(ctx, "content types not found in stack", zap.Strings("missing", report.Missing))
	}

	for _, ct := range report.ContentTypes {
		tally, err := s.ReindexContentType(ctx, src, ct, opts)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				report.Tally.Add(tally)
				report.PerType[ct] = tally
				return report, err
			}
			s.logger.Error(ctx, "content type sync failed", zap.String("content_type", ct), zap.Error(err))
		}
		report.PerType[ct] = tally
		report.Tally.Add(tally)
	}

	s.logger.Info(ctx, "sync complete",
		zap.Strings("content_types", report.ContentTypes),
		zap.Int("processed", report.Tally.Processed),
		zap.Int("failed", report.Tally.Failed),
		zap.Int("skipped", report.Tally.Skipped),
		zap.Int("images_analyzed", report.Tally.ImagesAnalyzed),
	)
	return report, nil
}
