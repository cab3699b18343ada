package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cmssearch/internal/config"
	"github.com/fyrsmithlabs/cmssearch/internal/indexer"
)

type syncFlags struct {
	contentTypes []string
	locale       string
	limit        int
}

func newSyncCmd() *cobra.Command {
	var flags syncFlags
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Index every configured content type from the CMS",
		Long: `Page through the configured content types in Contentstack and reindex
each entry. Content types missing from the stack are reported and skipped.
Per-entry failures are counted and do not stop the run.

Examples:
  # Sync the content types from sync.content_types
  cmssearch sync

  # Sync two content types, at most 50 entries each
  cmssearch sync --content-type product --content-type video --limit 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, cmd.OutOrStdout(), flags)
		},
	}
	cmd.Flags().StringSliceVar(&flags.contentTypes, "content-type", nil, "content type to sync (repeatable, defaults to sync.content_types)")
	cmd.Flags().StringVar(&flags.locale, "locale", "", "locale to sync (defaults to sync.locale)")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "maximum entries per content type (0 means all)")
	return cmd
}

func runSync(ctx context.Context, out io.Writer, flags syncFlags) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	if err := a.requireSource(); err != nil {
		return err
	}

	contentTypes, opts := syncPlan(a.cfg.Sync, flags)
	report, err := a.indexer.Sync(ctx, a.source, contentTypes, opts)
	if report != nil {
		if werr := writeJSON(out, report); werr != nil {
			return werr
		}
	}
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// syncPlan merges command flags over the sync config section.
func syncPlan(cfg config.SyncConfig, flags syncFlags) ([]string, indexer.BulkOptions) {
	contentTypes := cfg.ContentTypes
	if len(flags.contentTypes) > 0 {
		contentTypes = flags.contentTypes
	}
	opts := indexer.BulkOptions{
		Locale:        cfg.Locale,
		PageSize:      cfg.PageSize,
		Limit:         flags.limit,
		RatePerSecond: cfg.RatePerSecond,
	}
	if flags.locale != "" {
		opts.Locale = flags.locale
	}
	return contentTypes, opts
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
