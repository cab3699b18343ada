package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// reindexResult is printed after a single-entry reindex.
type reindexResult struct {
	ContentType   string `json:"contentType"`
	EntryUID      string `json:"entryUid"`
	Locale        string `json:"locale"`
	MappedType    string `json:"mappedType"`
	Skipped       bool   `json:"skipped"`
	Removed       bool   `json:"removed,omitempty"`
	ImageCount    int    `json:"imageCount"`
	ImageAnalyzed bool   `json:"imageAnalyzed"`
}

func newReindexCmd() *cobra.Command {
	var (
		locale string
		remove bool
	)
	cmd := &cobra.Command{
		Use:   "reindex <content-type> <entry-uid>",
		Short: "Fetch one entry from the CMS and reindex it",
		Long: `Fetch one entry from Contentstack and write it to the vector index,
or remove it with --remove.

Examples:
  # Reindex an entry
  cmssearch reindex product blt0123456789abcdef

  # Reindex the French variant
  cmssearch reindex product blt0123456789abcdef --locale fr-fr

  # Drop an entry from the index
  cmssearch reindex product blt0123456789abcdef --remove`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd.Context(), cmd.OutOrStdout(), args[0], args[1], locale, remove)
		},
	}
	cmd.Flags().StringVar(&locale, "locale", "", "entry locale (defaults to sync.locale)")
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the entry from the index instead")
	return cmd
}

func runReindex(ctx context.Context, out io.Writer, contentType, uid, locale string, remove bool) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if locale == "" {
		locale = a.cfg.Sync.Locale
	}
	res := reindexResult{ContentType: contentType, EntryUID: uid, Locale: locale}

	if remove {
		if err := a.indexer.Remove(ctx, uid, locale); err != nil {
			return fmt.Errorf("removing %s/%s: %w", contentType, uid, err)
		}
		res.Removed = true
		return writeJSON(out, res)
	}

	if err := a.requireSource(); err != nil {
		return err
	}
	entry, err := a.source.FetchEntry(ctx, contentType, uid, locale)
	if err != nil {
		return fmt.Errorf("fetching %s/%s: %w", contentType, uid, err)
	}
	outcome, err := a.indexer.Reindex(ctx, entry, contentType, locale)
	if err != nil {
		return fmt.Errorf("reindexing %s/%s: %w", contentType, uid, err)
	}

	res.MappedType = string(outcome.MappedType)
	res.Skipped = outcome.Skipped
	res.ImageCount = outcome.ImageCount
	res.ImageAnalyzed = outcome.ImageAnalyzed
	return writeJSON(out, res)
}
