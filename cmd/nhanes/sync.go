package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ligustah/nhanes/internal/config"
	"github.com/ligustah/nhanes/internal/convert"
	"github.com/ligustah/nhanes/internal/downloader"
	"github.com/ligustah/nhanes/internal/pipeline"
	"github.com/ligustah/nhanes/internal/progress"
)

func newSyncCmd(flags *globalFlags, stderr io.Writer) *cobra.Command {
	var (
		categories  []string
		periods     []string
		includeDocs bool
		refresh     bool
		convertData bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download the selected datasets into the destination",
		Long: `Download every dataset in the catalog matching the selected categories and
periods. Files already present (as .xpt or as converted .csv) are skipped.

The catalog is scraped from the CDC data pages the first time and reused
afterwards; pass --refresh to scrape it again.`,
		Example: `  nhanes sync --categories Laboratory --periods 2013-2014,2015-2016
  nhanes sync -d s3://my-bucket/nhanes --layout category --convert`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(flags, config.Config{
				Categories:  categories,
				Periods:     periods,
				IncludeDocs: includeDocs,
			}, stderr)
			if err != nil {
				return err
			}
			defer a.finish()

			p, cleanup, err := a.pipeline(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := p.Sync(ctx, pipeline.SyncRequest{
				Categories:  a.cfg.Categories,
				Periods:     a.cfg.Periods,
				IncludeDocs: a.cfg.IncludeDocs,
				Refresh:     refresh,
				Convert:     convertData,
			})
			printDownloads(stderr, res.Downloads)
			if res.Conversion != nil {
				printConversion(stderr, *res.Conversion)
			}
			return classify(ctx, err)
		},
	}

	cmd.Flags().StringSliceVar(&categories, "categories", nil, "Categories to download (default: all)")
	cmd.Flags().StringSliceVar(&periods, "periods", nil, "Survey periods to download, e.g. 2013-2014 (default: all)")
	cmd.Flags().BoolVar(&includeDocs, "include-docs", false, "Also download the documentation pages")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Scrape the catalog again even if one is stored")
	cmd.Flags().BoolVar(&convertData, "convert", false, "Convert downloaded XPT files to CSV afterwards")
	return cmd
}

// classify maps a pipeline error to an exit code.
func classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return withCode(ExitInterrupted, err)
	case errors.Is(err, pipeline.ErrCatalog):
		return withCode(ExitCatalogError, err)
	default:
		return withCode(ExitStorageError, err)
	}
}

func printDownloads(w io.Writer, sum downloader.Summary) {
	fmt.Fprintf(w, "[nhanes] Downloads: %d downloaded (%s), %d skipped, %d failed\n",
		sum.Succeeded, progress.FormatBytes(sum.Bytes), sum.Skipped, sum.Failed)
	for _, f := range sum.Failures {
		fmt.Fprintf(w, "[nhanes]   failed %s: %v\n", f.URL, f.Err)
	}
}

func printConversion(w io.Writer, sum convert.Summary) {
	fmt.Fprintf(w, "[nhanes] Converted %d of %d files, %d failed\n", sum.Converted, sum.Total, sum.Failed)
	for _, f := range sum.Failures {
		fmt.Fprintf(w, "[nhanes]   failed %s: %v\n", f.Key, f.Err)
	}
}
