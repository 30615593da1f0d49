package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ligustah/nhanes/internal/catalog"
	"github.com/ligustah/nhanes/internal/config"
	"github.com/ligustah/nhanes/internal/downloader"
	"github.com/ligustah/nhanes/internal/pipeline"
)

func newCatalogCmd(flags *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var (
		categories []string
		periods    []string
		refresh    bool
		asCSV      bool
	)

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the available datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(flags, config.Config{Categories: categories, Periods: periods}, stderr)
			if err != nil {
				return err
			}
			defer a.finish()

			provider, bucket, err := a.provider(ctx)
			if err != nil {
				return err
			}
			defer bucket.Close()

			c, err := provider.Catalog(ctx, refresh)
			if err != nil {
				return classify(ctx, fmt.Errorf("%w: %w", pipeline.ErrCatalog, err))
			}
			c = c.Filter(catalog.Selection{Categories: a.cfg.Categories, Periods: a.cfg.Periods})

			if asCSV {
				return catalog.WriteCSV(stdout, c)
			}
			return printCatalog(stdout, c)
		},
	}

	cmd.Flags().StringSliceVar(&categories, "categories", nil, "Categories to list (default: all)")
	cmd.Flags().StringSliceVar(&periods, "periods", nil, "Survey periods to list (default: all)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Scrape the catalog again even if one is stored")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "Print the catalog as CSV")
	return cmd
}

func printCatalog(w io.Writer, c catalog.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PERIOD\tCATEGORY\tFILE\tDESCRIPTION")
	for _, r := range c {
		name, err := downloader.FileName(r.DataURL)
		if err != nil {
			name = r.DataURL
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Period, r.Category, name, r.Description)
	}
	return tw.Flush()
}
