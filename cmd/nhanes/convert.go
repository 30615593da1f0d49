package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/ligustah/nhanes/internal/config"
	"github.com/ligustah/nhanes/internal/pipeline"
)

func newConvertCmd(flags *globalFlags, stderr io.Writer) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert downloaded XPT files to CSV",
		Long: `Convert every .xpt file under the destination to a .csv file next to it and
remove the original. Files that fail to convert are left in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(flags, config.Config{Destination: dir}, stderr)
			if err != nil {
				return err
			}
			defer a.finish()

			bucket, err := a.openDestination(ctx)
			if err != nil {
				return err
			}
			defer bucket.Close()

			p := pipeline.New(nil, nil, a.converter(), bucket, pipeline.Options{Logger: a.logger})
			sum, err := p.Convert(ctx)
			if sum.Total > 0 {
				printConversion(stderr, sum)
			}
			return classify(ctx, err)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory or bucket URL to convert (default: destination)")
	return cmd
}
