package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/convograph/internal/catalog"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List catalog datasets ranked by completeness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.LogLevel = "error"

			a, svc, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			datasets, err := svc.Datasets(cmd.Context())
			if err != nil {
				return err
			}
			if top, _ := cmd.Flags().GetInt("top"); top > 0 {
				datasets = catalog.TopN(datasets, top)
			}
			return printDatasets(cmd.OutOrStdout(), datasets)
		},
	}
	cmd.Flags().IntP("top", "n", 0, "show only the N most complete datasets")
	return cmd
}

func printDatasets(out io.Writer, datasets []catalog.Dataset) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTOPIC\tCOLUMNS\tLICENSE")
	for _, ds := range datasets {
		license := ds.License
		if license == "" {
			license = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d (%s)\t%s\n", ds.ID, ds.Topic, len(ds.Columns), strings.Join(ds.Columns, ", "), license)
	}
	return tw.Flush()
}
