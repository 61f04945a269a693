package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dshills/convograph/internal/app"
	"github.com/dshills/convograph/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "convograph",
		Short: "Conversational dataset search assistant",
		Long: `convograph routes a conversation through intent analysis, clarification and
confirmation before searching a dataset catalog. Threads are checkpointed and
resume exactly where they paused.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "YAML configuration file")
	root.PersistentFlags().String("catalog", "", "catalog directory (overrides the config)")

	root.AddCommand(newServeCmd(), newChatCmd(), newCatalogCmd())
	return root
}

// loadConfig reads the --config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("catalog"); dir != "" {
		cfg.Catalog.Dir = dir
	}
	return cfg, nil
}

func openApp(ctx context.Context, cfg *config.Config, opts ...app.Option) (*app.App, *app.Service, error) {
	a, err := app.New(ctx, *cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return a, app.NewService(a), nil
}
