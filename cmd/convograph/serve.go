package main

import (
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dshills/convograph/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Address = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, svc, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			var gatherer prometheus.Gatherer
			if cfg.Telemetry.Metrics {
				gatherer = a.Registry
			}
			srv := server.New(svc, gatherer, a.Logger.Named("http"))
			return server.ListenAndServe(ctx, cfg.Server, srv.Handler(), a.Logger)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides the config)")
	return cmd
}
