package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cardexio/cardex/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP recognition service",
	Long:  "Opens the card store and serves the recognition API until SIGINT or SIGTERM. All settings come from CARDEX_* environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Log)

		db, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(context.Background()); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}()

		srvOpts := []server.Option{
			server.WithAddr(cfg.Server.ListenAddr),
			server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
			server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
			server.WithLogger(logger.Logger),
		}
		if !cfg.Server.EnableMetrics {
			srvOpts = append(srvOpts, server.WithoutMetrics())
		}

		srv := server.New(db,
			newEmbedder(cfg.Embedder, cfg.Store.Dimension),
			newPriceClient(cfg.Price),
			srvOpts...,
		)

		return srv.ListenAndServe()
	},
}
