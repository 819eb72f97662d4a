package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cardexio/cardex/codec"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print a store summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context(), cfg, newLogger(cfg.Log))
		if err != nil {
			return err
		}
		defer db.Close(context.Background())

		stats, err := db.Stats(cmd.Context())
		if err != nil {
			return err
		}

		data, err := codec.GoJSON{}.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}
