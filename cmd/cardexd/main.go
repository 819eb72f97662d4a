// Package main is the entry point for the cardexd server and tooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version can be overridden at build time via:
// go build -ldflags "-X main.version=1.2.3"
var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "cardexd",
	Short:   "cardexd - hybrid card matching service",
	Long:    "Card recognition service combining embedding similarity and perceptual-hash matching over a durable card database.",
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
