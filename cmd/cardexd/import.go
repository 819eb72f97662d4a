package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardexio/cardex/codec"
	"github.com/cardexio/cardex/model"
)

var importFile string

// importLine is one JSON line: the card fields plus an optional embedding.
type importLine struct {
	model.Card
	Embedding []float32 `json:"embedding,omitempty"`
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-load cards from a JSON lines file",
	Long: `Reads one JSON object per line, each a card record with an optional
"embedding" array, and adds them to the store. A final checkpoint is
committed before exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Log)

		f, err := os.Open(importFile)
		if err != nil {
			return fmt.Errorf("failed to open import file: %w", err)
		}
		defer f.Close()

		db, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close(context.Background())

		scanner := bufio.NewScanner(f)
		// Embeddings make for long lines: a 2048-dim float array does not
		// fit the default 64 KiB token size.
		scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)

		var imported, indexed, lineNum int
		for scanner.Scan() {
			lineNum++
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var rec importLine
			if err := codec.Default.Unmarshal(line, &rec); err != nil {
				return fmt.Errorf("line %d: invalid record: %w", lineNum, err)
			}

			if _, err := db.AddCard(cmd.Context(), rec.Card, rec.Embedding); err != nil {
				return fmt.Errorf("line %d: failed to add card %q: %w", lineNum, rec.Name, err)
			}
			imported++
			if len(rec.Embedding) > 0 {
				indexed++
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}

		if err := db.Checkpoint(cmd.Context()); err != nil {
			return fmt.Errorf("final checkpoint failed: %w", err)
		}

		fmt.Printf("imported %d cards (%d with embeddings)\n", imported, indexed)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "cards.jsonl", "JSON lines file to import")
	_ = importCmd.MarkFlagRequired("file")
}
