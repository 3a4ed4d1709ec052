package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ingestDomain string

var ingestCmd = &cobra.Command{
	Use:   "ingest --domain <id> <file>...",
	Short: "Chunk, embed and store text or markdown files in a domain",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Vector.Backend != "sqlite" {
			logger.Warn("ingested chunks are stored locally and only searched by the sqlite backend",
				zap.String("vector_backend", cfg.Vector.Backend))
		}

		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		var errs []error
		total := 0
		for _, path := range args {
			report, err := a.ingest.IngestFile(cmd.Context(), ingestDomain, path)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
				continue
			}
			total += report.ChunkCount
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%q, %d chunks)\n", path, report.DomainID, report.Title, report.ChunkCount)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ingested %d chunks from %d of %d files\n", total, len(args)-len(errs), len(args))
		return errors.Join(errs...)
	},
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestDomain, "domain", "d", "", "Target domain id")
	_ = ingestCmd.MarkFlagRequired("domain")
}
