package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teamscope/teamscope/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show graph and index status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	fmt.Printf("Graph backend:      %s\n", cfg.Graph.Backend)
	fmt.Printf("Embedding version:  %s\n", a.indexer.ModelVersion())

	coverage, err := a.indexer.CoverageByType(ctx)
	if err != nil {
		return err
	}
	fmt.Println("\nEmbedded nodes:")
	for _, t := range models.SearchableTypes {
		fmt.Printf("  %-12s %d\n", t, coverage[t])
	}

	if a.queue != nil {
		if pending, err := a.queue.Len(); err == nil {
			fmt.Printf("\nEmbedding retry queue: %d pending\n", pending)
		}
	}

	if stale, err := a.backend.StaleNodes(ctx, a.indexer.ModelVersion(), 1000); err == nil {
		fmt.Printf("Stale embeddings:      %d\n", len(stale))
	}

	if a.ledger != nil {
		batches, err := a.ledger.RecentBatches(ctx, 5)
		if err == nil && len(batches) > 0 {
			fmt.Println("\nRecent ingestion batches:")
			for _, b := range batches {
				fmt.Printf("  %s  %-9s %-9s %4d nodes %4d edges\n",
					b.CreatedAt.Format("2006-01-02 15:04"), b.Source, b.Status, b.Nodes, b.Edges)
			}
		}
		conflicts, err := a.ledger.OpenConflicts(ctx, 100)
		if err == nil {
			fmt.Printf("\nOpen identity conflicts: %d\n", len(conflicts))
		}
	}
	return nil
}

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Re-embed nodes whose vectors predate the live model version",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		total := 0
		for {
			n, err := a.indexer.RefreshStale(ctx, 256)
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			total += n
		}

		drained, err := a.indexer.DrainQueue(ctx, 1024)
		if err != nil {
			return err
		}

		fmt.Printf("Re-embedded %d stale nodes, drained %d from the retry queue\n", total, drained)
		return nil
	},
}
