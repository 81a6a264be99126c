package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teamscope/teamscope/internal/config"
	"github.com/teamscope/teamscope/internal/github"
	"github.com/teamscope/teamscope/internal/models"
)

var (
	ingestFile  string
	ingestRepo  string
	ingestSince time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [source]",
	Short: "Ingest activity into the knowledge graph",
	Long: `Ingests one payload into the graph. Two modes:

  tscope ingest github --repo owner/name     pull activity from the GitHub API
  tscope ingest github --file payload.json   ingest a prepared payload
  tscope ingest slack --file export.json     ingest a slack export payload`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "payload file to ingest")
	ingestCmd.Flags().StringVar(&ingestRepo, "repo", "", "GitHub repository (owner/name) to pull from the API")
	ingestCmd.Flags().DurationVar(&ingestSince, "since", 90*24*time.Hour, "how far back to pull from the API")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	source := models.Source(args[0])

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	var payload []byte
	switch {
	case ingestFile != "":
		if payload, err = os.ReadFile(ingestFile); err != nil {
			return fmt.Errorf("failed to read payload file: %w", err)
		}

	case ingestRepo != "" && source == models.SourceGitHub:
		owner, repo, ok := strings.Cut(ingestRepo, "/")
		if !ok {
			return fmt.Errorf("--repo must be owner/name, got %q", ingestRepo)
		}
		if cfg.GitHub.Token == "" {
			cfg.GitHub.Token, err = config.NewCredentialManager().GetGitHubToken()
			if err != nil {
				return err
			}
		}
		connector, err := github.NewConnector(cfg.GitHub)
		if err != nil {
			return err
		}
		if payload, err = connector.Pull(ctx, owner, repo, time.Now().Add(-ingestSince)); err != nil {
			return err
		}

	default:
		return fmt.Errorf("either --file or --repo (github only) is required")
	}

	result, err := a.ingester.Ingest(ctx, source, payload)
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %d nodes and %d edges from %s\n", result.NodesUpserted, result.EdgesUpserted, source)
	return nil
}
