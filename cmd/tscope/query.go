package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	tserrors "github.com/teamscope/teamscope/internal/errors"
	"github.com/teamscope/teamscope/internal/models"
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask the knowledge graph a question",
	Example: `  tscope query "who owns the auth service?"
  tscope query "who reviewed the payment retries PR?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := strings.Join(args, " ")

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	result, err := a.retriever.Retrieve(ctx, question)
	if err != nil && !tserrors.IsRetrievalEmpty(err) {
		return err
	}

	resp := a.synthesizer.Answer(ctx, models.QueryRequest{Query: question}, result)

	fmt.Println(resp.Answer)
	if verbose {
		fmt.Printf("\n[%s/%s] routed to %s (%s)\n", resp.Status, resp.Metadata.Mode, resp.Metadata.NodeType, resp.Metadata.Reason)
		if resp.Metadata.Model != "" {
			fmt.Printf("model: %s\n", resp.Metadata.Model)
		}
	}
	return nil
}
