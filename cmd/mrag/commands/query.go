package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/manifesto-rag/internal/rag"
)

// NewQueryCmd constructs the `mrag query` command, which prints the chunks
// most relevant to a question.
func NewQueryCmd() *cobra.Command {
	var topK int
	var collection string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Retrieve the manifesto chunks most relevant to a question",
		Long: `Embed the question and print the top-k most similar stored chunks,
best first, trimmed to RETRIEVAL_MAX_CONTEXT_TOKENS.

Examples:
  mrag query "what do the parties say about income tax?"
  mrag query -k 3 --collection manifestos-2019 "housing"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			question := strings.Join(args, " ")

			c, err := buildCore(ctx)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer c.Close()

			fragments, err := c.retriever.RetrieveFrom(ctx, collection, question, topK)
			if errors.Is(err, rag.ErrNoEmbedding) {
				return err
			}
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			if jsonOut {
				if fragments == nil {
					fragments = []string{}
				}
				return json.NewEncoder(os.Stdout).Encode(fragments)
			}
			if len(fragments) == 0 {
				fmt.Fprintln(os.Stderr, "no relevant context found, check that ingestion has run")
				return nil
			}
			for i, f := range fragments {
				fmt.Printf("[%d] %s\n\n", i+1, f)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to return (default: RETRIEVAL_TOP_K or 5)")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection to search (default: COLLECTION_NAME or manifesto-chunks)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the chunks as a JSON array")

	return cmd
}
