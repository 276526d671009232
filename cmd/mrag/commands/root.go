// Package commands defines all Cobra CLI commands for the mrag binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/manifesto-rag/internal/audit"
	"github.com/54b3r/manifesto-rag/internal/config"
	"github.com/54b3r/manifesto-rag/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mrag",
		Short: "Manifesto retrieval: embed, store and search party manifesto chunks",
		Long: `mrag turns pre-chunked political manifesto text into embeddings, stores
them in a vector store and returns the chunks most relevant to a question.

Embeddings come from a native client (ollama, openai, gemini) with a
fallback that probes a local embedding server over HTTP. Vectors live in
Chroma, Qdrant, or an in-process store when neither is configured.

Settings are read from environment variables, with a YAML config file
(~/.mrag/config.yaml) applied underneath.
See 'mrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.Load(configPath, logging.New())
			if err != nil {
				return err
			}

			// Rebuild after Load: the file may have set LOG_LEVEL or LOG_FORMAT.
			log := logging.New()
			slog.SetDefault(log)
			ctx := logging.WithLogger(cmd.Context(), log)
			cmd.SetContext(ctx)

			audit.LogCommandStart(ctx, log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.mrag/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewQueryCmd(),
		NewEmbedCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
