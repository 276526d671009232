package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/manifesto-rag/internal/embedder"
	"github.com/54b3r/manifesto-rag/internal/logging"
)

// NewEmbedCmd constructs the `mrag embed` command, which prints the
// embedding for a piece of text. It is the quickest way to check which
// tier answers and what dimension the model produces.
func NewEmbedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed [text]",
		Short: "Print the embedding for a piece of text",
		Long: `Generate one embedding through the tiered provider and print it as JSON
along with the native client used and the HTTP endpoint that answered, if any.

Examples:
  mrag embed "public transport"
  EMBEDDING_NATIVE_CLIENT=none mrag embed "probe the local server"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg := newRegistry()

			cfg := embedder.ConfigFromEnv(reg)
			if err := embedder.Validate(logging.FromContext(ctx), cfg); err != nil {
				return fmt.Errorf("embed: %w", err)
			}
			p, err := embedder.NewProvider(ctx, cfg)
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}

			vec, err := p.Embed(ctx, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Model           string    `json:"model"`
				NativeClient    string    `json:"nativeClient"`
				WorkingEndpoint string    `json:"workingEndpoint,omitempty"`
				Dimensions      int       `json:"dimensions"`
				Embedding       []float32 `json:"embedding"`
			}{
				Model:           cfg.Model,
				NativeClient:    p.NativeName(),
				WorkingEndpoint: p.WorkingEndpoint(),
				Dimensions:      len(vec),
				Embedding:       vec,
			})
		},
	}
	return cmd
}
