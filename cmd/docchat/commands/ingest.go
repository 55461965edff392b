package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
)

// NewIngestCmd constructs the `docchat ingest` command, which builds an index
// from a file or folder and reports what was indexed.
func NewIngestCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Index a PDF, DOCX or TXT file, or a folder of them",
		Long: `Load, chunk and embed a document or a folder tree and build a vector index.

With VECTOR_STORE=qdrant the index is written to a new collection and the
QDRANT_COLLECTION alias is repointed to it once the build succeeds, so
'docchat ask' and 'docchat chat' pick it up. With the default in-memory store
the command validates the corpus and reports statistics only.

Folders are walked recursively. Hidden files, Office lock files (~$*) and
unsupported formats are skipped and listed.

Environment variables:
  EMBEDDING_PROVIDER   ollama, openai, azure, huggingface (default: MODEL_PROVIDER)
  CHUNK_SIZE           Characters per chunk (default: 1000)
  CHUNK_OVERLAP        Characters shared by neighbouring chunks (default: 200)
  VECTOR_STORE         memory or qdrant (default: memory)
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Alias of the latest build (default: docchat)

Examples:
  docchat ingest ./handbook.pdf
  VECTOR_STORE=qdrant docchat ingest ~/OneDrive/Policies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			st, err := buildStack(ctx, log, stackOptions{})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer st.Close()

			idx, stats, err := st.pipeline.Build(ctx, args[0], progressPrinter(log))
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			// A Qdrant build stays behind the alias after Close.
			defer idx.Close() //nolint:errcheck // best effort

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			fmt.Fprintf(out, "indexed %s: %d files, %d documents, %d chunks in %s\n",
				args[0], stats.Files, stats.Documents, stats.Chunks, stats.Duration.Round(time.Millisecond))
			for _, s := range stats.Skipped {
				fmt.Fprintf(out, "  skipped %s: %s\n", s.Path, s.Reason)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print build statistics as JSON")

	return cmd
}
