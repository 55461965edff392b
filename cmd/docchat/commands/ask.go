package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/session"
	"github.com/54b3r/docchat-go/internal/tracing"
)

// NewAskCmd constructs the `docchat ask` command, which answers a single
// question from the indexed documents or in general mode.
func NewAskCmd() *cobra.Command {
	var (
		path        string
		mode        string
		showContext bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question about your documents",
		Long: `Ask a single question. In documents mode (the default) the answer is grounded
in the chunks retrieved from --path, or from the Qdrant index built by
'docchat ingest' when VECTOR_STORE=qdrant. Documents given with --path are
indexed for this run only and leave the persisted index untouched. In general
mode no documents are consulted.

Examples:
  docchat ask --path ./handbook.pdf "how many vacation days do I get?"
  docchat ask --show-context "what does the warranty cover?"
  docchat ask --mode general "explain retrieval augmented generation"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			m, err := session.ParseMode(mode)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			flush := tracing.Enable(tracing.FromEnv(), log)
			defer flush()

			st, err := buildStack(ctx, log, stackOptions{})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer st.Close()

			asst, _, _, err := newAssistant(ctx, st.embedder, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			idx, err := st.persisted(ctx)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			builder, dropScratch := st.scratch("ask")
			defer dropScratch(ctx)
			sess, err := session.New(ctx, session.Config{
				ID:      "ask",
				Builder: builder,
				Asker:   asst,
				Index:   idx,
				Source:  st.alias(),
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer sess.Close() //nolint:errcheck // process exit

			if path != "" && m == session.ModeDocuments {
				if _, err := sess.Ingest(ctx, path, progressPrinter(log)); err != nil {
					return fmt.Errorf("ask: %w", err)
				}
			}

			question := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			if m == session.ModeGeneral {
				answer, err := sess.AskGeneral(ctx, question)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				fmt.Fprintln(out, answer)
				return nil
			}

			ans, err := sess.AskGrounded(ctx, question)
			if err != nil {
				if errors.Is(err, rag.ErrEmptyIndex) {
					return fmt.Errorf("ask: no documents loaded: pass --path or run 'docchat ingest' with VECTOR_STORE=qdrant")
				}
				return fmt.Errorf("ask: %w", err)
			}
			if showContext {
				fmt.Fprintf(out, "--- retrieved context (%s) ---\n%s\n--- end context ---\n\n", strings.Join(ans.Sources, ", "), ans.Context)
			}
			fmt.Fprintln(out, ans.Text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "File or folder to index before answering")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(session.ModeDocuments), "Answer mode: documents or general")
	cmd.Flags().BoolVar(&showContext, "show-context", false, "Print the retrieved context before the answer")

	return cmd
}
