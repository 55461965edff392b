package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/session"
	"github.com/54b3r/docchat-go/internal/tracing"
)

// chatHelp lists the REPL commands.
const chatHelp = `commands:
  /docs          answer from the loaded documents (default)
  /general       chat without documents
  /load <path>   index a file or folder, replacing the current documents
  /history       show the conversation of the current mode
  /clear         discard the documents and both conversations
  /help          show this help
  /quit          leave`

// NewChatCmd constructs the `docchat chat` command, an interactive session
// with both answer modes and separate histories.
func NewChatCmd() *cobra.Command {
	var (
		path      string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive session on the terminal.

Questions are answered from the loaded documents until you switch to general
mode with /general. Each mode keeps its own history; loading new documents
clears the documents history only. Histories are persisted in SQLite
(DOCCHAT_HISTORY_DB, default ~/.docchat/history.db) under --session.
Documents loaded with --path or /load are indexed for this run only; the
index built by 'docchat ingest' is never replaced.

` + chatHelp + `

Examples:
  docchat chat --path ~/OneDrive/Policies
  docchat chat --session project-x`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush := tracing.Enable(tracing.FromEnv(), log)
			defer flush()

			st, err := buildStack(ctx, log, stackOptions{})
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer st.Close()

			asst, _, _, err := newAssistant(ctx, st.embedder, log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}

			history, closeHistory := openHistory(log)
			defer closeHistory()

			idx, err := st.persisted(ctx)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			builder, dropScratch := st.scratch("chat")
			defer dropScratch(ctx)
			sess, err := session.New(ctx, session.Config{
				ID:      sessionID,
				Builder: builder,
				Asker:   asst,
				Store:   history,
				Index:   idx,
				Source:  st.alias(),
			})
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer sess.Close() //nolint:errcheck // process exit

			if path != "" {
				if _, err := sess.Ingest(ctx, path, progressPrinter(log)); err != nil {
					return fmt.Errorf("chat: %w", err)
				}
			}
			return runChat(ctx, sess, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "File or folder to index at startup")
	cmd.Flags().StringVar(&sessionID, "session", "cli", "History key; reuse it to continue a conversation")

	return cmd
}

// runChat reads commands and questions from in until EOF or /quit. Failed
// questions are reported and the loop continues; only I/O errors end it.
func runChat(ctx context.Context, sess *session.Session, in io.Reader, out io.Writer) error {
	log := logging.FromContext(ctx)
	mode := session.ModeDocuments
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	fmt.Fprintln(out, "docchat: type a question, or /help for commands")
	for {
		fmt.Fprintf(out, "[%s]> ", mode)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			name, arg, _ := strings.Cut(line, " ")
			arg = strings.TrimSpace(arg)
			switch name {
			case "/quit", "/exit":
				return nil
			case "/help":
				fmt.Fprintln(out, chatHelp)
			case "/docs":
				mode = session.ModeDocuments
			case "/general":
				mode = session.ModeGeneral
			case "/load":
				if arg == "" {
					fmt.Fprintln(out, "usage: /load <path>")
					continue
				}
				stats, err := sess.Ingest(ctx, arg, func(msg string) { log.Debug(msg) })
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				mode = session.ModeDocuments
				fmt.Fprintf(out, "loaded %s: %d documents, %d chunks\n", arg, stats.Documents, stats.Chunks)
			case "/history":
				turns := sess.History(mode)
				if len(turns) == 0 {
					fmt.Fprintln(out, "(no history)")
				}
				for _, t := range turns {
					fmt.Fprintf(out, "you: %s\nassistant: %s\n", t.Question, t.Answer)
				}
			case "/clear":
				if err := sess.Clear(ctx); err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				fmt.Fprintln(out, "cleared documents and history")
			default:
				fmt.Fprintf(out, "unknown command %s (try /help)\n", name)
			}
			continue
		}

		answer, err := ask(ctx, sess, mode, line)
		switch {
		case errors.Is(err, rag.ErrEmptyIndex):
			fmt.Fprintln(out, "no documents loaded: use /load <path> or /general")
		case err != nil:
			log.Warn("chat: question failed", slog.Any("error", err))
			fmt.Fprintf(out, "error: %v\n", err)
		default:
			fmt.Fprintln(out, answer)
		}
	}
}

// ask dispatches one question by mode.
func ask(ctx context.Context, sess *session.Session, mode session.Mode, question string) (string, error) {
	if mode == session.ModeGeneral {
		return sess.AskGeneral(ctx, question)
	}
	ans, err := sess.AskGrounded(ctx, question)
	if err != nil {
		return "", err
	}
	return ans.Text, nil
}
