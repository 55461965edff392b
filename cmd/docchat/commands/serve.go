package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/docchat-go/internal/assistant"
	"github.com/54b3r/docchat-go/internal/config"
	"github.com/54b3r/docchat-go/internal/embedder"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/server"
	"github.com/54b3r/docchat-go/internal/session"
	"github.com/54b3r/docchat-go/internal/store"
	"github.com/54b3r/docchat-go/internal/tracing"
	"github.com/54b3r/docchat-go/internal/watch"
)

// NewServeCmd constructs the `docchat serve` command, which starts the HTTP
// server exposing sessions over a JSON API.
func NewServeCmd() *cobra.Command {
	var (
		host       string
		port       int
		ingestRoot string
		watchDir   string
		debounce   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docchat HTTP server",
		Long: `Start the docchat HTTP server.

Every client creates its own session (POST /api/sessions) and ingests a
server-side path or uploads a file before asking questions. Sessions never
share indexes or histories. With VECTOR_STORE=qdrant each session keeps its
index behind its own alias, which is dropped when the session is deleted.

--watch indexes a synced folder into a dedicated session at startup and
re-indexes it whenever the folder changes. The session ID is logged.

Environment variables:
  DOCCHAT_API_KEY      Bearer token required on /api/sessions routes
  DOCCHAT_INGEST_ROOT  Confine ingest paths to this directory
  DOCCHAT_HISTORY_DB   SQLite history path, or "disabled"

Examples:
  docchat serve
  docchat serve --port 9090 --ingest-root /srv/docs
  docchat serve --watch ~/OneDrive/Policies`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush := tracing.Enable(tracing.FromEnv(), log)
			defer flush()

			st, err := buildStack(ctx, log, stackOptions{registerer: prometheus.DefaultRegisterer})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer st.Close()

			asst, chatModel, providerCfg, err := newAssistant(ctx, st.embedder, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			history, closeHistory := openHistory(log)
			defer closeHistory()

			mgr := session.NewManager(sessionFactory(st, asst, history))

			pingers := []server.Pinger{
				server.NewLLMPinger(chatModel, providerCfg.HealthCheck(), string(providerCfg.Backend)),
				server.NewEmbedderPinger(st.embedder, embedder.Backend()),
			}
			if st.qdrant != nil {
				pingers = append(pingers, server.NewQdrantPinger(st.qdrant))
			}

			if ingestRoot == "" {
				ingestRoot = config.String("DOCCHAT_INGEST_ROOT", "")
			}
			if !cmd.Flags().Changed("host") {
				host = config.String("DOCCHAT_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				if port, err = config.Int("DOCCHAT_PORT", port); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			}
			srv, err := server.New(mgr, &server.Config{
				Host:       host,
				Port:       port,
				Logger:     log,
				Pingers:    pingers,
				APIKey:     config.String("DOCCHAT_API_KEY", ""),
				IngestRoot: ingestRoot,
				UploadDir:  config.String("DOCCHAT_UPLOAD_DIR", ""),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })
			if watchDir != "" {
				folder, err := watchedSession(gctx, mgr, st, watchDir, debounce, log)
				if err != nil {
					stop()
					_ = g.Wait()
					return fmt.Errorf("serve: %w", err)
				}
				g.Go(func() error { return folder.Run(gctx) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")
	cmd.Flags().StringVar(&ingestRoot, "ingest-root", "", "Confine ingest paths to this directory (default: DOCCHAT_INGEST_ROOT)")
	cmd.Flags().StringVar(&watchDir, "watch", "", "Synced folder to index into a dedicated session and keep up to date")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before a folder change triggers re-indexing")

	return cmd
}

// sessionFactory builds isolated sessions. With Qdrant each session gets its
// own alias derived from QDRANT_COLLECTION, dropped on delete.
func sessionFactory(st *stack, asst *assistant.Assistant, history store.HistoryStore) session.Factory {
	return func(ctx context.Context, id string) (*session.Session, error) {
		cfg := session.Config{
			ID:      id,
			Builder: st.pipeline,
			Asker:   asst,
			Store:   history,
		}
		if st.qdrant != nil {
			qb := st.qdrant.ForAlias(st.qdrant.Alias() + "-" + id)
			cfg.Builder = st.pipeline.WithBuilder(qb)
			cfg.OnClear = qb.Drop
		}
		return session.New(ctx, cfg)
	}
}

// watchedSession creates a session for dir, indexes it once and returns a
// watcher that re-indexes it on change.
func watchedSession(ctx context.Context, mgr *session.Manager, st *stack, dir string, debounce time.Duration, log *slog.Logger) (*watch.Folder, error) {
	sess, err := mgr.Create(ctx)
	if err != nil {
		return nil, err
	}
	log = log.With(slog.String("session", sess.ID()), slog.String("folder", dir))
	if _, err := sess.Ingest(ctx, dir, progressPrinter(log)); err != nil {
		return nil, err
	}
	log.Info("watch: folder indexed, session ready")

	return watch.New(watch.Config{
		Root:     dir,
		Debounce: debounce,
		Relevant: st.loader.Supports,
		Logger:   log,
		OnChange: func(ctx context.Context, changed []string) error {
			_, err := sess.Ingest(ctx, dir, progressPrinter(log))
			return err
		},
	})
}
