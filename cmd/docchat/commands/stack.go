package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docchat-go/internal/assistant"
	"github.com/54b3r/docchat-go/internal/budget"
	"github.com/54b3r/docchat-go/internal/chunker"
	"github.com/54b3r/docchat-go/internal/config"
	"github.com/54b3r/docchat-go/internal/embedder"
	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/loader"
	"github.com/54b3r/docchat-go/internal/provider"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/store"
	"github.com/54b3r/docchat-go/internal/vectorindex"
)

// Vector store backends selectable with VECTOR_STORE.
const (
	vectorStoreMemory = "memory"
	vectorStoreQdrant = "qdrant"
)

// stack bundles the components shared by every command.
type stack struct {
	// loader reads PDF, DOCX and TXT files.
	loader *loader.Loader
	// embedder is the batched, optionally retrying embedding client.
	embedder *embedder.BatchedEmbedder
	// pipeline builds indexes with the configured default builder.
	pipeline *ingestion.Pipeline
	// qdrant is the alias-managing builder, nil for the memory backend.
	qdrant *vectorindex.QdrantBuilder
	// log is the command logger.
	log *slog.Logger
}

// stackOptions tunes buildStack for a command.
type stackOptions struct {
	// registerer receives pipeline metrics; nil keeps them unregistered.
	registerer prometheus.Registerer
}

// buildStack validates the embedding configuration and constructs the
// loader, embedder, vector store and ingestion pipeline from env vars.
func buildStack(ctx context.Context, log *slog.Logger, opts stackOptions) (*stack, error) {
	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("provider", embedder.Backend()))

	size, err := config.Int("CHUNK_SIZE", chunker.DefaultSize)
	if err != nil {
		return nil, err
	}
	overlap, err := config.Int("CHUNK_OVERLAP", chunker.DefaultOverlap)
	if err != nil {
		return nil, err
	}

	s := &stack{loader: loader.New(log), embedder: emb, log: log}

	var builder rag.IndexBuilder = vectorindex.NewMemoryBuilder()
	switch backend := strings.ToLower(config.String("VECTOR_STORE", vectorStoreMemory)); backend {
	case vectorStoreMemory:
	case vectorStoreQdrant:
		qb, err := newQdrantBuilder(log)
		if err != nil {
			return nil, err
		}
		if err := qb.Ping(ctx); err != nil {
			_ = qb.Close()
			return nil, fmt.Errorf("qdrant unreachable: %w", err)
		}
		s.qdrant = qb
		builder = qb
	default:
		return nil, rag.Invalid("VECTOR_STORE must be %s or %s, got %q", vectorStoreMemory, vectorStoreQdrant, backend)
	}

	s.pipeline, err = ingestion.NewPipeline(s.loader, emb, builder, &ingestion.Config{
		ChunkSize:    size,
		ChunkOverlap: overlap,
		Registerer:   opts.registerer,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// newQdrantBuilder reads the QDRANT_* env vars.
func newQdrantBuilder(log *slog.Logger) (*vectorindex.QdrantBuilder, error) {
	port, err := config.Int("QDRANT_PORT", 6334)
	if err != nil {
		return nil, err
	}
	useTLS, err := config.Bool("QDRANT_TLS", false)
	if err != nil {
		return nil, err
	}
	cfg := &vectorindex.QdrantConfig{
		Host:       config.String("QDRANT_HOST", "localhost"),
		Port:       port,
		Collection: config.String("QDRANT_COLLECTION", "docchat"),
		APIKey:     config.String("QDRANT_API_KEY", ""),
		UseTLS:     useTLS,
	}
	qb, err := vectorindex.NewQdrantBuilder(cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("qdrant store ready",
		slog.String("host", cfg.Host),
		slog.Int("port", cfg.Port),
		slog.String("collection", cfg.Collection),
	)
	return qb, nil
}

// persisted opens the index last built into the Qdrant alias. It returns
// nil without error for the memory backend or when nothing was built yet.
func (s *stack) persisted(ctx context.Context) (rag.Index, error) {
	if s.qdrant == nil {
		return nil, nil
	}
	idx, err := s.qdrant.Open(ctx)
	if errors.Is(err, rag.ErrEmptyIndex) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// scratch returns the pipeline for documents loaded by ask --path or /load.
// With Qdrant they go into a private alias so the collection maintained by
// `docchat ingest` survives; the returned func drops that alias again.
func (s *stack) scratch(owner string) (*ingestion.Pipeline, func(context.Context)) {
	if s.qdrant == nil {
		return s.pipeline, func(context.Context) {}
	}
	qb := s.qdrant.ForAlias(scratchAlias(s.qdrant.Alias(), owner))
	return s.pipeline.WithBuilder(qb), func(ctx context.Context) {
		if err := qb.Drop(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("qdrant: failed to drop scratch alias", slog.String("alias", qb.Alias()), slog.Any("error", err))
		}
	}
}

// scratchAlias names a per-process alias next to base.
func scratchAlias(base, owner string) string {
	return base + "-" + owner + "-" + uuid.NewString()[:8]
}

// alias describes the persisted index for status output.
func (s *stack) alias() string {
	if s.qdrant == nil {
		return ""
	}
	return "qdrant:" + s.qdrant.Alias()
}

// Close releases the Qdrant connection.
func (s *stack) Close() {
	if s.qdrant != nil {
		if err := s.qdrant.Close(); err != nil {
			s.log.Warn("qdrant: close failed", slog.Any("error", err))
		}
	}
}

// newAssistant builds the chat model, client and retriever. It returns the
// provider config for readiness probes.
func newAssistant(ctx context.Context, emb rag.Embedder, log *slog.Logger) (*assistant.Assistant, model.BaseChatModel, *provider.Config, error) {
	chatModel, providerCfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	retries, err := config.Int("MODEL_MAX_RETRIES", 0)
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := assistant.NewClient(chatModel, string(providerCfg.Backend), retries)
	if err != nil {
		return nil, nil, nil, err
	}

	opts, err := rag.OptionsFromEnv()
	if err != nil {
		return nil, nil, nil, err
	}
	retriever, err := rag.NewRetriever(emb, opts)
	if err != nil {
		return nil, nil, nil, err
	}

	policy, err := historyPolicy()
	if err != nil {
		return nil, nil, nil, err
	}
	a, err := assistant.New(assistant.Config{Client: client, Retriever: retriever, History: policy})
	if err != nil {
		return nil, nil, nil, err
	}
	return a, chatModel, providerCfg, nil
}

// historyPolicy reads HISTORY_MAX_TURNS and MODEL_MAX_CONTEXT_TOKENS.
func historyPolicy() (budget.Policy, error) {
	p := budget.DefaultPolicy()
	var err error
	if p.MaxTurns, err = config.Int("HISTORY_MAX_TURNS", p.MaxTurns); err != nil {
		return p, err
	}
	if p.MaxContextTokens, err = config.Int("MODEL_MAX_CONTEXT_TOKENS", p.MaxContextTokens); err != nil {
		return p, err
	}
	return p, nil
}

// openHistory opens the SQLite history store. DOCCHAT_HISTORY_DB overrides
// the default path (~/.docchat/history.db); "disabled" turns persistence
// off. Failures are logged and disable persistence rather than abort.
func openHistory(log *slog.Logger) (store.HistoryStore, func()) {
	noop := func() {}
	dbPath := config.String("DOCCHAT_HISTORY_DB", "")
	if dbPath == "disabled" {
		log.Info("history: disabled via DOCCHAT_HISTORY_DB=disabled")
		return nil, noop
	}
	if dbPath == "" {
		var err error
		if dbPath, err = store.DefaultDBPath(); err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, noop
		}
	}
	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil, noop
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return hs, func() { _ = hs.Close() }
}

// progressPrinter logs pipeline progress at INFO.
func progressPrinter(log *slog.Logger) func(string) {
	return func(msg string) { log.Info(msg) }
}
