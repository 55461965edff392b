// Package ingestion implements the document ingestion pipeline.
// It loads files from disk, chunks the content, embeds each chunk, and builds
// a fresh vector index. This pipeline backs `docchat ingest`, the session
// ingest operation and folder re-indexing.
package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/docchat-go/internal/chunker"
	"github.com/54b3r/docchat-go/internal/loader"
	"github.com/54b3r/docchat-go/internal/rag"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to chunker.DefaultSize if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	// Must be smaller than ChunkSize.
	ChunkOverlap int

	// Registerer receives the pipeline metrics. Nil keeps them unregistered.
	Registerer prometheus.Registerer
}

// Stats describes a completed build.
type Stats struct {
	// Files is the number of files that produced documents.
	Files int `json:"files"`
	// Documents is the number of extracted documents (PDF pages count singly).
	Documents int `json:"documents"`
	// Chunks is the number of indexed chunks.
	Chunks int `json:"chunks"`
	// Skipped lists files a directory walk could not load.
	Skipped []loader.Skipped `json:"skipped,omitempty"`
	// Duration is the wall-clock build time.
	Duration time.Duration `json:"duration_ns"`
}

// Pipeline orchestrates the load → chunk → embed → build flow.
type Pipeline struct {
	// loader reads files into documents.
	loader *loader.Loader

	// embedder converts text chunks into dense vector embeddings.
	embedder rag.Embedder

	// builder constructs the index from embedded chunks.
	builder rag.IndexBuilder

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// metrics records build outcomes.
	metrics *pipelineMetrics
}

// pipelineMetrics holds the Prometheus collectors owned by a Pipeline.
type pipelineMetrics struct {
	// buildsTotal counts builds partitioned by outcome: "ok" or "error".
	buildsTotal *prometheus.CounterVec
	// durationSeconds records wall-clock build time.
	durationSeconds prometheus.Histogram
	// chunksTotal counts indexed chunks across all builds.
	chunksTotal prometheus.Counter
	// skippedFilesTotal counts files skipped during directory walks.
	skippedFilesTotal prometheus.Counter
}

func newPipelineMetrics(reg prometheus.Registerer) *pipelineMetrics {
	factory := promauto.With(reg)
	return &pipelineMetrics{
		buildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "ingest",
			Name:      "builds_total",
			Help:      "Total number of index builds, partitioned by outcome.",
		}, []string{"outcome"}),
		durationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docchat",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of index builds.",
			Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900},
		}),
		chunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Total number of chunks indexed.",
		}),
		skippedFilesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "ingest",
			Name:      "skipped_files_total",
			Help:      "Total number of files skipped during directory ingestion.",
		}),
	}
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
// Invalid chunking parameters fail here with rag.ErrInvalidConfiguration.
func NewPipeline(l *loader.Loader, embedder rag.Embedder, builder rag.IndexBuilder, cfg *Config) (*Pipeline, error) {
	if l == nil {
		return nil, fmt.Errorf("ingestion: loader must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if builder == nil {
		return nil, fmt.Errorf("ingestion: index builder must not be nil")
	}
	if cfg == nil {
		cfg = &Config{ChunkSize: chunker.DefaultSize, ChunkOverlap: chunker.DefaultOverlap}
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = chunker.DefaultSize
	}
	if err := chunker.Validate(cfg.ChunkSize, cfg.ChunkOverlap); err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Pipeline{
		loader:   l,
		embedder: embedder,
		builder:  builder,
		cfg:      cfg,
		metrics:  newPipelineMetrics(reg),
	}, nil
}

// WithBuilder returns a copy of p that indexes into b. The copy shares p's
// loader, embedder and metrics, so per-session builders do not register
// collectors twice.
func (p *Pipeline) WithBuilder(b rag.IndexBuilder) *Pipeline {
	cp := *p
	cp.builder = b
	return &cp
}

// Embedder returns the embedder used at build time. Queries against an index
// built by this pipeline must use the same embedder.
func (p *Pipeline) Embedder() rag.Embedder { return p.embedder }

// Build loads path (a file or a directory tree), chunks, embeds and indexes
// it. The returned index is complete; nothing is published on error.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Build(ctx context.Context, path string, progress func(msg string)) (rag.Index, *Stats, error) {
	return p.BuildAs(ctx, path, path, progress)
}

// BuildAs is Build with every source path rebased from path onto label, so
// content staged in a temporary location is cited by its user-facing name.
func (p *Pipeline) BuildAs(ctx context.Context, path, label string, progress func(msg string)) (idx rag.Index, stats *Stats, err error) {
	if progress == nil {
		progress = func(string) {}
	}
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		p.metrics.buildsTotal.WithLabelValues(outcome).Inc()
		p.metrics.durationSeconds.Observe(time.Since(start).Seconds())
	}()

	progress(fmt.Sprintf("loading %s", path))
	res, err := p.loader.Load(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("ingestion: load failed for %s: %w", path, err)
	}
	p.metrics.skippedFilesTotal.Add(float64(len(res.Skipped)))
	progress(fmt.Sprintf("loaded %d documents from %d files (%d skipped)", len(res.Documents), res.Files, len(res.Skipped)))
	relabel(res.Documents, path, label)

	chunks, err := chunker.Split(res.Documents, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		return nil, nil, fmt.Errorf("ingestion: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil, fmt.Errorf("ingestion: %s contains no text: %w", path, rag.ErrEmptyCorpus)
	}
	progress(fmt.Sprintf("split into %d chunks", len(chunks)))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("ingestion: embedding failed: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, nil, fmt.Errorf("ingestion: %w", rag.Upstream("embedder", fmt.Errorf("expected %d embeddings, got %d", len(chunks), len(vectors))))
	}

	idx, err = p.builder.Build(ctx, chunks, vectors)
	if err != nil {
		return nil, nil, fmt.Errorf("ingestion: index build failed: %w", err)
	}
	p.metrics.chunksTotal.Add(float64(len(chunks)))

	stats = &Stats{
		Files:     res.Files,
		Documents: len(res.Documents),
		Chunks:    len(chunks),
		Skipped:   res.Skipped,
		Duration:  time.Since(start),
	}
	progress(fmt.Sprintf("indexed %d chunks in %s", len(chunks), stats.Duration.Round(time.Millisecond)))
	return idx, stats, nil
}

// relabel rewrites each document's SourcePath from below root to below label.
// A document whose path is not under root keeps it.
func relabel(docs []rag.Document, root, label string) {
	if label == "" || label == root {
		return
	}
	for i := range docs {
		rel, err := filepath.Rel(root, docs[i].SourcePath)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if rel == "." {
			docs[i].SourcePath = label
			continue
		}
		docs[i].SourcePath = filepath.Join(label, rel)
	}
}
