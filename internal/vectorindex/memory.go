package vectorindex

import (
	"context"
	"fmt"

	"github.com/54b3r/docchat-go/internal/rag"
)

// MemoryIndex is an exact brute-force cosine index held in process memory.
// It is immutable after construction and safe for concurrent readers.
type MemoryIndex struct {
	// chunks holds the indexed chunks in build order.
	chunks []rag.Chunk
	// vectors is parallel to chunks.
	vectors [][]float32
	// norms caches the length of each vector.
	norms []float64
	// dim is the embedding dimension (0 for an unbuilt index).
	dim int
}

// NewMemoryIndex returns an unbuilt index. Querying it fails with
// rag.ErrEmptyIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

// MemoryBuilder builds MemoryIndex values.
type MemoryBuilder struct{}

// NewMemoryBuilder returns a builder for in-memory indexes.
func NewMemoryBuilder() *MemoryBuilder {
	return &MemoryBuilder{}
}

// Build copies chunks and vectors into a new index in O(n).
func (MemoryBuilder) Build(ctx context.Context, chunks []rag.Chunk, vectors [][]float32) (rag.Index, error) {
	dim, err := validateBuild(chunks, vectors)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := &MemoryIndex{
		chunks:  make([]rag.Chunk, len(chunks)),
		vectors: make([][]float32, len(vectors)),
		norms:   make([]float64, len(vectors)),
		dim:     dim,
	}
	copy(idx.chunks, chunks)
	for i, v := range vectors {
		idx.vectors[i] = append([]float32(nil), v...)
		idx.norms[i] = norm(v)
	}
	return idx, nil
}

// Len returns the number of indexed chunks.
func (m *MemoryIndex) Len() int { return len(m.chunks) }

// Dimension returns the embedding dimension, or 0 for an unbuilt index.
func (m *MemoryIndex) Dimension() int { return m.dim }

// Close is a no-op.
func (m *MemoryIndex) Close() error { return nil }

// Query ranks every chunk against queryVector and applies opts.
func (m *MemoryIndex) Query(ctx context.Context, queryVector []float32, opts rag.QueryOptions) ([]rag.Chunk, error) {
	if len(m.chunks) == 0 {
		return nil, fmt.Errorf("vectorindex: %w", rag.ErrEmptyIndex)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("vectorindex: %w", err)
	}
	if len(queryVector) != m.dim {
		return nil, fmt.Errorf("vectorindex: %w", rag.Invalid("query vector has dimension %d, index has %d", len(queryVector), m.dim))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qn := norm(queryVector)
	cands := make([]candidate, len(m.chunks))
	for i, v := range m.vectors {
		cands[i] = candidate{ord: i, score: cosine(queryVector, v, qn, m.norms[i]), vec: v}
	}
	sortByScore(cands)

	var picked []candidate
	switch opts.Mode {
	case rag.ModeMMR:
		pool := cands[:min(opts.FetchK, len(cands))]
		picked = selectMMR(pool, opts.K, opts.Lambda)
	default:
		picked = cands[:min(opts.K, len(cands))]
	}

	out := make([]rag.Chunk, len(picked))
	for i, c := range picked {
		out[i] = m.chunks[c.ord]
		out[i].Score = c.score
	}
	return out, nil
}
