package embedder

import (
	"context"
	"fmt"

	"github.com/54b3r/docchat-go/internal/rag"
)

// DefaultBatchSize is the number of texts sent per request by Batched.
const DefaultBatchSize = 32

// BatchedEmbedder splits large inputs into fixed-size requests so n texts cost
// ceil(n/size) round-trips. Batches run sequentially and in order.
type BatchedEmbedder struct {
	// next is the wrapped embedder.
	next rag.Embedder
	// size is the maximum number of texts per call to next.
	size int
	// onBatch, if set, is called after each completed batch with the number
	// of texts embedded so far.
	onBatch func(done, total int)
}

// Batched wraps e so that no single call carries more than size texts.
// A size <= 0 selects DefaultBatchSize.
func Batched(e rag.Embedder, size int) *BatchedEmbedder {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &BatchedEmbedder{next: e, size: size}
}

// OnBatch registers a progress callback and returns the embedder.
func (b *BatchedEmbedder) OnBatch(fn func(done, total int)) *BatchedEmbedder {
	b.onBatch = fn
	return b
}

// Unwrap returns the wrapped embedder.
func (b *BatchedEmbedder) Unwrap() rag.Embedder { return b.next }

// Embed embeds texts batch by batch and concatenates the results.
func (b *BatchedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.size {
		end := min(start+b.size, len(texts))
		vecs, err := b.next.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedder: batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, rag.Upstream("embedder", fmt.Errorf("batch %d-%d: expected %d embeddings, got %d", start, end, end-start, len(vecs)))
		}
		out = append(out, vecs...)
		if b.onBatch != nil {
			b.onBatch(end, len(texts))
		}
	}
	return out, nil
}
