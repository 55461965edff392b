package rag

import (
	"context"
	"fmt"
	"strings"
)

// contextSeparator separates chunk texts inside a rendered context block.
const contextSeparator = "\n\n"

// Retriever combines an Embedder and an Index. It embeds the question at
// retrieval time and delegates ranking to the index.
type Retriever struct {
	// embedder converts question text to a dense vector. It must be the
	// embedder the index was built with.
	embedder Embedder

	// opts is the retrieval preset applied to every query.
	opts QueryOptions
}

// NewRetriever constructs a Retriever from the given Embedder and options.
func NewRetriever(embedder Embedder, opts QueryOptions) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("rag: %w", err)
	}
	return &Retriever{embedder: embedder, opts: opts}, nil
}

// Options returns the retrieval options used by Retrieve.
func (r *Retriever) Options() QueryOptions { return r.opts }

// Retrieve embeds the question and returns the ranked chunks from idx.
// A nil or unbuilt index yields ErrEmptyIndex without calling the embedder.
func (r *Retriever) Retrieve(ctx context.Context, idx Index, question string) ([]Chunk, error) {
	if idx == nil || idx.Len() == 0 {
		return nil, fmt.Errorf("rag: %w", ErrEmptyIndex)
	}

	vec, err := EmbedOne(ctx, r.embedder, question)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}

	chunks, err := idx.Query(ctx, vec, r.opts)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	return chunks, nil
}

// BuildContext joins chunk texts with a blank line in rank order. No
// deduplication or truncation is applied.
func BuildContext(chunks []Chunk) string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return strings.Join(texts, contextSeparator)
}

// Sources returns the distinct source paths of chunks in first-seen order.
func Sources(chunks []Chunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c.SourcePath]; ok {
			continue
		}
		seen[c.SourcePath] = struct{}{}
		out = append(out, c.SourcePath)
	}
	return out
}
