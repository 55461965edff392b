// Package rag defines the shared types and interfaces of the retrieval
// pipeline: loaded documents, chunks, embedders, and vector indexes.
// Concrete implementations (HTTP embedders, in-memory and Qdrant indexes)
// satisfy these interfaces so the assistant and session layers never depend
// on a specific backend.
package rag

import (
	"context"
)

// FileType identifies the extraction routine a Document came from.
type FileType string

const (
	// FileTypePDF is a page of a PDF file.
	FileTypePDF FileType = "pdf"
	// FileTypeDOCX is a Word (Office Open XML) document.
	FileTypeDOCX FileType = "docx"
	// FileTypeTXT is a UTF-8 plain text file.
	FileTypeTXT FileType = "txt"
)

// Document is one unit of extracted text: a single PDF page or a whole
// DOCX/TXT file. Documents are immutable once the loader returns them.
type Document struct {
	// SourcePath is the file the text was extracted from.
	SourcePath string

	// Content is the extracted text.
	Content string

	// Page is the 1-based page number for PDF documents, 0 otherwise.
	Page int

	// FileType records which extractor produced the document.
	FileType FileType
}

// Chunk is a window of a Document's text that is embedded and indexed.
type Chunk struct {
	// ID is a deterministic identifier derived from the source and position.
	ID string

	// Text is the chunk content.
	Text string

	// SourcePath is the file of the Document this chunk was cut from.
	SourcePath string

	// Page is the page of the source Document (0 when not paged).
	Page int

	// FileType is the source Document's file type.
	FileType FileType

	// Offset is the rune offset of Text inside the source Document content.
	Offset int

	// Index is the ordinal of this chunk within its source Document.
	Index int

	// Score is the cosine similarity to the query vector, set by Index.Query.
	// Zero value means the score was not computed.
	Score float32
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be deterministic for a fixed model and safe to call
// from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is a built, read-only vector index. Implementations must be safe for
// concurrent readers.
type Index interface {
	// Query returns chunks ranked for queryVector according to opts.
	// An index that was never built returns ErrEmptyIndex.
	Query(ctx context.Context, queryVector []float32, opts QueryOptions) ([]Chunk, error)

	// Len returns the number of indexed chunks.
	Len() int

	// Close releases resources held by the index. Closing an in-memory index
	// is a no-op; closing a persistent index may delete its backing storage.
	Close() error
}

// IndexBuilder constructs a new Index from chunks and their embeddings.
// vectors must be parallel to chunks: vectors[i] is the embedding of chunks[i].
type IndexBuilder interface {
	// Build constructs a complete index. The previous index (if any) is not
	// touched; callers swap handles once Build returns successfully.
	Build(ctx context.Context, chunks []Chunk, vectors [][]float32) (Index, error)
}

// EmbedOne embeds a single text using the batched Embedder interface.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, &UpstreamError{Service: "embedder", Err: errEmptyEmbedding}
	}
	return vecs[0], nil
}
