// Package chunker splits documents into overlapping fixed-size windows.
package chunker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/54b3r/docchat-go/internal/rag"
)

const (
	// DefaultSize is the default window length in characters.
	DefaultSize = 1000
	// DefaultOverlap is the default number of characters shared by neighbours.
	DefaultOverlap = 200
)

// chunkNamespace seeds the name-based UUIDs assigned to chunks.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("docchat:chunk"))

// Validate checks the window parameters.
func Validate(size, overlap int) error {
	if overlap < 0 {
		return rag.Invalid("chunk overlap must be >= 0, got %d", overlap)
	}
	if size <= overlap {
		return rag.Invalid("chunk size (%d) must be greater than overlap (%d)", size, overlap)
	}
	return nil
}

// Split cuts every document into windows of size characters (runes),
// advancing by size-overlap. The last window of a document may be shorter.
// Documents whose content is empty or whitespace-only produce no chunks.
func Split(docs []rag.Document, size, overlap int) ([]rag.Chunk, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}

	var out []rag.Chunk
	for _, doc := range docs {
		out = append(out, splitOne(doc, size, overlap)...)
	}
	return out, nil
}

// splitOne windows a single document.
func splitOne(doc rag.Document, size, overlap int) []rag.Chunk {
	if strings.TrimSpace(doc.Content) == "" {
		return nil
	}
	runes := []rune(doc.Content)
	step := size - overlap

	var chunks []rag.Chunk
	for start := 0; ; start += step {
		end := min(start+size, len(runes))
		idx := len(chunks)
		chunks = append(chunks, rag.Chunk{
			ID:         chunkID(doc, idx),
			Text:       string(runes[start:end]),
			SourcePath: doc.SourcePath,
			Page:       doc.Page,
			FileType:   doc.FileType,
			Offset:     start,
			Index:      idx,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// chunkID derives a stable UUID from the chunk's source and position so the
// same corpus always yields the same identifiers.
func chunkID(doc rag.Document, idx int) string {
	name := doc.SourcePath + "#" + strconv.Itoa(doc.Page) + "#" + strconv.Itoa(idx)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}
