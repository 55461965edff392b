package commands

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/loader"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/vectorindex"
)

type constEmbedder struct{}

func (constEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

var _ rag.Embedder = constEmbedder{}

func TestScratchAlias(t *testing.T) {
	t.Parallel()

	a := scratchAlias("docchat", "ask")
	b := scratchAlias("docchat", "ask")
	assert.True(t, strings.HasPrefix(a, "docchat-ask-"), a)
	assert.NotEqual(t, "docchat", a)
	assert.NotEqual(t, a, b, "concurrent runs must not share an alias")
}

func TestScratch_MemoryBackendUsesSharedPipeline(t *testing.T) {
	t.Parallel()

	p, err := ingestion.NewPipeline(loader.New(logging.Discard()), constEmbedder{}, vectorindex.NewMemoryBuilder(), nil)
	require.NoError(t, err)
	st := &stack{pipeline: p, log: logging.Discard()}

	got, drop := st.scratch("chat")
	assert.Same(t, p, got)
	drop(context.Background())
}
