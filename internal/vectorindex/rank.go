// Package vectorindex implements rag.Index: an exact in-memory cosine index
// and a Qdrant-backed index. Both share the ranking code in this file so that
// similarity and MMR selection behave identically regardless of storage.
package vectorindex

import (
	"fmt"
	"math"
	"sort"

	"github.com/54b3r/docchat-go/internal/rag"
)

// candidate is a scored chunk awaiting selection.
type candidate struct {
	// ord is the chunk's position in the build input; it breaks score ties.
	ord int
	// score is the cosine similarity to the query.
	score float32
	// vec is the chunk embedding (needed by MMR only).
	vec []float32
}

// validateBuild checks that chunks and vectors are parallel, non-empty and of
// one dimension, and returns that dimension.
func validateBuild(chunks []rag.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, rag.Invalid("got %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("nothing to index: %w", rag.ErrEmptyCorpus)
	}
	dim := len(vectors[0])
	if dim == 0 {
		return 0, rag.Invalid("vector 0 is empty")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, rag.Invalid("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return dim, nil
}

// norm returns the Euclidean length of v.
func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// cosine returns the cosine similarity of a and b given their norms.
// A zero-length vector has similarity 0 to everything.
func cosine(a, b []float32, na, nb float64) float32 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (na * nb))
}

// sortByScore orders candidates by descending score, then ascending ord.
func sortByScore(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].ord < cands[j].ord
	})
}

// selectMMR greedily picks up to k candidates maximising
// lambda*sim(c, q) - (1-lambda)*max sim(c, s) over the selected set s.
// cands must already be sorted by sortByScore; a tie keeps the better-ranked
// candidate. The result never contains duplicates.
func selectMMR(cands []candidate, k int, lambda float64) []candidate {
	k = min(k, len(cands))
	norms := make([]float64, len(cands))
	for i, c := range cands {
		norms[i] = norm(c.vec)
	}

	used := make([]bool, len(cands))
	// maxSim[i] is the highest similarity of candidate i to any selected one.
	maxSim := make([]float64, len(cands))
	out := make([]candidate, 0, k)

	for len(out) < k {
		best := -1
		bestScore := math.Inf(-1)
		for i, c := range cands {
			if used[i] {
				continue
			}
			penalty := 0.0
			if len(out) > 0 {
				penalty = maxSim[i]
			}
			s := lambda*float64(c.score) - (1-lambda)*penalty
			if s > bestScore {
				best, bestScore = i, s
			}
		}
		used[best] = true
		out = append(out, cands[best])

		for i, c := range cands {
			if used[i] {
				continue
			}
			sim := float64(cosine(c.vec, cands[best].vec, norms[i], norms[best]))
			if len(out) == 1 || sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}
	return out
}
