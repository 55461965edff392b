package rag

import (
	"strings"

	"github.com/54b3r/docchat-go/internal/config"
)

// SearchMode selects the ranking strategy of Index.Query.
type SearchMode string

const (
	// ModeSimilarity returns the k nearest chunks by cosine similarity.
	ModeSimilarity SearchMode = "similarity"
	// ModeMMR re-ranks the fetch_k nearest chunks by maximal marginal relevance.
	ModeMMR SearchMode = "mmr"
)

// QueryOptions controls a single Index.Query call.
type QueryOptions struct {
	// Mode is the ranking strategy.
	Mode SearchMode

	// K is the number of chunks to return.
	K int

	// FetchK is the candidate pool size for MMR. Ignored in similarity mode.
	FetchK int

	// Lambda trades relevance (1.0) against diversity (0.0) in MMR mode.
	Lambda float64
}

// SimilarityPreset returns plain top-3 similarity retrieval.
func SimilarityPreset() QueryOptions {
	return QueryOptions{Mode: ModeSimilarity, K: 3}
}

// MMRPreset returns MMR retrieval of 6 chunks out of 20 candidates.
func MMRPreset() QueryOptions {
	return QueryOptions{Mode: ModeMMR, K: 6, FetchK: 20, Lambda: 0.5}
}

// Validate reports whether the options can be executed.
func (o QueryOptions) Validate() error {
	if o.K <= 0 {
		return Invalid("k must be > 0, got %d", o.K)
	}
	switch o.Mode {
	case ModeSimilarity:
		return nil
	case ModeMMR:
		if o.FetchK <= 0 {
			return Invalid("fetch_k must be > 0, got %d", o.FetchK)
		}
		if o.Lambda < 0 || o.Lambda > 1 {
			return Invalid("lambda must be within [0, 1], got %g", o.Lambda)
		}
		return nil
	default:
		return Invalid("unknown retrieval mode %q", o.Mode)
	}
}

// OptionsFromEnv resolves retrieval options from env vars. RETRIEVAL_MODE
// picks the preset (similarity by default); RETRIEVAL_K, RETRIEVAL_FETCH_K
// and RETRIEVAL_LAMBDA override individual fields.
func OptionsFromEnv() (QueryOptions, error) {
	var opts QueryOptions
	switch mode := strings.ToLower(config.String("RETRIEVAL_MODE", string(ModeSimilarity))); SearchMode(mode) {
	case ModeSimilarity:
		opts = SimilarityPreset()
	case ModeMMR:
		opts = MMRPreset()
	default:
		return QueryOptions{}, Invalid("RETRIEVAL_MODE=%q (want similarity or mmr)", mode)
	}

	var err error
	if opts.K, err = config.Int("RETRIEVAL_K", opts.K); err != nil {
		return QueryOptions{}, Invalid("%v", err)
	}
	if opts.FetchK, err = config.Int("RETRIEVAL_FETCH_K", opts.FetchK); err != nil {
		return QueryOptions{}, Invalid("%v", err)
	}
	if opts.Lambda, err = config.Float("RETRIEVAL_LAMBDA", opts.Lambda); err != nil {
		return QueryOptions{}, Invalid("%v", err)
	}
	return opts, opts.Validate()
}
