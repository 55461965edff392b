package embedder

import (
	"context"
	"fmt"

	"github.com/54b3r/docchat-go/internal/config"
	"github.com/54b3r/docchat-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultHFModel     = "sentence-transformers/all-MiniLM-L6-v2"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultHFDimensions is the output dimension of all-MiniLM-L6-v2.
	defaultHFDimensions = 384
)

// Backend resolves the effective embedding backend: EMBEDDING_PROVIDER,
// then MODEL_PROVIDER, then "ollama".
func Backend() string {
	if b := config.String("EMBEDDING_PROVIDER", ""); b != "" {
		return b
	}
	return config.String("MODEL_PROVIDER", "ollama")
}

// DefaultDimensions returns the default embedding vector size for the given
// backend name. Callers that need to pre-configure a vector store (e.g.
// Qdrant collection creation) should use this rather than hardcoding a value.
// EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v, err := config.Int("EMBEDDING_DIMENSIONS", 0); err == nil && v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "huggingface":
		return defaultHFDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// NewFromEnv constructs a rag.Embedder using cascading defaults that inherit
// from the chat provider configuration when embedding-specific overrides are
// not set. The result batches requests (EMBEDDING_BATCH_SIZE, default 32) and,
// when EMBEDDING_MAX_RETRIES > 0, retries transient upstream failures.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER: if unset, inherits MODEL_PROVIDER (default: ollama)
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL: overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY: overrides the inherited API key
//  5. EMBEDDING_ENDPOINT: overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS: overrides the default dimensions
func NewFromEnv() (*BatchedEmbedder, error) {
	base, err := newBackend(Backend())
	if err != nil {
		return nil, err
	}

	retries, err := config.Int("EMBEDDING_MAX_RETRIES", 0)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	batch, err := config.Int("EMBEDDING_BATCH_SIZE", DefaultBatchSize)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	return Batched(WithRetry(base, retries), batch), nil
}

// newBackend builds the raw HTTP embedder for backend.
func newBackend(backend string) (rag.Embedder, error) {
	switch backend {
	case "ollama":
		host := config.String("EMBEDDING_ENDPOINT", config.String("OLLAMA_HOST", "http://localhost:11434"))
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  host,
			Model: config.String("EMBEDDING_MODEL", defaultOllamaModel),
		}), nil

	case "openai":
		apiKey := config.String("EMBEDDING_API_KEY", config.String("OPENAI_API_KEY", ""))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    config.String("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      config.String("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: DefaultDimensions("openai"),
		}), nil

	case "azure":
		apiKey := config.String("EMBEDDING_API_KEY", config.String("AZURE_OPENAI_API_KEY", ""))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := config.String("EMBEDDING_ENDPOINT", config.String("AZURE_OPENAI_ENDPOINT", ""))
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      config.String("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: DefaultDimensions("azure"),
			Azure:      true,
			APIVersion: config.String("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), nil

	case "huggingface":
		endpoint := config.String("EMBEDDING_ENDPOINT", "")
		token := config.String("EMBEDDING_API_KEY", config.String("HUGGINGFACEHUB_API_TOKEN", config.String("HF_TOKEN", "")))
		// Self-hosted TEI endpoints may be open; the hosted router never is.
		if endpoint == "" && token == "" {
			return nil, fmt.Errorf("embedder: hosted huggingface inference requires HUGGINGFACEHUB_API_TOKEN or EMBEDDING_API_KEY")
		}
		return NewHuggingFaceEmbedder(&HuggingFaceConfig{
			Endpoint: endpoint,
			Token:    token,
			Model:    config.String("EMBEDDING_MODEL", defaultHFModel),
		}), nil

	case "bedrock", "gemini":
		return nil, fmt.Errorf("embedder: %s has no embedding backend; set EMBEDDING_PROVIDER to ollama, openai, azure or huggingface", backend)

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid values: ollama, openai, azure, huggingface)", backend)
	}
}

// pinger is implemented by backends that can answer a health probe.
type pinger interface {
	Ping(ctx context.Context) error
}

// unwrapper is implemented by embedder decorators.
type unwrapper interface {
	Unwrap() rag.Embedder
}

// Ping probes the backend behind e, looking through Batched and WithRetry
// wrappers. Backends without a probe are reported healthy.
func Ping(ctx context.Context, e rag.Embedder) error {
	for e != nil {
		if p, ok := e.(pinger); ok {
			return p.Ping(ctx)
		}
		u, ok := e.(unwrapper)
		if !ok {
			return nil
		}
		e = u.Unwrap()
	}
	return nil
}
