package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/54b3r/docchat-go/internal/config"
)

// embeddingMarkers identify dedicated embedding models. A name containing one
// is never treated as a chat model, so "nomic-embed-text" or
// "bge-m3" pass even though other fragments might match.
var embeddingMarkers = []string{"embed", "minilm", "mpnet", "bge-", "gte-", "e5-", "sentence-transformers/"}

// chatModelFragments identify chat and completion model families.
var chatModelFragments = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3",
	"llama", "mistral", "mixtral", "gemma", "phi-", "phi3",
	"claude", "command-r", "deepseek", "qwen", "solar", "vicuna", "falcon", "yi-",
}

// looksLikeChatModel reports whether model resembles a chat model rather than
// an embedding model.
func looksLikeChatModel(model string) bool {
	name := strings.ToLower(model)
	for _, m := range embeddingMarkers {
		if strings.Contains(name, m) {
			return false
		}
	}
	for _, f := range chatModelFragments {
		if strings.Contains(name, f) {
			return true
		}
	}
	return false
}

// ValidateForRAG fails fast on an embedding configuration that cannot work
// (unknown backend, missing credentials, malformed numbers) so the operator
// sees the cause before the first ingest instead of during it. Suspicious but
// usable settings are logged at WARN.
func ValidateForRAG(log *slog.Logger) error {
	backend := Backend()
	if os.Getenv("EMBEDDING_PROVIDER") == "" && backend != "ollama" {
		log.Warn("embedder: EMBEDDING_PROVIDER unset, using the chat backend for embeddings",
			slog.String("backend", backend),
			slog.String("hint", "set EMBEDDING_PROVIDER explicitly (ollama, openai, azure, huggingface)"),
		)
	}

	if _, err := newBackend(backend); err != nil {
		return err
	}
	for _, key := range []string{"EMBEDDING_BATCH_SIZE", "EMBEDDING_MAX_RETRIES", "EMBEDDING_DIMENSIONS"} {
		if _, err := config.Int(key, 0); err != nil {
			return fmt.Errorf("embedder: %w", err)
		}
	}

	if model := os.Getenv("EMBEDDING_MODEL"); model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model; retrieval quality will suffer",
			slog.String("model", model),
			slog.String("hint", "use an embedding model such as sentence-transformers/all-MiniLM-L6-v2 or nomic-embed-text"),
		)
	}
	return nil
}
