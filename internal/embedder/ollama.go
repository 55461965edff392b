package embedder

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// OllamaEmbedder calls a local Ollama server's /api/embed endpoint, which
// accepts a whole batch per request. It is safe for concurrent use.
type OllamaEmbedder struct {
	// host is the server base URL without a trailing slash.
	host string
	// model is the embedding model name (e.g. "nomic-embed-text").
	model string
	// endpoint performs the HTTP exchange.
	endpoint *jsonEndpoint
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name.
	Model string
	// Timeout bounds a single request (default 60s). Cold model loads on
	// CPU-only hosts are slow.
	Timeout time.Duration
}

// NewOllamaEmbedder constructs an OllamaEmbedder from cfg.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaEmbedder{
		host:  strings.TrimRight(cfg.Host, "/"),
		model: cfg.Model,
		endpoint: &jsonEndpoint{
			service:   "ollama embedder",
			client:    &http.Client{Timeout: timeout},
			errorText: stringError,
		},
	}
}

// ollamaEmbedRequest is the JSON body sent to /api/embed.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the successful /api/embed answer.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one vector per text, parallel to texts.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp ollamaEmbedResponse
	if err := e.endpoint.post(ctx, e.host+"/api/embed", ollamaEmbedRequest{Model: e.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if err := e.endpoint.checkCount(len(texts), len(resp.Embeddings)); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

// Ping checks that the server answers on /api/tags, which costs no compute.
func (e *OllamaEmbedder) Ping(ctx context.Context) error {
	return ping(ctx, e.endpoint.client, e.host+"/api/tags", nil)
}
