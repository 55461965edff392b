// Package embedder turns text into dense vectors for the vector index. The
// backends (Ollama, OpenAI, Azure OpenAI, Hugging Face) are plain HTTP
// clients; decorators add batching and bounded retries. Every backend failure
// is a *rag.UpstreamError.
package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/54b3r/docchat-go/internal/rag"
)

// OpenAIEmbedder calls the OpenAI embeddings API, or an Azure OpenAI
// deployment of it. It is safe for concurrent use.
type OpenAIEmbedder struct {
	// url is the fully resolved embeddings URL.
	url string
	// model is sent in the body; for Azure it is also the deployment name.
	model string
	// dimensions requests shortened vectors (0 = model default).
	dimensions int
	// endpoint performs the HTTP exchange.
	endpoint *jsonEndpoint
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base: "https://api.openai.com/v1", or
	// "https://<resource>.openai.azure.com/openai" for Azure.
	BaseURL string
	// APIKey is the Bearer token, or the api-key header value for Azure.
	APIKey string
	// Model is the embedding model, or the Azure deployment name.
	Model string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
	// Azure selects deployment URLs and api-key authentication.
	Azure bool
	// APIVersion is the Azure api-version query value.
	APIVersion string
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from cfg.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	ep := &jsonEndpoint{
		service:   "openai embedder",
		header:    http.Header{"Authorization": {"Bearer " + cfg.APIKey}},
		client:    &http.Client{Timeout: 30 * time.Second},
		errorText: objectError,
	}
	target := cfg.BaseURL + "/embeddings"
	if cfg.Azure {
		ep.service = "azure embedder"
		ep.header = http.Header{"Api-Key": {cfg.APIKey}}
		target = fmt.Sprintf("%s/deployments/%s/embeddings?api-version=%s",
			cfg.BaseURL, url.PathEscape(cfg.Model), url.QueryEscape(cfg.APIVersion))
	}
	return &OpenAIEmbedder{
		url:        target,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		endpoint:   ep,
	}
}

// openaiEmbedRequest is the JSON body sent to the embeddings endpoint.
type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// openaiEmbedResponse is the successful JSON answer.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns one vector per text, parallel to texts.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp openaiEmbedResponse
	req := openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimensions}
	if err := e.endpoint.post(ctx, e.url, req, &resp); err != nil {
		return nil, err
	}
	if err := e.endpoint.checkCount(len(texts), len(resp.Data)); err != nil {
		return nil, err
	}

	// Entries carry their input position and may arrive in any order.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || out[d.Index] != nil {
			return nil, rag.Upstream(e.endpoint.service, fmt.Errorf("invalid or duplicate embedding index %d", d.Index))
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Ping sends a one-word embedding request; the API has no cheaper probe that
// also checks the model.
func (e *OpenAIEmbedder) Ping(ctx context.Context) error {
	_, err := e.Embed(ctx, []string{"ping"})
	return err
}
