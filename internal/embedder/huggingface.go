package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/docchat-go/internal/rag"
)

// DefaultHFEndpoint is the Hugging Face Inference router for hosted models.
const DefaultHFEndpoint = "https://router.huggingface.co/hf-inference/models"

// HuggingFaceEmbedder calls the Hugging Face Inference feature-extraction
// pipeline. Sentence-transformers models answer with one pooled vector per
// input. It is safe for concurrent use.
type HuggingFaceEmbedder struct {
	// url is the feature-extraction URL for the configured model.
	url string
	// model is the repo id (e.g. "sentence-transformers/all-MiniLM-L6-v2").
	model string
	// endpoint performs the HTTP exchange.
	endpoint *jsonEndpoint
}

// HuggingFaceConfig holds the settings for constructing a HuggingFaceEmbedder.
type HuggingFaceConfig struct {
	// Endpoint is the models base URL. Empty selects DefaultHFEndpoint.
	Endpoint string
	// Token is the access token; public TEI hosts accept none.
	Token string
	// Model is the embedding model repo id.
	Model string
}

// NewHuggingFaceEmbedder constructs a HuggingFaceEmbedder from cfg.
func NewHuggingFaceEmbedder(cfg *HuggingFaceConfig) *HuggingFaceEmbedder {
	base := strings.TrimRight(cfg.Endpoint, "/")
	if base == "" {
		base = DefaultHFEndpoint
	}
	ep := &jsonEndpoint{
		service:   "huggingface embedder",
		client:    &http.Client{Timeout: 60 * time.Second},
		errorText: stringError,
	}
	if cfg.Token != "" {
		ep.header = http.Header{"Authorization": {"Bearer " + cfg.Token}}
	}
	return &HuggingFaceEmbedder{
		url:      base + "/" + cfg.Model + "/pipeline/feature-extraction",
		model:    cfg.Model,
		endpoint: ep,
	}
}

// hfEmbedRequest is the JSON body sent to the feature-extraction pipeline.
type hfEmbedRequest struct {
	Inputs  []string     `json:"inputs"`
	Options hfEmbedFlags `json:"options"`
}

// hfEmbedFlags asks the router to block until a cold model is loaded.
type hfEmbedFlags struct {
	WaitForModel bool `json:"wait_for_model"`
}

// Embed returns one vector per text, parallel to texts.
func (e *HuggingFaceEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var raw json.RawMessage
	req := hfEmbedRequest{Inputs: texts, Options: hfEmbedFlags{WaitForModel: true}}
	if err := e.endpoint.post(ctx, e.url, req, &raw); err != nil {
		return nil, err
	}
	// Token-level models answer with [][][]float32 and fail this decode;
	// only pooled sentence embeddings are usable.
	var vecs [][]float32
	if err := json.Unmarshal(raw, &vecs); err != nil {
		return nil, rag.Upstream(e.endpoint.service, fmt.Errorf("model %q must return pooled sentence embeddings: %w", e.model, err))
	}
	if err := e.endpoint.checkCount(len(texts), len(vecs)); err != nil {
		return nil, err
	}
	return vecs, nil
}

// Ping sends a one-word embedding request.
func (e *HuggingFaceEmbedder) Ping(ctx context.Context) error {
	_, err := e.Embed(ctx, []string{"ping"})
	return err
}
