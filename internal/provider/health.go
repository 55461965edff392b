package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// healthCheckTimeout bounds a single probe when the caller's context has no
// deadline.
const healthCheckTimeout = 5 * time.Second

// httpHealthCheck probes a metadata endpoint that costs no tokens, such as a
// model listing.
type httpHealthCheck struct {
	// url is the endpoint to GET.
	url string
	// header carries authentication for the request.
	header http.Header
	// client performs the request.
	client *http.Client
}

// HealthCheck issues a GET and treats any 2xx response as healthy.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: build health request: %w", err)
	}
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider: health check %s returned HTTP %d", h.url, resp.StatusCode)
	}
	return nil
}

// HealthCheck returns a zero-token probe for the configured backend, or nil
// when the backend exposes no cheap endpoint (bedrock, gemini). Callers fall
// back to a generate-based probe in that case.
func (c *Config) HealthCheck() HealthCheckConfig {
	client := &http.Client{Timeout: healthCheckTimeout}
	bearer := func(token string) http.Header {
		return http.Header{"Authorization": []string{"Bearer " + token}}
	}
	switch c.Backend {
	case BackendOllama:
		return &httpHealthCheck{
			url:    strings.TrimRight(c.Ollama.Host, "/") + "/api/tags",
			client: client,
		}
	case BackendOpenAI:
		return &httpHealthCheck{
			url:    "https://api.openai.com/v1/models",
			header: bearer(c.OpenAI.APIKey),
			client: client,
		}
	case BackendAzure:
		return &httpHealthCheck{
			url: fmt.Sprintf("%s/openai/models?api-version=%s",
				strings.TrimRight(c.AzureOpenAI.Endpoint, "/"), c.AzureOpenAI.APIVersion),
			header: http.Header{"Api-Key": []string{c.AzureOpenAI.APIKey}},
			client: client,
		}
	case BackendHuggingFace:
		endpoint := c.HuggingFace.Endpoint
		if endpoint == "" {
			endpoint = DefaultHFEndpoint
		}
		return &httpHealthCheck{
			url:    strings.TrimRight(endpoint, "/") + "/models",
			header: bearer(c.HuggingFace.Token),
			client: client,
		}
	}
	return nil
}
