package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/54b3r/docchat-go/internal/rag"
)

// maxResponseBytes caps an embedding response body. A batch of 32 vectors of
// 3072 floats encodes to well under this.
const maxResponseBytes = 64 << 20

// StatusError is a non-2xx answer from an embedding endpoint.
type StatusError struct {
	// Code is the HTTP status code.
	Code int
	// Message is the decoded error message, or "HTTP <code>".
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string { return e.Message }

// statusError builds a *StatusError for code.
func statusError(code int, msg string) error {
	return &StatusError{Code: code, Message: msg}
}

// transient reports whether err is worth retrying: network failures, 408,
// 429 and 5xx answers. Other 4xx answers are permanent.
func transient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusRequestTimeout ||
			se.Code == http.StatusTooManyRequests ||
			se.Code >= 500
	}
	return true
}

// jsonEndpoint is the HTTP plumbing shared by the embedding backends.
type jsonEndpoint struct {
	// service names the backend in upstream errors.
	service string
	// header is added to every request (authentication).
	header http.Header
	// client performs the requests.
	client *http.Client
	// errorText extracts the backend's error message from a failure body.
	// It returns "" when the body carries none.
	errorText func(body []byte) string
}

// post sends body as JSON to url and decodes a 2xx answer into out. Transport
// failures, non-2xx answers and undecodable bodies are *rag.UpstreamError.
func (c *jsonEndpoint) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", c.service, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", c.service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range c.header {
		req.Header[k] = vs
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return rag.Upstream(c.service, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return rag.Upstream(c.service, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if c.errorText != nil {
			if text := c.errorText(raw); text != "" {
				msg += ": " + text
			}
		}
		return rag.Upstream(c.service, statusError(resp.StatusCode, msg))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return rag.Upstream(c.service, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// checkCount rejects a response whose vector count differs from the input.
func (c *jsonEndpoint) checkCount(want, got int) error {
	if want != got {
		return rag.Upstream(c.service, fmt.Errorf("expected %d embeddings, got %d", want, got))
	}
	return nil
}

// ping issues a GET and treats any 2xx as healthy.
func ping(ctx context.Context, client *http.Client, url string, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("embedder: create ping request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("embedder: ping failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("embedder: ping returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// stringError reads {"error": "..."} bodies (Ollama, Hugging Face).
func stringError(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	return e.Error
}

// objectError reads {"error": {"message": "..."}} bodies (OpenAI, Azure).
func objectError(body []byte) string {
	var e struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil || e.Error == nil {
		return ""
	}
	return e.Error.Message
}
