package rag

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned when a single explicitly named file has
	// an extension no extractor handles.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrEmptyCorpus is returned when a directory walk produced no documents.
	ErrEmptyCorpus = errors.New("empty corpus")

	// ErrEmptyIndex is returned when an index is queried before it was built.
	ErrEmptyIndex = errors.New("empty index")

	// ErrUpstream matches every *UpstreamError via errors.Is.
	ErrUpstream = errors.New("upstream error")

	// ErrInvalidConfiguration is returned for invalid chunking or retrieval
	// parameters (chunk size <= overlap, k <= 0, ...).
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

var errEmptyEmbedding = errors.New("embedder returned no vectors")

// UpstreamError reports a failed call to a remote dependency (embedding
// endpoint or LLM). It matches ErrUpstream and unwraps to the cause.
type UpstreamError struct {
	// Service names the failing dependency (e.g. "ollama embedder", "llm").
	Service string
	// Err is the underlying transport or protocol error.
	Err error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrUpstream, e.Service, e.Err)
}

// Unwrap returns the underlying cause.
func (e *UpstreamError) Unwrap() error { return e.Err }

// Is reports whether target is ErrUpstream.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Upstream wraps err as an UpstreamError for service. A nil err returns nil.
func Upstream(service string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Service: service, Err: err}
}

// Invalid returns an error wrapping ErrInvalidConfiguration with a formatted
// description of the offending parameter.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
