package embedder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
)

// RetryingEmbedder retries transient upstream failures with exponential
// backoff. Context cancellation and non-upstream errors are never retried.
type RetryingEmbedder struct {
	// next is the wrapped embedder.
	next rag.Embedder
	// maxRetries is the number of additional attempts after the first.
	maxRetries uint64
	// initialInterval is the first backoff delay.
	initialInterval time.Duration
}

// WithRetry wraps e with up to maxRetries retries. maxRetries <= 0 returns e
// unchanged (single attempt).
func WithRetry(e rag.Embedder, maxRetries int) rag.Embedder {
	if maxRetries <= 0 {
		return e
	}
	return &RetryingEmbedder{next: e, maxRetries: uint64(maxRetries), initialInterval: 500 * time.Millisecond}
}

// Embed calls the wrapped embedder until it succeeds, fails permanently, or
// the retry budget is spent.
func (r *RetryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, r.maxRetries), ctx)

	attempt := 0
	return backoff.RetryWithData(func() ([][]float32, error) {
		attempt++
		vecs, err := r.next.Embed(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		if ctx.Err() != nil || !errors.Is(err, rag.ErrUpstream) || !transient(err) {
			return nil, backoff.Permanent(err)
		}
		logging.FromContext(ctx).Warn("embedder: transient failure, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return nil, err
	}, policy)
}

// Unwrap returns the wrapped embedder.
func (r *RetryingEmbedder) Unwrap() rag.Embedder { return r.next }
