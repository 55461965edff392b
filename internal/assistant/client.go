package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
)

// errEmptyResponse is reported when the model returns no message or only
// whitespace.
var errEmptyResponse = errors.New("model returned an empty response")

// Client sends rendered prompts to a chat model and returns the generated
// text. It is stateless and safe for concurrent use.
type Client struct {
	// model is the chat model built by the provider factory.
	model model.BaseChatModel
	// service labels upstream errors and log lines (e.g. "huggingface llm").
	service string
	// maxRetries is the number of additional attempts after the first.
	maxRetries uint64
	// initialInterval is the first backoff delay between attempts.
	initialInterval time.Duration
}

// NewClient wraps m. service names the backend in errors; maxRetries <= 0
// means a single attempt.
func NewClient(m model.BaseChatModel, service string, maxRetries int) (*Client, error) {
	if m == nil {
		return nil, fmt.Errorf("assistant: chat model must not be nil")
	}
	if service == "" {
		service = "llm"
	}
	return &Client{
		model:           m,
		service:         service,
		maxRetries:      uint64(max(maxRetries, 0)),
		initialInterval: time.Second,
	}, nil
}

// Model returns the underlying chat model.
func (c *Client) Model() model.BaseChatModel { return c.model }

// Complete sends the system instruction followed by msgs and returns the
// model's reply. Every failure, including an empty reply, is a
// *rag.UpstreamError.
func (c *Client) Complete(ctx context.Context, system string, msgs []*schema.Message) (string, error) {
	input := make([]*schema.Message, 0, len(msgs)+1)
	if system != "" {
		input = append(input, schema.SystemMessage(system))
	}
	input = append(input, msgs...)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx)

	attempt := 0
	start := time.Now()
	text, err := backoff.RetryWithData(func() (string, error) {
		attempt++
		resp, err := c.model.Generate(ctx, input)
		if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
			err = errEmptyResponse
		}
		if err == nil {
			return resp.Content, nil
		}
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		if uint64(attempt) <= c.maxRetries {
			logging.FromContext(ctx).Warn("assistant: model call failed, retrying",
				slog.String("service", c.service),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		return "", err
	}, policy)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("assistant: %w", ctx.Err())
		}
		return "", rag.Upstream(c.service, err)
	}

	logging.FromContext(ctx).Debug("assistant: model call complete",
		slog.String("service", c.service),
		slog.Int("messages", len(input)),
		slog.Duration("duration", time.Since(start)),
	)
	return text, nil
}
