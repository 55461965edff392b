package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/embedder"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/provider"
	"github.com/54b3r/docchat-go/internal/rag"
)

// probeFunc adapts a named function to Pinger.
type probeFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (p probeFunc) Name() string                   { return p.name }
func (p probeFunc) Ping(ctx context.Context) error { return p.fn(ctx) }

// NewLLMPinger probes the chat backend named name. The backend's HTTP health
// check is used when hc is non-nil; otherwise a one-message Generate call is
// made, which spends tokens.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthCheckConfig, name string) Pinger {
	if hc != nil {
		return probeFunc{name: name, fn: func(ctx context.Context) error {
			if err := hc.HealthCheck(ctx); err != nil {
				return fmt.Errorf("%s health check failed: %w", name, err)
			}
			return nil
		}}
	}
	return probeFunc{name: name, fn: func(ctx context.Context) error {
		logging.FromContext(ctx).Debug("pinger: probing with Generate, tokens will be consumed",
			slog.String("backend", name),
		)
		msg, err := m.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
		switch {
		case err != nil:
			return fmt.Errorf("%s generate failed: %w", name, err)
		case msg == nil:
			return errors.New(name + " generate returned no message")
		}
		return nil
	}}
}

// NewEmbedderPinger probes the embedding backend, without embedding anything
// when the backend has a cheaper probe. It is labelled "embedder-<name>".
func NewEmbedderPinger(e rag.Embedder, name string) Pinger {
	return probeFunc{name: "embedder-" + name, fn: func(ctx context.Context) error {
		return embedder.Ping(ctx, e)
	}}
}

// NewQdrantPinger probes Qdrant through its HealthCheck RPC.
// *vectorindex.QdrantBuilder satisfies target.
func NewQdrantPinger(target interface{ Ping(ctx context.Context) error }) Pinger {
	return probeFunc{name: "qdrant", fn: func(ctx context.Context) error {
		if err := target.Ping(ctx); err != nil {
			return fmt.Errorf("qdrant unreachable: %w", err)
		}
		return nil
	}}
}
