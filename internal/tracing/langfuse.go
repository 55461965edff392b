// Package tracing wires optional Langfuse tracing into every eino chat model
// call made by the assistant.
package tracing

import (
	"log/slog"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/docchat-go/internal/config"
)

// DefaultHost is the Langfuse endpoint used when LANGFUSE_HOST is unset.
const DefaultHost = "http://localhost:3000"

// Settings holds the Langfuse connection parameters.
type Settings struct {
	// Host is the Langfuse base URL.
	Host string
	// PublicKey and SecretKey authenticate the project.
	PublicKey string
	SecretKey string
}

// FromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY.
func FromEnv() Settings {
	return Settings{
		Host:      config.String("LANGFUSE_HOST", DefaultHost),
		PublicKey: config.String("LANGFUSE_PUBLIC_KEY", ""),
		SecretKey: config.String("LANGFUSE_SECRET_KEY", ""),
	}
}

// Enabled reports whether both keys are present.
func (s Settings) Enabled() bool {
	return s.PublicKey != "" && s.SecretKey != ""
}

// Enable registers a global Langfuse callback handler when s is enabled and
// returns the flush function to call before exit. When disabled it logs why
// and returns a no-op, so callers can always defer the result.
func Enable(s Settings, log *slog.Logger) func() {
	if !s.Enabled() {
		log.Info("tracing: langfuse disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
		return func() {}
	}

	handler, flush := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      s.Host,
		PublicKey: s.PublicKey,
		SecretKey: s.SecretKey,
	})
	callbacks.AppendGlobalHandlers(handler)
	log.Info("tracing: langfuse enabled", slog.String("host", s.Host))
	return flush
}
