// Package logging builds the structured logger shared by every docchat
// component and carries it through contexts.
//
// Environment variables:
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text                  (default: json)
//	LOG_SOURCE = true | false                 (default: false)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// contextKey keys the logger in a context.
type contextKey struct{}

// Options selects the handler built by Build.
type Options struct {
	// Level is the minimum level written.
	Level slog.Level
	// Text selects logfmt-style output instead of JSON.
	Text bool
	// AddSource records the calling file and line.
	AddSource bool
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_SOURCE. Unrecognised
// values fall back to the defaults rather than failing startup.
func OptionsFromEnv() Options {
	source, _ := strconv.ParseBool(os.Getenv("LOG_SOURCE"))
	return Options{
		Level:     parseLevel(os.Getenv("LOG_LEVEL")),
		Text:      strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "text"),
		AddSource: source,
	}
}

// Build returns a logger writing to w with opts.
func Build(w io.Writer, opts Options) *slog.Logger {
	ho := &slog.HandlerOptions{Level: opts.Level, AddSource: opts.AddSource}
	if opts.Text {
		return slog.New(slog.NewTextHandler(w, ho))
	}
	return slog.New(slog.NewJSONHandler(w, ho))
}

// New returns the process logger: stderr, configured from the environment.
func New() *slog.Logger {
	return NewWriter(os.Stderr)
}

// NewWriter is New writing to w.
func NewWriter(w io.Writer) *slog.Logger {
	return Build(w, OptionsFromEnv())
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default() so callers
// never nil-check.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// parseLevel accepts slog level names in any case plus "warning"; anything
// else is Info.
func parseLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if s == "" || l.UnmarshalText([]byte(s)) != nil {
		return slog.LevelInfo
	}
	return l
}
