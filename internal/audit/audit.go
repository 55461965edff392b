// Package audit emits a structured record of every docchat command
// invocation: the command, the config file it read, and the operational
// environment grouped by concern. Credentials are reduced to set/unset.
package audit

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// auditGroups lists the env vars recorded per concern, in output order.
var auditGroups = []struct {
	name string
	keys []string
}{
	{"model", []string{
		"MODEL_PROVIDER", "OLLAMA_HOST", "OLLAMA_MODEL", "OPENAI_API_KEY", "OPENAI_MODEL",
		"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT",
		"GOOGLE_API_KEY", "GEMINI_MODEL", "AWS_REGION", "AWS_SECRET_ACCESS_KEY", "BEDROCK_MODEL_ID",
		"HUGGINGFACEHUB_API_TOKEN", "HF_MODEL", "MODEL_MAX_RETRIES",
	}},
	{"embedding", []string{"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY", "EMBEDDING_BATCH_SIZE"}},
	{"retrieval", []string{"CHUNK_SIZE", "CHUNK_OVERLAP", "RETRIEVAL_MODE", "RETRIEVAL_K"}},
	{"index", []string{"VECTOR_STORE", "QDRANT_HOST", "QDRANT_COLLECTION", "QDRANT_API_KEY"}},
	{"runtime", []string{
		"DOCCHAT_API_KEY", "DOCCHAT_HISTORY_DB", "DOCCHAT_INGEST_ROOT", "LOG_LEVEL",
		"LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY",
	}},
}

// secretSuffixes mark env var names whose values are credentials.
var secretSuffixes = []string{"_KEY", "_TOKEN", "_SECRET", "_PASSWORD"}

// LogCommandStart logs one "audit: command start" record for command.
func LogCommandStart(log *slog.Logger, command string, configPath string) {
	attrs := make([]slog.Attr, 0, len(auditGroups)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, g := range auditGroups {
		vals := make([]any, 0, len(g.keys))
		for _, k := range g.keys {
			vals = append(vals, slog.String(k, SanitiseKey(k, os.Getenv(k))))
		}
		attrs = append(attrs, slog.Group(g.name, vals...))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey returns the value to log for env var key: "set" or "unset" for
// credentials, otherwise the value itself or "unset".
func SanitiseKey(key, value string) string {
	switch {
	case isSecret(key) && value != "":
		return "set"
	case value == "":
		return "unset"
	}
	return value
}

// isSecret reports whether key names a credential.
func isSecret(key string) bool {
	for _, s := range secretSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// sanitiseConfigPath folds the home directory to "~"; an empty path is "none".
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	if rel, err := filepath.Rel(home, p); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(filepath.Join("~", rel))
	}
	return p
}
