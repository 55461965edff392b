// Package config layers docchat settings. Precedence, lowest first:
// built-in defaults, .env files, the YAML config file, then the process
// environment. The YAML file is found by the --config flag, DOCCHAT_CONFIG,
// ~/.docchat/config.yaml or ./docchat.yaml, first match wins; without one
// docchat runs from env vars alone.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration file. Every leaf carries the env var it
// feeds in its env tag; yaml keys mirror those names in lower case.
type Config struct {
	Model       ModelConfig       `yaml:"model"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	History     HistoryConfig     `yaml:"history"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ModelConfig selects and tunes the chat model.
type ModelConfig struct {
	// Provider is ollama, openai, azure, bedrock, gemini or huggingface.
	Provider    string  `yaml:"provider" env:"MODEL_PROVIDER"`
	MaxTokens   int     `yaml:"max_tokens" env:"MODEL_MAX_TOKENS"`
	Temperature float32 `yaml:"temperature" env:"MODEL_TEMPERATURE"`
	// MaxRetries is the retry count on upstream failures; 0 tries once.
	MaxRetries int `yaml:"max_retries" env:"MODEL_MAX_RETRIES"`
	// MaxContextTokens is the estimated input budget for general chat.
	MaxContextTokens int `yaml:"max_context_tokens" env:"MODEL_MAX_CONTEXT_TOKENS"`

	Ollama      OllamaConfig      `yaml:"ollama"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Azure       AzureConfig       `yaml:"azure"`
	Bedrock     BedrockConfig     `yaml:"bedrock"`
	Gemini      GeminiConfig      `yaml:"gemini"`
	HuggingFace HuggingFaceConfig `yaml:"huggingface"`
}

type OllamaConfig struct {
	Host  string `yaml:"host" env:"OLLAMA_HOST"`
	Model string `yaml:"model" env:"OLLAMA_MODEL"`
}

type OpenAIConfig struct {
	APIKey string `yaml:"api_key" env:"OPENAI_API_KEY"`
	Model  string `yaml:"model" env:"OPENAI_MODEL"`
}

type AzureConfig struct {
	APIKey     string `yaml:"api_key" env:"AZURE_OPENAI_API_KEY"`
	Endpoint   string `yaml:"endpoint" env:"AZURE_OPENAI_ENDPOINT"`
	Deployment string `yaml:"deployment" env:"AZURE_OPENAI_DEPLOYMENT"`
	APIVersion string `yaml:"api_version" env:"AZURE_OPENAI_API_VERSION"`
}

type BedrockConfig struct {
	Region  string `yaml:"region" env:"AWS_REGION"`
	ModelID string `yaml:"model_id" env:"BEDROCK_MODEL_ID"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key" env:"GOOGLE_API_KEY"`
	Model  string `yaml:"model" env:"GEMINI_MODEL"`
}

// HuggingFaceConfig configures the Hugging Face chat backend. The token is
// shared with the embedding backend.
type HuggingFaceConfig struct {
	Token string `yaml:"token" env:"HUGGINGFACEHUB_API_TOKEN"`
	// Model is a chat model repo id such as "Qwen/Qwen2.5-7B-Instruct".
	Model string `yaml:"model" env:"HF_MODEL"`
	// Endpoint overrides the OpenAI-compatible router base URL.
	Endpoint string `yaml:"endpoint" env:"HF_ENDPOINT"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	// Provider is ollama, openai, azure or huggingface.
	Provider   string `yaml:"provider" env:"EMBEDDING_PROVIDER"`
	Model      string `yaml:"model" env:"EMBEDDING_MODEL"`
	Dimensions int    `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS"`
	APIKey     string `yaml:"api_key" env:"EMBEDDING_API_KEY"`
	Endpoint   string `yaml:"endpoint" env:"EMBEDDING_ENDPOINT"`
	// BatchSize is the number of texts per embedding request.
	BatchSize  int `yaml:"batch_size" env:"EMBEDDING_BATCH_SIZE"`
	MaxRetries int `yaml:"max_retries" env:"EMBEDDING_MAX_RETRIES"`
}

// ChunkingConfig sizes chunks in characters.
type ChunkingConfig struct {
	Size    int `yaml:"size" env:"CHUNK_SIZE"`
	Overlap int `yaml:"overlap" env:"CHUNK_OVERLAP"`
}

// RetrievalConfig picks a preset (similarity: k=3; mmr: k=6, fetch_k=20)
// and optionally overrides its numbers.
type RetrievalConfig struct {
	Mode   string  `yaml:"mode" env:"RETRIEVAL_MODE"`
	K      int     `yaml:"k" env:"RETRIEVAL_K"`
	FetchK int     `yaml:"fetch_k" env:"RETRIEVAL_FETCH_K"`
	Lambda float64 `yaml:"lambda" env:"RETRIEVAL_LAMBDA"`
}

// VectorStoreConfig picks memory (default) or qdrant.
type VectorStoreConfig struct {
	Backend string       `yaml:"backend" env:"VECTOR_STORE"`
	Qdrant  QdrantConfig `yaml:"qdrant"`
}

type QdrantConfig struct {
	Host string `yaml:"host" env:"QDRANT_HOST"`
	Port int    `yaml:"port" env:"QDRANT_PORT"`
	// Collection is the alias that always names the latest built index.
	Collection string `yaml:"collection" env:"QDRANT_COLLECTION"`
	APIKey     string `yaml:"api_key" env:"QDRANT_API_KEY"`
	TLS        bool   `yaml:"tls" env:"QDRANT_TLS"`
}

type HistoryConfig struct {
	// DBPath is the SQLite file, or "disabled".
	DBPath   string `yaml:"db_path" env:"DOCCHAT_HISTORY_DB"`
	MaxTurns int    `yaml:"max_turns" env:"HISTORY_MAX_TURNS"`
}

type ServerConfig struct {
	Host   string `yaml:"host" env:"DOCCHAT_HOST"`
	Port   int    `yaml:"port" env:"DOCCHAT_PORT"`
	APIKey string `yaml:"api_key" env:"DOCCHAT_API_KEY"`
	// IngestRoot confines server-side ingest paths.
	IngestRoot string `yaml:"ingest_root" env:"DOCCHAT_INGEST_ROOT"`
	UploadDir  string `yaml:"upload_dir" env:"DOCCHAT_UPLOAD_DIR"`
}

type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" env:"LOG_LEVEL"`
	// Format is json or text.
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// TracingConfig holds the Langfuse credentials.
type TracingConfig struct {
	PublicKey string `yaml:"public_key" env:"LANGFUSE_PUBLIC_KEY"`
	SecretKey string `yaml:"secret_key" env:"LANGFUSE_SECRET_KEY"`
	Host      string `yaml:"host" env:"LANGFUSE_HOST"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files (default ./.env)
// into the process environment. Variables that are already set are never
// overwritten and a missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML config file and exports its non-empty values as env
// vars that are not already set, so env always wins. Unknown YAML keys are
// rejected to surface typos. It returns the path read, or "" when no file
// was found. An explicit path that does not exist is an error.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path, err := resolveConfigPath(explicitPath)
	if err != nil || path == "" {
		if path == "" && err == nil {
			log.Debug("config: no YAML config file found, using env vars only")
		}
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	var applied, shadowed []string
	for _, kv := range envPairs(reflect.ValueOf(cfg), nil) {
		if os.Getenv(kv[0]) != "" {
			shadowed = append(shadowed, kv[0])
			continue
		}
		if err := os.Setenv(kv[0], kv[1]); err != nil {
			return "", fmt.Errorf("config: failed to set %s: %w", kv[0], err)
		}
		applied = append(applied, kv[0])
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", len(applied)),
	)
	if len(shadowed) > 0 {
		log.Debug("config: env vars take precedence over YAML", slog.Any("keys", shadowed))
	}
	return path, nil
}

// resolveConfigPath picks the config file: the explicit path (which must
// exist), else the first existing candidate among DOCCHAT_CONFIG,
// ~/.docchat/config.yaml and ./docchat.yaml.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config: %w", err)
		}
		return explicit, nil
	}

	candidates := []string{os.Getenv("DOCCHAT_CONFIG")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".docchat", "config.yaml"))
	}
	candidates = append(candidates, "docchat.yaml")

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c, nil
		}
	}
	return "", nil
}

// envPairs walks v depth-first and returns an {env var, value} pair for
// every non-zero leaf with an env tag.
func envPairs(v reflect.Value, out [][2]string) [][2]string {
	t := v.Type()
	for i := range t.NumField() {
		f, fv := t.Field(i), v.Field(i)
		if fv.Kind() == reflect.Struct {
			out = envPairs(fv, out)
			continue
		}
		key := f.Tag.Get("env")
		if key == "" || fv.IsZero() {
			continue
		}
		out = append(out, [2]string{key, formatValue(fv)})
	}
	return out
}

// formatValue renders a leaf the way the typed env accessors parse it.
func formatValue(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Int, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	}
	return v.String()
}
