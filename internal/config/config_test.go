package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoad_ExplicitMissingFile(t *testing.T) {
	t.Parallel()

	path, err := Load("/nonexistent/path/config.yaml", slog.Default())
	if err == nil {
		t.Fatal("expected error for a missing explicit path")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_NoCandidates(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DOCCHAT_CONFIG", "")
	t.Chdir(t.TempDir())

	path, err := Load("", slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_DocchatConfigEnv(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "from-env.yaml")
	if err := os.WriteFile(cfgPath, []byte("chunking:\n  size: 640\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCCHAT_CONFIG", cfgPath)
	t.Setenv("CHUNK_SIZE", "")
	os.Unsetenv("CHUNK_SIZE") //nolint:errcheck // t.Setenv restores it

	path, err := Load("", slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != cfgPath {
		t.Errorf("path = %q, want %q", path, cfgPath)
	}
	if got := os.Getenv("CHUNK_SIZE"); got != "640" {
		t.Errorf("CHUNK_SIZE = %q, want 640", got)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	t.Parallel()

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("chunking:\n  sise: 800\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	t.Parallel()

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	path, err := Load(cfgPath, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != cfgPath {
		t.Errorf("path = %q, want %q", path, cfgPath)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: huggingface
  max_tokens: 512
  temperature: 0.3
  huggingface:
    model: Qwen/Qwen2.5-7B-Instruct
embedding:
  provider: huggingface
  model: sentence-transformers/all-MiniLM-L6-v2
  batch_size: 16
chunking:
  size: 800
  overlap: 100
retrieval:
  mode: mmr
  fetch_k: 30
  lambda: 0.25
vector_store:
  backend: qdrant
  qdrant:
    host: qdrant.internal
    port: 6334
    collection: my-docs
history:
  db_path: disabled
  max_turns: 5
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE", "HF_MODEL",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_BATCH_SIZE",
		"CHUNK_SIZE", "CHUNK_OVERLAP",
		"RETRIEVAL_MODE", "RETRIEVAL_FETCH_K", "RETRIEVAL_LAMBDA",
		"VECTOR_STORE", "QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
		"DOCCHAT_HISTORY_DB", "HISTORY_MAX_TURNS",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":       "huggingface",
		"MODEL_MAX_TOKENS":     "512",
		"MODEL_TEMPERATURE":    "0.3",
		"HF_MODEL":             "Qwen/Qwen2.5-7B-Instruct",
		"EMBEDDING_PROVIDER":   "huggingface",
		"EMBEDDING_MODEL":      "sentence-transformers/all-MiniLM-L6-v2",
		"EMBEDDING_BATCH_SIZE": "16",
		"CHUNK_SIZE":           "800",
		"CHUNK_OVERLAP":        "100",
		"RETRIEVAL_MODE":       "mmr",
		"RETRIEVAL_FETCH_K":    "30",
		"RETRIEVAL_LAMBDA":     "0.25",
		"VECTOR_STORE":         "qdrant",
		"QDRANT_HOST":          "qdrant.internal",
		"QDRANT_PORT":          "6334",
		"QDRANT_COLLECTION":    "my-docs",
		"DOCCHAT_HISTORY_DB":   "disabled",
		"HISTORY_MAX_TURNS":    "5",
		"LOG_LEVEL":            "debug",
		"LOG_FORMAT":           "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set before loading; YAML must not overwrite it.
	t.Setenv("MODEL_PROVIDER", "huggingface")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "huggingface" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "huggingface", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("DOCCHAT_TEST_A=from-file\nDOCCHAT_TEST_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DOCCHAT_TEST_A", "")
	os.Unsetenv("DOCCHAT_TEST_A")
	t.Setenv("DOCCHAT_TEST_B", "from-env")

	if err := LoadDotEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("DOCCHAT_TEST_A"); got != "from-file" {
		t.Errorf("DOCCHAT_TEST_A: got %q, want %q", got, "from-file")
	}
	if got := os.Getenv("DOCCHAT_TEST_B"); got != "from-env" {
		t.Errorf("DOCCHAT_TEST_B: got %q, want %q (env must win)", got, "from-env")
	}
}

func TestEnvPairs(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Model:       ModelConfig{Temperature: 0.3, MaxTokens: 512},
		Retrieval:   RetrievalConfig{Lambda: 0.25},
		VectorStore: VectorStoreConfig{Qdrant: QdrantConfig{TLS: true}},
		Server:      ServerConfig{IngestRoot: "/srv/docs"},
	}
	got := map[string]string{}
	for _, kv := range envPairs(reflect.ValueOf(cfg), nil) {
		got[kv[0]] = kv[1]
	}
	want := map[string]string{
		"MODEL_TEMPERATURE":   "0.3",
		"MODEL_MAX_TOKENS":    "512",
		"RETRIEVAL_LAMBDA":    "0.25",
		"QDRANT_TLS":          "true",
		"DOCCHAT_INGEST_ROOT": "/srv/docs",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d pairs %v, want %d", len(got), got, len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

// TestEnvTagsUnique guards against two fields feeding the same env var.
func TestEnvTagsUnique(t *testing.T) {
	t.Parallel()
	seen := map[string]string{}
	var walk func(rt reflect.Type, prefix string)
	walk = func(rt reflect.Type, prefix string) {
		for i := range rt.NumField() {
			f := rt.Field(i)
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, prefix+f.Name+".")
				continue
			}
			key := f.Tag.Get("env")
			if key == "" {
				t.Errorf("%s%s has no env tag", prefix, f.Name)
				continue
			}
			if other, dup := seen[key]; dup {
				t.Errorf("%s used by %s and %s%s", key, other, prefix, f.Name)
			}
			seen[key] = prefix + f.Name
		}
	}
	walk(reflect.TypeOf(Config{}), "")
}

func TestTypedAccessors(t *testing.T) {
	t.Setenv("DOCCHAT_TEST_INT", "42")
	t.Setenv("DOCCHAT_TEST_BADINT", "forty")
	t.Setenv("DOCCHAT_TEST_FLOAT", "0.75")
	t.Setenv("DOCCHAT_TEST_BOOL", "yes")
	t.Setenv("DOCCHAT_TEST_EMPTY", "")

	if got := String("DOCCHAT_TEST_EMPTY", "fallback"); got != "fallback" {
		t.Errorf("String(empty) = %q, want fallback", got)
	}
	if n, err := Int("DOCCHAT_TEST_INT", 1); err != nil || n != 42 {
		t.Errorf("Int = %d, %v; want 42, nil", n, err)
	}
	if n, err := Int("DOCCHAT_TEST_EMPTY", 7); err != nil || n != 7 {
		t.Errorf("Int(empty) = %d, %v; want 7, nil", n, err)
	}
	if _, err := Int("DOCCHAT_TEST_BADINT", 1); err == nil {
		t.Error("Int(malformed): expected error")
	}
	if f, err := Float("DOCCHAT_TEST_FLOAT", 0); err != nil || f != 0.75 {
		t.Errorf("Float = %v, %v; want 0.75, nil", f, err)
	}
	if b, err := Bool("DOCCHAT_TEST_BOOL", false); err != nil || !b {
		t.Errorf("Bool = %v, %v; want true, nil", b, err)
	}
}
