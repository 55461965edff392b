package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/docchat-go/internal/config"
)

// Default model per backend.
const (
	defaultOllamaModel = "llama3"
	defaultOpenAIModel = "gpt-4o"
	defaultGeminiModel = "gemini-1.5-pro"
	defaultHFModel     = "Qwen/Qwen2.5-7B-Instruct"

	// DefaultHFEndpoint is the OpenAI-compatible Hugging Face router.
	DefaultHFEndpoint = "https://router.huggingface.co/v1"

	// DefaultMaxTokens mirrors max_new_tokens of the hosted chat endpoint.
	DefaultMaxTokens = 512
	// DefaultTemperature keeps grounded answers close to the context.
	DefaultTemperature = 0.2
)

// ConfigFromEnv resolves a Config from environment variables. MODEL_PROVIDER
// selects the backend; each provider uses its own native credential env vars.
//
// Environment variables:
//
//	MODEL_PROVIDER = ollama | openai | azure | bedrock | gemini | huggingface (default: ollama)
//
//	Ollama:      OLLAMA_HOST (default: http://localhost:11434), OLLAMA_MODEL (default: llama3)
//	OpenAI:      OPENAI_API_KEY, OPENAI_MODEL (default: gpt-4o)
//	Azure:       AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT,
//	             AZURE_OPENAI_API_VERSION (default: 2024-02-01)
//	Bedrock:     AWS_REGION (default: us-east-1), BEDROCK_MODEL_ID, BEDROCK_ENDPOINT, BEDROCK_API_KEY
//	Gemini:      GOOGLE_API_KEY, GEMINI_MODEL (default: gemini-1.5-pro)
//	HuggingFace: HUGGINGFACEHUB_API_TOKEN (or HF_TOKEN), HF_MODEL (default: Qwen/Qwen2.5-7B-Instruct),
//	             HF_ENDPOINT (default: https://router.huggingface.co/v1)
//
//	Shared:      MODEL_MAX_TOKENS (default: 512), MODEL_TEMPERATURE (default: 0.2)
func ConfigFromEnv() (*Config, error) {
	maxTokens, err := config.Int("MODEL_MAX_TOKENS", DefaultMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	temperature, err := config.Float("MODEL_TEMPERATURE", DefaultTemperature)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	return &Config{
		Backend: Backend(config.String("MODEL_PROVIDER", string(BackendOllama))),
		Ollama: ProviderOllama{
			Host:  config.String("OLLAMA_HOST", "http://localhost:11434"),
			Model: config.String("OLLAMA_MODEL", defaultOllamaModel),
		},
		OpenAI: ProviderOpenAI{
			APIKey: config.String("OPENAI_API_KEY", ""),
			Model:  config.String("OPENAI_MODEL", defaultOpenAIModel),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     config.String("AZURE_OPENAI_API_KEY", ""),
			Endpoint:   config.String("AZURE_OPENAI_ENDPOINT", ""),
			Deployment: config.String("AZURE_OPENAI_DEPLOYMENT", ""),
			APIVersion: config.String("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		},
		Bedrock: ProviderBedrock{
			AWSRegion: config.String("AWS_REGION", "us-east-1"),
			ModelID:   config.String("BEDROCK_MODEL_ID", ""),
			Endpoint:  config.String("BEDROCK_ENDPOINT", ""),
			APIKey:    config.String("BEDROCK_API_KEY", ""),
		},
		Gemini: ProviderGemini{
			APIKey: config.String("GOOGLE_API_KEY", ""),
			Model:  config.String("GEMINI_MODEL", defaultGeminiModel),
		},
		HuggingFace: ProviderHuggingFace{
			Token:    config.String("HUGGINGFACEHUB_API_TOKEN", config.String("HF_TOKEN", "")),
			Model:    config.String("HF_MODEL", defaultHFModel),
			Endpoint: config.String("HF_ENDPOINT", DefaultHFEndpoint),
		},
		Tuning: SharedTuning{
			MaxTokens:   maxTokens,
			Temperature: float32(temperature),
		},
	}, nil
}

// NewFromEnv resolves the Config from the environment and builds the model.
func NewFromEnv(ctx context.Context) (model.BaseChatModel, *Config, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	m, err := New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}

// New constructs a chat model from an explicit Config, delegating to the
// appropriate backend factory function. It validates the config first so
// callers get a clear error at startup rather than on the first request.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		m   model.BaseChatModel
		err error
	)
	switch cfg.Backend {
	case BackendOllama:
		m, err = newOllama(ctx, cfg)
	case BackendOpenAI:
		m, err = newOpenAI(ctx, cfg)
	case BackendAzure:
		m, err = newAzure(ctx, cfg)
	case BackendBedrock:
		m, err = newBedrock(ctx, cfg)
	case BackendGemini:
		m, err = newGemini(ctx, cfg)
	case BackendHuggingFace:
		m, err = newHuggingFace(ctx, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("provider: failed to create %s chat model: %w", cfg.Backend, err)
	}
	return m, nil
}
