// Package provider selects and constructs the chat model behind the LLM
// client at runtime. Every backend is an eino chat model; the rest of the
// application only sees model.BaseChatModel.
// Supported backends: Ollama, OpenAI, Azure OpenAI, AWS Bedrock, Google
// Gemini, Hugging Face Inference.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendHuggingFace selects the Hugging Face Inference router
	// (OpenAI-compatible chat completions).
	BackendHuggingFace Backend = "huggingface"
)

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	// Host is the Ollama base URL (OLLAMA_HOST).
	Host string
	// Model is the chat model name (OLLAMA_MODEL).
	Model string
}

// ProviderOpenAI holds OpenAI settings.
type ProviderOpenAI struct {
	// APIKey is the OpenAI API key (OPENAI_API_KEY).
	APIKey string
	// Model is the chat model name (OPENAI_MODEL).
	Model string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	// APIKey is the Azure OpenAI key (AZURE_OPENAI_API_KEY).
	APIKey string
	// Endpoint is the resource URL (AZURE_OPENAI_ENDPOINT).
	Endpoint string
	// Deployment is the deployment name (AZURE_OPENAI_DEPLOYMENT).
	Deployment string
	// APIVersion is the REST API version (AZURE_OPENAI_API_VERSION).
	APIVersion string
}

// ProviderBedrock holds AWS Bedrock settings.
type ProviderBedrock struct {
	// AWSRegion is the AWS region (AWS_REGION).
	AWSRegion string
	// ModelID is the Bedrock model ID (BEDROCK_MODEL_ID).
	ModelID string
	// Endpoint overrides the runtime base URL (BEDROCK_ENDPOINT).
	Endpoint string
	// APIKey is an optional bearer key for the runtime (BEDROCK_API_KEY).
	APIKey string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	// APIKey is the Google API key (GOOGLE_API_KEY).
	APIKey string
	// Model is the model name (GEMINI_MODEL).
	Model string
}

// ProviderHuggingFace holds Hugging Face Inference settings.
type ProviderHuggingFace struct {
	// Token is the access token (HUGGINGFACEHUB_API_TOKEN or HF_TOKEN).
	Token string
	// Model is the repo id of the chat model (HF_MODEL).
	Model string
	// Endpoint is the OpenAI-compatible router base URL (HF_ENDPOINT).
	Endpoint string
}

// SharedTuning holds generation parameters common to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Bedrock     ProviderBedrock
	Gemini      ProviderGemini
	HuggingFace ProviderHuggingFace

	// Tuning applies to every backend that supports it.
	Tuning SharedTuning
}

// Validate reports the first missing setting for the selected backend,
// naming the env var that supplies it.
func (c *Config) Validate() error {
	missing := func(envVar string) error {
		return fmt.Errorf("provider: %s backend requires %s", c.Backend, envVar)
	}
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Host == "" {
			return missing("OLLAMA_HOST")
		}
		if c.Ollama.Model == "" {
			return missing("OLLAMA_MODEL")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return missing("OPENAI_API_KEY")
		}
		if c.OpenAI.Model == "" {
			return missing("OPENAI_MODEL")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return missing("AZURE_OPENAI_API_KEY")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return missing("AZURE_OPENAI_ENDPOINT")
		}
		if c.AzureOpenAI.Deployment == "" {
			return missing("AZURE_OPENAI_DEPLOYMENT")
		}
	case BackendBedrock:
		if c.Bedrock.ModelID == "" {
			return missing("BEDROCK_MODEL_ID")
		}
		if c.Bedrock.AWSRegion == "" {
			return missing("AWS_REGION")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return missing("GOOGLE_API_KEY")
		}
		if c.Gemini.Model == "" {
			return missing("GEMINI_MODEL")
		}
	case BackendHuggingFace:
		if c.HuggingFace.Token == "" {
			return missing("HUGGINGFACEHUB_API_TOKEN")
		}
		if c.HuggingFace.Model == "" {
			return missing("HF_MODEL")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q (valid values: ollama, openai, azure, bedrock, gemini, huggingface)", c.Backend)
	}
	if c.Tuning.MaxTokens < 0 {
		return fmt.Errorf("provider: MODEL_MAX_TOKENS must be >= 0, got %d", c.Tuning.MaxTokens)
	}
	return nil
}

// ModelName returns the model or deployment the selected backend will call.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendBedrock:
		return c.Bedrock.ModelID
	case BackendGemini:
		return c.Gemini.Model
	case BackendHuggingFace:
		return c.HuggingFace.Model
	}
	return ""
}

// HealthCheckConfig is a zero-token readiness probe for a backend.
type HealthCheckConfig interface {
	// HealthCheck returns nil when the backend is reachable and authorised.
	HealthCheck(ctx context.Context) error
}

// isAzureReasoningModel reports whether an Azure deployment name is an
// o-series or codex reasoning model. Those reject max_tokens and temperature.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, prefix := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}
