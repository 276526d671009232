package embedder

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default embedding models per native client.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	// defaultDimensions matches nomic-embed-text, the default model.
	defaultDimensions = 768
)

// knownDimensions maps embedding model names to their output size.
var knownDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"bge-m3":                 1024,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"text-embedding-004":     768,
	"gemini-embedding-001":   3072,
}

// DefaultDimensions returns the embedding vector size for model. Callers
// that pre-create fixed-dimension collections (Qdrant) should use this
// rather than hardcoding a value. EMBEDDING_DIMENSIONS always takes
// precedence when set; unknown models fall back to 768.
func DefaultDimensions(model string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	name := strings.ToLower(model)
	if i := strings.LastIndex(name, ":"); i > 0 {
		name = name[:i]
	}
	if d, ok := knownDimensions[name]; ok {
		return d
	}
	return defaultDimensions
}

// ConfigFromEnv resolves a Config using cascading defaults.
//
// Resolution order:
//
//  1. EMBEDDING_NATIVE_CLIENT, or EMBEDDING_PROVIDER (default: ollama)
//  2. EMBEDDING_MODEL, or the default model for the native client
//  3. EMBEDDING_ENDPOINT, or OLLAMA_HOST (default: http://localhost:11434)
//  4. EMBEDDING_API_KEY, or OPENAI_API_KEY / GOOGLE_API_KEY / GEMINI_API_KEY
//     depending on the native client
//  5. EMBEDDING_BASE_URL overrides the openai or gemini API base
//  6. EMBEDDING_DIMENSIONS requests a specific output size
//  7. EMBEDDING_TIMEOUT bounds each call (Go duration, default 60s)
func ConfigFromEnv(reg prometheus.Registerer) *Config {
	native := strings.ToLower(getEnv("EMBEDDING_NATIVE_CLIENT"))
	if native == "" {
		native = strings.ToLower(getEnvOrDefault("EMBEDDING_PROVIDER", NativeOllama))
	}

	endpoint := getEnv("EMBEDDING_ENDPOINT")
	if endpoint == "" {
		endpoint = getEnvOrDefault("OLLAMA_HOST", DefaultEndpoint)
	}

	cfg := &Config{
		NativeClient: native,
		Model:        getEnvOrDefault("EMBEDDING_MODEL", defaultModel(native)),
		Endpoint:     endpoint,
		APIKey:       resolveAPIKey(native),
		BaseURL:      getEnv("EMBEDDING_BASE_URL"),
		Dimensions:   getEnvInt("EMBEDDING_DIMENSIONS", 0),
		Registerer:   reg,
	}
	if v := getEnv("EMBEDDING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	return cfg
}

// NewFromEnv constructs a Provider from ConfigFromEnv.
func NewFromEnv(ctx context.Context, reg prometheus.Registerer) (*Provider, error) {
	return NewProvider(ctx, ConfigFromEnv(reg))
}

// defaultModel returns the default embedding model for a native client.
func defaultModel(native string) string {
	switch native {
	case NativeOpenAI:
		return defaultOpenAIModel
	case NativeGemini:
		return defaultGeminiModel
	default:
		return defaultOllamaModel
	}
}

// resolveAPIKey returns EMBEDDING_API_KEY or the provider-specific key.
func resolveAPIKey(native string) string {
	if v := getEnv("EMBEDDING_API_KEY"); v != "" {
		return v
	}
	switch native {
	case NativeOpenAI:
		return getEnv("OPENAI_API_KEY")
	case NativeGemini:
		if v := getEnv("GOOGLE_API_KEY"); v != "" {
			return v
		}
		return getEnv("GEMINI_API_KEY")
	default:
		return ""
	}
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
