// Package config provides YAML-based configuration for mrag.
// Values from the file are applied beneath environment variables: a key that
// is already set in the environment is never overwritten.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. MRAG_CONFIG environment variable
//  3. ~/.mrag/config.yaml
//  4. ./mrag.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
type Config struct {
	// Embedding configures the tiered embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// VectorStore selects and configures the vector store backend.
	VectorStore VectorStoreConfig `yaml:"vector_store"`

	// Retrieval configures the query-side defaults.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Manifest configures the SQLite ingestion manifest.
	Manifest ManifestConfig `yaml:"manifest"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// NativeClient selects the tier-1 client: none, ollama, openai, gemini.
	NativeClient string `yaml:"native_client"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the hosted provider key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the local embedding server probed by the HTTP tier.
	Endpoint string `yaml:"endpoint"`
	// BaseURL overrides the hosted provider's API base URL.
	BaseURL string `yaml:"base_url"`
	// Timeout bounds each embedding request, as a Go duration string.
	Timeout string `yaml:"timeout"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	// Backend is one of memory, chroma, qdrant. Empty infers from the
	// remote settings present.
	Backend string `yaml:"backend"`
	// Collection is the collection shared by ingestion and retrieval.
	Collection string `yaml:"collection"`
	// Chroma holds the Chroma HTTP settings.
	Chroma ChromaConfig `yaml:"chroma"`
	// Qdrant holds the Qdrant gRPC settings.
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// ChromaConfig holds Chroma server settings.
type ChromaConfig struct {
	// URL is the Chroma server base URL.
	URL string `yaml:"url"`
	// Token is the bearer token. Prefer env var CHROMA_TOKEN.
	Token string `yaml:"token"`
	// Timeout bounds each request, as a Go duration string.
	Timeout string `yaml:"timeout"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// RetrievalConfig holds retrieval defaults.
type RetrievalConfig struct {
	// TopK is the number of fragments returned when a request names none.
	TopK int `yaml:"top_k"`
	// MaxContextTokens caps the estimated size of returned fragments.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var MRAG_API_KEY.
	APIKey string `yaml:"api_key"`
	// Collections lists extra collection names API callers may select.
	Collections []string `yaml:"collections"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// ManifestConfig holds ingestion manifest settings.
type ManifestConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"EMBEDDING_NATIVE_CLIENT", func(c *Config) string { return c.Embedding.NativeClient }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_BASE_URL", func(c *Config) string { return c.Embedding.BaseURL }},
	{"EMBEDDING_TIMEOUT", func(c *Config) string { return c.Embedding.Timeout }},
	{"VECTOR_STORE", func(c *Config) string { return c.VectorStore.Backend }},
	{"COLLECTION_NAME", func(c *Config) string { return c.VectorStore.Collection }},
	{"CHROMA_URL", func(c *Config) string { return c.VectorStore.Chroma.URL }},
	{"CHROMA_TOKEN", func(c *Config) string { return c.VectorStore.Chroma.Token }},
	{"CHROMA_TIMEOUT", func(c *Config) string { return c.VectorStore.Chroma.Timeout }},
	{"QDRANT_HOST", func(c *Config) string { return c.VectorStore.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.VectorStore.Qdrant.Port) }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.VectorStore.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.VectorStore.Qdrant.TLS) }},
	{"RETRIEVAL_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"RETRIEVAL_MAX_CONTEXT_TOKENS", func(c *Config) string { return intStr(c.Retrieval.MaxContextTokens) }},
	{"MRAG_HOST", func(c *Config) string { return c.Server.Host }},
	{"MRAG_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"MRAG_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"MRAG_COLLECTIONS", func(c *Config) string { return strings.Join(c.Server.Collections, ",") }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"MRAG_MANIFEST_DB", func(c *Config) string { return c.Manifest.DBPath }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if _, set := os.LookupEnv(m.envKey); set {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
// An explicit path that does not exist resolves to "" without falling
// through to the search locations.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if exists(explicit) {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("MRAG_CONFIG"); envPath != "" && exists(envPath) {
		return envPath
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".mrag", "config.yaml")
		if exists(p) {
			return p
		}
	}

	if exists("mrag.yaml") {
		return "mrag.yaml"
	}

	return ""
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
