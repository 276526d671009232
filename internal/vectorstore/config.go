package vectorstore

import (
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ResolveBackend picks the backend name. An explicit choice wins; otherwise
// chroma is used when a Chroma URL is configured, qdrant when a Qdrant host
// is configured, and memory as the self-contained fallback.
func ResolveBackend(explicit, chromaURL, qdrantHost string) string {
	switch {
	case explicit != "":
		return explicit
	case chromaURL != "":
		return BackendChroma
	case qdrantHost != "":
		return BackendQdrant
	default:
		return BackendMemory
	}
}

// ConfigFromEnv builds a Config from the environment:
//
//   - VECTOR_STORE: memory, chroma or qdrant (auto-selected when unset)
//   - CHROMA_URL, CHROMA_TOKEN, CHROMA_TIMEOUT
//   - QDRANT_HOST, QDRANT_PORT, QDRANT_API_KEY, QDRANT_TLS
//
// vectorSize sizes new Qdrant collections.
func ConfigFromEnv(vectorSize int, reg prometheus.Registerer) *Config {
	chromaURL := os.Getenv("CHROMA_URL")
	qdrantHost := os.Getenv("QDRANT_HOST")

	cfg := &Config{
		Backend: ResolveBackend(os.Getenv("VECTOR_STORE"), chromaURL, qdrantHost),
		Chroma: ChromaConfig{
			URL:   chromaURL,
			Token: os.Getenv("CHROMA_TOKEN"),
		},
		Qdrant: QdrantConfig{
			Host:   qdrantHost,
			Port:   envInt("QDRANT_PORT", 6334),
			APIKey: os.Getenv("QDRANT_API_KEY"),
			UseTLS: os.Getenv("QDRANT_TLS") == "true",
		},
		Registerer: reg,
	}
	if vectorSize > 0 {
		cfg.Qdrant.VectorSize = uint64(vectorSize)
	}
	if v := os.Getenv("CHROMA_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Chroma.Timeout = d
		}
	}
	if cfg.Backend == BackendChroma && cfg.Chroma.URL == "" {
		cfg.Chroma.URL = "http://localhost:8000"
	}
	return cfg
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
