package embedder

import (
	"fmt"
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"gemini-1",
	"gemini-2",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check over a resolved Config. It returns an error
// when the configuration is clearly broken and logs a warning when the model
// looks like a chat model, so operators get a clear message at startup
// rather than empty vectors on the first query.
func Validate(log *slog.Logger, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("embedder: config must not be nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("embedder: EMBEDDING_MODEL resolved to an empty model name")
	}

	if err := validateNative(cfg); err != nil {
		switch strings.ToLower(cfg.NativeClient) {
		case NativeOpenAI:
			return fmt.Errorf("%w: set OPENAI_API_KEY or EMBEDDING_API_KEY", err)
		case NativeGemini:
			return fmt.Errorf("%w: set GOOGLE_API_KEY or EMBEDDING_API_KEY", err)
		default:
			return err
		}
	}

	if looksLikeChatModel(cfg.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model; "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}

	if strings.ToLower(cfg.NativeClient) == NativeNone {
		log.Info("embedder: native client disabled, using HTTP endpoint probing only",
			slog.String("endpoint", cfg.Endpoint),
		)
	}
	return nil
}
