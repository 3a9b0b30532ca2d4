package llm

import (
	"fmt"

	"github.com/scrypster/aide/internal/config"
	"github.com/scrypster/aide/internal/observability"
)

// NewTextGenerator creates the client for one named backend using the
// provider section of the configuration.
func NewTextGenerator(cfg *config.Config, backend string) (TextGenerator, error) {
	p := cfg.Provider
	timeout := cfg.ProviderTimeout()

	switch backend {
	case config.BackendOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:        p.OpenAIAPIKey,
			Model:         p.OpenAIModel,
			Timeout:       timeout,
			RatePerSecond: p.RatePerSecond,
			RateBurst:     p.RateBurst,
		}), nil
	case config.BackendAnthropic:
		return NewAnthropicClient(AnthropicConfig{
			APIKey:        p.AnthropicAPIKey,
			Model:         p.AnthropicModel,
			Timeout:       timeout,
			RatePerSecond: p.RatePerSecond,
			RateBurst:     p.RateBurst,
		}), nil
	case config.BackendOllama, "":
		return NewOllamaClient(OllamaConfig{
			BaseURL:       p.OllamaURL,
			Model:         p.OllamaModel,
			Timeout:       timeout,
			RatePerSecond: p.RatePerSecond,
			RateBurst:     p.RateBurst,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider backend: %q", backend)
	}
}

// NewGenerator wires the primary and optional fallback backends behind
// retry. This is the generator the controller talks to.
func NewGenerator(cfg *config.Config, metrics *observability.Metrics) (TextGenerator, error) {
	primary, err := NewTextGenerator(cfg, cfg.Provider.Primary)
	if err != nil {
		return nil, err
	}

	var fallback TextGenerator
	if cfg.Provider.Fallback != "" {
		fallback, err = NewTextGenerator(cfg, cfg.Provider.Fallback)
		if err != nil {
			return nil, err
		}
	}

	return NewFallbackGenerator(primary, fallback, cfg.Provider.MaxRetries, metrics), nil
}

// NewEmbeddingGenerator creates the embedding client. OpenAI serves when it
// is the primary backend with a key present; everything else embeds through
// Ollama since Anthropic has no embeddings API.
func NewEmbeddingGenerator(cfg *config.Config) EmbeddingGenerator {
	p := cfg.Provider

	if p.Primary == config.BackendOpenAI && p.OpenAIAPIKey != "" {
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:  p.OpenAIAPIKey,
			Model:   p.OpenAIEmbeddingModel,
			Timeout: cfg.ProviderTimeout(),
		})
	}

	return NewOllamaClient(OllamaConfig{
		BaseURL:       p.OllamaURL,
		Model:         p.OllamaEmbeddingModel,
		Timeout:       cfg.ProviderTimeout(),
		RatePerSecond: p.RatePerSecond,
		RateBurst:     p.RateBurst,
	})
}
