package llm

import (
	"context"
	"time"
)

// CompletionRequest carries one completion call. Model, MaxTokens,
// Temperature, and Timeout override the client defaults when set, so the
// controller can tighten limits per call without rebuilding clients.
type CompletionRequest struct {
	System      string        // optional system preamble, empty omits it
	Prompt      string        // user-visible prompt body
	Model       string        // overrides the configured model when non-empty
	MaxTokens   int           // completion token cap, 0 uses the client default
	Temperature float64       // sampling temperature
	Timeout     time.Duration // per-call deadline, 0 uses the client default
}

// CompletionResponse is the normalized result all backends return.
type CompletionResponse struct {
	Text  string
	Model string // model that actually served the call
	Usage Usage
}

// Usage reports token accounting as the backend measured it. Backends that
// do not report usage leave the fields zero.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// TextGenerator is the interface for LLM text completion. Implementations
// return *types.ProviderError for transport, rate limit, timeout, and
// malformed response failures so callers can decide on retry and fallback.
type TextGenerator interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Name() string
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
// Returns float32 slices sized by the backing model.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
