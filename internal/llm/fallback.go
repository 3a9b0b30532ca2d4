package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/scrypster/aide/internal/observability"
	"github.com/scrypster/aide/pkg/types"
)

// FallbackGenerator tries a primary backend first and falls back on provider
// error. Each backend gets a bounded number of retries with quadratic backoff
// before the next one is consulted.
//
// Caller cancellation never triggers fallback: once the request context is
// done there is nobody left to answer, so the error propagates as-is. A
// per-call timeout inside the primary is a provider fault and does fall back.
type FallbackGenerator struct {
	primary    TextGenerator
	fallback   TextGenerator // nil disables fallback
	maxRetries int
	metrics    *observability.Metrics
}

// NewFallbackGenerator wraps primary with retry and optional fallback.
// maxRetries is per backend; negative values are treated as zero.
func NewFallbackGenerator(primary, fallback TextGenerator, maxRetries int, metrics *observability.Metrics) *FallbackGenerator {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &FallbackGenerator{
		primary:    primary,
		fallback:   fallback,
		maxRetries: maxRetries,
		metrics:    metrics,
	}
}

// Primary returns the preferred backend used before fallback.
func (g *FallbackGenerator) Primary() TextGenerator {
	if g == nil {
		return nil
	}
	return g.primary
}

// Secondary returns the fallback backend, nil when fallback is disabled.
func (g *FallbackGenerator) Secondary() TextGenerator {
	if g == nil {
		return nil
	}
	return g.fallback
}

// Complete runs the request against the primary backend and, when the
// primary keeps failing with provider errors, against the fallback.
func (g *FallbackGenerator) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if g == nil || g.primary == nil {
		if g != nil && g.fallback != nil {
			return g.completeWithRetry(ctx, g.fallback, req)
		}
		return nil, fmt.Errorf("fallback generator misconfigured")
	}

	resp, err := g.completeWithRetry(ctx, g.primary, req)
	if err == nil {
		return resp, nil
	}
	// The request context decides whether fallback is still worth it. A
	// timeout inside the primary call leaves ctx alive and falls through.
	if ctx.Err() != nil {
		return nil, err
	}
	if g.fallback == nil {
		return nil, err
	}

	log.Printf("WARNING: provider %s failed, falling back to %s: %v", g.primary.Name(), g.fallback.Name(), err)
	g.metrics.RecordFallback()

	fallbackResp, fallbackErr := g.completeWithRetry(ctx, g.fallback, req)
	if fallbackErr != nil {
		return nil, fmt.Errorf("primary provider error: %w; fallback provider error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}

// completeWithRetry attempts one backend up to maxRetries+1 times. Only
// retryable provider errors earn another attempt; backoff grows with the
// square of the attempt number.
func (g *FallbackGenerator) completeWithRetry(ctx context.Context, gen TextGenerator, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := gen.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		g.recordError(err)

		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}

	return nil, lastErr
}

// recordError feeds typed provider failures into the metrics counters.
func (g *FallbackGenerator) recordError(err error) {
	var perr *types.ProviderError
	if errors.As(err, &perr) {
		g.metrics.RecordProviderError(perr.Provider, string(perr.Kind))
	}
}

// Name identifies the composite for logs; the primary dominates.
func (g *FallbackGenerator) Name() string {
	if g == nil || g.primary == nil {
		return "fallback"
	}
	return g.primary.Name()
}

// GetModel returns the primary backend's configured model.
func (g *FallbackGenerator) GetModel() string {
	if g == nil || g.primary == nil {
		return ""
	}
	return g.primary.GetModel()
}

// Compile-time assertion.
var _ TextGenerator = (*FallbackGenerator)(nil)
