package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/scrypster/aide/pkg/types"
)

// maxErrorBody caps how much of a provider error body gets carried into the
// error message. Provider errors can echo the full request back.
const maxErrorBody = 512

// statusError maps a non-200 HTTP status to a typed provider error.
// 429 means the backend is shedding load, 408 and 504 are timeouts on the
// provider side, and everything else counts as unavailable.
func statusError(provider string, status int, body []byte) *types.ProviderError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	err := fmt.Errorf("status %d: %s", status, msg)

	switch status {
	case http.StatusTooManyRequests:
		return types.NewProviderError(provider, types.ProviderRateLimited, err)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return types.NewProviderError(provider, types.ProviderTimeout, err)
	default:
		return types.NewProviderError(provider, types.ProviderUnavailable, err)
	}
}

// transportError maps a request transport failure to a typed provider error.
// Caller cancellation passes through untouched so the fallback layer never
// mistakes an abandoned request for a provider fault.
func transportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return types.NewProviderError(provider, types.ProviderTimeout, err)
	}
	return types.NewProviderError(provider, types.ProviderUnavailable, err)
}

// malformedError wraps a decode or empty-payload failure. These are not
// retried against the same backend; the response arrived, it just made no
// sense.
func malformedError(provider string, err error) *types.ProviderError {
	return types.NewProviderError(provider, types.ProviderMalformedResponse, err)
}

// retryable reports whether another attempt against the same backend could
// plausibly succeed. Circuit-open failures are excluded since the breaker
// would reject the retry anyway.
func retryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var perr *types.ProviderError
	if !errors.As(err, &perr) {
		return false
	}
	switch perr.Kind {
	case types.ProviderTimeout, types.ProviderRateLimited, types.ProviderUnavailable:
		return true
	default:
		return false
	}
}
