package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across components.
var (
	ErrMissingID        = errors.New("missing id")
	ErrEmptyContent     = errors.New("empty content")
	ErrNoSourceTurns    = errors.New("memory entry has no source turns")
	ErrUnknownKind      = errors.New("unknown memory kind")
	ErrUnknownRetention = errors.New("unknown retention policy")
	ErrScoreOutOfRange  = errors.New("score out of range [0,1]")
	ErrNotFound         = errors.New("not found")
)

// ProviderErrorKind classifies provider failures for retry/fallback decisions.
type ProviderErrorKind string

const (
	ProviderTimeout           ProviderErrorKind = "timeout"
	ProviderRateLimited       ProviderErrorKind = "rate_limit"
	ProviderMalformedResponse ProviderErrorKind = "malformed_response"
	ProviderUnavailable       ProviderErrorKind = "unavailable"
)

// ProviderError wraps a failure from an LLM backend. The adapter recovers
// locally via fallback and backoff; the caller only sees a ProviderError once
// every configured backend is exhausted.
type ProviderError struct {
	Provider string            // Backend name, e.g. "openai"
	Kind     ProviderErrorKind // What went wrong
	Err      error             // Underlying cause
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a ProviderError wrapping err.
func NewProviderError(provider string, kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// IsProviderError reports whether err is (or wraps) a ProviderError, and
// returns it.
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// CapabilityErrorKind classifies capability failures.
type CapabilityErrorKind string

const (
	CapabilityInvalidInput CapabilityErrorKind = "invalid_input"
	CapabilityInternal     CapabilityErrorKind = "internal"
)

// CapabilityError wraps a failure inside a capability module. The controller
// responds by falling back to direct completion rather than failing the turn.
type CapabilityError struct {
	Capability string              // Capability name, e.g. "task_manager"
	Kind       CapabilityErrorKind // invalid_input or internal
	Err        error               // Underlying cause
}

func (e *CapabilityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capability %s: %s: %v", e.Capability, e.Kind, e.Err)
	}
	return fmt.Sprintf("capability %s: %s", e.Capability, e.Kind)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// NewCapabilityError builds a CapabilityError wrapping err.
func NewCapabilityError(capability string, kind CapabilityErrorKind, err error) *CapabilityError {
	return &CapabilityError{Capability: capability, Kind: kind, Err: err}
}

// IsCapabilityError reports whether err is (or wraps) a CapabilityError.
func IsCapabilityError(err error) (*CapabilityError, bool) {
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// PersistenceError wraps a storage failure. A turn hit by one still completes
// with degraded context; the record is queued for retry-write, never dropped
// silently.
type PersistenceError struct {
	Op  string // Storage operation that failed, e.g. "record", "query"
	Err error  // Underlying cause
}

func (e *PersistenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence %s failed", e.Op)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError builds a PersistenceError wrapping err.
func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistenceError reports whether err is (or wraps) a PersistenceError.
func IsPersistenceError(err error) (*PersistenceError, bool) {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ConfigurationError reports a fatal configuration gap, such as a missing
// provider credential. It is only raised at startup and never recovered
// per-turn.
type ConfigurationError struct {
	Key    string // Configuration key at fault
	Reason string // Why the value is unacceptable
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Key, e.Reason)
}

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(key, reason string) *ConfigurationError {
	return &ConfigurationError{Key: key, Reason: reason}
}
