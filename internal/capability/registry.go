// Package capability implements the capability registry and the built-in
// capability modules: task management, communication drafting, analytics,
// and preference updates.
//
// The registry is populated explicitly at startup from a static list of
// modules. There is no runtime discovery: what was registered is what can
// run, and registration order is part of the contract because it breaks
// confidence ties deterministically.
package capability

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/scrypster/aide/internal/observability"
	"github.com/scrypster/aide/pkg/types"
)

// Invocation result labels for metrics.
const (
	resultOK    = "ok"
	resultError = "error"
)

// ErrNotRegistered is returned (wrapped in a CapabilityError) when Invoke
// names a capability the registry does not hold.
var ErrNotRegistered = errors.New("capability not registered")

// Capability is the contract every capability module implements.
type Capability interface {
	// Descriptor returns the module's static description. It is read once
	// at registration; descriptors do not change at runtime.
	Descriptor() types.CapabilityDescriptor

	// Handle performs one invocation. Errors should be CapabilityErrors;
	// anything else is wrapped as an internal CapabilityError by the
	// registry.
	Handle(ctx context.Context, input types.CapabilityInput) (types.CapabilityOutput, error)
}

type registered struct {
	descriptor types.CapabilityDescriptor
	module     Capability
}

// Registry matches intent signals to capabilities and dispatches
// invocations. Safe for concurrent use; registration happens at startup,
// matching and invocation on every turn.
type Registry struct {
	mu              sync.RWMutex
	order           []string
	modules         map[string]registered
	confidenceFloor float64
	metrics         *observability.Metrics
}

// NewRegistry creates an empty registry. confidenceFloor is the minimum
// predicate confidence for a capability to appear in Match results.
func NewRegistry(confidenceFloor float64, metrics *observability.Metrics) *Registry {
	if confidenceFloor < 0 {
		confidenceFloor = 0
	}
	if confidenceFloor > 1 {
		confidenceFloor = 1
	}
	return &Registry{
		modules:         make(map[string]registered),
		confidenceFloor: confidenceFloor,
		metrics:         metrics,
	}
}

// Register adds a capability module. Names must be unique; the descriptor
// must carry a match predicate and a known side effect declaration.
func (r *Registry) Register(module Capability) error {
	if module == nil {
		return fmt.Errorf("cannot register a nil capability")
	}

	desc := module.Descriptor()
	if desc.Name == "" {
		return fmt.Errorf("capability descriptor has no name")
	}
	if desc.Match == nil {
		return fmt.Errorf("capability %s has no match predicate", desc.Name)
	}
	switch desc.SideEffect {
	case types.SideEffectNone, types.SideEffectExternalWrite, types.SideEffectStateful:
	default:
		return fmt.Errorf("capability %s declares unknown side effect %q", desc.Name, desc.SideEffect)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[desc.Name]; exists {
		return fmt.Errorf("capability %s already registered", desc.Name)
	}

	r.modules[desc.Name] = registered{descriptor: desc, module: module}
	r.order = append(r.order, desc.Name)
	log.Printf("Registered capability %s (side effect: %s)", desc.Name, desc.SideEffect)
	return nil
}

// Match evaluates every predicate against the signal and returns the
// descriptors at or above the confidence floor, best first. Ties keep
// registration order, so module wiring order is deterministic and
// testable.
func (r *Registry) Match(signal types.IntentSignal) []types.CapabilityDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type candidate struct {
		descriptor types.CapabilityDescriptor
		confidence float64
	}

	candidates := make([]candidate, 0, len(r.order))
	for _, name := range r.order {
		reg := r.modules[name]
		confidence := reg.descriptor.Match(signal)
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		if confidence >= r.confidenceFloor && confidence > 0 {
			candidates = append(candidates, candidate{reg.descriptor, confidence})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].confidence > candidates[j].confidence
	})

	matched := make([]types.CapabilityDescriptor, len(candidates))
	for i, c := range candidates {
		matched[i] = c.descriptor
	}
	return matched
}

// Confidence returns the named capability's predicate confidence for the
// signal, or 0 when the capability is unknown. The controller uses it for
// logging and the turn record.
func (r *Registry) Confidence(name string, signal types.IntentSignal) float64 {
	r.mu.RLock()
	reg, ok := r.modules[name]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	confidence := reg.descriptor.Match(signal)
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// Invoke runs the named capability synchronously. Every error it returns is
// a *types.CapabilityError. External-write capabilities always receive a
// dedupe token: the caller's when present, a fresh one otherwise, so a
// retried invocation can be recognized downstream.
func (r *Registry) Invoke(ctx context.Context, name string, input types.CapabilityInput) (types.CapabilityOutput, error) {
	r.mu.RLock()
	reg, ok := r.modules[name]
	r.mu.RUnlock()

	if !ok {
		return types.CapabilityOutput{}, types.NewCapabilityError(name, types.CapabilityInternal, ErrNotRegistered)
	}

	if reg.descriptor.SideEffect == types.SideEffectExternalWrite && input.DedupeToken == "" {
		input.DedupeToken = types.NewDedupeToken()
	}

	output, err := reg.module.Handle(ctx, input)
	if err != nil {
		r.metrics.RecordCapability(name, resultError)
		if ce, isCapErr := types.IsCapabilityError(err); isCapErr {
			if ce.Capability == "" {
				ce.Capability = name
			}
			return types.CapabilityOutput{}, ce
		}
		return types.CapabilityOutput{}, types.NewCapabilityError(name, types.CapabilityInternal, err)
	}

	r.metrics.RecordCapability(name, resultOK)
	return output, nil
}

// Descriptors lists every registered descriptor in registration order.
func (r *Registry) Descriptors() []types.CapabilityDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]types.CapabilityDescriptor, 0, len(r.order))
	for _, name := range r.order {
		descriptors = append(descriptors, r.modules[name].descriptor)
	}
	return descriptors
}
