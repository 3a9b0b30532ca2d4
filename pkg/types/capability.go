package types

// CapabilityDescriptor describes one pluggable capability module: how the
// registry matches intents to it and what invoking it may do.
type CapabilityDescriptor struct {
	Name        string     `json:"name"`        // Stable identifier, e.g. "task_manager"
	Description string     `json:"description"` // One-line human description
	SideEffect  SideEffect `json:"side_effect"` // none, external-write, or stateful
	Examples    []string   `json:"examples,omitempty"` // Example utterances the capability handles

	// Match returns the capability's confidence in [0,1] that it should
	// handle the given intent signal. Predicates must be pure functions of
	// the signal so matching stays deterministic.
	Match func(IntentSignal) float64 `json:"-"`
}

// CapabilityInput is the uniform invocation payload passed to a capability.
type CapabilityInput struct {
	ConversationID string      `json:"conversation_id"`
	UserID         string      `json:"user_id,omitempty"`
	Utterance      string      `json:"utterance"`              // The raw user text
	Intent         IntentSignal `json:"intent"`                // The signal that matched
	DedupeToken    string      `json:"dedupe_token,omitempty"` // Same token on retry; external-write capabilities must honor it
	Profile        UserProfile `json:"profile"`                // Snapshot, read-only for capabilities
}

// CapabilityOutput is the uniform result a capability returns.
type CapabilityOutput struct {
	Response string            `json:"response"`          // User-facing text before optional tone normalization
	Data     map[string]string `json:"data,omitempty"`    // Structured details for the front end
	Applied  bool              `json:"applied,omitempty"` // True when a side effect was actually applied (false on dedupe hit)
}
