// Package types defines the core data structures for the aide orchestration
// core: turns, memory entries, context windows, capability descriptors, user
// profiles, and the error taxonomy shared by every component.
package types

import (
	"fmt"

	"github.com/google/uuid"
)

// RetentionPolicy controls whether a memory entry may be expired automatically.
type RetentionPolicy string

const (
	// RetentionEphemeral marks an entry as removable once it ages past the
	// configured threshold and its decay score drops below the floor.
	RetentionEphemeral RetentionPolicy = "ephemeral"

	// RetentionDurable marks an entry as never auto-removed.
	RetentionDurable RetentionPolicy = "durable"
)

// ValidRetentionPolicies lists all accepted retention policy tags.
var ValidRetentionPolicies = []RetentionPolicy{
	RetentionEphemeral,
	RetentionDurable,
}

// IsValidRetentionPolicy checks whether the given tag is a known policy.
func IsValidRetentionPolicy(p RetentionPolicy) bool {
	for _, valid := range ValidRetentionPolicies {
		if valid == p {
			return true
		}
	}
	return false
}

// MemoryKind classifies what a memory entry holds.
type MemoryKind string

const (
	// KindFact is a discrete durable statement ("user's sister is Alice").
	KindFact MemoryKind = "fact"

	// KindPreference is a stated user preference ("prefers short answers").
	KindPreference MemoryKind = "preference"

	// KindEpisode is a summarized exchange kept for conversational continuity.
	KindEpisode MemoryKind = "episode"
)

// ValidMemoryKinds lists all accepted memory kinds.
var ValidMemoryKinds = []MemoryKind{KindFact, KindPreference, KindEpisode}

// IsValidMemoryKind checks whether the given kind is known.
func IsValidMemoryKind(k MemoryKind) bool {
	for _, valid := range ValidMemoryKinds {
		if valid == k {
			return true
		}
	}
	return false
}

// SideEffect declares what a capability invocation may do beyond computing
// its output. The registry uses it to decide retry and dedupe behavior.
type SideEffect string

const (
	// SideEffectNone means the capability is pure: safe to retry freely.
	SideEffectNone SideEffect = "none"

	// SideEffectExternalWrite means the capability mutates state outside the
	// core (or state visible to the user, like the task list); invocations
	// must be idempotent under a dedupe token.
	SideEffectExternalWrite SideEffect = "external-write"

	// SideEffectStateful means the capability mutates core-owned state such
	// as the user profile.
	SideEffectStateful SideEffect = "stateful"
)

// Intent labels produced by the controller's intent analysis and matched by
// capability predicates. IntentGeneral is the fall-through to direct
// completion.
const (
	IntentTask          = "task"
	IntentCommunication = "communication"
	IntentAnalytics     = "analytics"
	IntentPreference    = "preference"
	IntentQuestion      = "question"
	IntentGeneral       = "general"
)

// IntentLabels returns all intent labels in stable order.
func IntentLabels() []string {
	return []string{
		IntentTask,
		IntentCommunication,
		IntentAnalytics,
		IntentPreference,
		IntentQuestion,
		IntentGeneral,
	}
}

// IsValidIntent checks if the given string is a known intent label.
func IsValidIntent(label string) bool {
	switch label {
	case IntentTask, IntentCommunication, IntentAnalytics, IntentPreference, IntentQuestion, IntentGeneral:
		return true
	default:
		return false
	}
}

// ID prefixes keep record identifiers self-describing in logs and storage.
const (
	turnIDPrefix         = "turn"
	memoryIDPrefix       = "mem"
	conversationIDPrefix = "conv"
	taskIDPrefix         = "task"
)

// NewTurnID generates a unique turn identifier (format: turn:<uuid>).
func NewTurnID() string {
	return fmt.Sprintf("%s:%s", turnIDPrefix, uuid.NewString())
}

// NewMemoryID generates a unique memory entry identifier (format: mem:<uuid>).
func NewMemoryID() string {
	return fmt.Sprintf("%s:%s", memoryIDPrefix, uuid.NewString())
}

// NewConversationID generates a unique conversation identifier
// (format: conv:<uuid>).
func NewConversationID() string {
	return fmt.Sprintf("%s:%s", conversationIDPrefix, uuid.NewString())
}

// NewTaskID generates a unique task identifier (format: task:<uuid>).
func NewTaskID() string {
	return fmt.Sprintf("%s:%s", taskIDPrefix, uuid.NewString())
}

// NewDedupeToken generates a token capabilities use to make external-write
// invocations idempotent across controller retries.
func NewDedupeToken() string {
	return uuid.NewString()
}
