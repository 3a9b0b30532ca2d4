package types

import "time"

// ContextWindow is the ephemeral, per-request assembly of profile
// constraints, ranked memory entries, and recent turns that is sent to the
// provider. It is owned by exactly one in-flight request and discarded once
// the response is produced.
type ContextWindow struct {
	SystemPreamble string        `json:"system_preamble"` // Profile constraints and standing instructions
	Memories       []ScoredEntry `json:"memories"`        // Ranked entries that fit the budget
	RecentTurns    []Turn        `json:"recent_turns"`    // Chronological recent turns that fit the budget
	Input          string        `json:"input"`           // The current user utterance

	TokenBudget  int             `json:"token_budget"`  // Configured budget the window must not exceed
	TokensUsed   int             `json:"tokens_used"`   // Estimated tokens consumed by the window
	Manifest     ContextManifest `json:"manifest"`      // Inclusion/exclusion record for observability
	AssembledAt  time.Time       `json:"assembled_at"`
	Degraded     bool            `json:"degraded"`      // True when memory retrieval was skipped or failed
}

// ContextManifest records what assembly included and what it left out, with
// reasons, so a turn's context is reconstructible after the fact.
type ContextManifest struct {
	Included []ManifestItem `json:"included"`
	Excluded []ManifestItem `json:"excluded"`
}

// ManifestItem describes one candidate considered during assembly.
type ManifestItem struct {
	Section string  `json:"section"`          // "profile", "memory", or "turn"
	Ref     string  `json:"ref"`              // Entry or turn ID, "profile" for the preamble
	Tokens  int     `json:"tokens"`           // Estimated token cost of the item
	Score   float64 `json:"score,omitempty"`  // Relevance score for memory items
	Reason  string  `json:"reason,omitempty"` // Why the item was excluded; empty for included items
}

// Items appended to a manifest use these section names.
const (
	ManifestSectionProfile = "profile"
	ManifestSectionMemory  = "memory"
	ManifestSectionTurn    = "turn"
)

// EstimateTokens approximates the token cost of a string without a real
// tokenizer: one token per four characters, rounded up, minimum one for
// non-empty text. Every budget check in assembly goes through this single
// function so a model-specific tokenizer can replace it later.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
