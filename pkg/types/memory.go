package types

import "time"

// MemoryEntry is a durable fact or summarized episode derived from one or
// more turns. Entries are created and mutated only by the memory store's
// consolidation and decay processes; capabilities never write them directly.
type MemoryEntry struct {
	// Core identification fields
	ID        string    `json:"id"`         // Unique identifier (format: mem:<uuid>)
	Content   string    `json:"content"`    // The fact or summary text
	Kind      MemoryKind `json:"kind"`      // fact, preference, or episode
	CreatedAt time.Time `json:"created_at"` // When consolidation produced the entry
	UpdatedAt time.Time `json:"updated_at"` // Last mutation by consolidation or decay

	// Provenance: every entry traces to at least one recorded turn.
	SourceTurnIDs  []string `json:"source_turn_ids"`
	ConversationID string   `json:"conversation_id,omitempty"`

	// Embedding fields for similarity retrieval
	Embedding          []float32 `json:"embedding,omitempty"`           // Vector embedding for semantic search
	EmbeddingModel     string    `json:"embedding_model,omitempty"`     // Model used for embedding
	EmbeddingDimension int       `json:"embedding_dimension,omitempty"` // Dimension of embedding vector

	// Scoring and lifecycle
	Importance float64         `json:"importance"`  // Importance score assigned at consolidation (0.0-1.0)
	Retention  RetentionPolicy `json:"retention"`   // ephemeral entries may expire, durable never do
	DecayScore float64         `json:"decay_score"` // Current decay-adjusted relevance (0.0-1.0)

	// Access tracking: reads slow effective decay but never reset entry age.
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	DecayUpdatedAt *time.Time `json:"decay_updated_at,omitempty"`

	// Sensitive entries are redacted before their content appears in logs.
	Sensitive bool `json:"sensitive,omitempty"`
}

// Validate reports whether the entry satisfies the structural invariants the
// store enforces on write.
func (m *MemoryEntry) Validate() error {
	if m.ID == "" {
		return &PersistenceError{Op: "validate", Err: ErrMissingID}
	}
	if m.Content == "" {
		return &PersistenceError{Op: "validate", Err: ErrEmptyContent}
	}
	if len(m.SourceTurnIDs) == 0 {
		return &PersistenceError{Op: "validate", Err: ErrNoSourceTurns}
	}
	if !IsValidMemoryKind(m.Kind) {
		return &PersistenceError{Op: "validate", Err: ErrUnknownKind}
	}
	if !IsValidRetentionPolicy(m.Retention) {
		return &PersistenceError{Op: "validate", Err: ErrUnknownRetention}
	}
	if m.Importance < 0.0 || m.Importance > 1.0 {
		return &PersistenceError{Op: "validate", Err: ErrScoreOutOfRange}
	}
	return nil
}

// ScoredEntry pairs a memory entry with the composite relevance score a query
// computed for it, plus the score's components for observability.
type ScoredEntry struct {
	Entry      MemoryEntry     `json:"entry"`
	Score      float64         `json:"score"`
	Components ScoreComponents `json:"components"`
}

// ScoreComponents breaks a composite relevance score into its factors so
// callers can explain why an entry ranked where it did.
type ScoreComponents struct {
	Similarity float64 `json:"similarity"` // Embedding or text similarity to the query, 0.0-1.0
	Importance float64 `json:"importance"` // Importance weight factor
	Recency    float64 `json:"recency"`    // Recency weight factor
}

// QueryFilters narrows a memory query.
type QueryFilters struct {
	ConversationID string          // Restrict to one conversation; empty means all
	Kind           MemoryKind      // Restrict to one kind; empty means all
	Retention      RetentionPolicy // Restrict to one policy; empty means all
	Since          *time.Time      // Only entries created at or after this time
	Until          *time.Time      // Only entries created before this time
}
