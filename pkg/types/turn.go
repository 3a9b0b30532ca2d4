package types

import "time"

// Turn is one user input plus the system's response. Turns are append-only:
// once recorded they are never edited in place; a correction is a new Turn
// whose SupersedesID references the old one.
type Turn struct {
	ID             string    `json:"id"`                        // Unique identifier (format: turn:<uuid>)
	ConversationID string    `json:"conversation_id"`           // Conversation this turn belongs to
	Timestamp      time.Time `json:"timestamp"`                 // When the turn completed
	Input          string    `json:"input"`                     // Raw user utterance
	Response       string    `json:"response"`                  // Final response returned to the user
	Intent         string    `json:"intent,omitempty"`          // Intent label decided by the controller
	Capability     string    `json:"capability,omitempty"`      // Capability invoked, empty for direct completion
	UserID         string    `json:"user_id,omitempty"`         // Acting user, when known
	Sensitive      bool      `json:"sensitive,omitempty"`       // Content must be redacted before logging
	SupersedesID   string    `json:"supersedes_id,omitempty"`   // ID of the turn this one corrects
}

// TurnResult is what the front-end contract returns for a submitted turn:
// the response plus enough provenance to debug how it was produced.
type TurnResult struct {
	TurnID         string          `json:"turn_id"`
	ConversationID string          `json:"conversation_id"` // Echoes the submitted ID, or the one allocated for a fresh conversation
	Response       string          `json:"response"`
	Intent         string          `json:"intent,omitempty"`
	Capability     string          `json:"capability,omitempty"` // Empty when the turn went to direct completion
	Degraded       bool            `json:"degraded,omitempty"`   // True when the turn ran on degraded context or a fallback response
	Manifest       ContextManifest `json:"manifest"`             // What the context window included and excluded
	Elapsed        time.Duration   `json:"elapsed_ns"`           // Wall time spent producing the response
}

// IntentSignal is the controller's normalized view of an utterance used for
// capability matching.
type IntentSignal struct {
	Text       string  `json:"text"`       // Normalized utterance (lowercased, collapsed whitespace)
	Label      string  `json:"label"`      // Best intent label
	Confidence float64 `json:"confidence"` // Confidence of the best label, 0.0-1.0
}
