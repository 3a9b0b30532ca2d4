package types

import "time"

// UserProfile holds long-lived preferences and constraints for one user.
// The context assembler reads it on every turn; writes go exclusively
// through the preference-update capability via the profile service.
type UserProfile struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name,omitempty"`
	Language     string    `json:"language"`                // BCP 47 tag, e.g. "en"
	Timezone     string    `json:"timezone"`                // IANA name, e.g. "Europe/Rome"
	Tone         string    `json:"tone"`                    // Preferred response tone
	Instructions string    `json:"instructions,omitempty"`  // Free-form standing instructions
	UpdatedAt    time.Time `json:"updated_at"`
}

// Tones the profile service accepts.
const (
	ToneNeutral  = "neutral"
	ToneFriendly = "friendly"
	ToneFormal   = "formal"
	ToneConcise  = "concise"
)

// ValidTones lists all accepted tone values.
var ValidTones = []string{ToneNeutral, ToneFriendly, ToneFormal, ToneConcise}

// IsValidTone checks whether the given tone is known.
func IsValidTone(tone string) bool {
	for _, valid := range ValidTones {
		if valid == tone {
			return true
		}
	}
	return false
}

// DefaultProfile returns the system default profile for a user with no saved
// customizations.
func DefaultProfile(userID string) UserProfile {
	return UserProfile{
		UserID:   userID,
		Language: "en",
		Timezone: "UTC",
		Tone:     ToneNeutral,
	}
}
