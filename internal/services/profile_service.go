package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

// ProfileService merges the system default profile with stored per-user
// customizations. All profile writes go through it; the preferences
// capability is the only caller that updates profiles during a turn.
type ProfileService struct {
	store       storage.ProfileStore
	defaultName string
}

// NewProfileService creates a new ProfileService. defaultName seeds the
// display name for users that never set one; pass "" to leave it unset.
func NewProfileService(store storage.ProfileStore, defaultName string) *ProfileService {
	return &ProfileService{store: store, defaultName: defaultName}
}

// Get returns the effective profile for a user: stored customizations merged
// over the system defaults. Users without a stored profile get the defaults.
func (s *ProfileService) Get(ctx context.Context, userID string) (types.UserProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return types.UserProfile{}, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	merged := types.DefaultProfile(userID)
	if s.defaultName != "" {
		merged.DisplayName = s.defaultName
	}

	stored, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return merged, nil
	}
	if err != nil {
		return types.UserProfile{}, fmt.Errorf("failed to load profile for %s: %w", userID, err)
	}

	// Stored values win field by field, so a profile saved before a new
	// default existed still picks the new default up for unset fields.
	if stored.DisplayName != "" {
		merged.DisplayName = stored.DisplayName
	}
	if stored.Language != "" {
		merged.Language = stored.Language
	}
	if stored.Timezone != "" {
		merged.Timezone = stored.Timezone
	}
	if stored.Tone != "" {
		merged.Tone = stored.Tone
	}
	merged.Instructions = stored.Instructions
	merged.UpdatedAt = stored.UpdatedAt

	return merged, nil
}

// ProfileUpdate describes a partial preference change. Nil fields are left
// untouched. DisplayName and Instructions accept the empty string to clear
// a previously set value; the remaining fields must be non-blank when set.
type ProfileUpdate struct {
	DisplayName  *string `json:"display_name,omitempty"`
	Language     *string `json:"language,omitempty"`
	Timezone     *string `json:"timezone,omitempty"`
	Tone         *string `json:"tone,omitempty"`
	Instructions *string `json:"instructions,omitempty"`
}

// IsZero reports whether the update carries no changes.
func (u ProfileUpdate) IsZero() bool {
	return u.DisplayName == nil && u.Language == nil && u.Timezone == nil &&
		u.Tone == nil && u.Instructions == nil
}

// Update applies a partial preference change and persists the result. It
// returns the full effective profile after the update. An empty update is a
// no-op and performs no write.
func (s *ProfileService) Update(ctx context.Context, userID string, update ProfileUpdate) (types.UserProfile, error) {
	profile, err := s.Get(ctx, userID)
	if err != nil {
		return types.UserProfile{}, err
	}
	if update.IsZero() {
		return profile, nil
	}

	if update.DisplayName != nil {
		profile.DisplayName = strings.TrimSpace(*update.DisplayName)
	}
	if update.Language != nil {
		lang := strings.TrimSpace(*update.Language)
		if lang == "" {
			return types.UserProfile{}, fmt.Errorf("%w: language cannot be blank", storage.ErrInvalidInput)
		}
		profile.Language = lang
	}
	if update.Timezone != nil {
		tz := strings.TrimSpace(*update.Timezone)
		if tz == "" {
			return types.UserProfile{}, fmt.Errorf("%w: timezone cannot be blank", storage.ErrInvalidInput)
		}
		profile.Timezone = tz
	}
	if update.Tone != nil {
		tone := strings.ToLower(strings.TrimSpace(*update.Tone))
		if !types.IsValidTone(tone) {
			return types.UserProfile{}, fmt.Errorf("%w: unknown tone %q (valid: %s)",
				storage.ErrInvalidInput, *update.Tone, strings.Join(types.ValidTones, ", "))
		}
		profile.Tone = tone
	}
	if update.Instructions != nil {
		profile.Instructions = strings.TrimSpace(*update.Instructions)
	}

	profile.UpdatedAt = time.Now().UTC()
	if err := s.store.StoreProfile(ctx, &profile); err != nil {
		return types.UserProfile{}, types.NewPersistenceError("store profile", err)
	}

	return profile, nil
}
