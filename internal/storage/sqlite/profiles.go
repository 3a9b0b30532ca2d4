package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

// StoreProfile creates or updates a profile keyed by user ID.
func (s *Store) StoreProfile(ctx context.Context, profile *types.UserProfile) error {
	if profile == nil {
		return storage.ErrInvalidInput
	}

	if profile.UserID == "" {
		return fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO profiles (
			user_id, display_name, language, timezone, tone, instructions, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			language = excluded.language,
			timezone = excluded.timezone,
			tone = excluded.tone,
			instructions = excluded.instructions,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		profile.UserID,
		profile.DisplayName,
		profile.Language,
		profile.Timezone,
		profile.Tone,
		profile.Instructions,
		profile.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}

	return nil
}

// GetProfile retrieves a profile by user ID. Callers fall back to defaults
// on ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, userID string) (*types.UserProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	query := `
		SELECT user_id, display_name, language, timezone, tone, instructions, updated_at
		FROM profiles
		WHERE user_id = ?
	`

	var profile types.UserProfile
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.DisplayName,
		&profile.Language,
		&profile.Timezone,
		&profile.Tone,
		&profile.Instructions,
		&profile.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &profile, nil
}
