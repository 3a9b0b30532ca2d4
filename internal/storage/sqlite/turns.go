package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

// StoreTurn creates or updates a turn. Upserting by ID keeps retried writes
// idempotent; only the fields a retry can legitimately change are updated,
// so recorded history stays append-only.
func (s *Store) StoreTurn(ctx context.Context, turn *types.Turn) error {
	if turn == nil {
		return storage.ErrInvalidInput
	}

	if turn.ID == "" {
		return fmt.Errorf("%w: turn ID is required", storage.ErrInvalidInput)
	}

	if turn.ConversationID == "" {
		return fmt.Errorf("%w: conversation ID is required", storage.ErrInvalidInput)
	}

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO turns (
			id, conversation_id, timestamp, input, response,
			intent, capability, user_id, sensitive, supersedes_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			response = excluded.response,
			intent = excluded.intent,
			capability = excluded.capability,
			sensitive = excluded.sensitive
	`

	_, err := s.db.ExecContext(ctx, query,
		turn.ID,
		turn.ConversationID,
		turn.Timestamp.UTC(),
		turn.Input,
		turn.Response,
		turn.Intent,
		turn.Capability,
		turn.UserID,
		turn.Sensitive,
		turn.SupersedesID,
	)
	if err != nil {
		return fmt.Errorf("failed to store turn: %w", err)
	}

	return nil
}

// GetTurn retrieves a turn by ID.
func (s *Store) GetTurn(ctx context.Context, id string) (*types.Turn, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: turn ID is required", storage.ErrInvalidInput)
	}

	query := `
		SELECT id, conversation_id, timestamp, input, response,
			intent, capability, user_id, sensitive, supersedes_id
		FROM turns
		WHERE id = ?
	`

	var turn types.Turn
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&turn.ID,
		&turn.ConversationID,
		&turn.Timestamp,
		&turn.Input,
		&turn.Response,
		&turn.Intent,
		&turn.Capability,
		&turn.UserID,
		&turn.Sensitive,
		&turn.SupersedesID,
	)

	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}

	return &turn, nil
}

// RecentTurns returns up to n latest turns for a conversation in
// chronological order, oldest first. The query walks the conversation index
// backwards and the result is reversed in memory.
func (s *Store) RecentTurns(ctx context.Context, conversationID string, n int) ([]types.Turn, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation ID is required", storage.ErrInvalidInput)
	}

	if n < 1 {
		return nil, nil
	}

	query := `
		SELECT id, conversation_id, timestamp, input, response,
			intent, capability, user_id, sensitive, supersedes_id
		FROM turns
		WHERE conversation_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent turns: %w", err)
	}
	defer rows.Close()

	var turns []types.Turn
	for rows.Next() {
		var turn types.Turn
		if err := rows.Scan(
			&turn.ID,
			&turn.ConversationID,
			&turn.Timestamp,
			&turn.Input,
			&turn.Response,
			&turn.Intent,
			&turn.Capability,
			&turn.UserID,
			&turn.Sensitive,
			&turn.SupersedesID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}

	// Reverse newest-first into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, nil
}

// ListTurns retrieves turns with pagination, newest first by default. An
// empty conversationID lists across all conversations.
func (s *Store) ListTurns(ctx context.Context, conversationID string, opts storage.ListOptions) (*storage.PaginatedResult[types.Turn], error) {
	opts.Normalize()

	var conditions string
	var args []interface{}

	if conversationID != "" {
		conditions = " WHERE conversation_id = ?"
		args = append(args, conversationID)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM turns" + conditions
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count turns: %w", err)
	}

	// Turns only ever sort chronologically; the requested sort field is
	// ignored and the direction kept.
	query := `
		SELECT id, conversation_id, timestamp, input, response,
			intent, capability, user_id, sensitive, supersedes_id
		FROM turns
	` + conditions + fmt.Sprintf(" ORDER BY timestamp %s LIMIT ? OFFSET ?", opts.SortOrder)
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var turns []types.Turn
	for rows.Next() {
		var turn types.Turn
		if err := rows.Scan(
			&turn.ID,
			&turn.ConversationID,
			&turn.Timestamp,
			&turn.Input,
			&turn.Response,
			&turn.Intent,
			&turn.Capability,
			&turn.UserID,
			&turn.Sensitive,
			&turn.SupersedesID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}

	return &storage.PaginatedResult[types.Turn]{
		Items:    turns,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(turns) < total,
	}, nil
}

// CountTurns returns the number of recorded turns, optionally scoped to one
// conversation.
func (s *Store) CountTurns(ctx context.Context, conversationID string) (int, error) {
	query := "SELECT COUNT(*) FROM turns"
	var args []interface{}

	if conversationID != "" {
		query += " WHERE conversation_id = ?"
		args = append(args, conversationID)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}

	return count, nil
}
