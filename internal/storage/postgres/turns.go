package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

// StoreTurn creates or updates a turn using PostgreSQL ON CONFLICT upsert.
// Only the fields a retried write can legitimately change are updated.
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT(id) DO UPDATE SET
			response = EXCLUDED.response,
			intent = EXCLUDED.intent,
			capability = EXCLUDED.capability,
			sensitive = EXCLUDED.sensitive
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
		return fmt.Errorf("postgres: failed to store turn: %w", err)
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
		WHERE id = $1
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
		return nil, fmt.Errorf("postgres: failed to get turn: %w", err)
	}

	return &turn, nil
}

// RecentTurns returns up to n latest turns for a conversation in
// chronological order, oldest first.
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
		WHERE conversation_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query recent turns: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurnRows(rows)
	if err != nil {
		return nil, err
	}

	// Reverse newest-first into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, nil
}

// ListTurns retrieves turns with pagination, newest first by default.
func (s *Store) ListTurns(ctx context.Context, conversationID string, opts storage.ListOptions) (*storage.PaginatedResult[types.Turn], error) {
	opts.Normalize()

	var conditions string
	var args []interface{}

	if conversationID != "" {
		conditions = " WHERE conversation_id = $1"
		args = append(args, conversationID)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM turns" + conditions
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: failed to count turns: %w", err)
	}

	query := `
		SELECT id, conversation_id, timestamp, input, response,
			intent, capability, user_id, sensitive, supersedes_id
		FROM turns
	` + conditions + fmt.Sprintf(" ORDER BY timestamp %s LIMIT $%d OFFSET $%d",
		opts.SortOrder, len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list turns: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurnRows(rows)
	if err != nil {
		return nil, err
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
		query += " WHERE conversation_id = $1"
		args = append(args, conversationID)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: failed to count turns: %w", err)
	}

	return count, nil
}

func scanTurnRows(rows *sql.Rows) ([]types.Turn, error) {
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
			return nil, fmt.Errorf("postgres: failed to scan turn: %w", err)
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate turns: %w", err)
	}

	return turns, nil
}
