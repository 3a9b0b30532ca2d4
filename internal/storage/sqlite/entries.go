package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

// sqlTimeLayout is what substr(col, 1, 19) yields for timestamps stored in
// UTC, and what SQLite's own date functions understand. All time comparisons
// in SQL go through this layout.
const sqlTimeLayout = "2006-01-02 15:04:05"

// entrySortColumns narrows the global sort whitelist to columns that exist
// on memory_entries.
var entrySortColumns = map[string]bool{
	"created_at":   true,
	"updated_at":   true,
	"importance":   true,
	"decay_score":  true,
	"access_count": true,
}

func entrySortColumn(field string) string {
	if entrySortColumns[field] {
		return field
	}
	return "created_at"
}

// StoreEntry creates or updates a memory entry (upsert by ID).
func (s *Store) StoreEntry(ctx context.Context, entry *types.MemoryEntry) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}

	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = now
	}
	if entry.Retention == "" {
		entry.Retention = types.RetentionEphemeral
	}
	if entry.DecayScore == 0 {
		entry.DecayScore = 1.0
	}
	if len(entry.Embedding) > 0 && entry.EmbeddingDimension == 0 {
		entry.EmbeddingDimension = len(entry.Embedding)
	}

	if err := entry.Validate(); err != nil {
		return err
	}

	sourceTurnsJSON, err := json.Marshal(entry.SourceTurnIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source turn IDs: %w", err)
	}

	query := `
		INSERT INTO memory_entries (
			id, content, kind, conversation_id, source_turn_ids,
			embedding, embedding_model, embedding_dimension,
			importance, retention, decay_score, decay_updated_at,
			access_count, last_accessed_at,
			sensitive, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			kind = excluded.kind,
			source_turn_ids = excluded.source_turn_ids,
			embedding = excluded.embedding,
			embedding_model = excluded.embedding_model,
			embedding_dimension = excluded.embedding_dimension,
			importance = excluded.importance,
			retention = excluded.retention,
			decay_score = excluded.decay_score,
			decay_updated_at = excluded.decay_updated_at,
			sensitive = excluded.sensitive,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Content,
		string(entry.Kind),
		entry.ConversationID,
		string(sourceTurnsJSON),
		serializeEmbedding(entry.Embedding),
		entry.EmbeddingModel,
		entry.EmbeddingDimension,
		entry.Importance,
		string(entry.Retention),
		entry.DecayScore,
		nullableTime(entry.DecayUpdatedAt),
		entry.AccessCount,
		nullableTime(entry.LastAccessedAt),
		entry.Sensitive,
		entry.CreatedAt.UTC(),
		entry.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}

	return nil
}

// GetEntry retrieves a memory entry by ID.
func (s *Store) GetEntry(ctx context.Context, id string) (*types.MemoryEntry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}

	query := entrySelect + " WHERE id = ?"

	row := s.db.QueryRowContext(ctx, query, id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	return entry, nil
}

// ListEntries retrieves entries matching the filters with pagination.
func (s *Store) ListEntries(ctx context.Context, filters types.QueryFilters, opts storage.ListOptions) (*storage.PaginatedResult[types.MemoryEntry], error) {
	opts.Normalize()

	conditions, args := entryConditions(filters)

	var whereClause string
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM memory_entries" + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	query := entrySelect + whereClause +
		fmt.Sprintf(" ORDER BY %s %s LIMIT ? OFFSET ?", entrySortColumn(opts.SortBy), opts.SortOrder)
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []types.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}

	return &storage.PaginatedResult[types.MemoryEntry]{
		Items:    entries,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(entries) < total,
	}, nil
}

// DeleteEntry removes an entry by ID.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM memory_entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// SearchByEmbedding ranks stored entries by cosine similarity to the query
// vector, most similar first. SQLite has no vector index, so candidates are
// loaded and scored in memory; entries without an embedding or with a
// mismatched dimension are skipped.
func (s *Store) SearchByEmbedding(ctx context.Context, embedding []float32, limit int, filters types.QueryFilters) ([]storage.EntryMatch, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding is required", storage.ErrInvalidInput)
	}
	if limit < 1 {
		return nil, nil
	}

	conditions, args := entryConditions(filters)
	conditions = append(conditions, "embedding IS NOT NULL")

	query := entrySelect + " WHERE " + strings.Join(conditions, " AND ")

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries for search: %w", err)
	}
	defer rows.Close()

	var matches []storage.EntryMatch
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if len(entry.Embedding) != len(embedding) {
			continue
		}
		matches = append(matches, storage.EntryMatch{
			Entry:      entry,
			Similarity: cosineSimilarity(embedding, entry.Embedding),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

// IncrementAccess bumps access_count and stamps last_accessed_at. Access
// tracking slows effective decay but never resets entry age.
func (s *Store) IncrementAccess(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}

	query := `
		UPDATE memory_entries
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to increment access count: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// UpdateDecay writes a recomputed decay score and its timestamp.
func (s *Store) UpdateDecay(ctx context.Context, id string, score float64, at time.Time) error {
	if id == "" {
		return fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}

	query := `
		UPDATE memory_entries
		SET decay_score = ?, decay_updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, score, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update decay score: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// ExpireEntries removes ephemeral entries created before cutoff whose decay
// score fell below floor. Durable entries are never touched.
func (s *Store) ExpireEntries(ctx context.Context, cutoff time.Time, floor float64) (int, error) {
	query := `
		DELETE FROM memory_entries
		WHERE retention = ?
		  AND substr(created_at, 1, 19) < ?
		  AND decay_score < ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(types.RetentionEphemeral),
		cutoff.UTC().Format(sqlTimeLayout),
		floor,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire entries: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check expiry result: %w", err)
	}

	return int(affected), nil
}

// CountEntries returns the total number of stored entries.
func (s *Store) CountEntries(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_entries").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

const entrySelect = `
	SELECT id, content, kind, conversation_id, source_turn_ids,
		embedding, embedding_model, embedding_dimension,
		importance, retention, decay_score, decay_updated_at,
		access_count, last_accessed_at,
		sensitive, created_at, updated_at
	FROM memory_entries`

// entryConditions translates query filters into WHERE fragments. Timestamps
// compare through substr so SQLite sees a clean UTC prefix regardless of the
// driver's stored format.
func entryConditions(filters types.QueryFilters) ([]string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filters.ConversationID != "" {
		conditions = append(conditions, "conversation_id = ?")
		args = append(args, filters.ConversationID)
	}

	if filters.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filters.Kind))
	}

	if filters.Retention != "" {
		conditions = append(conditions, "retention = ?")
		args = append(args, string(filters.Retention))
	}

	if filters.Since != nil {
		conditions = append(conditions, "substr(created_at, 1, 19) >= ?")
		args = append(args, filters.Since.UTC().Format(sqlTimeLayout))
	}

	if filters.Until != nil {
		conditions = append(conditions, "substr(created_at, 1, 19) < ?")
		args = append(args, filters.Until.UTC().Format(sqlTimeLayout))
	}

	return conditions, args
}

// rowScanner lets scanEntry accept both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*types.MemoryEntry, error) {
	var entry types.MemoryEntry
	var kind, retention string
	var sourceTurnsJSON string
	var embeddingBlob []byte
	var decayUpdatedAt, lastAccessedAt sql.NullTime

	err := row.Scan(
		&entry.ID,
		&entry.Content,
		&kind,
		&entry.ConversationID,
		&sourceTurnsJSON,
		&embeddingBlob,
		&entry.EmbeddingModel,
		&entry.EmbeddingDimension,
		&entry.Importance,
		&retention,
		&entry.DecayScore,
		&decayUpdatedAt,
		&entry.AccessCount,
		&lastAccessedAt,
		&entry.Sensitive,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Kind = types.MemoryKind(kind)
	entry.Retention = types.RetentionPolicy(retention)

	if sourceTurnsJSON != "" && sourceTurnsJSON != "[]" {
		if err := json.Unmarshal([]byte(sourceTurnsJSON), &entry.SourceTurnIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source turn IDs: %w", err)
		}
	}

	if len(embeddingBlob) > 0 {
		embedding, err := deserializeEmbedding(embeddingBlob)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize embedding: %w", err)
		}
		entry.Embedding = embedding
	}

	if decayUpdatedAt.Valid {
		t := decayUpdatedAt.Time
		entry.DecayUpdatedAt = &t
	}

	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		entry.LastAccessedAt = &t
	}

	return &entry, nil
}

// nullableTime converts an optional timestamp for binding; nil stays NULL.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
