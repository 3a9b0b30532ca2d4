package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

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

// StoreEntry creates or updates a memory entry (upsert by ID). The embedding
// is always written to the BYTEA column; when pgvector is available it is
// also written to embedding_vec for accelerated similarity queries.
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
		return fmt.Errorf("postgres: failed to marshal source turn IDs: %w", err)
	}

	if s.pgvectorAvailable {
		if err := s.storeEntryWithVector(ctx, entry, string(sourceTurnsJSON)); err != nil {
			log.Printf("postgres: failed to store embedding_vec for %s (falling back to BYTEA only): %v", entry.ID, err)
		} else {
			return nil
		}
	}

	query := `
		INSERT INTO memory_entries (
			id, content, kind, conversation_id, source_turn_ids,
			embedding, embedding_model, embedding_dimension,
			importance, retention, decay_score, decay_updated_at,
			access_count, last_accessed_at,
			sensitive, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT(id) DO UPDATE SET
			content = EXCLUDED.content,
			kind = EXCLUDED.kind,
			source_turn_ids = EXCLUDED.source_turn_ids,
			embedding = EXCLUDED.embedding,
			embedding_model = EXCLUDED.embedding_model,
			embedding_dimension = EXCLUDED.embedding_dimension,
			importance = EXCLUDED.importance,
			retention = EXCLUDED.retention,
			decay_score = EXCLUDED.decay_score,
			decay_updated_at = EXCLUDED.decay_updated_at,
			sensitive = EXCLUDED.sensitive,
			updated_at = EXCLUDED.updated_at
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
		nullableTimePtr(entry.DecayUpdatedAt),
		entry.AccessCount,
		nullableTimePtr(entry.LastAccessedAt),
		entry.Sensitive,
		entry.CreatedAt.UTC(),
		entry.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to store entry: %w", err)
	}

	return nil
}

func (s *Store) storeEntryWithVector(ctx context.Context, entry *types.MemoryEntry, sourceTurnsJSON string) error {
	var vec interface{}
	if len(entry.Embedding) > 0 {
		vec = pgvector.NewVector(entry.Embedding)
	}

	query := `
		INSERT INTO memory_entries (
			id, content, kind, conversation_id, source_turn_ids,
			embedding, embedding_model, embedding_dimension,
			importance, retention, decay_score, decay_updated_at,
			access_count, last_accessed_at,
			sensitive, created_at, updated_at, embedding_vec
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT(id) DO UPDATE SET
			content = EXCLUDED.content,
			kind = EXCLUDED.kind,
			source_turn_ids = EXCLUDED.source_turn_ids,
			embedding = EXCLUDED.embedding,
			embedding_model = EXCLUDED.embedding_model,
			embedding_dimension = EXCLUDED.embedding_dimension,
			importance = EXCLUDED.importance,
			retention = EXCLUDED.retention,
			decay_score = EXCLUDED.decay_score,
			decay_updated_at = EXCLUDED.decay_updated_at,
			sensitive = EXCLUDED.sensitive,
			updated_at = EXCLUDED.updated_at,
			embedding_vec = EXCLUDED.embedding_vec
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Content,
		string(entry.Kind),
		entry.ConversationID,
		sourceTurnsJSON,
		serializeEmbedding(entry.Embedding),
		entry.EmbeddingModel,
		entry.EmbeddingDimension,
		entry.Importance,
		string(entry.Retention),
		entry.DecayScore,
		nullableTimePtr(entry.DecayUpdatedAt),
		entry.AccessCount,
		nullableTimePtr(entry.LastAccessedAt),
		entry.Sensitive,
		entry.CreatedAt.UTC(),
		entry.UpdatedAt.UTC(),
		vec,
	)
	return err
}

// GetEntry retrieves a memory entry by ID.
func (s *Store) GetEntry(ctx context.Context, id string) (*types.MemoryEntry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}

	query := entrySelect + " WHERE id = $1"

	row := s.db.QueryRowContext(ctx, query, id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get entry: %w", err)
	}

	return entry, nil
}

// ListEntries retrieves entries matching the filters with pagination.
func (s *Store) ListEntries(ctx context.Context, filters types.QueryFilters, opts storage.ListOptions) (*storage.PaginatedResult[types.MemoryEntry], error) {
	opts.Normalize()

	conditions, args := entryConditions(filters, 1)

	var whereClause string
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM memory_entries" + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: failed to count entries: %w", err)
	}

	query := entrySelect + whereClause +
		fmt.Sprintf(" ORDER BY %s %s LIMIT $%d OFFSET $%d",
			entrySortColumn(opts.SortBy), opts.SortOrder, len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []types.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate entries: %w", err)
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

	result, err := s.db.ExecContext(ctx, "DELETE FROM memory_entries WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check delete result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// SearchByEmbedding ranks stored entries by cosine similarity to the query
// vector, most similar first. When pgvector is available the ranking runs in
// the database; otherwise candidates are loaded and scored in memory.
func (s *Store) SearchByEmbedding(ctx context.Context, embedding []float32, limit int, filters types.QueryFilters) ([]storage.EntryMatch, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding is required", storage.ErrInvalidInput)
	}
	if limit < 1 {
		return nil, nil
	}

	if !s.pgvectorAvailable {
		return s.searchInMemory(ctx, embedding, limit, filters)
	}

	conditions, args := entryConditions(filters, 1)
	conditions = append(conditions, "embedding_vec IS NOT NULL")
	conditions = append(conditions, fmt.Sprintf("embedding_dimension = $%d", len(args)+1))
	args = append(args, len(embedding))

	vecIdx := len(args) + 1
	args = append(args, pgvector.NewVector(embedding))

	query := "SELECT " + entryColumns +
		fmt.Sprintf(", 1 - (embedding_vec <=> $%d::vector) AS similarity FROM memory_entries", vecIdx)
	query += " WHERE " + strings.Join(conditions, " AND ")
	query += fmt.Sprintf(" ORDER BY embedding_vec <=> $%d::vector LIMIT $%d", vecIdx, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		// Anything from a missing column to mixed vector dimensions lands
		// here; the in-memory path still answers correctly.
		log.Printf("postgres: vector search query failed (falling back to in-memory scoring): %v", err)
		return s.searchInMemory(ctx, embedding, limit, filters)
	}
	defer rows.Close()

	var matches []storage.EntryMatch
	for rows.Next() {
		entry, similarity, err := scanEntryWithSimilarity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan search result: %w", err)
		}
		matches = append(matches, storage.EntryMatch{Entry: entry, Similarity: similarity})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate search results: %w", err)
	}

	return matches, nil
}

// searchInMemory loads candidate embeddings from the BYTEA column and scores
// them in Go, mirroring the SQLite backend.
func (s *Store) searchInMemory(ctx context.Context, embedding []float32, limit int, filters types.QueryFilters) ([]storage.EntryMatch, error) {
	conditions, args := entryConditions(filters, 1)
	conditions = append(conditions, "embedding IS NOT NULL")

	query := entrySelect + " WHERE " + strings.Join(conditions, " AND ")

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query entries for search: %w", err)
	}
	defer rows.Close()

	var matches []storage.EntryMatch
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan entry: %w", err)
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
		return nil, fmt.Errorf("postgres: failed to iterate entries: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

// IncrementAccess bumps access_count and stamps last_accessed_at.
func (s *Store) IncrementAccess(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}

	query := `
		UPDATE memory_entries
		SET access_count = access_count + 1, last_accessed_at = $1
		WHERE id = $2
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: failed to increment access count: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check update result: %w", err)
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
		SET decay_score = $1, decay_updated_at = $2
		WHERE id = $3
	`

	result, err := s.db.ExecContext(ctx, query, score, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update decay score: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check update result: %w", err)
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
		WHERE retention = $1 AND created_at < $2 AND decay_score < $3
	`

	result, err := s.db.ExecContext(ctx, query, string(types.RetentionEphemeral), cutoff.UTC(), floor)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to expire entries: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to check expiry result: %w", err)
	}

	return int(affected), nil
}

// CountEntries returns the total number of stored entries.
func (s *Store) CountEntries(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_entries").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: failed to count entries: %w", err)
	}
	return count, nil
}

const entryColumns = `id, content, kind, conversation_id, source_turn_ids,
		embedding, embedding_model, embedding_dimension,
		importance, retention, decay_score, decay_updated_at,
		access_count, last_accessed_at,
		sensitive, created_at, updated_at`

const entrySelect = "SELECT " + entryColumns + " FROM memory_entries"

// entryConditions translates query filters into WHERE fragments with
// positional placeholders starting at start.
func entryConditions(filters types.QueryFilters, start int) ([]string, []interface{}) {
	var conditions []string
	var args []interface{}

	next := func() int { return start + len(args) }

	if filters.ConversationID != "" {
		conditions = append(conditions, fmt.Sprintf("conversation_id = $%d", next()))
		args = append(args, filters.ConversationID)
	}

	if filters.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", next()))
		args = append(args, string(filters.Kind))
	}

	if filters.Retention != "" {
		conditions = append(conditions, fmt.Sprintf("retention = $%d", next()))
		args = append(args, string(filters.Retention))
	}

	if filters.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", next()))
		args = append(args, filters.Since.UTC())
	}

	if filters.Until != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", next()))
		args = append(args, filters.Until.UTC())
	}

	return conditions, args
}

// rowScanner lets scanEntry accept both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*types.MemoryEntry, error) {
	entry, err := scanEntryColumns(row, nil)
	return entry, err
}

func scanEntryWithSimilarity(row rowScanner) (*types.MemoryEntry, float64, error) {
	var similarity float64
	entry, err := scanEntryColumns(row, &similarity)
	return entry, similarity, err
}

func scanEntryColumns(row rowScanner, similarity *float64) (*types.MemoryEntry, error) {
	var entry types.MemoryEntry
	var kind, retention string
	var sourceTurnsJSON []byte
	var embeddingBlob []byte
	var decayUpdatedAt, lastAccessedAt sql.NullTime

	dest := []interface{}{
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
	}
	if similarity != nil {
		dest = append(dest, similarity)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	entry.Kind = types.MemoryKind(kind)
	entry.Retention = types.RetentionPolicy(retention)

	if len(sourceTurnsJSON) > 0 {
		if err := json.Unmarshal(sourceTurnsJSON, &entry.SourceTurnIDs); err != nil {
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
