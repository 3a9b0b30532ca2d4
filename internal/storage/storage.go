// Package storage provides composable storage interfaces for the aide
// orchestration core.
//
// The layer is split into small, per-aggregate interfaces that backends
// implement independently and the Store interface composes. Two backends
// exist: sqlite (default, single file, WAL) and postgres (optional, with
// pgvector-accelerated similarity when the extension is installed).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/scrypster/aide/pkg/types"
)

// ErrNotFound aliases types.ErrNotFound so backends and callers agree on a
// single not-found identity across the module.
var ErrNotFound = types.ErrNotFound

// ErrInvalidInput indicates that the input parameters are invalid.
var ErrInvalidInput = errors.New("invalid input")

// TurnStore persists conversation turns. Turns are append-only: StoreTurn
// upserts by ID so a retried write converges, but recorded turns are never
// edited through any other path and never deleted.
type TurnStore interface {
	// StoreTurn creates or updates a turn (upsert semantics).
	StoreTurn(ctx context.Context, turn *types.Turn) error

	// GetTurn retrieves a turn by ID. Returns ErrNotFound if missing.
	GetTurn(ctx context.Context, id string) (*types.Turn, error)

	// RecentTurns returns up to n latest turns for the conversation in
	// chronological order, oldest first.
	RecentTurns(ctx context.Context, conversationID string, n int) ([]types.Turn, error)

	// ListTurns retrieves turns for a conversation with pagination.
	// An empty conversationID lists across all conversations.
	ListTurns(ctx context.Context, conversationID string, opts ListOptions) (*PaginatedResult[types.Turn], error)

	// CountTurns returns the number of turns recorded for a conversation,
	// or across all conversations when conversationID is empty.
	CountTurns(ctx context.Context, conversationID string) (int, error)
}

// EntryMatch pairs a stored entry with its raw cosine similarity to a query
// embedding. Composite relevance scoring happens above the storage layer.
type EntryMatch struct {
	Entry      *types.MemoryEntry
	Similarity float64
}

// MemoryStore persists memory entries and serves similarity candidates.
type MemoryStore interface {
	// StoreEntry creates or updates an entry (upsert semantics).
	StoreEntry(ctx context.Context, entry *types.MemoryEntry) error

	// GetEntry retrieves an entry by ID. Returns ErrNotFound if missing.
	GetEntry(ctx context.Context, id string) (*types.MemoryEntry, error)

	// ListEntries retrieves entries matching the filters with pagination.
	ListEntries(ctx context.Context, filters types.QueryFilters, opts ListOptions) (*PaginatedResult[types.MemoryEntry], error)

	// DeleteEntry removes an entry by ID. Returns ErrNotFound if missing.
	DeleteEntry(ctx context.Context, id string) error

	// SearchByEmbedding returns up to limit entries ranked by cosine
	// similarity to the query embedding, most similar first. Entries without
	// an embedding are skipped.
	SearchByEmbedding(ctx context.Context, embedding []float32, limit int, filters types.QueryFilters) ([]EntryMatch, error)

	// IncrementAccess atomically increments access_count and updates
	// last_accessed_at. Returns ErrNotFound if the entry does not exist.
	IncrementAccess(ctx context.Context, id string) error

	// UpdateDecay writes a recomputed decay score and its timestamp.
	UpdateDecay(ctx context.Context, id string, score float64, at time.Time) error

	// ExpireEntries removes ephemeral entries created before cutoff whose
	// decay score fell below floor. Durable entries are never touched.
	// Returns the number of entries removed.
	ExpireEntries(ctx context.Context, cutoff time.Time, floor float64) (int, error)

	// CountEntries returns the total number of stored entries.
	CountEntries(ctx context.Context) (int, error)
}

// TaskStore persists tasks managed by the task capability.
type TaskStore interface {
	// StoreTask creates or updates a task (upsert semantics).
	StoreTask(ctx context.Context, task *types.Task) error

	// GetTask retrieves a task by ID. Returns ErrNotFound if missing.
	GetTask(ctx context.Context, id string) (*types.Task, error)

	// GetTaskByDedupeToken returns the task created under the given token,
	// or ErrNotFound. Idempotent task creation depends on this lookup.
	GetTaskByDedupeToken(ctx context.Context, token string) (*types.Task, error)

	// ListTasks retrieves tasks with pagination. Empty userID or status
	// disables that filter.
	ListTasks(ctx context.Context, userID string, status types.TaskStatus, opts ListOptions) (*PaginatedResult[types.Task], error)
}

// ProfileStore persists user profiles.
type ProfileStore interface {
	// StoreProfile creates or updates a profile keyed by user ID.
	StoreProfile(ctx context.Context, profile *types.UserProfile) error

	// GetProfile retrieves a profile by user ID. Returns ErrNotFound when no
	// profile has been stored; callers fall back to defaults.
	GetProfile(ctx context.Context, userID string) (*types.UserProfile, error)
}

// Stats summarizes store contents for the health and analytics surfaces.
type Stats struct {
	Engine        string `json:"engine"`
	Turns         int    `json:"turns"`
	Conversations int    `json:"conversations"`
	Entries       int    `json:"entries"`
	OpenTasks     int    `json:"open_tasks"`
}

// Store is the composite interface the engine wires at startup.
type Store interface {
	TurnStore
	MemoryStore
	TaskStore
	ProfileStore

	// HealthCheck verifies the backing database answers queries.
	HealthCheck(ctx context.Context) error

	// Stats reports row counts for health and analytics.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases the underlying database handle.
	Close() error
}

// PaginatedResult represents a paginated result set.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the total number of items across all pages.
	Total int

	// Page is the current page number (1-indexed).
	Page int

	// PageSize is the number of items per page.
	PageSize int

	// HasMore indicates whether there are more pages available.
	HasMore bool
}

// ListOptions provides pagination and sorting for list operations.
type ListOptions struct {
	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 20, max: 100).
	Limit int

	// SortBy specifies the field to sort by. Allowed fields are whitelisted
	// in Normalize; anything else falls back to created_at.
	SortBy string

	// SortOrder specifies the sort direction ("asc" or "desc", default: "desc").
	SortOrder string
}

// allowedSortFields whitelists sortable columns across all aggregates to
// keep ORDER BY clauses out of injection reach.
var allowedSortFields = map[string]bool{
	"created_at":   true,
	"updated_at":   true,
	"timestamp":    true,
	"due_at":       true,
	"importance":   true,
	"decay_score":  true,
	"access_count": true,
}

// Normalize applies defaults and validates the ListOptions.
func (o *ListOptions) Normalize() {
	if !allowedSortFields[o.SortBy] {
		o.SortBy = "created_at"
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "desc"
	}

	if o.Page < 1 {
		o.Page = 1
	}

	if o.Limit < 1 {
		o.Limit = 20
	}

	if o.Limit > 100 {
		o.Limit = 100
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}
