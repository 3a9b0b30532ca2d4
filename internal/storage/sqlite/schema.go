package sqlite

import (
	"database/sql"
	"fmt"
)

// migration is one versioned schema step. Migrations run in order inside a
// transaction; the schema_migrations table records which versions applied.
type migration struct {
	version int
	name    string
	sql     string
}

// migrations holds the full schema history. Append only; never edit an
// applied version.
var migrations = []migration{
	{
		version: 1,
		name:    "base schema",
		sql: `
-- Turns: append-only conversation history
CREATE TABLE IF NOT EXISTS turns (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    input TEXT NOT NULL,
    response TEXT NOT NULL DEFAULT '',
    intent TEXT NOT NULL DEFAULT '',
    capability TEXT NOT NULL DEFAULT '',
    user_id TEXT NOT NULL DEFAULT '',
    sensitive INTEGER NOT NULL DEFAULT 0,
    supersedes_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, timestamp);

-- Memory entries: consolidated facts, preferences, and episodes
CREATE TABLE IF NOT EXISTS memory_entries (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    kind TEXT NOT NULL,
    conversation_id TEXT NOT NULL DEFAULT '',
    source_turn_ids TEXT NOT NULL DEFAULT '[]',

    embedding BLOB,
    embedding_model TEXT NOT NULL DEFAULT '',
    embedding_dimension INTEGER NOT NULL DEFAULT 0,

    importance REAL NOT NULL DEFAULT 0.5,
    retention TEXT NOT NULL DEFAULT 'ephemeral',
    decay_score REAL NOT NULL DEFAULT 1.0,
    decay_updated_at TIMESTAMP,

    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMP,

    sensitive INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_kind ON memory_entries(kind);
CREATE INDEX IF NOT EXISTS idx_entries_conversation ON memory_entries(conversation_id);
CREATE INDEX IF NOT EXISTS idx_entries_expiry ON memory_entries(retention, created_at, decay_score);

-- Tasks: reminders managed by the task capability
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL DEFAULT '',
    user_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'open',
    priority TEXT NOT NULL DEFAULT 'medium',
    due_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    dedupe_token TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status);

-- Partial unique index: one task per dedupe token, empty tokens exempt
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_dedupe_token ON tasks(dedupe_token) WHERE dedupe_token <> '';

-- Profiles: one row per user
CREATE TABLE IF NOT EXISTS profiles (
    user_id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    language TEXT NOT NULL DEFAULT 'en',
    timezone TEXT NOT NULL DEFAULT 'UTC',
    tone TEXT NOT NULL DEFAULT 'neutral',
    instructions TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP NOT NULL
);
`,
	},
}

// applyMigrations brings the schema up to the latest version. Each pending
// migration runs in its own transaction.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}

	return nil
}
