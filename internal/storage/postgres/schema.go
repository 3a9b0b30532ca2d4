package postgres

// Schema contains the SQL statements to create the database schema for
// PostgreSQL. Every statement is idempotent so the schema can be re-applied
// on each startup.
const Schema = `
-- Turns: append-only conversation history
CREATE TABLE IF NOT EXISTS turns (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    input TEXT NOT NULL,
    response TEXT NOT NULL DEFAULT '',
    intent TEXT NOT NULL DEFAULT '',
    capability TEXT NOT NULL DEFAULT '',
    user_id TEXT NOT NULL DEFAULT '',
    sensitive BOOLEAN NOT NULL DEFAULT FALSE,
    supersedes_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, timestamp);

-- Memory entries: consolidated facts, preferences, and episodes
CREATE TABLE IF NOT EXISTS memory_entries (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    kind TEXT NOT NULL,
    conversation_id TEXT NOT NULL DEFAULT '',
    source_turn_ids JSONB NOT NULL DEFAULT '[]',

    embedding BYTEA,
    embedding_model TEXT NOT NULL DEFAULT '',
    embedding_dimension INTEGER NOT NULL DEFAULT 0,

    importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    retention TEXT NOT NULL DEFAULT 'ephemeral',
    decay_score DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    decay_updated_at TIMESTAMPTZ,

    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMPTZ,

    sensitive BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
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
    due_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ,
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
    updated_at TIMESTAMPTZ NOT NULL
);
`

// MigrationPgvector adds the pgvector column and index to memory_entries.
// Applied only when the vector extension is available; safe to run multiple
// times.
const MigrationPgvector = `
-- Add embedding_vec column if it doesn't already exist.
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'memory_entries' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE memory_entries ADD COLUMN embedding_vec vector;
    END IF;
END
$$;

-- Create ivfflat index for approximate nearest-neighbor search.
-- ivfflat requires at least one row to exist, so guard with a DO block.
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_entries_vec_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM memory_entries WHERE embedding_vec IS NOT NULL LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_entries_vec_cosine ON memory_entries USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`
