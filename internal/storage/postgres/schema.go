package postgres

// Schema is the base DDL for the temporal knowledge graph on PostgreSQL.
// Timestamps are epoch milliseconds (BIGINT) to match the wire format.
// Partial unique indexes enforce the "at most one current version per
// natural key" invariant at the storage level.
const Schema = `
CREATE TABLE IF NOT EXISTS entity_versions (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	observations JSONB NOT NULL DEFAULT '[]',
	version      INTEGER NOT NULL,
	created_at   BIGINT NOT NULL,
	updated_at   BIGINT NOT NULL,
	valid_from   BIGINT NOT NULL,
	valid_to     BIGINT,
	changed_by   TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entity_current
	ON entity_versions(name) WHERE valid_to IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_entity_name_version
	ON entity_versions(name, version);
CREATE INDEX IF NOT EXISTS idx_entity_validity
	ON entity_versions(name, valid_from, valid_to);

CREATE TABLE IF NOT EXISTS relation_versions (
	id            TEXT PRIMARY KEY,
	from_name     TEXT NOT NULL,
	to_name       TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	strength      DOUBLE PRECISION,
	confidence    DOUBLE PRECISION,
	metadata      JSONB,
	version       INTEGER NOT NULL,
	created_at    BIGINT NOT NULL,
	updated_at    BIGINT NOT NULL,
	valid_from    BIGINT NOT NULL,
	valid_to      BIGINT,
	changed_by    TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_relation_current
	ON relation_versions(from_name, to_name, relation_type) WHERE valid_to IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_relation_key_version
	ON relation_versions(from_name, to_name, relation_type, version);
CREATE INDEX IF NOT EXISTS idx_relation_endpoints
	ON relation_versions(from_name, to_name);

CREATE TABLE IF NOT EXISTS entity_embeddings (
	entity_name TEXT PRIMARY KEY,
	embedding   BYTEA NOT NULL,
	dimension   INTEGER NOT NULL,
	model       TEXT NOT NULL,
	updated_at  BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS embedding_jobs (
	id           TEXT PRIMARY KEY,
	entity_name  TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	created_at   BIGINT NOT NULL,
	processed_at BIGINT,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created
	ON embedding_jobs(status, created_at);
`

// MigrationPgvector adds the native vector column used for index-backed
// similarity search. The column is nullable: rows written before the
// extension was enabled keep working through the BYTEA fallback.
const MigrationPgvector = `
-- Add embedding_vec column if it doesn't already exist.
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'entity_embeddings' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE entity_embeddings ADD COLUMN embedding_vec vector;
    END IF;
END
$$;

-- Create ivfflat index for approximate nearest-neighbor vector search.
-- Lists = 100 is a good default for up to ~1M vectors.
-- IMPORTANT: ivfflat requires at least one row to exist; we guard with a DO block.
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_entity_embeddings_vec_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM entity_embeddings LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_entity_embeddings_vec_cosine ON entity_embeddings USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`
