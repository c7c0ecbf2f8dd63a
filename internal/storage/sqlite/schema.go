package sqlite

// Schema is the full DDL for the temporal knowledge graph. All timestamps
// are epoch milliseconds. Partial unique indexes enforce the "at most one
// current version per natural key" invariant at the storage level.
const Schema = `
CREATE TABLE IF NOT EXISTS entity_versions (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	observations TEXT NOT NULL DEFAULT '[]',
	version      INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	valid_from   INTEGER NOT NULL,
	valid_to     INTEGER,
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
	strength      REAL,
	confidence    REAL,
	metadata      TEXT,
	version       INTEGER NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	valid_from    INTEGER NOT NULL,
	valid_to      INTEGER,
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
	embedding   BLOB NOT NULL,
	dimension   INTEGER NOT NULL,
	model       TEXT NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS embedding_jobs (
	id           TEXT PRIMARY KEY,
	entity_name  TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	created_at   INTEGER NOT NULL,
	processed_at INTEGER,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created
	ON embedding_jobs(status, created_at);
`
