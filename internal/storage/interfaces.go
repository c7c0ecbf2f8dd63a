// Package storage defines the storage interfaces for the temporal knowledge
// graph and the sentinel errors shared by all backends.
//
// The interfaces are implemented fully by each backend (SQLite, Postgres);
// there is no runtime capability probing. Callers construct a concrete
// backend and pass it in explicitly.
package storage

import (
	"context"
	"time"

	"github.com/timegraph/timegraph/pkg/types"
)

// TemporalStore is the authoritative persistence layer for entities,
// relations and their full version history. It is the sole writer of graph
// state. All multi-row mutations are all-or-nothing per call, and the
// close-old-version / open-new-version pair of an update commits atomically.
type TemporalStore interface {
	// CreateEntities inserts version 1 of each entity. Creation is not an
	// upsert: if any name already has a current version the whole call
	// fails with ErrConflict and nothing is written.
	CreateEntities(ctx context.Context, entities []types.Entity, changedBy string) ([]types.TemporalEntity, error)

	// UpdateEntity closes the current version and inserts version+1 with
	// the patch merged onto the previous snapshot. Returns ErrNotFound if
	// the entity has no current version.
	UpdateEntity(ctx context.Context, name string, patch types.EntityPatch, changedBy string) (*types.TemporalEntity, error)

	// DeleteEntities closes the current version of each named entity (no
	// new version is inserted) and cascades: relations touching a deleted
	// name are likewise closed. All-or-nothing.
	DeleteEntities(ctx context.Context, names []string) error

	// GetEntity returns the current version of the entity, with its
	// embedding attached when one exists. Returns ErrNotFound otherwise.
	GetEntity(ctx context.Context, name string) (*types.Entity, error)

	// GetEntityHistory returns all versions ordered by version ascending.
	GetEntityHistory(ctx context.Context, name string) ([]types.TemporalEntity, error)

	// GetGraphAtTime reconstructs the graph as of the given epoch-ms
	// timestamp: per natural key, the version whose [validFrom, validTo)
	// range contains the timestamp. Keys with no such version are omitted.
	GetGraphAtTime(ctx context.Context, ts int64) (*types.KnowledgeGraph, error)

	// AddObservations appends observations to the entity as a new version.
	// Observations already present are not re-added; the returned slice
	// holds only the newly appended ones.
	AddObservations(ctx context.Context, name string, observations []string) ([]string, error)

	// DeleteObservations removes matching observations as a new version.
	// Unmatched strings are a no-op.
	DeleteObservations(ctx context.Context, name string, observations []string) error

	// CreateRelations mirrors CreateEntities for relations, keyed by
	// (from, to, relationType). Both endpoints must have current versions
	// or the call fails with ErrNotFound.
	CreateRelations(ctx context.Context, relations []types.Relation, changedBy string) ([]types.TemporalRelation, error)

	// UpdateRelation closes the current version and inserts version+1 with
	// the patch merged onto the previous snapshot.
	UpdateRelation(ctx context.Context, key types.RelationKey, patch types.RelationPatch, changedBy string) (*types.TemporalRelation, error)

	// DeleteRelations closes the current versions of the given relations.
	DeleteRelations(ctx context.Context, keys []types.RelationKey) error

	// GetRelation returns the current version of the relation.
	GetRelation(ctx context.Context, key types.RelationKey) (*types.Relation, error)

	// GetRelationHistory returns all versions ordered by version ascending.
	GetRelationHistory(ctx context.Context, key types.RelationKey) ([]types.TemporalRelation, error)

	// ReadGraph returns the full current graph.
	ReadGraph(ctx context.Context) (*types.KnowledgeGraph, error)

	// SearchNodes performs a literal substring search over names, types and
	// observations of current entities, returning the matching entities and
	// the current relations between them.
	SearchNodes(ctx context.Context, query string) (*types.KnowledgeGraph, error)

	// OpenNodes returns the current entities with the given names and the
	// current relations between them. Unknown names are skipped.
	OpenNodes(ctx context.Context, names []string) (*types.KnowledgeGraph, error)

	// UpdateEntityEmbedding writes the embedding for the entity's current
	// version and refreshes the vector-search index. Embeddings are
	// metadata: no new temporal version is created.
	UpdateEntityEmbedding(ctx context.Context, name string, emb types.Embedding) error

	// GetEntityEmbedding returns the stored embedding for the entity.
	GetEntityEmbedding(ctx context.Context, name string) (*types.Embedding, error)

	// HasEmbeddings reports whether any embeddings are indexed. Callers use
	// this to decide whether semantic search can run or must fall back
	// to SearchNodes.
	HasEmbeddings(ctx context.Context) (bool, error)

	// SemanticSearch returns the entities nearest to the query vector,
	// scored in [0.0, 1.0], filtered by opts.MinSimilarity and capped at
	// opts.Limit.
	SemanticSearch(ctx context.Context, queryVector []float32, opts SearchOptions) ([]ScoredEntity, error)

	// Close releases any resources held by the store.
	Close() error
}

// JobQueue is the persistent embedding job table. It survives process
// restarts; the batch processor serializes access (the SQLite backend relies
// on that, the Postgres backend additionally claims rows with
// FOR UPDATE SKIP LOCKED so concurrent processors cannot double-claim).
type JobQueue interface {
	// EnqueueJob inserts a new pending job for the entity.
	EnqueueJob(ctx context.Context, entityName string, maxAttempts int) (*types.EmbeddingJob, error)

	// PendingJobs returns up to limit pending jobs, FIFO by created_at.
	PendingJobs(ctx context.Context, limit int) ([]types.EmbeddingJob, error)

	// MarkProcessing transitions a pending job to processing and increments
	// its attempt counter, returning the new attempt count. Returns
	// ErrNotFound if the job is not pending (e.g. claimed elsewhere).
	MarkProcessing(ctx context.Context, id string) (int, error)

	// MarkCompleted transitions a processing job to completed and records
	// processed_at.
	MarkCompleted(ctx context.Context, id string) error

	// MarkFailed transitions a job to terminal failed with the error
	// message and records processed_at.
	MarkFailed(ctx context.Context, id string, errMsg string) error

	// RequeueJob returns a processing job to pending, preserving its
	// attempt count, so a future batch retries it.
	RequeueJob(ctx context.Context, id string, errMsg string) error

	// ResetFailedJobs resets all failed jobs to pending with attempts = 0.
	// Explicit operator action, never automatic. Returns the reset count.
	ResetFailedJobs(ctx context.Context) (int, error)

	// CleanupJobs deletes completed jobs older than the age threshold to
	// bound table growth. Returns the deleted count.
	CleanupJobs(ctx context.Context, olderThan time.Duration) (int, error)

	// GetJob returns a job by id.
	GetJob(ctx context.Context, id string) (*types.EmbeddingJob, error)

	// QueueStatus returns job counts per status.
	QueueStatus(ctx context.Context) (map[types.JobStatus]int, error)
}

// Store combines the temporal graph store and the job queue. Both backends
// keep the two in the same durable database so a graph mutation and its
// scheduled embedding job share one store.
type Store interface {
	TemporalStore
	JobQueue
}
